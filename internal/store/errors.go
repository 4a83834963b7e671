package store

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by a Repository or the service layer
// matches exactly one of these through errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
)

var (
	ErrEmptySale     = fmt.Errorf("%w: sale has no items", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidKind   = fmt.Errorf("%w: invalid movement kind", ErrValidation)
	ErrInvalidLine   = fmt.Errorf("%w: invalid sale line", ErrValidation)

	ErrAlreadyOpen     = fmt.Errorf("%w: a cash session is already open", ErrConflict)
	ErrNoActiveSession = fmt.Errorf("%w: no active cash session", ErrConflict)

	// ErrInsufficientStock stays in the not-found class so callers matching
	// ErrNotFound keep treating both causes alike.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrNotFound)
)

// PersistenceError wraps a storage failure. Nothing was committed when one is
// returned, so the whole operation may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence classifies err for op. Errors that already belong to a class
// pass through unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func Classified(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPersistence)
}
