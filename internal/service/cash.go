package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

const openingDescription = "Opening balance"

// Open starts a cash session and returns its id.
func (s *Service) Open(ctx context.Context, startingBalance decimal.Decimal) (string, error) {
	session, err := s.OpenSession(ctx, startingBalance)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

func (s *Service) OpenSession(ctx context.Context, startingBalance decimal.Decimal) (session domain.CashSession, err error) {
	ctx, span := s.startSpan(ctx, "OpenCashSession", attribute.String("cash.starting_balance", startingBalance.String()))
	defer func() { endSpan(span, err) }()

	if startingBalance.IsNegative() {
		return domain.CashSession{}, fmt.Errorf("%w: starting balance cannot be negative", store.ErrInvalidAmount)
	}
	starting := money(startingBalance)

	now := s.now()
	draft := domain.CashSession{
		ID:              xid.New("session"),
		OpenedAt:        now,
		StartingBalance: starting,
		Active:          true,
	}
	opening := domain.CashMovement{
		ID:          xid.New("cash"),
		OccurredAt:  now,
		Kind:        domain.MovementOpen,
		Amount:      starting,
		Description: openingDescription,
	}

	saved, err := s.repo.OpenSession(ctx, draft, opening)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyOpen) {
			s.metrics.RecordCashSession("open_rejected")
		}
		return domain.CashSession{}, err
	}

	s.metrics.RecordCashSession("opened")
	s.logger.Info("cash session opened", "session_id", saved.ID, "starting_balance", starting.StringFixed(2))
	return *saved, nil
}

// RecordMovement appends a manual movement to the active session. Outflows are
// stored negative whatever sign the caller used.
func (s *Service) RecordMovement(ctx context.Context, kind domain.MovementKind, amount decimal.Decimal, description string, linkedSaleID string) (domain.CashMovement, error) {
	if _, ok := domain.ParseMovementKind(string(kind)); !ok || kind.SystemOnly() {
		return domain.CashMovement{}, fmt.Errorf("%w: %q cannot be recorded manually", store.ErrInvalidKind, kind)
	}

	amount = money(amount)
	if amount.IsZero() {
		return domain.CashMovement{}, fmt.Errorf("%w: amount must not be zero", store.ErrInvalidAmount)
	}
	if kind.Outflow() {
		amount = amount.Abs().Neg()
	} else if amount.IsNegative() {
		return domain.CashMovement{}, fmt.Errorf("%w: %s amount cannot be negative", store.ErrInvalidAmount, kind)
	}

	saved, err := s.repo.AppendMovement(ctx, domain.CashMovement{
		ID:          xid.New("cash"),
		OccurredAt:  s.now(),
		Kind:        kind,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		SaleID:      strings.TrimSpace(linkedSaleID),
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	s.metrics.RecordCashMovement(string(kind))
	s.logger.Info("cash movement recorded", "session_id", saved.SessionID, "kind", kind, "amount", amount.StringFixed(2))
	return *saved, nil
}

// CalculatedBalance is the signed sum of the active session's movements, or
// zero when no session is open.
func (s *Service) CalculatedBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := s.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Balance, nil
}

func (s *Service) Balance(ctx context.Context) (domain.CashBalanceResponse, error) {
	active, err := s.repo.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveSession) {
			return domain.CashBalanceResponse{Balance: decimal.Zero}, nil
		}
		return domain.CashBalanceResponse{}, err
	}
	balance, err := s.repo.SessionBalance(ctx, active.ID)
	if err != nil {
		return domain.CashBalanceResponse{}, err
	}
	return domain.CashBalanceResponse{SessionID: active.ID, Balance: balance}, nil
}

// Close reconciles the drawer against the counted cash and returns counted
// minus calculated.
func (s *Service) Close(ctx context.Context, countedBalance decimal.Decimal) (decimal.Decimal, error) {
	session, err := s.CloseSession(ctx, countedBalance)
	if err != nil {
		return decimal.Zero, err
	}
	return session.Difference.Decimal, nil
}

func (s *Service) CloseSession(ctx context.Context, countedBalance decimal.Decimal) (session domain.CashSession, err error) {
	ctx, span := s.startSpan(ctx, "CloseCashSession", attribute.String("cash.counted_balance", countedBalance.String()))
	defer func() { endSpan(span, err) }()

	if countedBalance.IsNegative() {
		return domain.CashSession{}, fmt.Errorf("%w: counted balance cannot be negative", store.ErrInvalidAmount)
	}

	closed, err := s.repo.CloseSession(ctx, domain.SessionClose{
		CountedBalance: money(countedBalance),
		ClosedAt:       s.now(),
		AdjustmentID:   xid.New("cash"),
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	s.metrics.RecordCashSession("closed")
	if !closed.Difference.Decimal.IsZero() {
		s.metrics.RecordCashMovement(string(domain.MovementCloseAdjustment))
	}
	s.logger.Info("cash session closed",
		"session_id", closed.ID,
		"calculated", closed.CalculatedBalance.Decimal.StringFixed(2),
		"counted", closed.CountedBalance.Decimal.StringFixed(2),
		"difference", closed.Difference.Decimal.StringFixed(2),
	)
	return *closed, nil
}

func (s *Service) ActiveSession(ctx context.Context) (domain.CashSession, error) {
	session, err := s.repo.GetActiveSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	return *session, nil
}

// CurrentMovements lists the active session's movements in the order they
// were recorded.
func (s *Service) CurrentMovements(ctx context.Context) ([]domain.CashMovement, error) {
	session, err := s.repo.GetActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, session.ID)
}
