package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

const productColumns = `code, name, sale_price, cost_price, stock, min_stock, category, active`

const sessionColumns = `id, opened_at, starting_balance, closed_at, calculated_balance, counted_balance, diff, active`

const movementColumns = `id, session_id, occurred_at, kind, amount, description, sale_id`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// withTx runs fn in one read-committed transaction. The transaction is
// committed only when fn returns nil and is rolled back on every other exit,
// including a panic inside fn.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.Persistence(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return store.Persistence(op, err)
	}
	if err := tx.Commit(); err != nil {
		return store.Persistence(op, err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, store.Persistence("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, store.Persistence("list products", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE code = $1
	`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, code)
		}
		return nil, store.Persistence("get product", err)
	}
	return p, nil
}

func (s *Store) DeactivateProduct(ctx context.Context, code string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET active = false
		WHERE code = $1
		RETURNING `+productColumns, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, code)
		}
		return nil, store.Persistence("deactivate product", err)
	}
	return p, nil
}

func (s *Store) AdjustStock(ctx context.Context, adj domain.StockAdjustment, entry domain.StockAuditEntry) (*domain.Product, error) {
	if adj.Delta == 0 {
		return s.GetProduct(ctx, adj.Code)
	}

	var product *domain.Product
	err := s.withTx(ctx, "adjust stock", func(tx *sql.Tx) error {
		p, err := adjustStock(ctx, tx, adj, entry)
		product = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// adjustStock is the single conditional write every stock change goes
// through. The guard and the write are one statement, so concurrent callers
// cannot drive stock below zero.
func adjustStock(ctx context.Context, q querier, adj domain.StockAdjustment, entry domain.StockAuditEntry) (*domain.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2
		WHERE code = $1 AND stock + $2 >= 0
		RETURNING `+productColumns, adj.Code, adj.Delta))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE code = $1)`, adj.Code).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, adj.Code)
		}
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, adj.Code)
	}
	if err != nil {
		return nil, err
	}

	if entry.ID == "" {
		entry.ID = xid.New("stock")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO stock_audit (id, product_code, delta, reason, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, adj.Code, adj.Delta, adj.Reason, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) ListStockAudit(ctx context.Context, code string, limit int) ([]domain.StockAuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_code, delta, reason, created_at
		FROM stock_audit
		WHERE ($1 = '' OR product_code = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, store.Persistence("list stock audit", err)
	}
	defer rows.Close()

	entries := make([]domain.StockAuditEntry, 0, limit)
	for rows.Next() {
		var entry domain.StockAuditEntry
		if err := rows.Scan(&entry.ID, &entry.ProductCode, &entry.Delta, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, store.Persistence("list stock audit", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list stock audit", err)
	}
	return entries, nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.Sale, cash *domain.CashMovement) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrEmptySale
	}

	err := s.withTx(ctx, "commit sale", func(tx *sql.Tx) error {
		var sessionID string
		if cash != nil {
			id, err := lockActiveSession(ctx, tx)
			if err != nil {
				return err
			}
			sessionID = id
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (id, sold_at, total)
			VALUES ($1,$2,$3)
		`, sale.ID, sale.SoldAt, sale.Total); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: sale %s already recorded", store.ErrConflict, sale.ID)
			}
			return err
		}

		for _, line := range sale.Lines {
			if line.Qty < 1 {
				return store.ErrInvalidLine
			}
			var manualName any
			if line.Manual {
				manualName = nullIfEmpty(line.ManualName)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_lines (sale_id, product_code, quantity, subtotal, manual_display_name)
				VALUES ($1,$2,$3,$4,$5)
			`, sale.ID, line.ProductCode, line.Qty, line.Subtotal, manualName); err != nil {
				return err
			}
		}

		// Rows are locked in code order so two concurrent sales cannot deadlock.
		catalogLines := make([]domain.SaleLine, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			if !line.Manual {
				catalogLines = append(catalogLines, line)
			}
		}
		slices.SortFunc(catalogLines, func(a, b domain.SaleLine) int {
			return cmp.Compare(a.ProductCode, b.ProductCode)
		})
		for _, line := range catalogLines {
			adj := domain.StockAdjustment{Code: line.ProductCode, Delta: -line.Qty, Reason: saleReason(sale.ID)}
			if _, err := adjustStock(ctx, tx, adj, domain.StockAuditEntry{CreatedAt: sale.SoldAt}); err != nil {
				return err
			}
		}

		if cash != nil {
			if err := insertMovement(ctx, tx, *cash, sessionID, sale.ID); err != nil {
				return err
			}
			sale.CashMovementID = cash.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	saved := sale
	saved.Lines = slices.Clone(sale.Lines)
	return &saved, nil
}

func (s *Store) ListSaleHistory(ctx context.Context, r domain.HistoryRange) ([]domain.SaleHistoryRow, error) {
	// Manual lines never join the catalog: their code is a shared sentinel.
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.sold_at, s.total, sl.product_code, sl.quantity, sl.subtotal,
			sl.manual_display_name, p.name, p.sale_price
		FROM sales s
		JOIN sale_lines sl ON sl.sale_id = s.id
		LEFT JOIN products p ON p.code = sl.product_code AND sl.manual_display_name IS NULL
		WHERE ($1::timestamptz IS NULL OR s.sold_at >= $1)
			AND ($2::timestamptz IS NULL OR s.sold_at < $2)
		ORDER BY s.sold_at DESC, s.id, sl.id
	`, nullTime(r.From), nullTime(r.To))
	if err != nil {
		return nil, store.Persistence("list sale history", err)
	}
	defer rows.Close()

	result := make([]domain.SaleHistoryRow, 0, 64)
	for rows.Next() {
		var row domain.SaleHistoryRow
		var manualName, catalogName sql.NullString
		if err := rows.Scan(
			&row.SaleID,
			&row.SoldAt,
			&row.Total,
			&row.ProductCode,
			&row.Qty,
			&row.Subtotal,
			&manualName,
			&catalogName,
			&row.CatalogPrice,
		); err != nil {
			return nil, store.Persistence("list sale history", err)
		}
		row.SoldAt = row.SoldAt.UTC()
		row.ManualName = manualName.String
		row.CatalogName = catalogName.String
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list sale history", err)
	}
	return result, nil
}

func (s *Store) OpenSession(ctx context.Context, session domain.CashSession, opening domain.CashMovement) (*domain.CashSession, error) {
	if session.StartingBalance.IsNegative() {
		return nil, store.ErrInvalidAmount
	}
	session.Active = true
	session.ClosedAt = nil

	err := s.withTx(ctx, "open cash session", func(tx *sql.Tx) error {
		// The partial unique index on active sessions decides concurrent opens.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cash_sessions (id, opened_at, starting_balance, active)
			VALUES ($1,$2,$3,true)
		`, session.ID, session.OpenedAt, session.StartingBalance); err != nil {
			if isUniqueViolation(err) {
				return store.ErrAlreadyOpen
			}
			return err
		}
		return insertMovement(ctx, tx, opening, session.ID, "")
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetActiveSession(ctx context.Context) (*domain.CashSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE active
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveSession
		}
		return nil, store.Persistence("get active cash session", err)
	}
	return session, nil
}

func (s *Store) AppendMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	err := s.withTx(ctx, "append cash movement", func(tx *sql.Tx) error {
		sessionID, err := lockActiveSession(ctx, tx)
		if err != nil {
			return err
		}
		movement.SessionID = sessionID
		return insertMovement(ctx, tx, movement, sessionID, movement.SaleID)
	})
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (s *Store) ListMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	if err := s.ensureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY occurred_at, seq
	`, sessionID)
	if err != nil {
		return nil, store.Persistence("list cash movements", err)
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 32)
	for rows.Next() {
		var m domain.CashMovement
		var saleID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.OccurredAt, &m.Kind, &m.Amount, &m.Description, &saleID); err != nil {
			return nil, store.Persistence("list cash movements", err)
		}
		m.OccurredAt = m.OccurredAt.UTC()
		m.SaleID = saleID.String
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list cash movements", err)
	}
	return movements, nil
}

func (s *Store) SessionBalance(ctx context.Context, sessionID string) (decimal.Decimal, error) {
	if err := s.ensureSession(ctx, sessionID); err != nil {
		return decimal.Zero, err
	}
	balance, err := sumMovements(ctx, s.db, sessionID)
	if err != nil {
		return decimal.Zero, store.Persistence("cash session balance", err)
	}
	return balance, nil
}

func (s *Store) CloseSession(ctx context.Context, req domain.SessionClose) (*domain.CashSession, error) {
	if req.CountedBalance.IsNegative() {
		return nil, store.ErrInvalidAmount
	}

	var closed *domain.CashSession
	err := s.withTx(ctx, "close cash session", func(tx *sql.Tx) error {
		sessionID, err := lockActiveSession(ctx, tx)
		if err != nil {
			return err
		}
		calculated, err := sumMovements(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		diff := req.CountedBalance.Sub(calculated)

		session, err := scanSession(tx.QueryRowContext(ctx, `
			UPDATE cash_sessions
			SET closed_at = $2, calculated_balance = $3, counted_balance = $4, diff = $5, active = false
			WHERE id = $1 AND active
			RETURNING `+sessionColumns,
			sessionID, req.ClosedAt, calculated, req.CountedBalance, diff))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNoActiveSession
			}
			return err
		}

		if !diff.IsZero() {
			adjustment := domain.CashMovement{
				ID:          req.AdjustmentID,
				OccurredAt:  req.ClosedAt,
				Kind:        domain.MovementCloseAdjustment,
				Amount:      diff,
				Description: domain.CloseAdjustmentDescription(diff),
			}
			if adjustment.ID == "" {
				adjustment.ID = xid.New("cash")
			}
			if err := insertMovement(ctx, tx, adjustment, sessionID, ""); err != nil {
				return err
			}
		}
		closed = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *Store) ensureSession(ctx context.Context, sessionID string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cash_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return store.Persistence("find cash session", err)
	}
	if !exists {
		return fmt.Errorf("%w: cash session %s", store.ErrNotFound, sessionID)
	}
	return nil
}

// lockActiveSession holds the active session row until the transaction ends,
// so a concurrent close waits for movements being appended.
func lockActiveSession(ctx context.Context, tx *sql.Tx) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM cash_sessions
		WHERE active
		FOR UPDATE
	`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNoActiveSession
		}
		return "", err
	}
	return id, nil
}

func insertMovement(ctx context.Context, q querier, m domain.CashMovement, sessionID string, saleID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, occurred_at, kind, amount, description, sale_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID, sessionID, m.OccurredAt, string(m.Kind), m.Amount, m.Description, nullIfEmpty(saleID))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
		}
		return err
	}
	return nil
}

func sumMovements(ctx context.Context, q querier, sessionID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM cash_movements
		WHERE session_id = $1
	`, sessionID).Scan(&total)
	return total, err
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.Code, &p.Name, &p.SalePrice, &p.CostPrice, &p.Stock, &p.MinStock, &p.Category, &p.Active); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSession(row rowScanner) (*domain.CashSession, error) {
	var session domain.CashSession
	var closedAt sql.NullTime
	if err := row.Scan(
		&session.ID,
		&session.OpenedAt,
		&session.StartingBalance,
		&closedAt,
		&session.CalculatedBalance,
		&session.CountedBalance,
		&session.Difference,
		&session.Active,
	); err != nil {
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func saleReason(saleID string) string {
	return "sale " + saleID
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
