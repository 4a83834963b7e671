package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

var soldAt = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func catalogLine(code string, qty int, price string) domain.SaleLine {
	unit := decimal.RequireFromString(price)
	return domain.SaleLine{ProductCode: code, Qty: qty, UnitPrice: unit, Subtotal: unit.Mul(decimal.NewFromInt(int64(qty)))}
}

func openSession(t *testing.T, s *Store, start string) domain.CashSession {
	t.Helper()
	id := "session-" + start
	session, err := s.OpenSession(context.Background(),
		domain.CashSession{ID: id, OpenedAt: soldAt, StartingBalance: decimal.RequireFromString(start)},
		domain.CashMovement{ID: id + "-open", OccurredAt: soldAt, Kind: domain.MovementOpen, Amount: decimal.RequireFromString(start)},
	)
	require.NoError(t, err)
	return *session
}

func TestCommitSaleIsAllOrNothing(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CommitSale(ctx, domain.Sale{
		ID:     "sale-1",
		SoldAt: soldAt,
		Total:  decimal.RequireFromString("24.50"),
		Lines: []domain.SaleLine{
			catalogLine("7501001", 1, "3.50"),
			catalogLine("7501009", 10, "2.10"),
		},
	}, nil)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	p, err := s.GetProduct(ctx, "7501001")
	require.NoError(t, err)
	assert.Equal(t, 120, p.Stock)

	rows, err := s.ListSaleHistory(ctx, domain.HistoryRange{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCommitSaleUnknownCodeIsNotFound(t *testing.T) {
	s := NewSeeded()

	_, err := s.CommitSale(context.Background(), domain.Sale{
		ID: "sale-1", SoldAt: soldAt, Lines: []domain.SaleLine{catalogLine("nope", 1, "1")},
	}, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, errors.Is(err, store.ErrInsufficientStock))
}

func TestCommitSaleRejectsDuplicateID(t *testing.T) {
	s := NewSeeded()
	sale := domain.Sale{ID: "sale-1", SoldAt: soldAt, Lines: []domain.SaleLine{catalogLine("7501001", 1, "3.50")}}

	_, err := s.CommitSale(context.Background(), sale, nil)
	require.NoError(t, err)
	_, err = s.CommitSale(context.Background(), sale, nil)
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestHistoryJoinsCatalogOnlyForCatalogLines(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// A catalog row stored under the manual code must not leak into manual lines.
	manual := domain.SaleLine{
		ProductCode: domain.ManualProductCode,
		Manual:      true,
		ManualName:  "Ear piercing",
		Qty:         1,
		UnitPrice:   decimal.RequireFromString("15"),
		Subtotal:    decimal.RequireFromString("15"),
	}
	s.PutProduct(domain.Product{Code: domain.ManualProductCode, Name: "Should not appear", SalePrice: decimal.RequireFromString("1"), Active: true})

	_, err := s.CommitSale(ctx, domain.Sale{
		ID: "sale-1", SoldAt: soldAt, Total: decimal.RequireFromString("18.50"),
		Lines: []domain.SaleLine{catalogLine("7501001", 1, "3.50"), manual},
	}, nil)
	require.NoError(t, err)

	rows, err := s.ListSaleHistory(ctx, domain.HistoryRange{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Paracetamol 500mg x20", rows[0].CatalogName)
	assert.True(t, rows[0].CatalogPrice.Valid)
	assert.Equal(t, "Ear piercing", rows[1].ManualName)
	assert.Empty(t, rows[1].CatalogName)
	assert.False(t, rows[1].CatalogPrice.Valid)
}

func TestCashSaleNeedsActiveSession(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	sale := domain.Sale{ID: "sale-1", SoldAt: soldAt, Total: decimal.RequireFromString("3.50"), Lines: []domain.SaleLine{catalogLine("7501001", 1, "3.50")}}
	movement := &domain.CashMovement{ID: "cash-1", OccurredAt: soldAt, Kind: domain.MovementCashSale, Amount: sale.Total}

	_, err := s.CommitSale(ctx, sale, movement)
	require.ErrorIs(t, err, store.ErrNoActiveSession)
	p, err := s.GetProduct(ctx, "7501001")
	require.NoError(t, err)
	assert.Equal(t, 120, p.Stock)

	session := openSession(t, s, "10")
	saved, err := s.CommitSale(ctx, sale, movement)
	require.NoError(t, err)
	assert.Equal(t, "cash-1", saved.CashMovementID)

	movements, err := s.ListMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "sale-1", movements[1].SaleID)
	assert.Equal(t, session.ID, movements[1].SessionID)
}

func TestOpenSessionRaceHasOneWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "session-" + strconv.Itoa(i)
			_, results[i] = s.OpenSession(ctx,
				domain.CashSession{ID: id, StartingBalance: decimal.Zero},
				domain.CashMovement{ID: id + "-open", Kind: domain.MovementOpen},
			)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		require.ErrorIs(t, err, store.ErrAlreadyOpen)
	}
	assert.Equal(t, 1, winners)
}

func TestCloseSessionWritesAdjustment(t *testing.T) {
	s := New()
	ctx := context.Background()
	session := openSession(t, s, "100")

	_, err := s.AppendMovement(ctx, domain.CashMovement{ID: "m1", Kind: domain.MovementExpense, Amount: decimal.RequireFromString("-12.40")})
	require.NoError(t, err)

	balance, err := s.SessionBalance(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("87.60").Equal(balance))

	closed, err := s.CloseSession(ctx, domain.SessionClose{CountedBalance: decimal.RequireFromString("90"), ClosedAt: soldAt, AdjustmentID: "adj-1"})
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.True(t, decimal.RequireFromString("2.40").Equal(closed.Difference.Decimal))
	assert.True(t, decimal.RequireFromString("87.60").Equal(closed.CalculatedBalance.Decimal))

	movements, err := s.ListMovements(ctx, session.ID)
	require.NoError(t, err)
	last := movements[len(movements)-1]
	assert.Equal(t, "adj-1", last.ID)
	assert.Equal(t, domain.MovementCloseAdjustment, last.Kind)
	assert.Equal(t, "Surplus detected at close", last.Description)

	_, err = s.GetActiveSession(ctx)
	require.ErrorIs(t, err, store.ErrNoActiveSession)
	_, err = s.AppendMovement(ctx, domain.CashMovement{ID: "m2", Kind: domain.MovementExtraIncome, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, store.ErrNoActiveSession)
}

func TestListStockAuditNewestFirstWithLimit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	for i, delta := range []int{5, -2, 3} {
		_, err := s.AdjustStock(ctx,
			domain.StockAdjustment{Code: "7501003", Delta: delta, Reason: "count"},
			domain.StockAuditEntry{ID: "stock-" + strconv.Itoa(i), CreatedAt: soldAt.Add(time.Duration(i) * time.Minute)},
		)
		require.NoError(t, err)
	}
	_, err := s.AdjustStock(ctx, domain.StockAdjustment{Code: "7501004", Delta: 1}, domain.StockAuditEntry{ID: "other"})
	require.NoError(t, err)

	entries, err := s.ListStockAudit(ctx, "7501003", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].Delta)
	assert.Equal(t, -2, entries[1].Delta)

	all, err := s.ListStockAudit(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
