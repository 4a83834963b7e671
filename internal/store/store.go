package store

import (
	"context"

	"github.com/shopspring/decimal"

	"apotek/backend/internal/domain"
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, code string) (*domain.Product, error)
	DeactivateProduct(ctx context.Context, code string) (*domain.Product, error)

	// AdjustStock applies delta only if the resulting stock stays non-negative
	// and records an audit entry in the same unit of work.
	AdjustStock(ctx context.Context, adj domain.StockAdjustment, entry domain.StockAuditEntry) (*domain.Product, error)
	ListStockAudit(ctx context.Context, code string, limit int) ([]domain.StockAuditEntry, error)

	// CommitSale persists the header, its lines and the stock decrement of every
	// catalog line atomically. When cash is non-nil the movement is appended to
	// the active session inside the same unit of work.
	CommitSale(ctx context.Context, sale domain.Sale, cash *domain.CashMovement) (*domain.Sale, error)
	ListSaleHistory(ctx context.Context, r domain.HistoryRange) ([]domain.SaleHistoryRow, error)

	OpenSession(ctx context.Context, session domain.CashSession, opening domain.CashMovement) (*domain.CashSession, error)
	GetActiveSession(ctx context.Context) (*domain.CashSession, error)
	AppendMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	ListMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)
	SessionBalance(ctx context.Context, sessionID string) (decimal.Decimal, error)
	CloseSession(ctx context.Context, req domain.SessionClose) (*domain.CashSession, error)
}
