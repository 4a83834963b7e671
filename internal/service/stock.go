package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

const unspecifiedReason = "unspecified"

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, fmt.Errorf("%w: product code is required", store.ErrValidation)
	}
	product, err := s.repo.GetProduct(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// DeactivateProduct hides a product from sale. Past sales keep resolving it.
func (s *Service) DeactivateProduct(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, fmt.Errorf("%w: product code is required", store.ErrValidation)
	}
	product, err := s.repo.DeactivateProduct(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.Info("product deactivated", "code", code)
	return *product, nil
}

// AdjustStock applies a signed manual correction. A zero delta succeeds
// without touching storage.
func (s *Service) AdjustStock(ctx context.Context, code string, delta int, reason string) (change domain.StockChange, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.StockChange{}, fmt.Errorf("%w: product code is required", store.ErrValidation)
	}
	if delta == 0 {
		return domain.StockChange{Code: code}, nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = unspecifiedReason
	}

	ctx, span := s.startSpan(ctx, "AdjustStock", attribute.String("product.code", code), attribute.Int("stock.delta", delta))
	defer func() {
		s.metrics.RecordStockAdjustment(err)
		endSpan(span, err)
	}()

	product, err := s.repo.AdjustStock(ctx,
		domain.StockAdjustment{Code: code, Delta: delta, Reason: reason},
		domain.StockAuditEntry{ID: xid.New("stock"), CreatedAt: s.now()},
	)
	if err != nil {
		return domain.StockChange{}, err
	}

	s.logger.Info("stock adjusted", "code", code, "delta", delta, "stock", product.Stock, "reason", reason)
	stock := product.Stock
	return domain.StockChange{Code: code, Delta: delta, Applied: true, Stock: &stock}, nil
}

// ReturnStock puts returned units back on the shelf.
func (s *Service) ReturnStock(ctx context.Context, code string, qty int, reason string) (domain.StockChange, error) {
	if qty < 1 {
		return domain.StockChange{}, fmt.Errorf("%w: returned quantity must be at least 1", store.ErrInvalidAmount)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = unspecifiedReason
	}
	return s.AdjustStock(ctx, code, qty, "return: "+reason)
}

func (s *Service) ListStockAudit(ctx context.Context, code string, limit int) ([]domain.StockAuditEntry, error) {
	return s.repo.ListStockAudit(ctx, strings.TrimSpace(code), limit)
}
