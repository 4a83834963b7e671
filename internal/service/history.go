package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

// SaleHistory returns sales in the half-open range [From, To), newest first.
// A zero bound leaves that side open.
func (s *Service) SaleHistory(ctx context.Context, r domain.HistoryRange) ([]domain.HistorySale, error) {
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return nil, fmt.Errorf("%w: history range start must be before its end", store.ErrValidation)
	}

	key := r.Key()
	version, versionErr := s.historyCache.Version(ctx)
	if versionErr != nil {
		s.logger.Warn("sale history cache unavailable", "error", versionErr)
	} else {
		cached, ok, err := s.historyCache.Get(ctx, version, key)
		switch {
		case err != nil:
			s.logger.Warn("sale history cache read failed", "key", key, "error", err)
			s.metrics.RecordHistoryCache("error")
		case ok:
			s.metrics.RecordHistoryCache("hit")
			return cached, nil
		default:
			s.metrics.RecordHistoryCache("miss")
		}
	}

	rows, err := s.repo.ListSaleHistory(ctx, r)
	if err != nil {
		return nil, err
	}
	sales := ReconstructHistory(rows)

	if versionErr == nil {
		if err := s.historyCache.Set(ctx, version, key, sales, s.historyTTL); err != nil {
			s.logger.Warn("sale history cache write failed", "key", key, "error", err)
		}
	}
	return sales, nil
}

// ReconstructHistory turns joined sale rows into displayable sales. Rows of
// one sale must be adjacent; sale order is preserved.
func ReconstructHistory(rows []domain.SaleHistoryRow) []domain.HistorySale {
	sales := make([]domain.HistorySale, 0, len(rows))
	for _, row := range rows {
		if len(sales) == 0 || sales[len(sales)-1].SaleID != row.SaleID {
			sales = append(sales, domain.HistorySale{
				SaleID: row.SaleID,
				SoldAt: row.SoldAt,
				Total:  row.Total,
				Lines:  make([]domain.HistoryLine, 0, 4),
			})
		}
		current := &sales[len(sales)-1]
		current.Lines = append(current.Lines, domain.HistoryLine{
			ProductCode: row.ProductCode,
			ProductName: resolveName(row),
			Qty:         row.Qty,
			UnitPrice:   resolveUnitPrice(row),
			Subtotal:    row.Subtotal,
		})
	}
	return sales
}

func resolveName(row domain.SaleHistoryRow) string {
	switch {
	case row.ManualName != "":
		return row.ManualName
	case row.CatalogName != "":
		return row.CatalogName
	default:
		return row.ProductCode
	}
}

func resolveUnitPrice(row domain.SaleHistoryRow) decimal.Decimal {
	if row.CatalogPrice.Valid {
		return row.CatalogPrice.Decimal
	}
	if row.Qty < 1 {
		return row.Subtotal
	}
	return row.Subtotal.DivRound(decimal.NewFromInt(int64(row.Qty)), 2)
}

func (s *Service) invalidateHistory(ctx context.Context) {
	if err := s.historyCache.Invalidate(ctx); err != nil {
		s.logger.Warn("sale history cache invalidation failed", "error", err)
	}
}
