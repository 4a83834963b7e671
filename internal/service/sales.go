package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

// CommitSale records the ticket and decrements stock for every catalog line
// in one unit of work. Either everything is persisted or nothing is.
func (s *Service) CommitSale(ctx context.Context, items []domain.LineInput) (domain.Sale, error) {
	return s.commitSale(ctx, items, false)
}

// CommitCashSale is CommitSale plus a CashSale movement for the total in the
// active cash session, written in the same unit of work.
func (s *Service) CommitCashSale(ctx context.Context, items []domain.LineInput) (domain.Sale, error) {
	return s.commitSale(ctx, items, true)
}

func (s *Service) commitSale(ctx context.Context, items []domain.LineInput, cash bool) (sale domain.Sale, err error) {
	ctx, span := s.startSpan(ctx, "CommitSale", attribute.Int("sale.entries", len(items)), attribute.Bool("sale.cash", cash))
	defer func() {
		s.metrics.RecordSale(err, len(sale.Lines))
		endSpan(span, err)
	}()

	if len(items) == 0 {
		return domain.Sale{}, store.ErrEmptySale
	}

	lines, err := s.groupLines(ctx, items)
	if err != nil {
		return domain.Sale{}, err
	}

	total := decimal.Zero
	for i := range lines {
		lines[i].Subtotal = lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(lines[i].Qty)))
		total = total.Add(lines[i].Subtotal)
	}

	now := s.now()
	draft := domain.Sale{
		ID:     xid.New("sale"),
		SoldAt: now,
		Total:  total,
		Lines:  lines,
	}

	var movement *domain.CashMovement
	if cash {
		movement = &domain.CashMovement{
			ID:          xid.New("cash"),
			OccurredAt:  now,
			Kind:        domain.MovementCashSale,
			Amount:      total,
			Description: "Sale " + draft.ID,
		}
	}

	saved, err := s.repo.CommitSale(ctx, draft, movement)
	if err != nil {
		s.logger.Warn("sale commit rolled back", "sale_id", draft.ID, "error", err)
		return domain.Sale{}, err
	}
	if cash {
		s.metrics.RecordCashMovement(string(domain.MovementCashSale))
	}

	s.invalidateHistory(ctx)
	s.logger.Info("sale committed",
		"sale_id", saved.ID,
		"lines", len(saved.Lines),
		"total", saved.Total.StringFixed(2),
		"cash_movement_id", saved.CashMovementID,
	)
	return *saved, nil
}

// groupLines folds repeated entries into sale lines, keeping the order in
// which each line first appeared. Catalog entries are resolved once per code.
func (s *Service) groupLines(ctx context.Context, items []domain.LineInput) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, len(items))
	catalogIdx := make(map[string]int, len(items))
	manualIdx := make(map[string]int)

	for i, item := range items {
		switch item.Kind {
		case domain.LineKindCatalog:
			code := strings.TrimSpace(item.Code)
			if code == "" {
				return nil, fmt.Errorf("%w: entry %d has no product code", store.ErrInvalidLine, i)
			}
			if idx, ok := catalogIdx[code]; ok {
				lines[idx].Qty++
				continue
			}
			product, err := s.repo.GetProduct(ctx, code)
			if err != nil {
				return nil, err
			}
			if !product.Active {
				return nil, fmt.Errorf("%w: product %s is not available for sale", store.ErrNotFound, code)
			}
			catalogIdx[code] = len(lines)
			lines = append(lines, domain.SaleLine{
				ProductCode: code,
				Qty:         1,
				UnitPrice:   money(product.SalePrice),
			})

		case domain.LineKindManual:
			name := strings.TrimSpace(item.Name)
			if name == "" {
				return nil, fmt.Errorf("%w: manual entry %d has no name", store.ErrInvalidLine, i)
			}
			price := money(item.UnitPrice)
			if !price.IsPositive() {
				return nil, fmt.Errorf("%w: manual entry %q needs a positive price", store.ErrInvalidAmount, name)
			}
			key := domain.ManualLine(name, price).MergeKey()
			if idx, ok := manualIdx[key]; ok {
				lines[idx].Qty++
				continue
			}
			manualIdx[key] = len(lines)
			lines = append(lines, domain.SaleLine{
				ProductCode: domain.ManualProductCode,
				Manual:      true,
				ManualName:  name,
				Qty:         1,
				UnitPrice:   price,
			})

		default:
			return nil, fmt.Errorf("%w: entry %d has unknown kind %q", store.ErrInvalidLine, i, item.Kind)
		}
	}
	return lines, nil
}
