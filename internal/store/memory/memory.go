package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sales           []domain.Sale
	saleIndex       map[string]int
	stockAudit      []domain.StockAuditEntry
	sessionsByID    map[string]domain.CashSession
	activeSessionID string
	movements       map[string][]domain.CashMovement
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		saleIndex:    make(map[string]int),
		sessionsByID: make(map[string]domain.CashSession),
		movements:    make(map[string][]domain.CashMovement),
	}
}

func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{Code: "7501001", Name: "Paracetamol 500mg x20", SalePrice: decimal.RequireFromString("3.50"), CostPrice: decimal.RequireFromString("1.80"), Stock: 120, MinStock: 20, Category: "analgesics", Active: true},
		{Code: "7501002", Name: "Ibuprofen 400mg x10", SalePrice: decimal.RequireFromString("4.20"), CostPrice: decimal.RequireFromString("2.10"), Stock: 80, MinStock: 15, Category: "analgesics", Active: true},
		{Code: "7501003", Name: "Loratadine 10mg x10", SalePrice: decimal.RequireFromString("5.90"), CostPrice: decimal.RequireFromString("2.75"), Stock: 45, MinStock: 10, Category: "antihistamines", Active: true},
		{Code: "7501004", Name: "Omeprazole 20mg x14", SalePrice: decimal.RequireFromString("6.40"), CostPrice: decimal.RequireFromString("3.05"), Stock: 60, MinStock: 10, Category: "digestive", Active: true},
		{Code: "7501005", Name: "Oral Rehydration Salts", SalePrice: decimal.RequireFromString("1.25"), CostPrice: decimal.RequireFromString("0.55"), Stock: 200, MinStock: 40, Category: "digestive", Active: true},
		{Code: "7501006", Name: "Vitamin C 1g x10", SalePrice: decimal.RequireFromString("4.75"), CostPrice: decimal.RequireFromString("2.30"), Stock: 70, MinStock: 15, Category: "supplements", Active: true},
		{Code: "7501007", Name: "Saline Nasal Spray", SalePrice: decimal.RequireFromString("7.10"), CostPrice: decimal.RequireFromString("3.60"), Stock: 25, MinStock: 5, Category: "respiratory", Active: true},
		{Code: "7501008", Name: "Adhesive Bandages x30", SalePrice: decimal.RequireFromString("2.95"), CostPrice: decimal.RequireFromString("1.20"), Stock: 150, MinStock: 30, Category: "first-aid", Active: true},
		{Code: "7501009", Name: "Hydrogen Peroxide 250ml", SalePrice: decimal.RequireFromString("2.10"), CostPrice: decimal.RequireFromString("0.90"), Stock: 8, MinStock: 10, Category: "first-aid", Active: true},
		{Code: "7501010", Name: "Digital Thermometer", SalePrice: decimal.RequireFromString("12.50"), CostPrice: decimal.RequireFromString("6.80"), Stock: 12, MinStock: 3, Category: "devices", Active: true},
	} {
		s.products[p.Code] = p
	}
	return s
}

// PutProduct inserts or replaces a catalog row. Catalog maintenance is not
// part of the Repository contract; this exists for seeding.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.Code] = p
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[code]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, code)
	}
	return &p, nil
}

func (s *Store) DeactivateProduct(_ context.Context, code string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[code]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, code)
	}
	p.Active = false
	s.products[code] = p
	return &p, nil
}

func (s *Store) AdjustStock(_ context.Context, adj domain.StockAdjustment, entry domain.StockAuditEntry) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[adj.Code]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, adj.Code)
	}
	if adj.Delta == 0 {
		return &p, nil
	}
	if p.Stock+adj.Delta < 0 {
		return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, adj.Code)
	}

	p.Stock += adj.Delta
	s.products[adj.Code] = p

	entry.ProductCode = adj.Code
	entry.Delta = adj.Delta
	entry.Reason = adj.Reason
	s.stockAudit = append(s.stockAudit, entry)
	return &p, nil
}

func (s *Store) ListStockAudit(_ context.Context, code string, limit int) ([]domain.StockAuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockAuditEntry, 0, min(limit, len(s.stockAudit)))
	for i := len(s.stockAudit) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := s.stockAudit[i]
		if code != "" && entry.ProductCode != code {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale, cash *domain.CashMovement) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrEmptySale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleIndex[sale.ID]; exists {
		return nil, fmt.Errorf("%w: sale %s already recorded", store.ErrConflict, sale.ID)
	}
	if cash != nil && s.activeSessionID == "" {
		return nil, store.ErrNoActiveSession
	}

	// Every stock change is checked before any is applied so a failing line
	// leaves the catalog untouched.
	nextStock := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidLine
		}
		if line.Manual {
			continue
		}
		current, seen := nextStock[line.ProductCode]
		if !seen {
			p, ok := s.products[line.ProductCode]
			if !ok {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductCode)
			}
			current = p.Stock
		}
		if current-line.Qty < 0 {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, line.ProductCode)
		}
		nextStock[line.ProductCode] = current - line.Qty
	}

	for code, stock := range nextStock {
		p := s.products[code]
		p.Stock = stock
		s.products[code] = p
	}
	for _, line := range sale.Lines {
		if line.Manual {
			continue
		}
		s.stockAudit = append(s.stockAudit, domain.StockAuditEntry{
			ID:          xid.New("stock"),
			ProductCode: line.ProductCode,
			Delta:       -line.Qty,
			Reason:      saleReason(sale.ID),
			CreatedAt:   sale.SoldAt,
		})
	}

	if cash != nil {
		movement := *cash
		movement.SessionID = s.activeSessionID
		movement.SaleID = sale.ID
		s.movements[movement.SessionID] = append(s.movements[movement.SessionID], movement)
		sale.CashMovementID = movement.ID
	}

	saved := cloneSale(sale)
	s.saleIndex[saved.ID] = len(s.sales)
	s.sales = append(s.sales, saved)

	out := cloneSale(saved)
	return &out, nil
}

func (s *Store) ListSaleHistory(_ context.Context, r domain.HistoryRange) ([]domain.SaleHistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.SaleHistoryRow, 0, len(s.sales)*2)
	for i := len(s.sales) - 1; i >= 0; i-- {
		sale := s.sales[i]
		if !r.Contains(sale.SoldAt) {
			continue
		}
		for _, line := range sale.Lines {
			row := domain.SaleHistoryRow{
				SaleID:      sale.ID,
				SoldAt:      sale.SoldAt,
				Total:       sale.Total,
				ProductCode: line.ProductCode,
				Qty:         line.Qty,
				Subtotal:    line.Subtotal,
			}
			if line.Manual {
				row.ManualName = line.ManualName
			} else if p, ok := s.products[line.ProductCode]; ok {
				row.CatalogName = p.Name
				row.CatalogPrice = decimal.NewNullDecimal(p.SalePrice)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Store) OpenSession(_ context.Context, session domain.CashSession, opening domain.CashMovement) (*domain.CashSession, error) {
	if session.StartingBalance.IsNegative() {
		return nil, store.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeSessionID != "" {
		return nil, store.ErrAlreadyOpen
	}

	session.Active = true
	session.ClosedAt = nil
	s.sessionsByID[session.ID] = session
	s.activeSessionID = session.ID

	opening.SessionID = session.ID
	s.movements[session.ID] = append(s.movements[session.ID], opening)

	saved := cloneSession(session)
	return &saved, nil
}

func (s *Store) GetActiveSession(_ context.Context) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeSessionID == "" {
		return nil, store.ErrNoActiveSession
	}
	session := cloneSession(s.sessionsByID[s.activeSessionID])
	return &session, nil
}

func (s *Store) AppendMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeSessionID == "" {
		return nil, store.ErrNoActiveSession
	}
	if movement.SaleID != "" {
		if _, ok := s.saleIndex[movement.SaleID]; !ok {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, movement.SaleID)
		}
	}

	movement.SessionID = s.activeSessionID
	s.movements[movement.SessionID] = append(s.movements[movement.SessionID], movement)
	return &movement, nil
}

func (s *Store) ListMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessionsByID[sessionID]; !ok {
		return nil, fmt.Errorf("%w: cash session %s", store.ErrNotFound, sessionID)
	}
	return slices.Clone(s.movements[sessionID]), nil
}

func (s *Store) SessionBalance(_ context.Context, sessionID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessionsByID[sessionID]; !ok {
		return decimal.Zero, fmt.Errorf("%w: cash session %s", store.ErrNotFound, sessionID)
	}
	return sumMovements(s.movements[sessionID]), nil
}

func (s *Store) CloseSession(_ context.Context, req domain.SessionClose) (*domain.CashSession, error) {
	if req.CountedBalance.IsNegative() {
		return nil, store.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeSessionID == "" {
		return nil, store.ErrNoActiveSession
	}

	session := s.sessionsByID[s.activeSessionID]
	calculated := sumMovements(s.movements[session.ID])
	diff := req.CountedBalance.Sub(calculated)

	closedAt := req.ClosedAt
	session.ClosedAt = &closedAt
	session.CalculatedBalance = decimal.NewNullDecimal(calculated)
	session.CountedBalance = decimal.NewNullDecimal(req.CountedBalance)
	session.Difference = decimal.NewNullDecimal(diff)
	session.Active = false
	s.sessionsByID[session.ID] = session

	if !diff.IsZero() {
		s.movements[session.ID] = append(s.movements[session.ID], domain.CashMovement{
			ID:          req.AdjustmentID,
			SessionID:   session.ID,
			OccurredAt:  req.ClosedAt,
			Kind:        domain.MovementCloseAdjustment,
			Amount:      diff,
			Description: domain.CloseAdjustmentDescription(diff),
		})
	}
	s.activeSessionID = ""

	saved := cloneSession(session)
	return &saved, nil
}

func sumMovements(movements []domain.CashMovement) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		total = total.Add(m.Amount)
	}
	return total
}

func saleReason(saleID string) string {
	return "sale " + saleID
}

func cloneSale(src domain.Sale) domain.Sale {
	out := src
	out.Lines = slices.Clone(src.Lines)
	return out
}

func cloneSession(src domain.CashSession) domain.CashSession {
	out := src
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		out.ClosedAt = &at
	}
	return out
}
