package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ManualProductCode is the shared code every manual line is persisted under.
const ManualProductCode = "MANUAL"

type Product struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Stock     int             `json:"stock"`
	MinStock  int             `json:"min_stock"`
	Category  string          `json:"category"`
	Active    bool            `json:"active"`
}

func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

type ProductView struct {
	Product
	LowStock bool `json:"low_stock"`
}

func NewProductView(p Product) ProductView {
	return ProductView{Product: p, LowStock: p.LowStock()}
}

type LineKind string

const (
	LineKindCatalog LineKind = "catalog"
	LineKindManual  LineKind = "manual"
)

// LineInput is one scanned or typed entry on a ticket. Every occurrence counts
// as a quantity of one; repeated entries are merged at commit time.
// Name and UnitPrice are only read for manual entries.
type LineInput struct {
	Kind      LineKind        `json:"kind"`
	Code      string          `json:"code,omitempty"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func CatalogLine(code string) LineInput {
	return LineInput{Kind: LineKindCatalog, Code: code}
}

func ManualLine(name string, unitPrice decimal.Decimal) LineInput {
	return LineInput{Kind: LineKindManual, Name: name, UnitPrice: unitPrice}
}

// MergeKey identifies the sale line an entry folds into.
func (l LineInput) MergeKey() string {
	if l.Kind == LineKindManual {
		return fmt.Sprintf("manual:%s:%s", l.Name, l.UnitPrice.String())
	}
	return l.Code
}

type SaleLine struct {
	ProductCode string          `json:"product_code"`
	Manual      bool            `json:"manual"`
	ManualName  string          `json:"manual_name,omitempty"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Sale struct {
	ID     string          `json:"id"`
	SoldAt time.Time       `json:"sold_at"`
	Total  decimal.Decimal `json:"total"`
	Lines  []SaleLine      `json:"lines"`

	// CashMovementID is set when the sale was paid into the open cash drawer.
	CashMovementID string `json:"cash_movement_id,omitempty"`
}

type StockAdjustment struct {
	Code   string
	Delta  int
	Reason string
}

type StockAuditEntry struct {
	ID          string    `json:"id"`
	ProductCode string    `json:"product_code"`
	Delta       int       `json:"delta"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type MovementKind string

const (
	MovementOpen            MovementKind = "OPEN"
	MovementCashSale        MovementKind = "CASH_SALE"
	MovementWithdrawal      MovementKind = "WITHDRAWAL"
	MovementExpense         MovementKind = "EXPENSE"
	MovementExtraIncome     MovementKind = "EXTRA_INCOME"
	MovementCloseAdjustment MovementKind = "CLOSE_ADJUSTMENT"
)

func ParseMovementKind(raw string) (MovementKind, bool) {
	switch kind := MovementKind(raw); kind {
	case MovementOpen, MovementCashSale, MovementWithdrawal, MovementExpense, MovementExtraIncome, MovementCloseAdjustment:
		return kind, true
	}
	return "", false
}

// SystemOnly reports kinds that are written by the session lifecycle itself.
func (k MovementKind) SystemOnly() bool {
	return k == MovementOpen || k == MovementCloseAdjustment
}

// Outflow reports kinds whose amounts are stored negative.
func (k MovementKind) Outflow() bool {
	return k == MovementWithdrawal || k == MovementExpense
}

type CashSession struct {
	ID                string              `json:"id"`
	OpenedAt          time.Time           `json:"opened_at"`
	StartingBalance   decimal.Decimal     `json:"starting_balance"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
	CalculatedBalance decimal.NullDecimal `json:"calculated_balance"`
	CountedBalance    decimal.NullDecimal `json:"counted_balance"`
	Difference        decimal.NullDecimal `json:"difference"`
	Active            bool                `json:"active"`
}

type CashMovement struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Kind        MovementKind    `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	SaleID      string          `json:"sale_id,omitempty"`
}

// SessionClose carries what the caller knows when closing the drawer; the
// calculated balance and difference are derived inside the same unit of work.
type SessionClose struct {
	CountedBalance decimal.Decimal
	ClosedAt       time.Time
	AdjustmentID   string
}

func CloseAdjustmentDescription(diff decimal.Decimal) string {
	if diff.IsPositive() {
		return "Surplus detected at close"
	}
	return "Shortage detected at close"
}

// SaleHistoryRow is one persisted sale line joined with whatever the catalog
// currently holds for its code.
type SaleHistoryRow struct {
	SaleID       string
	SoldAt       time.Time
	Total        decimal.Decimal
	ProductCode  string
	Qty          int
	Subtotal     decimal.Decimal
	ManualName   string
	CatalogName  string
	CatalogPrice decimal.NullDecimal
}

type HistoryLine struct {
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type HistorySale struct {
	SaleID string          `json:"sale_id"`
	SoldAt time.Time       `json:"sold_at"`
	Total  decimal.Decimal `json:"total"`
	Lines  []HistoryLine   `json:"lines"`
}

type HistoryRange struct {
	From time.Time
	To   time.Time
}

// Key is stable for equal ranges and used as a cache key suffix.
func (r HistoryRange) Key() string {
	from, to := "-", "-"
	if !r.From.IsZero() {
		from = r.From.UTC().Format(time.RFC3339)
	}
	if !r.To.IsZero() {
		to = r.To.UTC().Format(time.RFC3339)
	}
	return from + "|" + to
}

func (r HistoryRange) Contains(at time.Time) bool {
	if !r.From.IsZero() && at.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !at.Before(r.To) {
		return false
	}
	return true
}
