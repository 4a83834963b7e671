package domain

import "github.com/shopspring/decimal"

type SaleItemRequest struct {
	Kind      string          `json:"kind" validate:"required,oneof=catalog manual"`
	Code      string          `json:"code" validate:"required_if=Kind catalog,max=64"`
	Name      string          `json:"name" validate:"required_if=Kind manual,max=120"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty" validate:"omitempty,min=1,max=1000"`
}

type SaleCommitRequest struct {
	Items []SaleItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
	Cash  bool              `json:"cash"`
}

// Lines expands each request item into one LineInput per unit.
func (r SaleCommitRequest) Lines() []LineInput {
	lines := make([]LineInput, 0, len(r.Items))
	for _, item := range r.Items {
		qty := item.Qty
		if qty < 1 {
			qty = 1
		}
		line := LineInput{Kind: LineKind(item.Kind), Code: item.Code, Name: item.Name, UnitPrice: item.UnitPrice}
		for i := 0; i < qty; i++ {
			lines = append(lines, line)
		}
	}
	return lines
}

type StockAdjustRequest struct {
	Code   string `json:"code" validate:"required,max=64"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason" validate:"max=255"`
}

type StockChange struct {
	Code    string `json:"code"`
	Delta   int    `json:"delta"`
	Applied bool   `json:"applied"`
	// Stock is the resulting level; absent when nothing was applied.
	Stock *int `json:"stock,omitempty"`
}

type StockReturnRequest struct {
	Code   string `json:"code" validate:"required,max=64"`
	Qty    int    `json:"qty" validate:"required,min=1"`
	Reason string `json:"reason" validate:"max=255"`
}

type CashOpenRequest struct {
	StartingBalance decimal.Decimal `json:"starting_balance"`
}

type CashMovementRequest struct {
	Kind        string          `json:"kind" validate:"required,max=32"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
	SaleID      string          `json:"sale_id" validate:"max=64"`
}

type CashCloseRequest struct {
	CountedBalance decimal.Decimal `json:"counted_balance"`
}

type CashBalanceResponse struct {
	SessionID string          `json:"session_id,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

type CashCloseResponse struct {
	Session    CashSession     `json:"session"`
	Difference decimal.Decimal `json:"difference"`
}

type HistoryResponse struct {
	Sales []HistorySale `json:"sales"`
}
