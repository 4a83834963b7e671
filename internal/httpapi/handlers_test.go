package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/metrics"
	"apotek/backend/internal/service"
	"apotek/backend/internal/store/memory"
)

// newTestHandler wires the real service over a seeded in-memory store so the
// tests exercise the complete request path.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New("apotek_test")
	svc := service.New(memory.NewSeeded(), service.WithLogger(logger), service.WithMetrics(m))
	return New(svc, "*", logger, m).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestOptionsPreflight(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodOptions, "/api/v1/sales", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProductsListAndGet(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Products []domain.ProductView `json:"products"`
	}](t, rec)
	assert.Len(t, list.Products, 10)

	rec = do(t, h, http.MethodGet, "/api/v1/products/7501009", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	product := decodeBody[domain.ProductView](t, rec)
	assert.Equal(t, "7501009", product.Code)
	assert.True(t, product.LowStock)

	rec = do(t, h, http.MethodGet, "/api/v1/products/0000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products/7501001/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivatedProductCannotBeSold(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/api/v1/products/7501002/deactivate", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/products/7501002/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[domain.ProductView](t, rec).Active)

	rec = do(t, h, http.MethodPost, "/api/v1/sales", map[string]any{
		"items": []map[string]any{{"kind": "catalog", "code": "7501002"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStockAdjustmentAndAudit(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/stock/adjustments", map[string]any{
		"code": "7501001", "delta": -20, "reason": "expired batch",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	change := decodeBody[domain.StockChange](t, rec)
	require.NotNil(t, change.Stock)
	assert.True(t, change.Applied)
	assert.Equal(t, 100, *change.Stock)

	rec = do(t, h, http.MethodPost, "/api/v1/stock/adjustments", map[string]any{
		"code": "7501001", "delta": -101,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/stock/returns", map[string]any{
		"code": "7501001", "qty": 2, "reason": "customer changed mind",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 102, *decodeBody[domain.StockChange](t, rec).Stock)

	rec = do(t, h, http.MethodGet, "/api/v1/stock/audit?code=7501001&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[struct {
		Entries []domain.StockAuditEntry `json:"entries"`
	}](t, rec)
	require.Len(t, audit.Entries, 2)
	reasons := []string{audit.Entries[0].Reason, audit.Entries[1].Reason}
	assert.ElementsMatch(t, []string{"expired batch", "return: customer changed mind"}, reasons)
}

func TestStockAdjustmentRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/stock/adjustments", map[string]any{
		"code": "7501001", "delta": 1, "warehouse": "B",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitSaleAndHistory(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sales", map[string]any{
		"items": []map[string]any{
			{"kind": "catalog", "code": "7501001", "qty": 2},
			{"kind": "manual", "name": "Gift bag", "unit_price": "1.50"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[domain.Sale](t, rec)
	require.Len(t, sale.Lines, 2)
	assert.True(t, decimal.RequireFromString("8.50").Equal(sale.Total))
	assert.Empty(t, sale.CashMovementID)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[domain.HistoryResponse](t, rec)
	require.Len(t, history.Sales, 1)
	assert.Equal(t, sale.ID, history.Sales[0].SaleID)
	assert.Equal(t, "Paracetamol 500mg x20", history.Sales[0].Lines[0].ProductName)
	assert.Equal(t, "Gift bag", history.Sales[0].Lines[1].ProductName)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/history?from=2000-01-01&to=2000-01-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[domain.HistoryResponse](t, rec).Sales)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/history?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sales/history?from=2000-01-02&to=2000-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitSaleValidation(t *testing.T) {
	h := newTestHandler(t)

	cases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"no items", map[string]any{"items": []map[string]any{}}, http.StatusBadRequest},
		{"unknown kind", map[string]any{"items": []map[string]any{{"kind": "gift"}}}, http.StatusBadRequest},
		{"catalog without code", map[string]any{"items": []map[string]any{{"kind": "catalog"}}}, http.StatusBadRequest},
		{"manual without price", map[string]any{"items": []map[string]any{{"kind": "manual", "name": "Bag"}}}, http.StatusBadRequest},
		{"unknown product", map[string]any{"items": []map[string]any{{"kind": "catalog", "code": "nope"}}}, http.StatusNotFound},
		{"not enough stock", map[string]any{"items": []map[string]any{{"kind": "catalog", "code": "7501009", "qty": 9}}}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/sales", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestCashSessionLifecycle(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/api/v1/cash/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/cash/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[domain.CashBalanceResponse](t, rec).Balance.IsZero())

	rec = do(t, h, http.MethodPost, "/api/v1/cash/open", map[string]any{"starting_balance": "100"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decodeBody[domain.CashSession](t, rec)
	assert.True(t, session.Active)

	rec = do(t, h, http.MethodPost, "/api/v1/cash/open", map[string]any{"starting_balance": "5"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/cash/movements", map[string]any{"kind": "extra_income", "amount": "50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/cash/movements", map[string]any{"kind": "WITHDRAWAL", "amount": "30"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(-30).Equal(decodeBody[domain.CashMovement](t, rec).Amount))

	rec = do(t, h, http.MethodPost, "/api/v1/cash/movements", map[string]any{"kind": "OPEN", "amount": "30"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/cash/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[domain.CashBalanceResponse](t, rec)
	assert.Equal(t, session.ID, balance.SessionID)
	assert.True(t, decimal.NewFromInt(120).Equal(balance.Balance), balance.Balance.String())

	rec = do(t, h, http.MethodPost, "/api/v1/cash/close", map[string]any{"counted_balance": "115"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[domain.CashCloseResponse](t, rec)
	assert.True(t, decimal.NewFromInt(-5).Equal(closed.Difference))
	assert.False(t, closed.Session.Active)

	rec = do(t, h, http.MethodGet, "/api/v1/cash/movements", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/cash/close", map[string]any{"counted_balance": "0"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCashSaleNeedsOpenSession(t *testing.T) {
	h := newTestHandler(t)
	body := map[string]any{
		"items": []map[string]any{{"kind": "catalog", "code": "7501003"}},
		"cash":  true,
	}

	rec := do(t, h, http.MethodPost, "/api/v1/sales", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/cash/open", map[string]any{"starting_balance": "0"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sales", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[domain.Sale](t, rec)
	assert.NotEmpty(t, sale.CashMovementID)

	rec = do(t, h, http.MethodGet, "/api/v1/cash/movements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decodeBody[struct {
		Movements []domain.CashMovement `json:"movements"`
	}](t, rec)
	require.Len(t, movements.Movements, 2)
	assert.Equal(t, domain.MovementCashSale, movements.Movements[1].Kind)
	assert.Equal(t, sale.ID, movements.Movements[1].SaleID)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t)

	do(t, h, http.MethodGet, "/api/v1/products/7501001", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `path="/api/v1/products/:code"`)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	for _, path := range []string{"/api/v1/sales", "/api/v1/cash/open", "/api/v1/cash/close", "/api/v1/stock/returns"} {
		rec := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
	rec := do(t, h, http.MethodDelete, "/api/v1/cash/movements", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseBound(t *testing.T) {
	from, err := parseBound("2026-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T00:00:00Z", from.Format("2006-01-02T15:04:05Z07:00"))

	to, err := parseBound("2026-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02T00:00:00Z", to.Format("2006-01-02T15:04:05Z07:00"))

	exact, err := parseBound("2026-03-01T10:30:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, 8, exact.Hour())

	empty, err := parseBound(" ", false)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestParsePositiveLimit(t *testing.T) {
	assert.Equal(t, 100, parsePositiveLimit("", 100, 500))
	assert.Equal(t, 100, parsePositiveLimit("-4", 100, 500))
	assert.Equal(t, 20, parsePositiveLimit("20", 100, 500))
	assert.Equal(t, 500, parsePositiveLimit("9000", 100, 500))
}
