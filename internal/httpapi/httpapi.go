package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/metrics"
	"apotek/backend/internal/service"
	"apotek/backend/internal/store"
)

const productsPrefix = "/api/v1/products/"

type API struct {
	service       *service.Service
	allowedOrigin string
	logger        *slog.Logger
	metrics       *metrics.Metrics
	validate      *validator.Validate
}

func New(svc *service.Service, allowedOrigin string, logger *slog.Logger, m *metrics.Metrics) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
		logger:        logger,
		metrics:       m,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", a.metrics.Handler())

	mux.HandleFunc("/api/v1/products", a.handleProducts)
	mux.HandleFunc(productsPrefix, a.handleProductActions)

	mux.HandleFunc("/api/v1/stock/adjustments", a.handleStockAdjustments)
	mux.HandleFunc("/api/v1/stock/returns", a.handleStockReturns)
	mux.HandleFunc("/api/v1/stock/audit", a.handleStockAudit)

	mux.HandleFunc("/api/v1/sales", a.handleSales)
	mux.HandleFunc("/api/v1/sales/history", a.handleSalesHistory)

	mux.HandleFunc("/api/v1/cash/open", a.handleCashOpen)
	mux.HandleFunc("/api/v1/cash/movements", a.handleCashMovements)
	mux.HandleFunc("/api/v1/cash/balance", a.handleCashBalance)
	mux.HandleFunc("/api/v1/cash/session", a.handleCashSession)
	mux.HandleFunc("/api/v1/cash/close", a.handleCashClose)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, domain.NewProductView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": views})
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, productsPrefix), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}
	code := parts[0]

	if len(parts) == 2 {
		if parts[1] != "deactivate" {
			writeError(w, http.StatusNotFound, errors.New("route not found"))
			return
		}
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		product, err := a.service.DeactivateProduct(r.Context(), code)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.NewProductView(product))
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	product, err := a.service.GetProduct(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewProductView(product))
}

func (a *API) handleStockAdjustments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.StockAdjustRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	change, err := a.service.AdjustStock(r.Context(), req.Code, req.Delta, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (a *API) handleStockReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.StockReturnRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	change, err := a.service.ReturnStock(r.Context(), req.Code, req.Qty, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (a *API) handleStockAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	entries, err := a.service.ListStockAudit(r.Context(), r.URL.Query().Get("code"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SaleCommitRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	commit := a.service.CommitSale
	if req.Cash {
		commit = a.service.CommitCashSale
	}
	sale, err := commit(r.Context(), req.Lines())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleSalesHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var rng domain.HistoryRange
	var err error
	if rng.From, err = parseBound(r.URL.Query().Get("from"), false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if rng.To, err = parseBound(r.URL.Query().Get("to"), true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sales, err := a.service.SaleHistory(r.Context(), rng)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.HistoryResponse{Sales: sales})
}

func (a *API) handleCashOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CashOpenRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.OpenSession(r.Context(), req.StartingBalance)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleCashMovements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		movements, err := a.service.CurrentMovements(r.Context())
		if err != nil {
			writeSessionLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"movements": movements})

	case http.MethodPost:
		var req domain.CashMovementRequest
		if err := a.decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kind := domain.MovementKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
		movement, err := a.service.RecordMovement(r.Context(), kind, req.Amount, req.Description, req.SaleID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, movement)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCashBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	balance, err := a.service.Balance(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleCashSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	session, err := a.service.ActiveSession(r.Context())
	if err != nil {
		writeSessionLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleCashClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CashCloseRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.CloseSession(r.Context(), req.CountedBalance)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CashCloseResponse{Session: session, Difference: session.Difference.Decimal})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		a.metrics.RecordHTTPRequest(r.Method, metricPath(r.URL.Path), rec.status, elapsed)
		a.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

// metricPath keeps product codes out of metric labels.
func metricPath(path string) string {
	if strings.HasPrefix(path, productsPrefix) {
		if strings.HasSuffix(path, "/deactivate") {
			return productsPrefix + ":code/deactivate"
		}
		return productsPrefix + ":code"
	}
	return path
}

func (a *API) decodeValid(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	return a.validate.Struct(dest)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// parseBound accepts RFC3339 or a plain date. A plain date used as an upper
// bound covers that whole day.
func parseBound(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use RFC3339 or YYYY-MM-DD", raw)
	}
	if upper {
		return day.AddDate(0, 0, 1), nil
	}
	return day, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

// writeSessionLookupError reports a missing session as 404 on read endpoints.
func writeSessionLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNoActiveSession) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeServiceError(w, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		slog.Error("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
