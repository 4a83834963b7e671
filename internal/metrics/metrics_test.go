package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersCountByLabel(t *testing.T) {
	m := New("test")

	m.RecordSale(nil, 3)
	m.RecordSale(errors.New("boom"), 0)
	m.RecordStockAdjustment(nil)
	m.RecordCashMovement("EXPENSE")
	m.RecordCashMovement("EXPENSE")
	m.RecordCashSession("opened")
	m.RecordHistoryCache("hit")
	m.RecordHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SalesCommitted.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SalesCommitted.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SaleLinesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CashMovements.WithLabelValues("EXPENSE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	m.RecordSale(nil, 1)
	m.RecordHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("")
	m.RecordCashSession("closed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `apotek_cash_session_events_total{event="closed"} 1`))
}
