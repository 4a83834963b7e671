package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SalesCommitted   *prometheus.CounterVec
	SaleLinesTotal   prometheus.Counter
	StockAdjustments *prometheus.CounterVec
	CashMovements    *prometheus.CounterVec
	CashSessions     *prometheus.CounterVec
	HistoryCache     *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "apotek"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
	m.SalesCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_committed_total",
			Help:      "Sale commit attempts by outcome",
		},
		[]string{"result"},
	)
	m.SaleLinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_lines_total",
			Help:      "Sale lines persisted by successful commits",
		},
	)
	m.StockAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_adjustments_total",
			Help:      "Manual stock adjustments by outcome",
		},
		[]string{"result"},
	)
	m.CashMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_movements_total",
			Help:      "Cash movements recorded by kind",
		},
		[]string{"kind"},
	)
	m.CashSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_session_events_total",
			Help:      "Cash session lifecycle events",
		},
		[]string{"event"},
	)
	m.HistoryCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_history_cache_total",
			Help:      "Sale history cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SalesCommitted,
		m.SaleLinesTotal,
		m.StockAdjustments,
		m.CashMovements,
		m.CashSessions,
		m.HistoryCache,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordSale(err error, lines int) {
	if m == nil {
		return
	}
	m.SalesCommitted.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.SaleLinesTotal.Add(float64(lines))
	}
}

func (m *Metrics) RecordStockAdjustment(err error) {
	if m == nil {
		return
	}
	m.StockAdjustments.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RecordCashMovement(kind string) {
	if m == nil {
		return
	}
	m.CashMovements.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCashSession(event string) {
	if m == nil {
		return
	}
	m.CashSessions.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordHistoryCache(outcome string) {
	if m == nil {
		return
	}
	m.HistoryCache.WithLabelValues(outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
