package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"apotek/backend/internal/cache"
	"apotek/backend/internal/metrics"
	"apotek/backend/internal/store"
)

const tracerName = "apotek/backend/service"

const defaultHistoryTTL = time.Minute

type Service struct {
	repo         store.Repository
	historyCache cache.SaleHistoryCache
	historyTTL   time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*Service)

func WithHistoryCache(c cache.SaleHistoryCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.historyCache = c
		}
		if ttl > 0 {
			s.historyTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		historyCache: cache.NoopSaleHistoryCache{},
		historyTTL:   defaultHistoryTTL,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// money normalizes an amount to the two decimal places the ledgers store.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
