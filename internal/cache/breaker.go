package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"apotek/backend/internal/domain"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
	}
}

// BreakerSaleHistoryCache stops calling a failing cache backend for a while
// instead of adding its timeout to every history read.
type BreakerSaleHistoryCache struct {
	next SaleHistoryCache
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerSaleHistoryCache(next SaleHistoryCache, cfg BreakerConfig, logger *slog.Logger) *BreakerSaleHistoryCache {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &BreakerSaleHistoryCache{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSaleHistoryCache) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerSaleHistoryCache) Version(ctx context.Context) (int64, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Version(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func (b *BreakerSaleHistoryCache) Get(ctx context.Context, version int64, key string) ([]domain.HistorySale, bool, error) {
	type hit struct {
		sales []domain.HistorySale
		ok    bool
	}
	out, err := b.cb.Execute(func() (interface{}, error) {
		sales, ok, err := b.next.Get(ctx, version, key)
		return hit{sales: sales, ok: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	h := out.(hit)
	return h.sales, h.ok, nil
}

func (b *BreakerSaleHistoryCache) Set(ctx context.Context, version int64, key string, value []domain.HistorySale, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Set(ctx, version, key, value, ttl)
	})
	return err
}

func (b *BreakerSaleHistoryCache) Invalidate(ctx context.Context) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Invalidate(ctx)
	})
	return err
}
