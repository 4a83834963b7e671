package cache

import (
	"context"
	"time"

	"apotek/backend/internal/domain"
)

// SaleHistoryCache holds reconstructed sale history per query range. Entries
// are namespaced by a version; Invalidate bumps the version so every entry
// written before it becomes unreachable. Callers read the version once and use
// it for both Get and Set so a slow reader never stores stale rows under a
// newer version.
type SaleHistoryCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64, key string) ([]domain.HistorySale, bool, error)
	Set(ctx context.Context, version int64, key string, value []domain.HistorySale, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSaleHistoryCache struct{}

func (NoopSaleHistoryCache) Version(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopSaleHistoryCache) Get(_ context.Context, _ int64, _ string) ([]domain.HistorySale, bool, error) {
	return nil, false, nil
}

func (NoopSaleHistoryCache) Set(_ context.Context, _ int64, _ string, _ []domain.HistorySale, _ time.Duration) error {
	return nil
}

func (NoopSaleHistoryCache) Invalidate(_ context.Context) error {
	return nil
}
