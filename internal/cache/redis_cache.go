package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"apotek/backend/internal/domain"
)

const historyKeyPrefix = "apotek:sales:history"

type RedisSaleHistoryCache struct {
	client *redis.Client
}

func NewRedisSaleHistoryCache(addr string, password string, db int) *RedisSaleHistoryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSaleHistoryCache{client: client}
}

func (c *RedisSaleHistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleHistoryCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleHistoryCache) Version(ctx context.Context) (int64, error) {
	version, err := c.client.Get(ctx, historyKeyPrefix+":version").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

func (c *RedisSaleHistoryCache) Get(ctx context.Context, version int64, key string) ([]domain.HistorySale, bool, error) {
	val, err := c.client.Get(ctx, entryKey(version, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sales []domain.HistorySale
	if err := json.Unmarshal([]byte(val), &sales); err != nil {
		return nil, false, err
	}
	return sales, true, nil
}

func (c *RedisSaleHistoryCache) Set(ctx context.Context, version int64, key string, value []domain.HistorySale, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entryKey(version, key), payload, ttl).Err()
}

func (c *RedisSaleHistoryCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, historyKeyPrefix+":version").Err()
}

func entryKey(version int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", historyKeyPrefix, version, key)
}
