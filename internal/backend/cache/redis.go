package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

// RedisCountCache stores counts under a generation number that is bumped on
// every lineage write, so stale entries are never read and simply expire.
type RedisCountCache struct {
	client *redis.Client
	source DescendantCounter
	prefix string
	ttl    time.Duration
}

func NewRedisCountCache(cfg Config, source DescendantCounter) (*RedisCountCache, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis cache requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCountCacheWithClient(client, cfg, source), nil
}

func NewRedisCountCacheWithClient(client *redis.Client, cfg Config, source DescendantCounter) *RedisCountCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "banano:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCountCache{client: client, source: source, prefix: prefix, ttl: ttl}
}

func (c *RedisCountCache) versionKey() string {
	return c.prefix + "lineage:version"
}

func (c *RedisCountCache) countKey(version int64, id string) string {
	return fmt.Sprintf("%sdescendants:%d:%s", c.prefix, version, id)
}

func (c *RedisCountCache) DescendantCount(ctx context.Context, id string) (int, error) {
	version, err := c.client.Get(ctx, c.versionKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("redis cache: failed to read lineage version, bypassing cache", "error", err)
		return c.source.DescendantCount(ctx, id)
	}

	key := c.countKey(version, id)
	cached, err := c.client.Get(ctx, key).Int()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("redis cache: failed to read count", "image_id", id, "error", err)
	}

	count, err := c.source.DescendantCount(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, count, c.ttl).Err(); err != nil {
		slog.Warn("redis cache: failed to store count", "image_id", id, "error", err)
	}
	return count, nil
}

func (c *RedisCountCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.versionKey()).Err(); err != nil {
		return fmt.Errorf("failed to bump lineage version: %w", err)
	}
	return nil
}

func (c *RedisCountCache) Close() error {
	return c.client.Close()
}
