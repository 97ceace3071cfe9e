// Package cache wraps the shared Redis client used by the Anonymizer,
// Deduplicator, tenant store, and rate-limit oracle. It is deliberately
// thin — callers own their own key schemas.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the shared short-TTL cache described in spec §2/§4.B/§4.C.
type Cache struct {
	rdb *redis.Client
}

// New parses redisURL and returns a connected Cache. The caller should Ping
// once at startup to fail fast on misconfiguration.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// SetNX sets key to value with the given TTL only if key does not already
// exist, returning whether this call was the one that set it. This is the
// set-if-absent primitive the Anonymizer and Deduplicator rely on so that
// racing replicas converge on one value.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (set bool, err error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns the value at key, and ok=false on a cache miss (distinct from
// an error, which indicates the cache itself is unavailable).
func (c *Cache) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Incr increments key (creating it at 1 if absent) and, on first creation,
// sets its expiry to ttl so the counter resets at the window boundary. This
// backs the fixed-window rate-limit oracle.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (count int64, err error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		// First writer in this window — arm the expiry. A crash between
		// Incr and Expire leaves a key with no TTL; acceptable for a
		// best-effort oracle and self-heals on the next window.
		c.rdb.Expire(ctx, key, ttl)
	}
	return n, nil
}
