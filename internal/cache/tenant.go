package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arc-self/ingest-service/internal/validator"
)

// tenantKeyFmt is the Redis key template for tenant configuration,
// following the same {scope}:{entity}:{id} convention as the platform's
// widget:banner:{org}:{domain} cache-aside pattern. The owning auth/billing
// service writes through on mutation; the ingestion edge only ever reads.
const tenantKeyFmt = "tenant:config:%s"

// rateLimitKeyFmt is the Redis key template for the fixed-window
// rate-limit counter.
const rateLimitKeyFmt = "ratelimit:%s:%d"

type tenantRecord struct {
	Active          bool     `json:"active"`
	AllowedOrigins  []string `json:"allowed_origins"`
	RateLimitPerMin int      `json:"rate_limit_rpm"`
}

// TenantStore resolves client_id → tenant configuration from Redis. A cache
// miss is treated as "tenant not found" — there is no synchronous database
// fallback, matching the platform's widget-config cache-aside convention.
type TenantStore struct {
	cache *Cache
}

// NewTenantStore constructs a TenantStore backed by cache.
func NewTenantStore(cache *Cache) *TenantStore {
	return &TenantStore{cache: cache}
}

// Lookup implements validator.TenantStore.
func (t *TenantStore) Lookup(ctx context.Context, clientID string) (validator.TenantInfo, bool, error) {
	key := fmt.Sprintf(tenantKeyFmt, clientID)
	raw, ok, err := t.cache.Get(ctx, key)
	if err != nil {
		return validator.TenantInfo{}, false, err
	}
	if !ok {
		return validator.TenantInfo{}, false, nil
	}

	var rec tenantRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return validator.TenantInfo{}, false, fmt.Errorf("decode tenant config: %w", err)
	}

	return validator.TenantInfo{
		Active:          rec.Active,
		AllowedOrigins:  rec.AllowedOrigins,
		RateLimitPerMin: rec.RateLimitPerMin,
	}, true, nil
}

// RateLimiter enforces a fixed-window request budget per tenant via Redis
// INCR+EXPIRE, giving all replicas a single point of agreement (spec §4.A
// "distributed oracle"). When the cache is unreachable it falls back to a
// per-replica in-memory token bucket so a Redis outage degrades rate
// limiting to a local approximation instead of removing it outright.
type RateLimiter struct {
	cache *Cache

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

// NewRateLimiter constructs a RateLimiter backed by cache.
func NewRateLimiter(cache *Cache) *RateLimiter {
	return &RateLimiter{cache: cache, fallback: make(map[string]*rate.Limiter)}
}

// Allow implements validator.RateLimiter: the current 60-second window is
// identified by its floor-aligned start time, so every replica in the same
// window increments the same key.
func (r *RateLimiter) Allow(ctx context.Context, clientID string, limitPerMin int) (bool, error) {
	windowStart := time.Now().Unix() / 60
	key := fmt.Sprintf(rateLimitKeyFmt, clientID, windowStart)

	count, err := r.cache.Incr(ctx, key, 60*time.Second)
	if err != nil {
		return r.allowLocally(clientID, limitPerMin), err
	}
	return count <= int64(limitPerMin), nil
}

// allowLocally consults a per-client token bucket sized to limitPerMin/60s,
// used only while the shared cache is unreachable.
func (r *RateLimiter) allowLocally(clientID string, limitPerMin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.fallback[clientID]
	if !ok {
		perSecond := rate.Limit(limitPerMin) / 60
		lim = rate.NewLimiter(perSecond, limitPerMin)
		r.fallback[clientID] = lim
	}
	return lim.Allow()
}
