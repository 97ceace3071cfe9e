// Package dedup implements the short-TTL presence check described in
// spec §4.C.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/ingest-service/internal/telemetry"
)

const (
	ttlDefault = 24 * time.Hour
	ttlExit    = 48 * time.Hour
)

// Cache is the subset of the shared cache the Deduplicator needs.
type Cache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Deduplicator enforces at-most-one-acceptance per (eventType, eventID)
// within the dedup window.
type Deduplicator struct {
	cache   Cache
	logger  *zap.Logger
	metrics *telemetry.IngestMetrics
}

// New constructs a Deduplicator backed by cache. metrics may be nil.
func New(cache Cache, logger *zap.Logger, metrics *telemetry.IngestMetrics) *Deduplicator {
	return &Deduplicator{cache: cache, logger: logger, metrics: metrics}
}

// Result is the outcome of a Check call.
type Result struct {
	Duplicate bool
	FirstSeen bool
}

// Check looks up dedup:{type}:{id}; if present it reports Duplicate, else it
// claims the key (TTL 24h, 48h for "exit_"-prefixed ids) and reports
// FirstSeen (spec §4.C).
//
// If the shared cache is unavailable, dedup is advisory and fails open:
// the event is treated as first-seen rather than blocking ingestion on an
// infrastructure outage (spec §7: infrastructure failures never surface to
// the client).
func (d *Deduplicator) Check(ctx context.Context, eventType, eventID string) Result {
	if eventID == "" {
		return Result{FirstSeen: true}
	}

	key := fmt.Sprintf("dedup:%s:%s", eventType, eventID)
	ttl := ttlDefault
	if strings.HasPrefix(eventID, "exit_") {
		ttl = ttlExit
	}

	claimed, err := d.cache.SetNX(ctx, key, "1", ttl)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("dedup cache unavailable, failing open", zap.Error(err))
		}
		return Result{FirstSeen: true}
	}
	if claimed {
		d.metrics.RecordDedupFirstSeen(ctx)
		return Result{FirstSeen: true}
	}
	d.metrics.RecordDedupDuplicate(ctx)
	return Result{Duplicate: true}
}
