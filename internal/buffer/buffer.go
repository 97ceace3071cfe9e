// Package buffer implements the bounded in-memory Fallback Buffer shared
// by all producer fallbacks (spec §4.G).
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/ingest-service/internal/events"
	"github.com/arc-self/ingest-service/internal/telemetry"
)

const (
	// MaxRetries is the per-item retry cap (spec §4.G).
	MaxRetries = 3
)

// Inserter is the capability the Buffer flushes to (spec §4.G step 3).
type Inserter interface {
	BulkInsert(ctx context.Context, table string, rows []events.Record) error
}

type item struct {
	table   string
	record  events.Record
	retries int
}

// Buffer is the bounded queue described in spec §4.G, §5. Only two critical
// sections exist — Enqueue, and the atomic swap inside flush — and flush
// never holds the mutex during the insert call itself (spec §9 redesign
// flag 4: "the specification requires outside").
type Buffer struct {
	store    Inserter
	logger   *zap.Logger
	metrics  *telemetry.IngestMetrics
	hardCap  int
	softCap  int
	interval time.Duration

	mu    sync.Mutex
	items []item

	flushSignal chan struct{}

	dropped       int64
	droppedLogged int32

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Buffer. hardCap/softCap/interval default to the spec's
// BUFFER_HARD=10000, BUFFER_SOFT=1000, BUFFER_INTERVAL=5s when zero. metrics
// may be nil.
func New(store Inserter, logger *zap.Logger, hardCap, softCap int, interval time.Duration, metrics *telemetry.IngestMetrics) *Buffer {
	if hardCap <= 0 {
		hardCap = 10_000
	}
	if softCap <= 0 {
		softCap = 1_000
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Buffer{
		store:       store,
		logger:      logger,
		metrics:     metrics,
		hardCap:     hardCap,
		softCap:     softCap,
		interval:    interval,
		flushSignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Size returns the current queue length.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the cumulative drop counter (spec §7 buffer_overflow).
func (b *Buffer) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Enqueue appends (table, record) if below the hard cap, else drops it
// (spec §4.G invariant 4). Reaching the soft cap schedules an immediate
// flush.
func (b *Buffer) Enqueue(table string, record events.Record) {
	b.mu.Lock()
	if len(b.items) >= b.hardCap {
		b.mu.Unlock()
		atomic.AddInt64(&b.dropped, 1)
		b.metrics.RecordBufferDropped(context.Background(), 1)
		if atomic.CompareAndSwapInt32(&b.droppedLogged, 0, 1) {
			if b.logger != nil {
				b.logger.Warn("fallback buffer at hard cap, dropping items",
					zap.Int("hard_cap", b.hardCap))
			}
			// Reset the once-per-burst guard shortly after so a later burst
			// also gets one log line rather than staying silent forever.
			go func() {
				time.Sleep(time.Second)
				atomic.StoreInt32(&b.droppedLogged, 0)
			}()
		}
		return
	}
	b.items = append(b.items, item{table: table, record: record})
	atSoft := len(b.items) >= b.softCap
	b.mu.Unlock()

	if atSoft {
		select {
		case b.flushSignal <- struct{}{}:
		default:
		}
	}
}

// Run starts the periodic/threshold-triggered flush loop. It blocks until
// ctx is cancelled or Drain is called.
func (b *Buffer) Run(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushSignal:
			b.flush(ctx)
		}
	}
}

// flush atomically swaps out the current batch, groups it by destination
// table, and bulk-inserts each group. Failing groups are re-enqueued with
// retries+1; items at the retry cap are dropped (spec §4.G step 4).
func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	grouped := make(map[string][]item, 4)
	for _, it := range batch {
		grouped[it.table] = append(grouped[it.table], it)
	}

	for table, items := range grouped {
		rows := make([]events.Record, len(items))
		for i, it := range items {
			rows[i] = it.record
		}

		if err := b.store.BulkInsert(ctx, table, rows); err != nil {
			if b.logger != nil {
				b.logger.Error("bulk insert failed, requeuing group",
					zap.String("table", table), zap.Error(err))
			}
			b.requeue(items)
		}
	}
}

// requeue re-appends failed items with retries+1, dropping any whose retry
// count reaches MaxRetries. Respects the hard cap just like Enqueue.
func (b *Buffer) requeue(items []item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, it := range items {
		it.retries++
		if it.retries >= MaxRetries {
			atomic.AddInt64(&b.dropped, 1)
			b.metrics.RecordBufferDropped(context.Background(), 1)
			if b.logger != nil {
				b.logger.Warn("item exceeded retry cap, dropping",
					zap.String("table", it.table), zap.String("record_id", it.record.RecordID))
			}
			continue
		}
		if len(b.items) >= b.hardCap {
			atomic.AddInt64(&b.dropped, 1)
			b.metrics.RecordBufferDropped(context.Background(), 1)
			continue
		}
		b.items = append(b.items, it)
	}
}

// Drain forces a final flush, signals Run's loop to stop, and waits until
// the loop exits or ctx expires. It does not wait for in-flight producer
// sends to finish. The caller is responsible for stopping new Enqueue calls
// before invoking Drain.
func (b *Buffer) Drain(ctx context.Context) {
	b.flush(ctx)
	b.stopOnce.Do(func() { close(b.stopCh) })
	select {
	case <-b.doneCh:
	case <-ctx.Done():
	}
}
