package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/ingest-service/internal/events"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted map[string][]events.Record
	failN    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{inserted: map[string][]events.Record{}}
}

func (f *fakeStore) BulkInsert(ctx context.Context, table string, rows []events.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return assert.AnError
	}
	f.inserted[table] = append(f.inserted[table], rows...)
	return nil
}

func (f *fakeStore) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted[table])
}

func TestBuffer_EnqueueRespectsHardCap(t *testing.T) {
	store := newFakeStore()
	b := New(store, zaptest.NewLogger(t), 5, 100, time.Hour, nil)

	for i := 0; i < 10; i++ {
		b.Enqueue("events", events.Record{RecordID: "r"})
	}

	assert.Equal(t, 5, b.Size())
	assert.Equal(t, int64(5), b.Dropped())
}

func TestBuffer_FlushDeliversToStore(t *testing.T) {
	store := newFakeStore()
	b := New(store, zaptest.NewLogger(t), 100, 100, time.Hour, nil)

	b.Enqueue("events", events.Record{RecordID: "1"})
	b.Enqueue("errors", events.Record{RecordID: "2"})

	b.flush(context.Background())

	assert.Equal(t, 1, store.count("events"))
	assert.Equal(t, 1, store.count("errors"))
	assert.Equal(t, 0, b.Size())
}

func TestBuffer_RequeuesOnFailureUpToRetryCap(t *testing.T) {
	store := newFakeStore()
	store.failN = MaxRetries // fail every flush attempt
	b := New(store, zaptest.NewLogger(t), 100, 100, time.Hour, nil)

	b.Enqueue("events", events.Record{RecordID: "1"})

	for i := 0; i < MaxRetries; i++ {
		b.flush(context.Background())
	}

	assert.Equal(t, 0, b.Size(), "item must be dropped once it reaches the retry cap")
	assert.Equal(t, 0, store.count("events"))
}

func TestBuffer_DrainFlushesAndStops(t *testing.T) {
	store := newFakeStore()
	b := New(store, zaptest.NewLogger(t), 100, 100, time.Hour, nil)
	b.Enqueue("events", events.Record{RecordID: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(runDone)
	}()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	b.Drain(drainCtx)

	<-runDone
	require.Equal(t, 1, store.count("events"))
}
