package broker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/ingest-service/internal/events"
)

type fakeBuffer struct {
	mu      sync.Mutex
	entries []events.Record
}

func (f *fakeBuffer) Enqueue(table string, record events.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, record)
}

func (f *fakeBuffer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestProducer_DisabledWithNoBrokersAlwaysFallsBack(t *testing.T) {
	buf := &fakeBuffer{}
	p := New(nil, buf, zaptest.NewLogger(t), nil)

	assert.False(t, p.Enabled())

	p.Send(context.Background(), events.KindTrack, "T", events.Record{RecordID: "r1"})
	assert.Equal(t, 1, buf.count())

	connected, failed := p.ConnectionState()
	assert.False(t, connected)
	assert.False(t, failed)
}

func TestProducer_FallbackTagsIngestSource(t *testing.T) {
	buf := &fakeBuffer{}
	p := New(nil, buf, zaptest.NewLogger(t), nil)

	p.Send(context.Background(), events.KindTrack, "T", events.Record{RecordID: "r1"})
	assert.Equal(t, "fallback_buffer", buf.entries[0].IngestSource)
}

func TestProducer_SendBatchFallsBackPerRecord(t *testing.T) {
	buf := &fakeBuffer{}
	p := New(nil, buf, zaptest.NewLogger(t), nil)

	records := []events.Record{{RecordID: "1"}, {RecordID: "2"}, {RecordID: "3"}}
	p.SendBatch(context.Background(), events.KindTrack, "T", records)

	assert.Equal(t, 3, buf.count())
}

func TestProducer_StatsStartAtZero(t *testing.T) {
	buf := &fakeBuffer{}
	p := New(nil, buf, zaptest.NewLogger(t), nil)
	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Sent)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestProducer_BreakerClosedInitially(t *testing.T) {
	buf := &fakeBuffer{}
	p := New(nil, buf, zaptest.NewLogger(t), nil)
	assert.False(t, p.BreakerOpen())
}
