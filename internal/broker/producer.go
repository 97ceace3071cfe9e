// Package broker implements the Producer (spec §4.F) and its circuit
// breaker wrapping (spec §4.H), publishing canonical records to Kafka with
// a fallback to the bounded buffer on any failure.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/arc-self/ingest-service/internal/events"
	"github.com/arc-self/ingest-service/internal/telemetry"
)

const (
	// SemaphoreLimit bounds concurrent in-flight publishes (spec §4.F).
	SemaphoreLimit = 15
	// ReconnectCooldown is how long after a failed dial or publish every
	// send skips the broker and goes straight to the buffer (spec §4.F).
	ReconnectCooldown = 60 * time.Second
	// PublishTimeout bounds a single publish attempt (spec §4.F).
	PublishTimeout = 10 * time.Second
	// BreakerThreshold is the consecutive-failure count that trips the
	// circuit breaker open (spec §4.H).
	BreakerThreshold = 5
	// BreakerTimeout is how long the breaker stays open before its first
	// half-open probe (spec §4.H).
	BreakerTimeout = 5 * time.Second
)

// Buffer is the capability the Producer falls back to (spec §4.G).
type Buffer interface {
	Enqueue(table string, record events.Record)
}

// Stats are the counters surfaced at GET /health (spec §6).
type Stats struct {
	Sent   int64
	Failed int64
}

// Outcome reports how Send/SendBatch ultimately routed a record, so callers
// (the audit trail side-channel in particular) can report what actually
// happened instead of assuming the broker publish succeeded.
type Outcome int

const (
	// OutcomePublished means the record was written to Kafka.
	OutcomePublished Outcome = iota
	// OutcomeBuffered means the record was routed to the fallback buffer —
	// the broker was disabled, cooling down, breaker-open, or the publish
	// attempt itself failed.
	OutcomeBuffered
)

// Producer publishes canonical records to Kafka, falling back to the
// Fallback Buffer on any dial or publish failure, gated by both its own
// connection state and a circuit breaker (spec §4.F/§4.H).
type Producer struct {
	writer  *kafka.Writer
	dialer  *kafka.Dialer
	brokers []string
	buffer  Buffer
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *telemetry.IngestMetrics

	sem chan struct{}

	mu        sync.Mutex
	connected bool
	failed    bool
	lastRetry time.Time

	sent        int64
	failedCount int64
}

// New constructs a Producer. If brokers is empty, the broker is disabled
// and every send goes straight to the fallback buffer (spec §6: absence of
// KAFKA_BROKERS means fallback-only mode). metrics may be nil.
func New(brokers []string, buffer Buffer, logger *zap.Logger, metrics *telemetry.IngestMetrics) *Producer {
	p := &Producer{
		brokers: brokers,
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
		sem:     make(chan struct{}, SemaphoreLimit),
	}

	if len(brokers) > 0 {
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			Compression:            kafka.Gzip,
			AllowAutoTopicCreation: true,
			WriteTimeout:           PublishTimeout,
			RequiredAcks:           kafka.RequireOne,
		}
		p.dialer = &kafka.Dialer{Timeout: 3 * time.Second}
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-publish",
		MaxRequests: 1,
		Timeout:     BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= BreakerThreshold
		},
	})

	return p
}

// Enabled reports whether a Kafka broker is configured at all.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// Stats returns a snapshot of publish counters for GET /health.
func (p *Producer) Stats() Stats {
	return Stats{
		Sent:   atomic.LoadInt64(&p.sent),
		Failed: atomic.LoadInt64(&p.failedCount),
	}
}

// ConnectionState returns the gated (connected, failed) pair for /health.
func (p *Producer) ConnectionState() (connected, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected, p.failed
}

// BreakerOpen reports whether the circuit breaker is currently open.
func (p *Producer) BreakerOpen() bool {
	return p.breaker.State() == gobreaker.StateOpen
}

// Send publishes record to kind's topic, falling back to the buffer on any
// failure (spec §4.F contract, steps 1-5), and reports which happened so the
// caller can report the real delivery outcome rather than assuming success.
func (p *Producer) Send(ctx context.Context, kind events.Kind, clientID string, record events.Record) Outcome {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.enqueueFallback(ctx, kind, record)
		return OutcomeBuffered
	}
	defer func() { <-p.sem }()

	if !p.Enabled() {
		p.enqueueFallback(ctx, kind, record)
		return OutcomeBuffered
	}

	if p.cooldownActive() {
		p.enqueueFallback(ctx, kind, record)
		return OutcomeBuffered
	}

	if !p.isConnected() {
		if err := p.connect(ctx); err != nil {
			p.markFailed()
			p.enqueueFallback(ctx, kind, record)
			return OutcomeBuffered
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("failed to marshal record", zap.Error(err))
		p.enqueueFallback(ctx, kind, record)
		return OutcomeBuffered
	}

	publishCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(publishCtx, kafka.Message{
			Topic: kind.Topic(),
			Key:   []byte(clientID),
			Value: payload,
		})
	})
	if err != nil {
		p.markFailed()
		atomic.AddInt64(&p.failedCount, 1)
		p.enqueueFallback(ctx, kind, record)
		return OutcomeBuffered
	}

	p.markSucceeded()
	atomic.AddInt64(&p.sent, 1)
	p.metrics.RecordPublished(ctx, 1)
	return OutcomePublished
}

// SendBatch publishes records as one broker message set; on failure each
// record is enqueued individually (spec §4.F batch variant). The returned
// Outcome describes the batch as a whole — a record that fails to marshal is
// always buffered individually regardless of the rest of the batch.
func (p *Producer) SendBatch(ctx context.Context, kind events.Kind, clientID string, records []events.Record) Outcome {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		for _, r := range records {
			p.enqueueFallback(ctx, kind, r)
		}
		return OutcomeBuffered
	}
	defer func() { <-p.sem }()

	if !p.Enabled() || p.cooldownActive() {
		for _, r := range records {
			p.enqueueFallback(ctx, kind, r)
		}
		return OutcomeBuffered
	}

	if !p.isConnected() {
		if err := p.connect(ctx); err != nil {
			p.markFailed()
			for _, r := range records {
				p.enqueueFallback(ctx, kind, r)
			}
			return OutcomeBuffered
		}
	}

	msgs := make([]kafka.Message, 0, len(records))
	marshalled := make([]events.Record, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			p.logger.Error("failed to marshal record, buffering individually", zap.Error(err))
			p.enqueueFallback(ctx, kind, r)
			continue
		}
		msgs = append(msgs, kafka.Message{Topic: kind.Topic(), Key: []byte(clientID), Value: payload})
		marshalled = append(marshalled, r)
	}
	if len(msgs) == 0 {
		return OutcomeBuffered
	}

	publishCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(publishCtx, msgs...)
	})
	if err != nil {
		p.markFailed()
		atomic.AddInt64(&p.failedCount, 1)
		for _, r := range marshalled {
			p.enqueueFallback(ctx, kind, r)
		}
		return OutcomeBuffered
	}

	p.markSucceeded()
	atomic.AddInt64(&p.sent, int64(len(msgs)))
	p.metrics.RecordPublished(ctx, int64(len(msgs)))
	return OutcomePublished
}

func (p *Producer) enqueueFallback(ctx context.Context, kind events.Kind, record events.Record) {
	record.IngestSource = "fallback_buffer"
	p.buffer.Enqueue(kind.DestinationTable(), record)
	p.metrics.RecordBuffered(ctx, 1)
}

func (p *Producer) cooldownActive() bool {
	if p.BreakerOpen() {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected && p.failed && time.Since(p.lastRetry) < ReconnectCooldown {
		return true
	}
	return false
}

func (p *Producer) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Producer) connect(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := p.dialer.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return err
	}
	_ = conn.Close()

	p.mu.Lock()
	p.connected = true
	p.failed = false
	p.mu.Unlock()
	return nil
}

func (p *Producer) markFailed() {
	p.mu.Lock()
	p.connected = false
	p.failed = true
	p.lastRetry = time.Now()
	p.mu.Unlock()
}

func (p *Producer) markSucceeded() {
	p.mu.Lock()
	p.connected = true
	p.failed = false
	p.mu.Unlock()
}

// Close flushes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
