// Package audit implements the best-effort audit trail side-channel:
// a PII-free envelope published to NATS JetStream for every ingest
// outcome, reusing the DOMAIN_EVENTS stream convention already carried
// by this codebase's NATS client.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamDomainEvents is the durable stream every service publishes
	// routed domain events onto.
	StreamDomainEvents = "DOMAIN_EVENTS"
	// subjectPrefix namespaces this service's events under the shared
	// DOMAIN_EVENTS.> wildcard.
	subjectPrefix = "DOMAIN_EVENTS.ingest"
)

// Envelope is the PII-free record published per ingest outcome. It never
// carries raw IP, user agent, or event payload — only identifiers and the
// routing outcome.
type Envelope struct {
	RecordID        string `json:"record_id"`
	ClientID        string `json:"client_id"`
	EventType       string `json:"event_type"`
	DestinationTable string `json:"destination_table"`
	Outcome         string `json:"outcome"`
	OccurredAt      int64  `json:"occurred_at"`
}

// Trail publishes Envelopes best-effort: publish failures are logged at
// debug and never propagate, and a nil Trail (NATS_URL unset) is a no-op
// at every call site.
type Trail struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *zap.Logger
	sem  chan struct{}
}

// New connects to url and provisions the DOMAIN_EVENTS stream if needed.
// Empty url disables the trail entirely (spec SPEC_FULL §4.J: NATS_URL is
// optional).
func New(url string, logger *zap.Logger, workerLimit int) (*Trail, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect audit trail nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init audit trail jetstream: %w", err)
	}

	if workerLimit <= 0 {
		workerLimit = 15
	}

	t := &Trail{conn: nc, js: js, log: logger, sem: make(chan struct{}, workerLimit)}
	if err := t.provisionStream(); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("audit trail connected", zap.String("url", url))
	return t, nil
}

func (t *Trail) provisionStream() error {
	subjects := []string{subjectPrefix + ".>"}

	info, err := t.js.StreamInfo(StreamDomainEvents)
	if err == nil {
		_ = info
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("audit stream info: %w", err)
	}

	_, err = t.js.AddStream(&nats.StreamConfig{
		Name:      StreamDomainEvents,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("provision audit stream: %w", err)
	}
	return nil
}

// Publish records env on a bounded worker pool without blocking the caller:
// when every worker slot is busy the envelope is dropped. A nil Trail
// silently drops the call.
func (t *Trail) Publish(ctx context.Context, env Envelope) {
	if t == nil {
		return
	}

	select {
	case t.sem <- struct{}{}:
	default:
		return
	}

	go func() {
		defer func() { <-t.sem }()
		t.publishNow(env)
	}()
}

func (t *Trail) publishNow(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		if t.log != nil {
			t.log.Debug("audit envelope marshal failed", zap.Error(err))
		}
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, env.EventType, env.Outcome)
	if _, err := t.js.Publish(subject, payload); err != nil {
		if t.log != nil {
			t.log.Debug("audit envelope publish failed", zap.String("subject", subject), zap.Error(err))
		}
	}
}

// Close drains the underlying connection. Safe to call on a nil Trail.
func (t *Trail) Close() {
	if t == nil || t.conn == nil {
		return
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
	}
}
