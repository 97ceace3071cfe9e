package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/ingest-service/internal/anonymizer"
	"github.com/arc-self/ingest-service/internal/broker"
	"github.com/arc-self/ingest-service/internal/dedup"
	"github.com/arc-self/ingest-service/internal/enrich"
	"github.com/arc-self/ingest-service/internal/events"
	"github.com/arc-self/ingest-service/internal/validator"
)

// memCache is a minimal in-memory stand-in satisfying both the Anonymizer's
// and the Deduplicator's narrower cache interfaces.
type memCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemCache() *memCache {
	return &memCache{values: map[string]string{}}
}

func (m *memCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

type alwaysActiveTenants struct{}

func (alwaysActiveTenants) Lookup(ctx context.Context, clientID string) (validator.TenantInfo, bool, error) {
	return validator.TenantInfo{Active: true, RateLimitPerMin: 1000}, true, nil
}

type alwaysAllow struct{}

func (alwaysAllow) Allow(ctx context.Context, clientID string, limitPerMin int) (bool, error) {
	return true, nil
}

type capturingProducer struct {
	mu      sync.Mutex
	sent    []events.Record
	lastKnd events.Kind
	outcome broker.Outcome
}

func (c *capturingProducer) Send(ctx context.Context, kind events.Kind, clientID string, record events.Record) broker.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, record)
	c.lastKnd = kind
	return c.outcome
}

func newTestService(t *testing.T, producer Producer) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cache := newMemCache()

	v := validator.New(alwaysActiveTenants{}, alwaysAllow{}, false)
	anon := anonymizer.New(cache, logger)
	dd := dedup.New(cache, logger, nil)
	geo, err := enrich.NewGeoEnricher("", logger)
	require.NoError(t, err)
	builder := events.NewBuilder()

	return New(v, anon, dd, geo, builder, producer, nil, logger)
}

// TestProcessEvent_HappyPathSingleTrack mirrors scenario S1: a well-formed
// track event is accepted and its anonymous id is salted deterministically.
func TestProcessEvent_HappyPathSingleTrack(t *testing.T) {
	producer := &capturingProducer{}
	svc := newTestService(t, producer)

	body := []byte(`{"type":"track","name":"screen_view","anonymousId":"a","sessionId":"s","timestamp":1700000000000,"path":"/x"}`)
	result := svc.ProcessEvent(context.Background(), RequestMeta{ClientID: "T"}, json.RawMessage(body))

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "track", result.Type)

	require.Len(t, producer.sent, 1)
	rec := producer.sent[0]
	assert.Equal(t, "T", rec.ClientID)
	assert.Equal(t, events.KindTrack, producer.lastKnd)

	salt, err := svc.anonymizer.GetDailySalt(context.Background(), time.Now())
	require.NoError(t, err)
	expected := sha256.Sum256([]byte("a" + salt))
	assert.Equal(t, hex.EncodeToString(expected[:]), rec.AnonymousID)
}

// TestAuditOutcome_MapsProducerOutcome verifies the mapping that feeds the
// audit trail's outcome field actually reflects what the producer reports,
// rather than assuming every send reached the broker.
func TestAuditOutcome_MapsProducerOutcome(t *testing.T) {
	assert.Equal(t, "published", auditOutcome(broker.OutcomePublished))
	assert.Equal(t, "buffered", auditOutcome(broker.OutcomeBuffered))
}

// TestProcessEvent_BufferedDeliveryStillSucceeds exercises the path where
// the broker diverts a record to the fallback buffer: the client-facing
// result is still "success" (delivery is decoupled from the HTTP response),
// but the producer's reported outcome must be OutcomeBuffered, not assumed
// published.
func TestProcessEvent_BufferedDeliveryStillSucceeds(t *testing.T) {
	producer := &capturingProducer{outcome: broker.OutcomeBuffered}
	svc := newTestService(t, producer)

	body := []byte(`{"type":"track","name":"screen_view","anonymousId":"a"}`)
	result := svc.ProcessEvent(context.Background(), RequestMeta{ClientID: "T"}, json.RawMessage(body))

	assert.Equal(t, "success", result.Status)
	require.Len(t, producer.sent, 1)
}

// TestProcessEvent_DuplicateErrorSkipsSecondPublish mirrors scenario S2.
func TestProcessEvent_DuplicateErrorSkipsSecondPublish(t *testing.T) {
	producer := &capturingProducer{}
	svc := newTestService(t, producer)

	body := []byte(`{"type":"error","payload":{"eventId":"e1","message":"boom"}}`)

	r1 := svc.ProcessEvent(context.Background(), RequestMeta{ClientID: "T"}, json.RawMessage(body))
	r2 := svc.ProcessEvent(context.Background(), RequestMeta{ClientID: "T"}, json.RawMessage(body))

	assert.Equal(t, "success", r1.Status)
	assert.Equal(t, "success", r2.Status)
	assert.Len(t, producer.sent, 1, "exactly one broker record for a duplicated event_id")
}

// TestProcessEvent_FilteredMessageIgnored mirrors scenario S6.
func TestProcessEvent_FilteredMessageIgnored(t *testing.T) {
	producer := &capturingProducer{}
	svc := newTestService(t, producer)

	body := []byte(`{"type":"error","payload":{"eventId":"e2","message":"Script error."}}`)
	result := svc.ProcessEvent(context.Background(), RequestMeta{ClientID: "T"}, json.RawMessage(body))

	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, "filtered_message", result.Reason)
	assert.Empty(t, producer.sent)
}

func TestProcessEvent_UnknownTypeIsError(t *testing.T) {
	producer := &capturingProducer{}
	svc := newTestService(t, producer)

	body := []byte(`{"type":"not_a_real_kind"}`)
	result := svc.ProcessEvent(context.Background(), RequestMeta{ClientID: "T"}, json.RawMessage(body))
	assert.Equal(t, "error", result.Status)
}

func TestProcessBatch_FansOutAndCountsResults(t *testing.T) {
	producer := &capturingProducer{}
	svc := newTestService(t, producer)

	raw := []json.RawMessage{
		json.RawMessage(`{"type":"track","name":"a","anonymousId":"x"}`),
		json.RawMessage(`{"type":"track","name":"b","anonymousId":"y"}`),
		json.RawMessage(`{"type":"outgoing_link","href":"https://example.com"}`),
	}

	result, err := svc.ProcessBatch(context.Background(), RequestMeta{ClientID: "T"}, raw)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.True(t, result.Batch)
	assert.Equal(t, 3, result.Processed)
	assert.Len(t, producer.sent, 3)
}

func TestProcessBatch_RejectsOversizeBatch(t *testing.T) {
	producer := &capturingProducer{}
	svc := newTestService(t, producer)

	raw := make([]json.RawMessage, BatchMax+1)
	for i := range raw {
		raw[i] = json.RawMessage(`{"type":"track","name":"x"}`)
	}

	_, err := svc.ProcessBatch(context.Background(), RequestMeta{ClientID: "T"}, raw)
	assert.Error(t, err)
}
