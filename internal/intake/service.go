// Package intake orchestrates the full ingest pipeline: validate →
// anonymize → dedup → enrich → build → publish (spec §4.I).
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/ingest-service/internal/anonymizer"
	"github.com/arc-self/ingest-service/internal/audit"
	"github.com/arc-self/ingest-service/internal/broker"
	"github.com/arc-self/ingest-service/internal/dedup"
	"github.com/arc-self/ingest-service/internal/enrich"
	"github.com/arc-self/ingest-service/internal/events"
	"github.com/arc-self/ingest-service/internal/validator"
)

// BatchMax is the maximum number of events accepted in one /batch request
// (spec §4.I, testable property 9).
const BatchMax = validator.BatchMax

// Producer is the capability the Service publishes settled records to. Send
// reports whether the record was actually published or diverted to the
// fallback buffer, so the caller can report the true delivery outcome.
type Producer interface {
	Send(ctx context.Context, kind events.Kind, clientID string, record events.Record) broker.Outcome
}

// RequestMeta carries the once-per-request inputs the orchestration needs
// beyond the raw event bodies themselves.
type RequestMeta struct {
	ClientID  string
	Origin    string
	UserAgent string
	RemoteIP  string
	BodySize  int
}

// Result is the per-event outcome shape returned to the caller (spec §4.I
// single-event result shape).
type Result struct {
	Status  string   `json:"status"`
	Type    string   `json:"type,omitempty"`
	EventID string   `json:"eventId,omitempty"`
	Message string   `json:"message,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Service wires together every pipeline component named in spec §4.
type Service struct {
	validator  *validator.Validator
	anonymizer *anonymizer.Anonymizer
	dedup      *dedup.Deduplicator
	geo        *enrich.GeoEnricher
	builder    *events.Builder
	producer   Producer
	trail      *audit.Trail
	logger     *zap.Logger
}

// New constructs a Service.
func New(
	v *validator.Validator,
	anon *anonymizer.Anonymizer,
	dd *dedup.Deduplicator,
	geo *enrich.GeoEnricher,
	builder *events.Builder,
	producer Producer,
	trail *audit.Trail,
	logger *zap.Logger,
) *Service {
	return &Service{
		validator:  v,
		anonymizer: anon,
		dedup:      dd,
		geo:        geo,
		builder:    builder,
		producer:   producer,
		trail:      trail,
		logger:     logger,
	}
}

// ResolveTenant runs the once-per-request checks shared by a whole batch:
// payload size, tenant existence/active, origin, rate limit (spec §4.A,
// §4.I: "validations once, then fan out per event").
func (s *Service) ResolveTenant(ctx context.Context, meta RequestMeta) validator.Outcome {
	_, outcome := s.validator.ValidateRequest(ctx, validator.RequestContext{
		ClientID:  meta.ClientID,
		Origin:    meta.Origin,
		UserAgent: meta.UserAgent,
		BodySize:  meta.BodySize,
	})
	return outcome
}

// ProcessEvent runs one raw event through the full pipeline and returns its
// result shape. This is the pure business-logic entry point (no HTTP
// dependency), mirroring the processEvent/processMessage split this
// codebase's audit-service consumers already establish, so the pipeline is
// testable without a live broker or HTTP server.
func (s *Service) ProcessEvent(ctx context.Context, meta RequestMeta, rawBody json.RawMessage) Result {
	var raw events.RawEvent
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return Result{Status: "error", Message: "Malformed event"}
	}

	kind := events.Kind(raw.Type)
	if !kind.Valid() {
		return Result{Status: "error", Message: "Unknown event type"}
	}

	rc := validator.RequestContext{
		ClientID:  meta.ClientID,
		Origin:    meta.Origin,
		UserAgent: meta.UserAgent,
	}

	outcome := s.validator.ValidateEvent(rc, kind, raw)
	switch outcome.Status {
	case "ignored":
		return Result{Status: "ignored", Type: string(kind), Reason: outcome.Reason}
	case "error":
		return Result{Status: "error", Type: string(kind), Message: outcome.Message, Errors: outcome.Issues}
	}

	now := time.Now()
	salt, err := s.anonymizer.GetDailySalt(ctx, now)
	if err != nil {
		s.logger.Error("salt unavailable", zap.Error(err))
		return Result{Status: "error", Type: string(kind), Message: "Internal error"}
	}
	saltedAnonID := anonymizer.Salt(raw.AnonymousID, salt)

	eventID := resolveRawEventID(kind, raw)
	dedupResult := s.dedup.Check(ctx, string(kind), eventID)
	if dedupResult.Duplicate {
		s.publishAudit(ctx, "", meta.ClientID, kind, "dropped")
		return Result{Status: "success", Type: string(kind), EventID: eventID}
	}

	geoResult := s.geo.Geo(meta.RemoteIP)
	uaResult := enrich.ParseUA(meta.UserAgent)
	enrichment := events.Enrichment{
		AnonymizedIP:   geoResult.AnonymizedIP,
		Country:        geoResult.Country,
		Region:         geoResult.Region,
		City:           geoResult.City,
		BrowserName:    uaResult.BrowserName,
		BrowserVersion: uaResult.BrowserVersion,
		OSName:         uaResult.OSName,
		OSVersion:      uaResult.OSVersion,
		DeviceType:     uaResult.DeviceType,
		DeviceBrand:    uaResult.DeviceBrand,
		DeviceModel:    uaResult.DeviceModel,
	}

	record := s.builder.Build(kind, raw, meta.ClientID, saltedAnonID, enrichment)

	deliveryOutcome := s.producer.Send(ctx, kind, meta.ClientID, record)
	s.publishAudit(ctx, record.RecordID, meta.ClientID, kind, auditOutcome(deliveryOutcome))

	return Result{Status: "success", Type: string(kind), EventID: record.EventID}
}

// auditOutcome maps the Producer's actual delivery outcome onto the audit
// trail's three-state outcome contract ("published"|"buffered"|"dropped");
// "dropped" is reported separately, by the dedup-duplicate path.
func auditOutcome(o broker.Outcome) string {
	if o == broker.OutcomePublished {
		return "published"
	}
	return "buffered"
}

func (s *Service) publishAudit(ctx context.Context, recordID, clientID string, kind events.Kind, outcome string) {
	if s.trail == nil {
		return
	}
	s.trail.Publish(ctx, audit.Envelope{
		RecordID:         recordID,
		ClientID:         clientID,
		EventType:        string(kind),
		DestinationTable: kind.DestinationTable(),
		Outcome:          outcome,
		OccurredAt:       time.Now().UnixMilli(),
	})
}

func resolveRawEventID(kind events.Kind, raw events.RawEvent) string {
	if raw.Payload != nil && (kind == events.KindError || kind == events.KindWebVitals) {
		return raw.Payload.EventID
	}
	return raw.EventID
}

// BatchResult is the container result shape for /batch (spec §4.I).
type BatchResult struct {
	Status    string   `json:"status"`
	Batch     bool     `json:"batch"`
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

// ProcessBatch fans out each raw event in parallel; per-event failures never
// abort the batch (spec §4.I, §5 concurrency model).
func (s *Service) ProcessBatch(ctx context.Context, meta RequestMeta, rawEvents []json.RawMessage) (BatchResult, error) {
	if len(rawEvents) > BatchMax {
		return BatchResult{}, fmt.Errorf("Batch too large")
	}

	results := make([]Result, len(rawEvents))
	done := make(chan struct{}, len(rawEvents))

	for i, raw := range rawEvents {
		go func(i int, raw json.RawMessage) {
			defer func() { done <- struct{}{} }()
			results[i] = s.ProcessEvent(ctx, meta, raw)
		}(i, raw)
	}
	for range rawEvents {
		<-done
	}

	return BatchResult{
		Status:    "success",
		Batch:     true,
		Processed: len(results),
		Results:   results,
	}, nil
}
