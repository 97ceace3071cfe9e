package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting endpoint, flushed periodically.
// The caller must defer mp.Shutdown(ctx) to flush pending metrics.
func InitMeterProvider(ctx context.Context, serviceName string, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// IngestMetrics holds the named instruments the pipeline reports: records
// published and records buffered, buffer drops, and dedup duplicate /
// first-seen counts. The published and dropped counters are incremented at
// the same points as GET /health's "sent" and "dropped" figures; /health's
// "failed" and "bufferSize" have no counterpart here.
//
// Every method is nil-receiver safe: a nil *IngestMetrics (OTel disabled, no
// OTEL_EXPORTER_OTLP_ENDPOINT configured) makes every call a no-op, the same
// pattern internal/audit.Trail uses for its own optional side channel.
type IngestMetrics struct {
	published     metric.Int64Counter
	buffered      metric.Int64Counter
	bufferDropped metric.Int64Counter
	dedupHit      metric.Int64Counter
	dedupMiss     metric.Int64Counter
}

// NewIngestMetrics registers the ingestion service's counters against the
// global MeterProvider. Call after InitMeterProvider so the instruments
// bind to the real exporter; when OTel is disabled the global provider is
// otel's no-op default and these calls are harmless.
func NewIngestMetrics() (*IngestMetrics, error) {
	meter := otel.Meter("ingest-service")

	published, err := meter.Int64Counter("ingest.events.published",
		metric.WithDescription("canonical records published to the broker"))
	if err != nil {
		return nil, err
	}
	buffered, err := meter.Int64Counter("ingest.events.buffered",
		metric.WithDescription("canonical records routed to the fallback buffer"))
	if err != nil {
		return nil, err
	}
	bufferDropped, err := meter.Int64Counter("ingest.buffer.dropped",
		metric.WithDescription("fallback buffer items dropped at hard cap or retry cap"))
	if err != nil {
		return nil, err
	}
	dedupHit, err := meter.Int64Counter("ingest.dedup.duplicate",
		metric.WithDescription("events rejected as duplicates of an already-seen id"))
	if err != nil {
		return nil, err
	}
	dedupMiss, err := meter.Int64Counter("ingest.dedup.first_seen",
		metric.WithDescription("events accepted as first-seen"))
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		published:     published,
		buffered:      buffered,
		bufferDropped: bufferDropped,
		dedupHit:      dedupHit,
		dedupMiss:     dedupMiss,
	}, nil
}

// RecordPublished counts n canonical records successfully published to the
// broker (internal/broker.Producer.Send/SendBatch success path).
func (m *IngestMetrics) RecordPublished(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.published.Add(ctx, n)
}

// RecordBuffered counts n canonical records diverted to the fallback buffer,
// whether because the broker is disabled, cooling down, breaker-open, or a
// publish attempt failed (internal/broker.Producer.enqueueFallback).
func (m *IngestMetrics) RecordBuffered(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.buffered.Add(ctx, n)
}

// RecordBufferDropped counts n fallback buffer items dropped at the hard cap
// or on reaching the per-item retry cap (internal/buffer.Buffer).
func (m *IngestMetrics) RecordBufferDropped(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.bufferDropped.Add(ctx, n)
}

// RecordDedupDuplicate counts one event rejected as a duplicate
// (internal/dedup.Deduplicator.Check).
func (m *IngestMetrics) RecordDedupDuplicate(ctx context.Context) {
	if m == nil {
		return
	}
	m.dedupHit.Add(ctx, 1)
}

// RecordDedupFirstSeen counts one event accepted as first-seen
// (internal/dedup.Deduplicator.Check).
func (m *IngestMetrics) RecordDedupFirstSeen(ctx context.Context) {
	if m == nil {
		return
	}
	m.dedupMiss.Add(ctx, 1)
}
