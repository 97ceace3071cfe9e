package events

import (
	"encoding/json"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/arc-self/ingest-service/internal/sanitize"
)

// Field length caps (spec §4.A).
const (
	CapShort  = 255
	CapString = 2048
	CapPath   = 4096
	CapText   = 1024
)

const maxMetricMillis = float64(10 * time.Minute / time.Millisecond)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Builder assembles canonical Records from validated raw payloads.
type Builder struct {
	clock func() time.Time
}

// NewBuilder constructs a Builder using the real wall clock.
func NewBuilder() *Builder {
	return &Builder{clock: time.Now}
}

// Build assembles a canonical Record for one raw event.
//
// raw must already have passed validation; saltedAnonID is the output of
// anonymizer.Salt for the event's raw anonymous id; enrichment is the
// Enricher's output for the request's IP/user-agent.
func (b *Builder) Build(kind Kind, raw RawEvent, clientID, saltedAnonID string, enrichment Enrichment) Record {
	now := b.clock()
	nowMs := now.UnixMilli()

	rec := Record{
		RecordID:     uuid.NewString(),
		ClientID:     clientID,
		AnonymousID:  saltedAnonID,
		SessionID:    sanitizeSessionID(raw.SessionID),
		EventID:      resolveEventID(rawEventID(kind, raw)),
		Timestamp:    resolveTimestamp(raw.Timestamp, nowMs),
		CreatedAt:    nowMs,
		IngestSource: "broker",
		Kind:         kind,

		AnonymizedIP:   enrichment.AnonymizedIP,
		Country:        enrichment.Country,
		Region:         enrichment.Region,
		City:           enrichment.City,
		BrowserName:    enrichment.BrowserName,
		BrowserVersion: enrichment.BrowserVersion,
		OSName:         enrichment.OSName,
		OSVersion:      enrichment.OSVersion,
		DeviceType:     enrichment.DeviceType,
		DeviceBrand:    enrichment.DeviceBrand,
		DeviceModel:    enrichment.DeviceModel,
	}

	switch kind {
	case KindTrack:
		rec.Track = buildTrack(raw)
	case KindError:
		rec.Error = buildError(raw)
	case KindWebVitals:
		rec.WebVitals = buildWebVitals(raw)
	case KindCustom:
		rec.Custom = buildCustom(raw)
	case KindOutgoingLink:
		rec.OutgoingLink = buildOutgoingLink(raw)
	}

	return rec
}

func rawEventID(kind Kind, raw RawEvent) string {
	if raw.Payload != nil && needsPayload(kind) {
		return raw.Payload.EventID
	}
	return raw.EventID
}

func needsPayload(kind Kind) bool {
	return kind == KindError || kind == KindWebVitals
}

// resolveEventID honors the client value if non-empty and under the short
// cap, else mints a fresh random id (spec §4.E).
func resolveEventID(clientValue string) string {
	if clientValue != "" && len(clientValue) <= CapShort {
		return clientValue
	}
	return uuid.NewString()
}

// resolveTimestamp honors the client timestamp if it parses to a finite
// number, else falls back to the server clock (spec §4.E).
func resolveTimestamp(raw json.Number, nowMs int64) int64 {
	if raw == "" {
		return nowMs
	}
	f, err := raw.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nowMs
	}
	return int64(f)
}

// sanitizeSessionID validates against a fixed character set and length;
// malformed ids are replaced with a fresh random id (spec §4.E).
func sanitizeSessionID(id string) string {
	if sessionIDPattern.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// clampMetric range-clamps a numeric field to [0, 10min] and returns nil for
// missing or non-finite input (spec §4.E).
func clampMetric(n json.Number) *float64 {
	if n == "" {
		return nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f < 0 {
		f = 0
	}
	if f > maxMetricMillis {
		f = maxMetricMillis
	}
	return &f
}

// serializeProperties turns raw JSON into a canonical string; non-object
// input (or absent input) becomes "{}" (spec §4.E).
func serializeProperties(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "{}"
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return "{}"
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// clampStr strips control characters and clamps s to cap, the same rule
// internal/validator.SanitizeString applies at the request boundary (spec
// §4.A: "control characters stripped and length-clamped"), so every
// free-text field on the canonical record goes through it too, not just the
// top-level request fields the Validator sees directly.
func clampStr(s string, cap int) string {
	return sanitize.String(s, cap)
}

func buildTrack(raw RawEvent) *TrackFields {
	return &TrackFields{
		Name:             clampStr(raw.Name, CapShort),
		Path:             clampStr(raw.Path, CapPath),
		Referrer:         clampStr(raw.Referrer, CapPath),
		Title:            clampStr(raw.Title, CapString),
		ViewportSize:     clampStr(raw.ViewportSize, CapShort),
		Locale:           clampStr(raw.Language, CapShort),
		TTFB:             clampMetric(raw.TTFB),
		FCP:              clampMetric(raw.FCP),
		LCP:              clampMetric(raw.LCP),
		LoadTime:         clampMetric(raw.LoadTime),
		DOMTime:          clampMetric(raw.DOMTime),
		RenderTime:       clampMetric(raw.RenderTime),
		RedirectTime:     clampMetric(raw.RedirectTime),
		DNSTime:          clampMetric(raw.DNSTime),
		ConnectionTime:   clampMetric(raw.ConnectionTime),
		UTMSource:        clampStr(raw.UTMSource, CapShort),
		UTMMedium:        clampStr(raw.UTMMedium, CapShort),
		UTMCampaign:      clampStr(raw.UTMCampaign, CapShort),
		TimeOnPage:       clampMetric(raw.TimeOnPage),
		ScrollDepth:      clampMetric(raw.ScrollDepth),
		InteractionCount: clampMetric(raw.InteractionCount),
		Properties:       serializeProperties(raw.Properties),
		PageCount:        clampMetric(raw.PageCount),
	}
}

func buildError(raw RawEvent) *ErrorFields {
	p := raw.Payload
	if p == nil {
		p = &RawEventPayload{}
	}
	return &ErrorFields{
		Message:   clampStr(p.Message, CapString),
		Filename:  clampStr(p.Filename, CapPath),
		Lineno:    clampMetric(p.Lineno),
		Colno:     clampMetric(p.Colno),
		Stack:     clampStr(p.Stack, CapText),
		ErrorType: clampStr(p.ErrorType, CapShort),
	}
}

func buildWebVitals(raw RawEvent) *WebVitalsFields {
	p := raw.Payload
	if p == nil {
		p = &RawEventPayload{}
	}
	return &WebVitalsFields{
		FCP: clampMetric(p.FCP),
		LCP: clampMetric(p.LCP),
		CLS: clampMetric(p.CLS),
		FID: clampMetric(p.FID),
		INP: clampMetric(p.INP),
	}
}

func buildCustom(raw RawEvent) *CustomFields {
	return &CustomFields{
		Name:       clampStr(raw.Name, CapShort),
		Properties: serializeProperties(raw.Properties),
	}
}

func buildOutgoingLink(raw RawEvent) *OutgoingLinkFields {
	return &OutgoingLinkFields{
		Href:       clampStr(raw.Href, CapPath),
		Text:       clampStr(raw.Text, CapString),
		Properties: serializeProperties(raw.Properties),
	}
}

// NewFreshID returns a fresh random UUID string, for callers that need a
// random token outside the record-building path.
func NewFreshID() string {
	return uuid.NewString()
}
