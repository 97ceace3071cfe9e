// Package events defines the canonical per-kind record shapes produced by
// the Event Builder (spec §3, §4.E) and the raw payload shapes accepted at
// the intake surface (spec §6).
package events

import "encoding/json"

// Kind is the discriminated event kind carried in the "type" field.
type Kind string

const (
	KindTrack        Kind = "track"
	KindError        Kind = "error"
	KindWebVitals    Kind = "web_vitals"
	KindCustom       Kind = "custom"
	KindOutgoingLink Kind = "outgoing_link"
)

// DestinationTable returns the analytics-store table / Kafka topic name
// mirror for a kind (spec §4.F topic mapping / §6 table mapping).
func (k Kind) DestinationTable() string {
	switch k {
	case KindTrack:
		return "events"
	case KindError:
		return "errors"
	case KindWebVitals:
		return "web_vitals"
	case KindCustom:
		return "custom_events"
	case KindOutgoingLink:
		return "outgoing_links"
	default:
		return ""
	}
}

// Topic returns the Kafka topic for a kind (spec §6 fixed topic strings).
func (k Kind) Topic() string {
	switch k {
	case KindTrack:
		return "analytics-events"
	case KindError:
		return "analytics-errors"
	case KindWebVitals:
		return "analytics-web-vitals"
	case KindCustom:
		return "analytics-custom-events"
	case KindOutgoingLink:
		return "analytics-outgoing-links"
	default:
		return ""
	}
}

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	return k.DestinationTable() != ""
}

// RawEvent is the wire shape accepted at the intake surface. The error and
// web_vitals kind-specific fields are nested under Payload; track, custom
// and outgoing_link fields are carried at the top level.
type RawEvent struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	AnonymousID string          `json:"anonymousId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Timestamp   json.Number     `json:"timestamp,omitempty"`
	EventID     string          `json:"eventId,omitempty"`

	Path              string      `json:"path,omitempty"`
	Title             string      `json:"title,omitempty"`
	Referrer          string      `json:"referrer,omitempty"`
	ScreenResolution  string      `json:"screen_resolution,omitempty"`
	ViewportSize      string      `json:"viewport_size,omitempty"`
	Language          string      `json:"language,omitempty"`
	Timezone          string      `json:"timezone,omitempty"`
	UTMSource         string      `json:"utm_source,omitempty"`
	UTMMedium         string      `json:"utm_medium,omitempty"`
	UTMCampaign       string      `json:"utm_campaign,omitempty"`
	LoadTime          json.Number `json:"load_time,omitempty"`
	TTFB              json.Number `json:"ttfb,omitempty"`
	FCP               json.Number `json:"fcp,omitempty"`
	LCP               json.Number `json:"lcp,omitempty"`
	DOMTime           json.Number `json:"dom_time,omitempty"`
	RenderTime        json.Number `json:"render_time,omitempty"`
	RedirectTime      json.Number `json:"redirect_time,omitempty"`
	DNSTime           json.Number `json:"dns_time,omitempty"`
	ConnectionTime    json.Number `json:"connection_time,omitempty"`
	TimeOnPage        json.Number `json:"time_on_page,omitempty"`
	ScrollDepth       json.Number `json:"scroll_depth,omitempty"`
	InteractionCount  json.Number `json:"interaction_count,omitempty"`
	PageCount         json.Number `json:"page_count,omitempty"`
	Properties        json.RawMessage `json:"properties,omitempty"`

	// outgoing_link
	Href string `json:"href,omitempty"`
	Text string `json:"text,omitempty"`

	// Nested kind-specific payload (error, web_vitals).
	Payload *RawEventPayload `json:"payload,omitempty"`
}

// RawEventPayload carries the fields spec §6 nests under "payload" for
// error and web_vitals events, plus a copy of the common fields so an
// error/web_vitals event can still report path/session/etc.
type RawEventPayload struct {
	RawEvent

	Message  string      `json:"message,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Lineno   json.Number `json:"lineno,omitempty"`
	Colno    json.Number `json:"colno,omitempty"`
	Stack    string      `json:"stack,omitempty"`
	ErrorType string     `json:"errorType,omitempty"`

	CLS json.Number `json:"cls,omitempty"`
	FID json.Number `json:"fid,omitempty"`
	INP json.Number `json:"inp,omitempty"`
}

// Enrichment is the result of the Enricher (spec §4.D) for one request.
type Enrichment struct {
	AnonymizedIP   string
	Country        string
	Region         string
	City           string
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string
	DeviceType     string
	DeviceBrand    string
	DeviceModel    string
}

// Metric is a nullable, range-clamped performance metric (spec §4.E).
type Metric struct {
	Value float64
	Valid bool
}

// Record is the canonical record shared by every kind (spec §3).
type Record struct {
	RecordID     string `json:"record_id"`
	ClientID     string `json:"client_id"`
	AnonymousID  string `json:"anonymous_id"`
	SessionID    string `json:"session_id"`
	EventID      string `json:"event_id"`
	Timestamp    int64  `json:"timestamp"`
	CreatedAt    int64  `json:"created_at"`
	IngestSource string `json:"ingest_source"`

	AnonymizedIP   string `json:"anonymized_ip"`
	Country        string `json:"country"`
	Region         string `json:"region"`
	City           string `json:"city"`
	BrowserName    string `json:"browser_name"`
	BrowserVersion string `json:"browser_version"`
	OSName         string `json:"os_name"`
	OSVersion      string `json:"os_version"`
	DeviceType     string `json:"device_type"`
	DeviceBrand    string `json:"device_brand"`
	DeviceModel    string `json:"device_model"`

	Kind Kind `json:"-"`

	Track        *TrackFields        `json:"track,omitempty"`
	Error        *ErrorFields        `json:"error,omitempty"`
	WebVitals    *WebVitalsFields    `json:"web_vitals,omitempty"`
	Custom       *CustomFields       `json:"custom,omitempty"`
	OutgoingLink *OutgoingLinkFields `json:"outgoing_link,omitempty"`
}

// TrackFields holds the track-kind-specific payload.
type TrackFields struct {
	Name             string   `json:"name"`
	Path             string   `json:"path"`
	Referrer         string   `json:"referrer"`
	Title            string   `json:"title"`
	ViewportSize     string   `json:"viewport_size"`
	Locale           string   `json:"locale"`
	TTFB             *float64 `json:"ttfb"`
	FCP              *float64 `json:"fcp"`
	LCP              *float64 `json:"lcp"`
	LoadTime         *float64 `json:"load_time"`
	DOMTime          *float64 `json:"dom_time"`
	RenderTime       *float64 `json:"render_time"`
	RedirectTime     *float64 `json:"redirect_time"`
	DNSTime          *float64 `json:"dns_time"`
	ConnectionTime   *float64 `json:"connection_time"`
	UTMSource        string   `json:"utm_source"`
	UTMMedium        string   `json:"utm_medium"`
	UTMCampaign      string   `json:"utm_campaign"`
	TimeOnPage       *float64 `json:"time_on_page"`
	ScrollDepth      *float64 `json:"scroll_depth"`
	InteractionCount *float64 `json:"interaction_count"`
	Properties       string   `json:"properties"`
	PageCount        *float64 `json:"page_count"`
}

// ErrorFields holds the error-kind-specific payload.
type ErrorFields struct {
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	Lineno    *float64 `json:"lineno"`
	Colno     *float64 `json:"colno"`
	Stack     string `json:"stack"`
	ErrorType string `json:"error_type"`
}

// WebVitalsFields holds the web_vitals-kind-specific payload.
type WebVitalsFields struct {
	FCP *float64 `json:"fcp"`
	LCP *float64 `json:"lcp"`
	CLS *float64 `json:"cls"`
	FID *float64 `json:"fid"`
	INP *float64 `json:"inp"`
}

// CustomFields holds the custom-kind-specific payload.
type CustomFields struct {
	Name       string `json:"name"`
	Properties string `json:"properties"`
}

// OutgoingLinkFields holds the outgoing_link-kind-specific payload.
type OutgoingLinkFields struct {
	Href       string `json:"href"`
	Text       string `json:"text"`
	Properties string `json:"properties"`
}
