package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBuilder(now time.Time) *Builder {
	return &Builder{clock: func() time.Time { return now }}
}

func TestBuild_TrackHappyPath(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	b := fixedBuilder(now)

	raw := RawEvent{
		Type:        "track",
		Name:        "screen_view",
		AnonymousID: "a",
		SessionID:   "session-123",
		Timestamp:   json.Number("1700000000000"),
		Path:        "/x",
	}

	rec := b.Build(KindTrack, raw, "T", "salted-a", Enrichment{})

	assert.Equal(t, "T", rec.ClientID)
	assert.Equal(t, "salted-a", rec.AnonymousID)
	assert.Equal(t, "session-123", rec.SessionID)
	assert.Equal(t, int64(1700000000000), rec.Timestamp)
	require.NotNil(t, rec.Track)
	assert.Equal(t, "screen_view", rec.Track.Name)
	assert.Equal(t, "/x", rec.Track.Path)
	assert.NotEmpty(t, rec.RecordID)
	assert.NotEmpty(t, rec.EventID)
}

func TestBuild_ResolvesClientTimestampOverServerClock(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	b := fixedBuilder(now)

	raw := RawEvent{Type: "track", Timestamp: json.Number("42")}
	rec := b.Build(KindTrack, raw, "T", "anon", Enrichment{})
	assert.Equal(t, int64(42), rec.Timestamp)
}

func TestBuild_FallsBackToServerClockOnMissingTimestamp(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	b := fixedBuilder(now)

	raw := RawEvent{Type: "track"}
	rec := b.Build(KindTrack, raw, "T", "anon", Enrichment{})
	assert.Equal(t, now.UnixMilli(), rec.Timestamp)
}

func TestBuild_MalformedSessionIDGetsFreshID(t *testing.T) {
	now := time.Now()
	b := fixedBuilder(now)

	raw := RawEvent{Type: "track", SessionID: "bad session id with spaces!"}
	rec := b.Build(KindTrack, raw, "T", "anon", Enrichment{})
	assert.NotEqual(t, "bad session id with spaces!", rec.SessionID)
	assert.NotEmpty(t, rec.SessionID)
}

func TestBuild_EventIDOverCapGetsFreshID(t *testing.T) {
	now := time.Now()
	b := fixedBuilder(now)

	oversized := make([]byte, CapShort+1)
	for i := range oversized {
		oversized[i] = 'a'
	}

	raw := RawEvent{Type: "track", EventID: string(oversized)}
	rec := b.Build(KindTrack, raw, "T", "anon", Enrichment{})
	assert.Len(t, rec.EventID, 36) // uuid string length
}

func TestClampMetric_RangeAndNonFinite(t *testing.T) {
	assert.Nil(t, clampMetric(json.Number("")))
	assert.Nil(t, clampMetric(json.Number("not-a-number")))

	negative := clampMetric(json.Number("-5"))
	require.NotNil(t, negative)
	assert.Equal(t, float64(0), *negative)

	tooLarge := clampMetric(json.Number("999999999"))
	require.NotNil(t, tooLarge)
	assert.Equal(t, maxMetricMillis, *tooLarge)

	inRange := clampMetric(json.Number("150.5"))
	require.NotNil(t, inRange)
	assert.Equal(t, 150.5, *inRange)
}

func TestSerializeProperties_NonObjectBecomesEmptyObject(t *testing.T) {
	assert.Equal(t, "{}", serializeProperties(nil))
	assert.Equal(t, "{}", serializeProperties(json.RawMessage(`[1,2,3]`)))
	assert.Equal(t, "{}", serializeProperties(json.RawMessage(`not json`)))
	assert.Equal(t, `{"a":1}`, serializeProperties(json.RawMessage(`{"a":1}`)))
}

func TestBuild_ErrorKindReadsPayload(t *testing.T) {
	now := time.Now()
	b := fixedBuilder(now)

	raw := RawEvent{
		Type: "error",
		Payload: &RawEventPayload{
			Message:   "boom",
			ErrorType: "TypeError",
		},
	}
	rec := b.Build(KindError, raw, "T", "anon", Enrichment{})
	require.NotNil(t, rec.Error)
	assert.Equal(t, "boom", rec.Error.Message)
	assert.Equal(t, "TypeError", rec.Error.ErrorType)
}

func TestBuild_OutgoingLinkKind(t *testing.T) {
	now := time.Now()
	b := fixedBuilder(now)

	raw := RawEvent{Type: "outgoing_link", Href: "https://example.com", Text: "Example"}
	rec := b.Build(KindOutgoingLink, raw, "T", "anon", Enrichment{})
	require.NotNil(t, rec.OutgoingLink)
	assert.Equal(t, "https://example.com", rec.OutgoingLink.Href)
}

func TestClampStr_ClampsToCapacity(t *testing.T) {
	long := make([]byte, 10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Equal(t, "xxx", clampStr(string(long), 3))
	assert.Equal(t, "xxx", clampStr("xxx", 5))
}

func TestKind_DestinationTableAndTopic(t *testing.T) {
	assert.Equal(t, "events", KindTrack.DestinationTable())
	assert.Equal(t, "analytics-events", KindTrack.Topic())
	assert.Equal(t, "errors", KindError.DestinationTable())
	assert.True(t, KindWebVitals.Valid())
	assert.False(t, Kind("bogus").Valid())
}
