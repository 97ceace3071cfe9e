// Package validator implements payload size/schema checks, field
// sanitization, bot heuristics, and origin/tenant checks (spec §4.A).
package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/arc-self/ingest-service/internal/events"
	"github.com/arc-self/ingest-service/internal/sanitize"
)

// PayloadMax is the maximum accepted request body size in bytes.
const PayloadMax = 1 << 20 // 1 MiB

// BatchMax is the maximum number of events in a batch request.
const BatchMax = 100

// TenantInfo is the read view of tenant configuration the Validator needs,
// owned by the external auth/billing collaborator and cached in Redis
// (spec SPEC_FULL §4.A).
type TenantInfo struct {
	Active          bool
	AllowedOrigins  []string
	RateLimitPerMin int
}

// TenantStore resolves a client id to its tenant configuration.
type TenantStore interface {
	Lookup(ctx context.Context, clientID string) (TenantInfo, bool, error)
}

// RateLimiter decides whether a tenant may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string, limitPerMin int) (bool, error)
}

// Outcome is the result contract from spec §4.A: accepted, ignored(reason),
// or error(code, message).
type Outcome struct {
	Status  string // "accepted", "ignored", "error"
	Reason  string
	Code    string
	Message string
	Issues  []string
}

func accepted() Outcome { return Outcome{Status: "accepted"} }

func ignored(reason string) Outcome {
	return Outcome{Status: "ignored", Reason: reason}
}

func errOutcome(code, message string) Outcome {
	return Outcome{Status: "error", Code: code, Message: message}
}

// filteredMessages are error messages known to be noise from cross-origin
// script loading, filtered rather than treated as real errors.
var filteredMessages = map[string]bool{
	"Script error.": true,
}

// botPatterns matches common crawler/bot user agents (spec §4.A). This is a
// small deterministic heuristic list; no bot-detection library appears in
// the retrieved example pool (see DESIGN.md).
var botPatterns = []string{
	"bot", "spider", "crawl", "slurp", "curl/", "wget/", "python-requests",
	"headlesschrome", "phantomjs", "googlebot", "bingbot", "ahrefsbot",
	"semrushbot", "mj12bot", "dotbot", "facebookexternalhit",
}

// Validator runs the per-request and per-event checks of spec §4.A.
type Validator struct {
	tenants TenantStore
	limiter RateLimiter
	devMode bool
}

// New constructs a Validator.
func New(tenants TenantStore, limiter RateLimiter, devMode bool) *Validator {
	return &Validator{tenants: tenants, limiter: limiter, devMode: devMode}
}

// RequestContext carries the once-per-request inputs needed for tenant,
// origin, and rate-limit checks.
type RequestContext struct {
	ClientID  string
	Origin    string
	UserAgent string
	BodySize  int
}

// ValidateRequest runs the request-level checks shared by the whole batch:
// payload size, tenant existence/active, origin allowlist, rate limit
// (spec §4.A: "Validation runs once per batch for tenant/origin/rate").
func (v *Validator) ValidateRequest(ctx context.Context, rc RequestContext) (TenantInfo, Outcome) {
	if rc.BodySize > PayloadMax {
		return TenantInfo{}, errOutcome("invalid_request", "Payload too large")
	}

	if v.tenants == nil {
		return TenantInfo{}, errOutcome("auth_failed", "Unknown client")
	}
	tenant, ok, err := v.tenants.Lookup(ctx, rc.ClientID)
	if err != nil || !ok {
		return TenantInfo{}, errOutcome("auth_failed", "Unknown client")
	}
	if !tenant.Active {
		return TenantInfo{}, errOutcome("auth_failed", "Inactive client")
	}

	if !originAllowed(tenant.AllowedOrigins, rc.Origin) {
		return TenantInfo{}, errOutcome("auth_failed", "Origin not allowed")
	}

	if v.limiter != nil && tenant.RateLimitPerMin > 0 {
		// Allow returns its best available verdict even on error: the
		// limiter falls back to a local approximation when its backing
		// store is unreachable rather than failing open unconditionally.
		if allow, _ := v.limiter.Allow(ctx, rc.ClientID, tenant.RateLimitPerMin); !allow {
			return TenantInfo{}, errOutcome("rate_limited", "Rate limit exceeded")
		}
	}

	return tenant, accepted()
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// ValidateEvent runs the per-event checks: bot heuristic, filtered
// messages, schema validation (spec §4.A).
func (v *Validator) ValidateEvent(rc RequestContext, kind events.Kind, raw events.RawEvent) Outcome {
	if isBot(rc.UserAgent) {
		return ignored("bot_traffic")
	}

	if msg := errorMessage(kind, raw); msg != "" && filteredMessages[msg] {
		return ignored("filtered_message")
	}

	if !v.devMode {
		if issues := validateSchema(kind, raw); len(issues) > 0 {
			return Outcome{Status: "error", Code: "schema_invalid", Issues: issues}
		}
	}

	return accepted()
}

func errorMessage(kind events.Kind, raw events.RawEvent) string {
	if kind != events.KindError {
		return ""
	}
	if raw.Payload != nil {
		return raw.Payload.Message
	}
	return ""
}

func isBot(ua string) bool {
	lower := strings.ToLower(ua)
	for _, p := range botPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// validateSchema runs minimal per-kind required-field checks. It returns
// the list of issues found (empty means valid).
func validateSchema(kind events.Kind, raw events.RawEvent) []string {
	var issues []string

	if !kind.Valid() {
		return []string{"Unknown event type"}
	}

	switch kind {
	case events.KindTrack:
		if raw.Name == "" {
			issues = append(issues, "name is required")
		}
	case events.KindCustom:
		if raw.Name == "" {
			issues = append(issues, "name is required")
		}
	case events.KindOutgoingLink:
		if raw.Href == "" {
			issues = append(issues, "href is required")
		}
	case events.KindError:
		if raw.Payload == nil || raw.Payload.Message == "" {
			issues = append(issues, "payload.message is required")
		}
	case events.KindWebVitals:
		// at least one metric must be present
		if raw.Payload == nil {
			issues = append(issues, "payload is required")
		} else if p := raw.Payload; p.FCP == "" && p.LCP == "" && p.CLS == "" && p.FID == "" && p.INP == "" {
			issues = append(issues, "at least one metric is required")
		}
	}

	return issues
}

// SanitizeString strips control characters and clamps to cap, matching
// spec §4.A's per-field caps (SHORT/STRING/PATH/TEXT). This is the same
// routine the Event Builder's clampStr applies to every free-text field on
// the canonical record (internal/events.clampStr), kept here as the
// request-level entry point tests and other validator-facing callers use.
func SanitizeString(s string, cap int) string {
	return sanitize.String(s, cap)
}

// ValidateBatchSize enforces the ≤100 batch array length rule (spec §4.A,
// testable property 9).
func ValidateBatchSize(n int) error {
	if n > BatchMax {
		return fmt.Errorf("Batch too large")
	}
	return nil
}
