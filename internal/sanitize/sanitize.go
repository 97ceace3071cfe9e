// Package sanitize implements the control-character stripping and
// length-clamping shared by the Validator's free-text fields and the Event
// Builder's per-kind field construction (spec §4.A), so the one rule has one
// implementation instead of drifting between the two call sites.
package sanitize

import (
	"strings"
	"unicode"
)

// String strips control characters from s and clamps the result to cap
// bytes.
func String(s string, cap int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > cap {
		out = out[:cap]
	}
	return out
}
