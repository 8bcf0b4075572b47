// Package providers contains one client per external API. Every client
// validates preconditions before any network I/O, runs its request through
// the shared fetch policy, checks the payload shape and normalizes the
// result into the canonical schema (°C, m/s, hPa, mm).
package providers

import (
	"strings"
	"time"
)

// kph -> m/s
const kphToMS = 1.0 / 3.6

// hasAny reports whether s contains any of the substrings, case-insensitive.
func hasAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// parseTimeOrNow parses an RFC3339-ish timestamp, defaulting to now (UTC)
// on failure so a malformed timestamp never discards a whole reading.
func parseTimeOrNow(layout, value string) time.Time {
	ts, err := time.Parse(layout, value)
	if err != nil {
		return time.Now().UTC()
	}
	return ts.UTC()
}
