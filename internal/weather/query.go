package weather

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"weatherdash/internal/apperrors"
)

// Kind names one logical operation against the providers.
type Kind string

const (
	KindCurrent    Kind = "current"
	KindForecast   Kind = "forecast"
	KindHistorical Kind = "historical"
	KindSun        Kind = "sun"
	KindLocation   Kind = "location"
	KindAlerts     Kind = "alerts"
)

// coordPrecision rounds coordinates for fingerprinting so nearby requests
// share a cache entry (4 decimals ≈ 11 m).
const coordPrecision = 4

// Query describes one logical request. Two logically identical queries
// produce the same Fingerprint regardless of field ordering.
type Query struct {
	Kind   Kind
	Coords Coordinates
	Units  Units
	Fields []string

	// Days applies to forecast queries.
	Days int
	// From/To apply to historical queries.
	From time.Time
	To   time.Time
}

// Validate checks structural preconditions before any network call.
func (q Query) Validate() error {
	if q.Coords.Lat < -90 || q.Coords.Lat > 90 {
		return apperrors.Validation("latitude %v out of range [-90, 90]", q.Coords.Lat)
	}
	if q.Coords.Lon < -180 || q.Coords.Lon > 180 {
		return apperrors.Validation("longitude %v out of range [-180, 180]", q.Coords.Lon)
	}
	switch q.Kind {
	case KindForecast:
		if q.Days < 1 || q.Days > 16 {
			return apperrors.Validation("forecast days %d out of range [1, 16]", q.Days)
		}
	case KindHistorical:
		if q.From.IsZero() || q.To.IsZero() {
			return apperrors.Validation("historical query requires from and to")
		}
		if q.To.Before(q.From) {
			return apperrors.Validation("historical range end precedes start")
		}
		if q.To.After(time.Now().UTC()) {
			return apperrors.Validation("historical range extends into the future")
		}
	case KindCurrent, KindSun, KindLocation, KindAlerts:
	default:
		return apperrors.Validation("unknown query kind %q", q.Kind)
	}
	return nil
}

// Fingerprint derives the deterministic cache/dedup key for this query.
func (q Query) Fingerprint() string {
	units := q.Units
	if units == "" {
		units = UnitsMetric
	}

	fields := append([]string(nil), q.Fields...)
	sort.Strings(fields)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%.*f|%.*f|%s",
		q.Kind, coordPrecision, q.Coords.Lat, coordPrecision, q.Coords.Lon, units)
	if len(fields) > 0 {
		b.WriteByte('|')
		b.WriteString(strings.Join(fields, ","))
	}
	if q.Kind == KindForecast {
		fmt.Fprintf(&b, "|d=%d", q.Days)
	}
	if q.Kind == KindHistorical {
		fmt.Fprintf(&b, "|%s..%s",
			q.From.UTC().Format("2006-01-02"), q.To.UTC().Format("2006-01-02"))
	}
	return b.String()
}
