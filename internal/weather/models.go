// Package weather holds the canonical data model every provider client
// normalizes into, the request fingerprint used as the cache key, and the
// aggregator that orders providers and applies fallback.
package weather

import (
	"time"
)

// Condition is the normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Units identifies the unit system of a query. Results are always stored
// in metric (°C, m/s, hPa, mm); Units only affects presentation hints.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is the metadata providers attach to a coordinate.
type Location struct {
	Name     string      `json:"name,omitempty"`
	Region   string      `json:"region,omitempty"`
	Country  string      `json:"country,omitempty"`
	Coords   Coordinates `json:"coords"`
	Timezone string      `json:"timezone,omitempty"`
}

// CurrentConditions is the normalized "now" view. Optional readings a
// source does not supply are nil pointers, never ambiguous zeros.
type CurrentConditions struct {
	Timestamp        time.Time `json:"timestamp"`
	TemperatureC     float64   `json:"temperatureC"`
	FeelsLikeC       *float64  `json:"feelsLikeC,omitempty"`
	HumidityPct      *float64  `json:"humidityPercent,omitempty"`
	WindSpeedMS      float64   `json:"windSpeedMs"`
	WindDirectionDeg *float64  `json:"windDirectionDeg,omitempty"`
	PressureHPa      *float64  `json:"pressureHpa,omitempty"`
	PrecipMM         float64   `json:"precipMm"`
	CloudCoverPct    *float64  `json:"cloudCoverPercent,omitempty"`
	Condition        Condition `json:"condition"`
}

// HourlyPoint is one entry of the hourly series.
type HourlyPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC float64   `json:"temperatureC"`
	PrecipMM     float64   `json:"precipMm"`
	WindSpeedMS  float64   `json:"windSpeedMs"`
	Condition    Condition `json:"condition"`
}

// DailyPoint is one entry of the daily series.
type DailyPoint struct {
	Date        time.Time `json:"date"`
	MinTempC    float64   `json:"minTempC"`
	MaxTempC    float64   `json:"maxTempC"`
	PrecipMM    float64   `json:"precipMm"`
	WindSpeedMS float64   `json:"windSpeedMs"`
	Condition   Condition `json:"condition"`
}

// SunEvents holds astronomical events for one day at a location.
type SunEvents struct {
	Sunrise time.Time `json:"sunrise"`
	Sunset  time.Time `json:"sunset"`
}

// Alert is one active weather alert from an alert feed.
type Alert struct {
	ID          string    `json:"id"`
	Event       string    `json:"event"`
	Severity    string    `json:"severity,omitempty"`
	Headline    string    `json:"headline,omitempty"`
	Description string    `json:"description,omitempty"`
	Area        string    `json:"area,omitempty"`
	Effective   time.Time `json:"effective,omitempty"`
	Expires     time.Time `json:"expires,omitempty"`
}

// NormalizedResult is the canonical schema all provider clients produce.
// Sections a provider cannot serve are nil.
type NormalizedResult struct {
	Location *Location          `json:"location,omitempty"`
	Current  *CurrentConditions `json:"current,omitempty"`
	Hourly   []HourlyPoint      `json:"hourly,omitempty"`
	Daily    []DailyPoint       `json:"daily,omitempty"`
	Sun      *SunEvents         `json:"sun,omitempty"`
	Alerts   []Alert            `json:"alerts,omitempty"`
}

// Clone returns a deep copy so cache internals are never shared by
// reference with callers.
func (r *NormalizedResult) Clone() *NormalizedResult {
	if r == nil {
		return nil
	}
	out := &NormalizedResult{}
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if r.Current != nil {
		cur := *r.Current
		cur.FeelsLikeC = cloneFloat(r.Current.FeelsLikeC)
		cur.HumidityPct = cloneFloat(r.Current.HumidityPct)
		cur.WindDirectionDeg = cloneFloat(r.Current.WindDirectionDeg)
		cur.PressureHPa = cloneFloat(r.Current.PressureHPa)
		cur.CloudCoverPct = cloneFloat(r.Current.CloudCoverPct)
		out.Current = &cur
	}
	if r.Sun != nil {
		sun := *r.Sun
		out.Sun = &sun
	}
	out.Hourly = append([]HourlyPoint(nil), r.Hourly...)
	out.Daily = append([]DailyPoint(nil), r.Daily...)
	out.Alerts = append([]Alert(nil), r.Alerts...)
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float is a convenience for building optional readings.
func Float(v float64) *float64 { return &v }

// ConditionFromPrecip derives a qualitative condition for sources that
// report no weather code. The mapping is deterministic:
//
//	precip <= 0 mm          -> clear
//	precip < 0.2 mm         -> mist
//	precip >= 7.6 mm        -> storm (heavy precipitation)
//	otherwise, tempC <= 0   -> snow
//	otherwise               -> rain
func ConditionFromPrecip(precipMM, tempC float64) Condition {
	switch {
	case precipMM <= 0:
		return ConditionClear
	case precipMM < 0.2:
		return ConditionMist
	case precipMM >= 7.6:
		return ConditionStorm
	case tempC <= 0:
		return ConditionSnow
	default:
		return ConditionRain
	}
}
