package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/fetch"
	"weatherdash/internal/weather"
)

// openMeteoTimeLayout is the ISO8601 minute format Open-Meteo returns when
// asked for timezone=UTC.
const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteoProvider serves current conditions, hourly and daily series and
// sun events from the free Open-Meteo forecast API. No API key required.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	policy  *fetch.Policy
}

func NewOpenMeteoProvider(client *http.Client, opts ...fetch.Option) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		policy:  fetch.NewPolicy("openmeteo", client, opts...),
	}
}

func (p *OpenMeteoProvider) Name() string { return p.name }

func (p *OpenMeteoProvider) Supports(kind weather.Kind) bool {
	switch kind {
	case weather.KindCurrent, weather.KindForecast, weather.KindSun:
		return true
	}
	return false
}

// Request builds the raw HTTP request; also used by the durable retry
// queue to persist a replayable description.
func (p *OpenMeteoProvider) Request(q weather.Query) (*http.Request, error) {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%.4f", q.Coords.Lat))
	values.Set("longitude", fmt.Sprintf("%.4f", q.Coords.Lon))
	values.Set("timezone", "UTC")
	values.Set("wind_speed_unit", "ms")

	switch q.Kind {
	case weather.KindCurrent:
		values.Set("current", strings.Join([]string{
			"temperature_2m", "relative_humidity_2m", "apparent_temperature",
			"precipitation", "weather_code", "cloud_cover", "pressure_msl",
			"wind_speed_10m", "wind_direction_10m",
		}, ","))
		values.Set("hourly", "temperature_2m,precipitation,weather_code,wind_speed_10m")
		values.Set("forecast_days", "2")
	case weather.KindForecast:
		values.Set("daily", strings.Join([]string{
			"weather_code", "temperature_2m_max", "temperature_2m_min",
			"precipitation_sum", "wind_speed_10m_max",
		}, ","))
		values.Set("forecast_days", fmt.Sprintf("%d", q.Days))
	case weather.KindSun:
		values.Set("daily", "sunrise,sunset")
		values.Set("forecast_days", "1")
	}

	return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !p.Supports(q.Kind) {
		return nil, apperrors.Validation("openmeteo does not serve %q queries", q.Kind)
	}

	raw, err := p.policy.Execute(ctx, func() (*http.Request, error) { return p.Request(q) })
	if err != nil {
		return nil, err
	}

	var payload openMeteoPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, apperrors.Schema(p.name, "response is not valid JSON")
	}

	switch q.Kind {
	case weather.KindCurrent:
		return p.normalizeCurrent(payload)
	case weather.KindForecast:
		return p.normalizeDaily(payload)
	default:
		return p.normalizeSun(payload)
	}
}

type openMeteoPayload struct {
	Current struct {
		Time                string   `json:"time"`
		Temperature2m       *float64 `json:"temperature_2m"`
		RelativeHumidity2m  *float64 `json:"relative_humidity_2m"`
		ApparentTemperature *float64 `json:"apparent_temperature"`
		Precipitation       float64  `json:"precipitation"`
		WeatherCode         int      `json:"weather_code"`
		CloudCover          *float64 `json:"cloud_cover"`
		PressureMsl         *float64 `json:"pressure_msl"`
		WindSpeed10m        float64  `json:"wind_speed_10m"`
		WindDirection10m    *float64 `json:"wind_direction_10m"`
	} `json:"current"`
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature2m []float64 `json:"temperature_2m"`
		Precipitation []float64 `json:"precipitation"`
		WeatherCode   []int     `json:"weather_code"`
		WindSpeed10m  []float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
	Daily struct {
		Time             []string  `json:"time"`
		WeatherCode      []int     `json:"weather_code"`
		Temperature2mMax []float64 `json:"temperature_2m_max"`
		Temperature2mMin []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
		WindSpeed10mMax  []float64 `json:"wind_speed_10m_max"`
		Sunrise          []string  `json:"sunrise"`
		Sunset           []string  `json:"sunset"`
	} `json:"daily"`
}

func (p *OpenMeteoProvider) normalizeCurrent(payload openMeteoPayload) (*weather.NormalizedResult, error) {
	if payload.Current.Time == "" || payload.Current.Temperature2m == nil {
		return nil, apperrors.Schema(p.name, "missing current block")
	}

	cur := &weather.CurrentConditions{
		Timestamp:        parseTimeOrNow(openMeteoTimeLayout, payload.Current.Time),
		TemperatureC:     *payload.Current.Temperature2m,
		FeelsLikeC:       payload.Current.ApparentTemperature,
		HumidityPct:      payload.Current.RelativeHumidity2m,
		WindSpeedMS:      payload.Current.WindSpeed10m,
		WindDirectionDeg: payload.Current.WindDirection10m,
		PressureHPa:      payload.Current.PressureMsl,
		PrecipMM:         payload.Current.Precipitation,
		CloudCoverPct:    payload.Current.CloudCover,
		Condition:        conditionFromWMOCode(payload.Current.WeatherCode),
	}

	result := &weather.NormalizedResult{Current: cur}

	// The hourly series rides along with current queries; arrays must be
	// parallel or the whole series is rejected.
	h := payload.Hourly
	if len(h.Time) > 0 {
		if len(h.Temperature2m) != len(h.Time) || len(h.Precipitation) != len(h.Time) ||
			len(h.WeatherCode) != len(h.Time) || len(h.WindSpeed10m) != len(h.Time) {
			return nil, apperrors.Schema(p.name, "hourly arrays are not parallel")
		}
		result.Hourly = make([]weather.HourlyPoint, len(h.Time))
		for i := range h.Time {
			result.Hourly[i] = weather.HourlyPoint{
				Timestamp:    parseTimeOrNow(openMeteoTimeLayout, h.Time[i]),
				TemperatureC: h.Temperature2m[i],
				PrecipMM:     h.Precipitation[i],
				WindSpeedMS:  h.WindSpeed10m[i],
				Condition:    conditionFromWMOCode(h.WeatherCode[i]),
			}
		}
	}
	return result, nil
}

func (p *OpenMeteoProvider) normalizeDaily(payload openMeteoPayload) (*weather.NormalizedResult, error) {
	d := payload.Daily
	if len(d.Time) == 0 {
		return nil, apperrors.Schema(p.name, "empty daily series")
	}
	if len(d.Temperature2mMax) != len(d.Time) || len(d.Temperature2mMin) != len(d.Time) ||
		len(d.PrecipitationSum) != len(d.Time) || len(d.WeatherCode) != len(d.Time) ||
		len(d.WindSpeed10mMax) != len(d.Time) {
		return nil, apperrors.Schema(p.name, "daily arrays are not parallel")
	}

	daily := make([]weather.DailyPoint, len(d.Time))
	for i := range d.Time {
		daily[i] = weather.DailyPoint{
			Date:        parseTimeOrNow("2006-01-02", d.Time[i]),
			MinTempC:    d.Temperature2mMin[i],
			MaxTempC:    d.Temperature2mMax[i],
			PrecipMM:    d.PrecipitationSum[i],
			WindSpeedMS: d.WindSpeed10mMax[i],
			Condition:   conditionFromWMOCode(d.WeatherCode[i]),
		}
	}
	return &weather.NormalizedResult{Daily: daily}, nil
}

func (p *OpenMeteoProvider) normalizeSun(payload openMeteoPayload) (*weather.NormalizedResult, error) {
	d := payload.Daily
	if len(d.Sunrise) == 0 || len(d.Sunset) == 0 {
		return nil, apperrors.Schema(p.name, "missing sunrise/sunset")
	}
	sunrise, err := time.Parse(openMeteoTimeLayout, d.Sunrise[0])
	if err != nil {
		return nil, apperrors.Schema(p.name, "unparseable sunrise timestamp")
	}
	sunset, err := time.Parse(openMeteoTimeLayout, d.Sunset[0])
	if err != nil {
		return nil, apperrors.Schema(p.name, "unparseable sunset timestamp")
	}
	return &weather.NormalizedResult{
		Sun: &weather.SunEvents{Sunrise: sunrise.UTC(), Sunset: sunset.UTC()},
	}, nil
}

// conditionFromWMOCode maps WMO weather interpretation codes to the
// normalized condition set.
func conditionFromWMOCode(code int) weather.Condition {
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code >= 45 && code <= 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
