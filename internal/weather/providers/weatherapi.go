package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/fetch"
	"weatherdash/internal/weather"
)

// WeatherAPIProvider serves current conditions and daily forecasts from
// WeatherAPI.com. Requires an API key. Native units are kph and millibar;
// both are converted on the way in.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	policy  *fetch.Policy
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, opts ...fetch.Option) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1",
		policy:  fetch.NewPolicy("weatherapi", client, opts...),
	}
}

func (p *WeatherAPIProvider) Name() string { return p.name }

func (p *WeatherAPIProvider) Supports(kind weather.Kind) bool {
	switch kind {
	case weather.KindCurrent, weather.KindForecast:
		return true
	}
	return false
}

func (p *WeatherAPIProvider) Request(q weather.Query) (*http.Request, error) {
	values := url.Values{}
	values.Set("key", p.apiKey)
	values.Set("q", fmt.Sprintf("%.4f,%.4f", q.Coords.Lat, q.Coords.Lon))

	endpoint := p.baseURL + "/current.json"
	if q.Kind == weather.KindForecast {
		endpoint = p.baseURL + "/forecast.json"
		values.Set("days", fmt.Sprintf("%d", q.Days))
	}
	return http.NewRequest(http.MethodGet, endpoint+"?"+values.Encode(), nil)
}

type weatherAPICurrent struct {
	LastUpdatedEpoch int64    `json:"last_updated_epoch"`
	TempC            float64  `json:"temp_c"`
	FeelslikeC       *float64 `json:"feelslike_c"`
	Humidity         *float64 `json:"humidity"`
	WindKph          float64  `json:"wind_kph"`
	WindDegree       *float64 `json:"wind_degree"`
	PressureMb       *float64 `json:"pressure_mb"`
	PrecipMm         float64  `json:"precip_mm"`
	Cloud            *float64 `json:"cloud"`
	Condition        struct {
		Text string `json:"text"`
	} `json:"condition"`
}

type weatherAPIPayload struct {
	Location *struct {
		Name    string  `json:"name"`
		Region  string  `json:"region"`
		Country string  `json:"country"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		TzID    string  `json:"tz_id"`
	} `json:"location"`
	Current  *weatherAPICurrent `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			DateEpoch int64 `json:"date_epoch"`
			Day       struct {
				MaxTempC      float64 `json:"maxtemp_c"`
				MinTempC      float64 `json:"mintemp_c"`
				MaxWindKph    float64 `json:"maxwind_kph"`
				TotalPrecipMm float64 `json:"totalprecip_mm"`
				Condition     struct {
					Text string `json:"text"`
				} `json:"condition"`
			} `json:"day"`
			Astro struct {
				Sunrise string `json:"sunrise"`
				Sunset  string `json:"sunset"`
			} `json:"astro"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !p.Supports(q.Kind) {
		return nil, apperrors.Validation("weatherapi does not serve %q queries", q.Kind)
	}
	if p.apiKey == "" {
		return nil, apperrors.Validation("weatherapi api key is not configured")
	}

	raw, err := p.policy.Execute(ctx, func() (*http.Request, error) { return p.Request(q) })
	if err != nil {
		return nil, err
	}

	var payload weatherAPIPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, apperrors.Schema(p.name, "response is not valid JSON")
	}

	result := &weather.NormalizedResult{}
	if payload.Location != nil {
		result.Location = &weather.Location{
			Name:    payload.Location.Name,
			Region:  payload.Location.Region,
			Country: payload.Location.Country,
			Coords: weather.Coordinates{
				Lat: payload.Location.Lat,
				Lon: payload.Location.Lon,
			},
			Timezone: payload.Location.TzID,
		}
	}

	switch q.Kind {
	case weather.KindCurrent:
		if payload.Current == nil {
			return nil, apperrors.Schema(p.name, "missing current block")
		}
		result.Current = normalizeWeatherAPICurrent(payload.Current)
	case weather.KindForecast:
		days := payload.Forecast.ForecastDay
		if len(days) == 0 {
			return nil, apperrors.Schema(p.name, "empty forecast series")
		}
		result.Daily = make([]weather.DailyPoint, len(days))
		for i, fd := range days {
			result.Daily[i] = weather.DailyPoint{
				Date:        time.Unix(fd.DateEpoch, 0).UTC(),
				MinTempC:    fd.Day.MinTempC,
				MaxTempC:    fd.Day.MaxTempC,
				PrecipMM:    fd.Day.TotalPrecipMm,
				WindSpeedMS: fd.Day.MaxWindKph * kphToMS,
				Condition:   mapWeatherAPICondition(fd.Day.Condition.Text),
			}
		}
	}
	return result, nil
}

func normalizeWeatherAPICurrent(cur *weatherAPICurrent) *weather.CurrentConditions {
	ts := time.Unix(cur.LastUpdatedEpoch, 0).UTC()
	if cur.LastUpdatedEpoch == 0 {
		ts = time.Now().UTC()
	}

	var pressure *float64
	if cur.PressureMb != nil {
		// millibar and hPa are numerically identical
		pressure = weather.Float(*cur.PressureMb)
	}

	cond := mapWeatherAPICondition(cur.Condition.Text)
	if cond == weather.ConditionUnknown {
		cond = weather.ConditionFromPrecip(cur.PrecipMm, cur.TempC)
	}

	return &weather.CurrentConditions{
		Timestamp:        ts,
		TemperatureC:     cur.TempC,
		FeelsLikeC:       cur.FeelslikeC,
		HumidityPct:      cur.Humidity,
		WindSpeedMS:      cur.WindKph * kphToMS,
		WindDirectionDeg: cur.WindDegree,
		PressureHPa:      pressure,
		PrecipMM:         cur.PrecipMm,
		CloudCoverPct:    cur.Cloud,
		Condition:        cond,
	}
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case hasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case hasAny(text, "snow", "sleet", "blizzard", "ice"):
		return weather.ConditionSnow
	case hasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case hasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case hasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case hasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
