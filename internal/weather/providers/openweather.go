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

// OpenWeatherProvider serves current conditions from OpenWeatherMap.
// Requires an API key; metric units are requested so only precipitation
// needs no conversion.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	policy  *fetch.Policy
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...fetch.Option) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		policy:  fetch.NewPolicy("openweathermap", client, opts...),
	}
}

func (p *OpenWeatherProvider) Name() string { return p.name }

func (p *OpenWeatherProvider) Supports(kind weather.Kind) bool {
	return kind == weather.KindCurrent
}

func (p *OpenWeatherProvider) Request(q weather.Query) (*http.Request, error) {
	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	values.Set("lat", fmt.Sprintf("%.4f", q.Coords.Lat))
	values.Set("lon", fmt.Sprintf("%.4f", q.Coords.Lon))

	return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Kind != weather.KindCurrent {
		return nil, apperrors.Validation("openweathermap only serves current queries")
	}
	if p.apiKey == "" {
		return nil, apperrors.Validation("openweathermap api key is not configured")
	}

	raw, err := p.policy.Execute(ctx, func() (*http.Request, error) { return p.Request(q) })
	if err != nil {
		return nil, err
	}

	var payload struct {
		Dt   int64 `json:"dt"`
		Main *struct {
			Temp      float64  `json:"temp"`
			FeelsLike *float64 `json:"feels_like"`
			Humidity  *float64 `json:"humidity"`
			Pressure  *float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64  `json:"speed"`
			Deg   *float64 `json:"deg"`
		} `json:"wind"`
		Clouds struct {
			All *float64 `json:"all"`
		} `json:"clouds"`
		Rain struct {
			OneH   float64 `json:"1h"`
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Snow struct {
			OneH float64 `json:"1h"`
		} `json:"snow"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, apperrors.Schema(p.name, "response is not valid JSON")
	}
	if payload.Main == nil {
		return nil, apperrors.Schema(p.name, "missing main block")
	}

	ts := time.Unix(payload.Dt, 0).UTC()
	if payload.Dt == 0 {
		ts = time.Now().UTC()
	}

	precip := payload.Rain.OneH
	if precip == 0 {
		precip = payload.Rain.ThreeH
	}
	precip += payload.Snow.OneH

	cond := mapOpenWeatherCondition(payload.Weather)
	if cond == weather.ConditionUnknown {
		cond = weather.ConditionFromPrecip(precip, payload.Main.Temp)
	}

	result := &weather.NormalizedResult{
		Current: &weather.CurrentConditions{
			Timestamp:        ts,
			TemperatureC:     payload.Main.Temp,
			FeelsLikeC:       payload.Main.FeelsLike,
			HumidityPct:      payload.Main.Humidity,
			WindSpeedMS:      payload.Wind.Speed,
			WindDirectionDeg: payload.Wind.Deg,
			PressureHPa:      payload.Main.Pressure,
			PrecipMM:         precip,
			CloudCoverPct:    payload.Clouds.All,
			Condition:        cond,
		},
	}
	if payload.Name != "" {
		result.Location = &weather.Location{Name: payload.Name, Coords: q.Coords}
	}
	return result, nil
}

func mapOpenWeatherCondition(items []struct {
	Main string `json:"main"`
}) weather.Condition {
	if len(items) == 0 {
		return weather.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
