package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/fetch"
	"weatherdash/internal/weather"
)

// OpenMeteoArchiveProvider serves historical daily series from the
// Open-Meteo archive API. No API key required.
type OpenMeteoArchiveProvider struct {
	name    string
	baseURL string
	policy  *fetch.Policy
}

func NewOpenMeteoArchiveProvider(client *http.Client, opts ...fetch.Option) *OpenMeteoArchiveProvider {
	return &OpenMeteoArchiveProvider{
		name:    "openmeteo-archive",
		baseURL: "https://archive-api.open-meteo.com/v1/archive",
		policy:  fetch.NewPolicy("openmeteo-archive", client, opts...),
	}
}

func (p *OpenMeteoArchiveProvider) Name() string { return p.name }

func (p *OpenMeteoArchiveProvider) Supports(kind weather.Kind) bool {
	return kind == weather.KindHistorical
}

func (p *OpenMeteoArchiveProvider) Request(q weather.Query) (*http.Request, error) {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%.4f", q.Coords.Lat))
	values.Set("longitude", fmt.Sprintf("%.4f", q.Coords.Lon))
	values.Set("start_date", q.From.UTC().Format("2006-01-02"))
	values.Set("end_date", q.To.UTC().Format("2006-01-02"))
	values.Set("timezone", "UTC")
	values.Set("wind_speed_unit", "ms")
	values.Set("daily", strings.Join([]string{
		"weather_code", "temperature_2m_max", "temperature_2m_min",
		"precipitation_sum", "wind_speed_10m_max",
	}, ","))

	return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
}

func (p *OpenMeteoArchiveProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Kind != weather.KindHistorical {
		return nil, apperrors.Validation("openmeteo-archive only serves historical queries")
	}

	raw, err := p.policy.Execute(ctx, func() (*http.Request, error) { return p.Request(q) })
	if err != nil {
		return nil, err
	}

	var payload struct {
		Daily struct {
			Time             []string  `json:"time"`
			WeatherCode      []int     `json:"weather_code"`
			Temperature2mMax []float64 `json:"temperature_2m_max"`
			Temperature2mMin []float64 `json:"temperature_2m_min"`
			PrecipitationSum []float64 `json:"precipitation_sum"`
			WindSpeed10mMax  []float64 `json:"wind_speed_10m_max"`
		} `json:"daily"`
	}
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, apperrors.Schema(p.name, "response is not valid JSON")
	}

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
