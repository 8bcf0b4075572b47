package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/fetch"
	"weatherdash/internal/weather"
)

// NominatimProvider reverse-geocodes coordinates through the OpenStreetMap
// Nominatim API. Free tier, no key; the usage policy requires a custom
// User-Agent.
type NominatimProvider struct {
	name      string
	baseURL   string
	userAgent string
	policy    *fetch.Policy
}

func NewNominatimProvider(client *http.Client, opts ...fetch.Option) *NominatimProvider {
	return &NominatimProvider{
		name:      "nominatim",
		baseURL:   "https://nominatim.openstreetmap.org/reverse",
		userAgent: "weatherdash/1.0",
		policy:    fetch.NewPolicy("nominatim", client, opts...),
	}
}

func (p *NominatimProvider) Name() string { return p.name }

func (p *NominatimProvider) Supports(kind weather.Kind) bool {
	return kind == weather.KindLocation
}

func (p *NominatimProvider) Request(q weather.Query) (*http.Request, error) {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%.4f", q.Coords.Lat))
	values.Set("lon", fmt.Sprintf("%.4f", q.Coords.Lon))
	values.Set("format", "json")

	req, err := http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	return req, nil
}

func (p *NominatimProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Kind != weather.KindLocation {
		return nil, apperrors.Validation("nominatim only serves location queries")
	}

	raw, err := p.policy.Execute(ctx, func() (*http.Request, error) { return p.Request(q) })
	if err != nil {
		return nil, err
	}

	var payload struct {
		DisplayName string `json:"display_name"`
		Address     struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, apperrors.Schema(p.name, "response is not valid JSON")
	}
	if payload.DisplayName == "" {
		return nil, apperrors.Schema(p.name, "no address for coordinates")
	}

	name := payload.Address.City
	if name == "" {
		name = payload.Address.Town
	}
	if name == "" {
		name = payload.Address.Village
	}
	if name == "" {
		name = payload.DisplayName
	}

	return &weather.NormalizedResult{
		Location: &weather.Location{
			Name:    name,
			Region:  payload.Address.State,
			Country: payload.Address.Country,
			Coords:  q.Coords,
		},
	}, nil
}
