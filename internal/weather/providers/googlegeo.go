package providers

import (
	"context"

	"github.com/kelvins/geocoder"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/weather"
)

// GoogleGeocoderProvider resolves location details through the Google
// Geocoding API via the kelvins/geocoder client. It is the authoritative
// geocoding source when GEOCODER_API_KEY is configured; without a key the
// free-tier Nominatim provider covers the same query kind.
//
// The library manages its own HTTP transport, so the shared fetch policy
// does not apply here; its failures are classified as network errors and
// the aggregator's fallback ordering provides the resilience.
type GoogleGeocoderProvider struct {
	name string
}

func NewGoogleGeocoderProvider(apiKey string) *GoogleGeocoderProvider {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoderProvider{name: "google-geocoder"}
}

func (p *GoogleGeocoderProvider) Name() string { return p.name }

func (p *GoogleGeocoderProvider) Supports(kind weather.Kind) bool {
	return kind == weather.KindLocation
}

func (p *GoogleGeocoderProvider) Fetch(_ context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Kind != weather.KindLocation {
		return nil, apperrors.Validation("google-geocoder only serves location queries")
	}
	if geocoder.ApiKey == "" {
		return nil, apperrors.Validation("google geocoder api key is not configured")
	}

	addresses, err := geocoder.GeocodingReverse(geocoder.Location{
		Latitude:  q.Coords.Lat,
		Longitude: q.Coords.Lon,
	})
	if err != nil {
		return nil, apperrors.Network(err, p.name)
	}
	if len(addresses) == 0 {
		return nil, apperrors.Schema(p.name, "no locality for coordinates")
	}
	address := addresses[0]

	name := address.City
	if name == "" {
		name = address.District
	}
	if name == "" {
		return nil, apperrors.Schema(p.name, "no locality for coordinates")
	}

	return &weather.NormalizedResult{
		Location: &weather.Location{
			Name:    name,
			Region:  address.State,
			Country: address.Country,
			Coords:  q.Coords,
		},
	}, nil
}
