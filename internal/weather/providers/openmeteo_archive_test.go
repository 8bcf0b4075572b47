package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdash/internal/weather"
)

func TestOpenMeteoArchiveHistorical(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{
		  "daily": {
		    "time": ["2024-01-01", "2024-01-02"],
		    "weather_code": [0, 61],
		    "temperature_2m_max": [3.0, 5.5],
		    "temperature_2m_min": [-2.0, 1.0],
		    "precipitation_sum": [0.0, 6.1],
		    "wind_speed_10m_max": [4.0, 11.2]
		  }
		}`))
	}))
	defer srv.Close()

	p := NewOpenMeteoArchiveProvider(srv.Client())
	p.baseURL = srv.URL

	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	res, err := p.Fetch(context.Background(), weather.Query{
		Kind: weather.KindHistorical, Coords: berlin(), From: from, To: to,
	})
	require.NoError(t, err)
	require.Len(t, res.Daily, 2)
	assert.Equal(t, weather.ConditionClear, res.Daily[0].Condition)
	assert.Equal(t, 6.1, res.Daily[1].PrecipMM)
	assert.Contains(t, gotQuery, "start_date=2024-01-01")
	assert.Contains(t, gotQuery, "end_date=2024-01-02")
}

func TestOpenMeteoArchiveRejectsNonHistorical(t *testing.T) {
	p := NewOpenMeteoArchiveProvider(http.DefaultClient)
	assert.False(t, p.Supports(weather.KindCurrent))

	_, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindCurrent, Coords: berlin()})
	require.Error(t, err)
}
