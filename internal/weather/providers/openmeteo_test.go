package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/logger"
	"weatherdash/internal/weather"
)

func TestMain(m *testing.M) {
	logger.IsTest = true
	os.Exit(m.Run())
}

func berlin() weather.Coordinates { return weather.Coordinates{Lat: 52.52, Lon: 13.405} }

func serveFixture(t *testing.T, fixture string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fixture))
	}))
}

const openMeteoCurrentFixture = `{
  "current": {
    "time": "2026-03-01T12:00",
    "temperature_2m": 4.5,
    "relative_humidity_2m": 81,
    "apparent_temperature": 1.2,
    "precipitation": 0.3,
    "weather_code": 61,
    "cloud_cover": 90,
    "pressure_msl": 1009.4,
    "wind_speed_10m": 5.1,
    "wind_direction_10m": 240
  },
  "hourly": {
    "time": ["2026-03-01T12:00", "2026-03-01T13:00"],
    "temperature_2m": [4.5, 4.8],
    "precipitation": [0.3, 0.0],
    "weather_code": [61, 3],
    "wind_speed_10m": [5.1, 4.2]
  }
}`

func TestOpenMeteoCurrent(t *testing.T) {
	srv := serveFixture(t, openMeteoCurrentFixture)
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindCurrent, Coords: berlin()})
	require.NoError(t, err)
	require.NotNil(t, res.Current)

	cur := res.Current
	assert.Equal(t, time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC), cur.Timestamp)
	assert.Equal(t, 4.5, cur.TemperatureC)
	assert.Equal(t, 1.2, *cur.FeelsLikeC)
	assert.Equal(t, 81.0, *cur.HumidityPct)
	assert.Equal(t, 5.1, cur.WindSpeedMS)
	assert.Equal(t, 1009.4, *cur.PressureHPa)
	assert.Equal(t, weather.ConditionRain, cur.Condition, "WMO code 61 is rain")

	require.Len(t, res.Hourly, 2)
	assert.Equal(t, weather.ConditionCloudy, res.Hourly[1].Condition)
}

func TestOpenMeteoForecast(t *testing.T) {
	srv := serveFixture(t, `{
	  "daily": {
	    "time": ["2026-03-01", "2026-03-02"],
	    "weather_code": [3, 71],
	    "temperature_2m_max": [6.0, 2.0],
	    "temperature_2m_min": [1.0, -3.0],
	    "precipitation_sum": [0.0, 4.2],
	    "wind_speed_10m_max": [7.5, 9.0]
	  }
	}`)
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindForecast, Coords: berlin(), Days: 2})
	require.NoError(t, err)
	require.Len(t, res.Daily, 2)
	assert.Equal(t, -3.0, res.Daily[1].MinTempC)
	assert.Equal(t, weather.ConditionSnow, res.Daily[1].Condition)
	assert.Equal(t, time.March, res.Daily[0].Date.Month())
}

func TestOpenMeteoSunEvents(t *testing.T) {
	srv := serveFixture(t, `{
	  "daily": {
	    "time": ["2026-03-01"],
	    "sunrise": ["2026-03-01T06:02"],
	    "sunset": ["2026-03-01T17:48"]
	  }
	}`)
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindSun, Coords: berlin()})
	require.NoError(t, err)
	require.NotNil(t, res.Sun)
	assert.Equal(t, 6, res.Sun.Sunrise.Hour())
	assert.Equal(t, 17, res.Sun.Sunset.Hour())
}

func TestOpenMeteoRejectsNonParallelHourly(t *testing.T) {
	srv := serveFixture(t, `{
	  "current": {"time": "2026-03-01T12:00", "temperature_2m": 4.5},
	  "hourly": {
	    "time": ["2026-03-01T12:00", "2026-03-01T13:00"],
	    "temperature_2m": [4.5],
	    "precipitation": [0.3, 0.0],
	    "weather_code": [61, 3],
	    "wind_speed_10m": [5.1, 4.2]
	  }
	}`)
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client())
	p.baseURL = srv.URL

	_, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindCurrent, Coords: berlin()})
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeSchema, apperrors.TypeOf(err))
}

func TestOpenMeteoRejectsMissingCurrent(t *testing.T) {
	srv := serveFixture(t, `{}`)
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client())
	p.baseURL = srv.URL

	_, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindCurrent, Coords: berlin()})
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeSchema, apperrors.TypeOf(err))
}

func TestOpenMeteoRejectsUnsupportedKind(t *testing.T) {
	p := NewOpenMeteoProvider(http.DefaultClient)
	_, err := p.Fetch(context.Background(), weather.Query{Kind: weather.KindAlerts, Coords: berlin()})
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
}

func TestConditionFromWMOCode(t *testing.T) {
	tests := []struct {
		code int
		want weather.Condition
	}{
		{0, weather.ConditionClear},
		{2, weather.ConditionCloudy},
		{45, weather.ConditionMist},
		{55, weather.ConditionRain},
		{66, weather.ConditionRain},
		{81, weather.ConditionRain},
		{73, weather.ConditionSnow},
		{86, weather.ConditionSnow},
		{95, weather.ConditionStorm},
		{99, weather.ConditionStorm},
		{42, weather.ConditionUnknown},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, conditionFromWMOCode(tc.code), "code %d", tc.code)
	}
}
