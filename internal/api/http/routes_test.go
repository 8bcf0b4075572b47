package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/cache"
	"weatherdash/internal/logger"
	"weatherdash/internal/queue"
	"weatherdash/internal/weather"
)

func TestMain(m *testing.M) {
	logger.IsTest = true
	os.Exit(m.Run())
}

type stubProvider struct {
	name  string
	fetch func(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error)
}

func (s *stubProvider) Name() string                    { return s.name }
func (s *stubProvider) Supports(kind weather.Kind) bool { return true }
func (s *stubProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	return s.fetch(ctx, q)
}

func newTestApp(providers []weather.Provider, retryQueue *queue.Queue) *fiber.App {
	app := fiber.New()
	agg := weather.NewAggregator(providers, cache.NewResponseCache[*weather.NormalizedResult](64))
	RegisterRoutes(app, agg, retryQueue)
	return app
}

func healthyProvider(name string) weather.Provider {
	return &stubProvider{
		name: name,
		fetch: func(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
			return &weather.NormalizedResult{
				Current: &weather.CurrentConditions{TemperatureC: 12.5, Condition: weather.ConditionClear},
			}, nil
		},
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestCurrentWeatherEndpoint(t *testing.T) {
	app := newTestApp([]weather.Provider{healthyProvider("primary")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/weather/current?lat=52.52&lon=13.405", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "primary", body["provider"])
	assert.Equal(t, false, body["fromCache"])
	require.NotNil(t, body["data"])
}

func TestCurrentWeatherSecondReadFromCache(t *testing.T) {
	app := newTestApp([]weather.Provider{healthyProvider("primary")}, nil)
	target := "/api/v1/weather/current?lat=52.52&lon=13.405"

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["fromCache"])
}

func TestCoordinateValidation(t *testing.T) {
	app := newTestApp([]weather.Provider{healthyProvider("primary")}, nil)

	tests := []struct {
		name   string
		target string
	}{
		{"missing params", "/api/v1/weather/current"},
		{"non-numeric lat", "/api/v1/weather/current?lat=abc&lon=13.4"},
		{"lat out of range", "/api/v1/weather/current?lat=91&lon=13.4"},
		{"lon out of range", "/api/v1/weather/current?lat=52.5&lon=-181"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tc.target, nil))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestForecastDaysValidation(t *testing.T) {
	app := newTestApp([]weather.Provider{healthyProvider("primary")}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/weather/forecast?lat=52.52&lon=13.405&days=twenty", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Out-of-range days survive parsing but fail aggregator validation.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/weather/forecast?lat=52.52&lon=13.405&days=42", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryRangeValidation(t *testing.T) {
	app := newTestApp([]weather.Provider{healthyProvider("primary")}, nil)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing range", "/api/v1/weather/history?lat=52.52&lon=13.405", http.StatusBadRequest},
		{"inverted range", "/api/v1/weather/history?lat=52.52&lon=13.405&from=2024-02-01&to=2024-01-01", http.StatusBadRequest},
		{"garbage time", "/api/v1/weather/history?lat=52.52&lon=13.405&from=soon&to=later", http.StatusBadRequest},
		{"valid range", "/api/v1/weather/history?lat=52.52&lon=13.405&from=2024-01-01&to=2024-01-07", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tc.target, nil))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAllProvidersFailedReturns502WithDetail(t *testing.T) {
	failing := &stubProvider{
		name: "down",
		fetch: func(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
			return nil, apperrors.Network(assert.AnError, "down")
		},
	}
	app := newTestApp([]weather.Provider{failing}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/weather/current?lat=52.52&lon=13.405", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decodeBody(t, resp)
	providers, ok := body["providers"].([]any)
	require.True(t, ok, "the 502 carries per-provider failure detail")
	require.Len(t, providers, 1)
	detail := providers[0].(map[string]any)
	assert.Equal(t, "down", detail["provider"])
	assert.NotEmpty(t, detail["error"])
}

func TestSystemOnlineDrainsQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	storage, err := queue.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	retryQueue := queue.New(storage, srv.Client())
	id, err := retryQueue.Enqueue(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)

	app := newTestApp([]weather.Provider{healthyProvider("primary")}, retryQueue)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/system/online", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	succeeded, ok := body["succeeded"].([]any)
	require.True(t, ok)
	require.Len(t, succeeded, 1)
	assert.Equal(t, id, succeeded[0])
}

func TestSystemOnlineWithoutQueue(t *testing.T) {
	app := newTestApp([]weather.Provider{healthyProvider("primary")}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/system/online", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["drained"])
}
