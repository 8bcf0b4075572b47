package weather

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/cache"
)

type stubProvider struct {
	name  string
	kinds map[Kind]bool
	calls int32
	fetch func(ctx context.Context, q Query) (*NormalizedResult, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Supports(kind Kind) bool {
	if s.kinds == nil {
		return true
	}
	return s.kinds[kind]
}

func (s *stubProvider) Fetch(ctx context.Context, q Query) (*NormalizedResult, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fetch(ctx, q)
}

// replayableProvider additionally describes its request for the retry queue.
type replayableProvider struct {
	stubProvider
	url string
}

func (r *replayableProvider) Request(q Query) (*http.Request, error) {
	return http.NewRequest(http.MethodGet, r.url, nil)
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, method, url string, header http.Header, body []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return "id-1", nil
}

func okProvider(name string) *stubProvider {
	return &stubProvider{
		name: name,
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) {
			return &NormalizedResult{Current: &CurrentConditions{TemperatureC: 20, Condition: ConditionClear}}, nil
		},
	}
}

func failProvider(name string, err error) *stubProvider {
	return &stubProvider{
		name:  name,
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) { return nil, err },
	}
}

func testCoords() Coordinates { return Coordinates{Lat: 52.52, Lon: 13.405} }

func TestAggregatorPrimarySuccess(t *testing.T) {
	primary := okProvider("primary")
	secondary := okProvider("secondary")
	agg := NewAggregator([]Provider{primary, secondary}, cache.NewResponseCache[*NormalizedResult](64))

	res, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Provider)
	assert.False(t, res.FromCache)
	assert.EqualValues(t, 1, primary.calls)
	assert.EqualValues(t, 0, secondary.calls, "priority mode must not touch the fallback on success")
}

func TestAggregatorFallsBackOnRateLimit(t *testing.T) {
	primary := failProvider("primary", apperrors.FromStatus(http.StatusTooManyRequests, "primary"))
	secondary := okProvider("secondary")
	agg := NewAggregator([]Provider{primary, secondary}, cache.NewResponseCache[*NormalizedResult](64))

	res, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "secondary", res.Provider)
	require.Len(t, res.Sources, 2, "provenance records the failed primary too")
	assert.False(t, res.Sources[0].Success)
	assert.Equal(t, "primary", res.Sources[0].Provider)
	assert.True(t, res.Sources[1].Success)
}

func TestAggregatorCachesSuccess(t *testing.T) {
	primary := okProvider("primary")
	agg := NewAggregator([]Provider{primary}, cache.NewResponseCache[*NormalizedResult](64))

	_, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.NoError(t, err)

	res, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.EqualValues(t, 1, primary.calls, "the second read is served from cache")
}

func TestAggregatorServesStaleWhenAllFail(t *testing.T) {
	respCache := cache.NewResponseCache[*NormalizedResult](64)
	q := Query{Kind: KindCurrent, Coords: testCoords()}
	respCache.Set(q.Fingerprint(),
		&NormalizedResult{Current: &CurrentConditions{TemperatureC: 7, Condition: ConditionRain}},
		-time.Second) // already expired

	down := failProvider("down", apperrors.Network(assert.AnError, "down"))
	agg := NewAggregator([]Provider{down}, respCache)

	res, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.NoError(t, err, "stale data beats an error when the network is gone")
	assert.True(t, res.Stale)
	require.NotNil(t, res.Data.Current)
	assert.Equal(t, 7.0, res.Data.Current.TemperatureC)
}

func TestAggregatorAllFailNoCache(t *testing.T) {
	agg := NewAggregator([]Provider{
		failProvider("a", apperrors.FromStatus(http.StatusInternalServerError, "a")),
		failProvider("b", apperrors.Network(assert.AnError, "b")),
	}, cache.NewResponseCache[*NormalizedResult](64))

	_, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.Error(t, err)
	require.True(t, apperrors.IsAllProvidersFailed(err))

	var agge *apperrors.AggregateError
	require.ErrorAs(t, err, &agge)
	require.Len(t, agge.Failures, 2)
	assert.Equal(t, "a", agge.Failures[0].Provider)
	assert.NotEmpty(t, agge.Failures[0].Message)
}

func TestAggregatorEnqueuesReplayOnTransientFailure(t *testing.T) {
	enq := &recordingEnqueuer{}
	down := &replayableProvider{
		stubProvider: *failProvider("down", apperrors.Network(assert.AnError, "down")),
		url:          "https://api.example.test/v1/forecast?latitude=52.52",
	}
	agg := NewAggregator([]Provider{down}, cache.NewResponseCache[*NormalizedResult](64), WithQueue(enq))

	_, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.Error(t, err)
	require.Len(t, enq.urls, 1)
	assert.Equal(t, down.url, enq.urls[0])
}

func TestAggregatorDoesNotEnqueueClientErrors(t *testing.T) {
	enq := &recordingEnqueuer{}
	rejected := &replayableProvider{
		stubProvider: *failProvider("rejected", apperrors.FromStatus(http.StatusUnauthorized, "rejected")),
		url:          "https://api.example.test/v1/current",
	}
	agg := NewAggregator([]Provider{rejected}, cache.NewResponseCache[*NormalizedResult](64), WithQueue(enq))

	_, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.Error(t, err)
	assert.Empty(t, enq.urls, "a 4xx replays identically; queuing it would be useless")
}

func TestAggregatorRaceTakesFirstSuccess(t *testing.T) {
	slow := &stubProvider{
		name: "slow",
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) {
			time.Sleep(200 * time.Millisecond)
			return &NormalizedResult{Current: &CurrentConditions{TemperatureC: 1}}, nil
		},
	}
	fast := &stubProvider{
		name: "fast",
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) {
			return &NormalizedResult{Current: &CurrentConditions{TemperatureC: 2}}, nil
		},
	}
	agg := NewAggregator([]Provider{slow, fast}, cache.NewResponseCache[*NormalizedResult](64), WithMode(PolicyRace))

	started := time.Now()
	res, err := agg.GetWeather(context.Background(), testCoords(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Provider)
	assert.Less(t, time.Since(started), 150*time.Millisecond, "winner must not wait for the slow source")
}

func TestAggregatorCollapsesConcurrentIdenticalRequests(t *testing.T) {
	gate := make(chan struct{})
	slow := &stubProvider{
		name: "slow",
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) {
			<-gate
			return &NormalizedResult{Current: &CurrentConditions{TemperatureC: 3}}, nil
		},
	}
	agg := NewAggregator([]Provider{slow}, cache.NewResponseCache[*NormalizedResult](64))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = agg.GetWeather(context.Background(), testCoords(), Options{})
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let every caller reach the singleflight
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&slow.calls), "identical in-flight requests share one fetch")
}

func TestAggregatorSkipsUnsupportedProviders(t *testing.T) {
	currentOnly := &stubProvider{
		name:  "current-only",
		kinds: map[Kind]bool{KindCurrent: true},
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) {
			return &NormalizedResult{}, nil
		},
	}
	sunSource := &stubProvider{
		name:  "sun-source",
		kinds: map[Kind]bool{KindSun: true},
		fetch: func(ctx context.Context, q Query) (*NormalizedResult, error) {
			return &NormalizedResult{Sun: &SunEvents{}}, nil
		},
	}
	agg := NewAggregator([]Provider{currentOnly, sunSource}, cache.NewResponseCache[*NormalizedResult](64))

	res, err := agg.GetSunEvents(context.Background(), testCoords())
	require.NoError(t, err)
	assert.Equal(t, "sun-source", res.Provider)
	assert.EqualValues(t, 0, currentOnly.calls)
}

func TestAggregatorRejectsInvalidQuery(t *testing.T) {
	primary := okProvider("primary")
	agg := NewAggregator([]Provider{primary}, cache.NewResponseCache[*NormalizedResult](64))

	_, err := agg.GetWeather(context.Background(), Coordinates{Lat: 200}, Options{})
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
	assert.EqualValues(t, 0, primary.calls)
}
