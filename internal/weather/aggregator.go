package weather

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/cache"
	"weatherdash/internal/logger"
)

// PolicyMode selects how the aggregator queries its providers on a cache
// miss.
type PolicyMode string

const (
	// PolicyPriority asks the primary provider first and falls back only
	// on failure, minimizing load against rate-limited secondary sources.
	// This is the default.
	PolicyPriority PolicyMode = "priority"
	// PolicyRace asks all eligible providers concurrently and takes the
	// first success; losing calls complete in the background.
	PolicyRace PolicyMode = "race"
)

// DefaultTTLs is the per-kind cache expiry used unless configured.
func DefaultTTLs() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		KindCurrent:    10 * time.Minute,
		KindForecast:   time.Hour,
		KindHistorical: 24 * time.Hour,
		KindSun:        12 * time.Hour,
		KindLocation:   24 * time.Hour,
		KindAlerts:     5 * time.Minute,
	}
}

// Enqueuer is the durable retry queue surface the aggregator needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, method, url string, header http.Header, body []byte) (string, error)
}

// AggregatedResult is the downstream-facing result. Sources carries the
// provenance of every provider attempted during this aggregation.
type AggregatedResult struct {
	Data      *NormalizedResult `json:"data,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	FromCache bool              `json:"fromCache"`
	Stale     bool              `json:"stale"`
	Sources   []ProviderOutcome `json:"sources,omitempty"`
}

// Options tunes one GetWeather call.
type Options struct {
	// Days > 0 requests a daily forecast instead of current conditions.
	Days   int
	Units  Units
	Fields []string
}

// Aggregator orders providers, applies fallback, attaches provenance and
// maintains the response cache. Concurrent calls for the same fingerprint
// collapse into one outstanding network operation.
type Aggregator struct {
	providers []Provider // priority order
	cache     *cache.ResponseCache[*NormalizedResult]
	queue     Enqueuer
	ttls      map[Kind]time.Duration
	mode      PolicyMode
	group     singleflight.Group
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithQueue attaches the durable retry queue for failed retryable fetches.
func WithQueue(q Enqueuer) AggregatorOption { return func(a *Aggregator) { a.queue = q } }

// WithMode selects the provider query policy.
func WithMode(m PolicyMode) AggregatorOption { return func(a *Aggregator) { a.mode = m } }

// WithTTLs overrides per-kind cache expiry.
func WithTTLs(ttls map[Kind]time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		for k, v := range ttls {
			a.ttls[k] = v
		}
	}
}

// NewAggregator creates the aggregator over providers in priority order.
func NewAggregator(providers []Provider, respCache *cache.ResponseCache[*NormalizedResult], opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		providers: providers,
		cache:     respCache,
		ttls:      DefaultTTLs(),
		mode:      PolicyPriority,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// GetWeather returns current conditions (or a daily forecast when
// opts.Days > 0) for the coordinate.
func (a *Aggregator) GetWeather(ctx context.Context, coords Coordinates, opts Options) (*AggregatedResult, error) {
	q := Query{Kind: KindCurrent, Coords: coords, Units: opts.Units, Fields: opts.Fields}
	if opts.Days > 0 {
		q.Kind = KindForecast
		q.Days = opts.Days
	}
	return a.run(ctx, q)
}

// GetLocationDetails resolves location metadata for the coordinate.
func (a *Aggregator) GetLocationDetails(ctx context.Context, coords Coordinates) (*AggregatedResult, error) {
	return a.run(ctx, Query{Kind: KindLocation, Coords: coords})
}

// GetHistorical returns the daily series between from and to.
func (a *Aggregator) GetHistorical(ctx context.Context, coords Coordinates, from, to time.Time) (*AggregatedResult, error) {
	return a.run(ctx, Query{Kind: KindHistorical, Coords: coords, From: from, To: to})
}

// GetSunEvents returns sunrise/sunset for the coordinate.
func (a *Aggregator) GetSunEvents(ctx context.Context, coords Coordinates) (*AggregatedResult, error) {
	return a.run(ctx, Query{Kind: KindSun, Coords: coords})
}

// GetAlerts returns active weather alerts for the coordinate.
func (a *Aggregator) GetAlerts(ctx context.Context, coords Coordinates) (*AggregatedResult, error) {
	return a.run(ctx, Query{Kind: KindAlerts, Coords: coords})
}

func (a *Aggregator) run(ctx context.Context, q Query) (*AggregatedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	fp := q.Fingerprint()
	if entry := a.cache.Get(fp); entry != nil {
		return &AggregatedResult{Data: entry.Value, FromCache: true}, nil
	}

	// Request collapsing: concurrent identical misses share one fetch.
	v, err, _ := a.group.Do(fp, func() (interface{}, error) {
		return a.fetchFresh(ctx, q, fp)
	})
	if v == nil {
		return nil, err
	}
	return v.(*AggregatedResult), err
}

func (a *Aggregator) fetchFresh(ctx context.Context, q Query, fp string) (*AggregatedResult, error) {
	log := logger.GetLogger()

	eligible := a.eligible(q.Kind)
	if len(eligible) == 0 {
		return nil, apperrors.Validation("no provider configured for %q queries", q.Kind)
	}

	var outcomes []ProviderOutcome
	if a.mode == PolicyRace {
		outcomes = a.race(ctx, q, eligible)
	} else {
		outcomes = a.priority(ctx, q, eligible)
	}

	for _, outcome := range outcomes {
		if !outcome.Success {
			continue
		}
		a.cache.Set(fp, outcome.Data, a.ttl(q.Kind))
		return &AggregatedResult{
			Data:     outcome.Data,
			Provider: outcome.Provider,
			Sources:  outcomes,
		}, nil
	}

	// Every provider failed. Queue a durable replay for transient
	// failures, then degrade to stale data when any is resident.
	a.enqueueReplay(ctx, q, eligible, outcomes)

	if entry, _ := a.cache.PeekStale(fp); entry != nil {
		log.Warnw("all providers failed, serving stale cache entry",
			"fingerprint", fp, "storedAt", entry.StoredAt)
		return &AggregatedResult{
			Data:    entry.Value,
			Stale:   true,
			Sources: outcomes,
		}, nil
	}

	failures := make([]apperrors.ProviderFailure, 0, len(outcomes))
	for _, outcome := range outcomes {
		failures = append(failures, apperrors.ProviderFailure{
			Provider: outcome.Provider,
			Err:      outcome.Err,
		})
	}
	return &AggregatedResult{Sources: outcomes}, apperrors.NewAggregate(failures)
}

func (a *Aggregator) eligible(kind Kind) []Provider {
	var out []Provider
	for _, p := range a.providers {
		if p.Supports(kind) {
			out = append(out, p)
		}
	}
	return out
}

func (a *Aggregator) ttl(kind Kind) time.Duration {
	if ttl, ok := a.ttls[kind]; ok {
		return ttl
	}
	return 10 * time.Minute
}

// priority queries providers in order, stopping at the first success.
func (a *Aggregator) priority(ctx context.Context, q Query, providers []Provider) []ProviderOutcome {
	log := logger.GetLogger()

	var outcomes []ProviderOutcome
	for _, p := range providers {
		outcome := callProvider(ctx, p, q)
		outcomes = append(outcomes, outcome)
		if outcome.Success {
			break
		}
		log.Warnw("provider failed, trying fallback",
			"provider", p.Name(), "kind", q.Kind, "error", outcome.Err)
	}
	return outcomes
}

// race queries all providers concurrently and returns once the first
// success arrives (or all have failed). Losing calls finish in the
// background; their results are discarded.
func (a *Aggregator) race(ctx context.Context, q Query, providers []Provider) []ProviderOutcome {
	results := make(chan ProviderOutcome, len(providers))
	for _, p := range providers {
		p := p
		go func() { results <- callProvider(ctx, p, q) }()
	}

	var outcomes []ProviderOutcome
	for range providers {
		outcome := <-results
		outcomes = append(outcomes, outcome)
		if outcome.Success {
			// Drain stragglers without blocking the caller.
			remaining := len(providers) - len(outcomes)
			go func() {
				for i := 0; i < remaining; i++ {
					<-results
				}
			}()
			break
		}
	}
	return outcomes
}

func callProvider(ctx context.Context, p Provider, q Query) ProviderOutcome {
	started := time.Now()
	data, err := p.Fetch(ctx, q)
	outcome := ProviderOutcome{
		Provider:   p.Name(),
		Success:    err == nil,
		Data:       data,
		Err:        err,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

// enqueueReplay persists a replayable description of the primary request
// when the failure was transient, so the durable queue can retry it after
// connectivity returns.
func (a *Aggregator) enqueueReplay(ctx context.Context, q Query, providers []Provider, outcomes []ProviderOutcome) {
	if a.queue == nil {
		return
	}

	retryable := false
	for _, outcome := range outcomes {
		if apperrors.IsRetryable(outcome.Err) {
			retryable = true
			break
		}
	}
	if !retryable {
		return
	}

	for _, p := range providers {
		replayable, ok := p.(Replayable)
		if !ok {
			continue
		}
		req, err := replayable.Request(q)
		if err != nil {
			continue
		}
		if _, err := a.queue.Enqueue(ctx, req.Method, req.URL.String(), req.Header, nil); err != nil {
			logger.GetLogger().Errorw("failed to enqueue durable retry",
				"provider", p.Name(), "error", err)
		}
		return
	}
}
