// Package fetch implements the shared retry/backoff/timeout policy every
// provider client goes through, plus the transport-interceptor seam the
// offline shell cache plugs into.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/logger"
)

const (
	// DefaultMaxAttempts bounds one logical fetch to three attempts total.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the delay before the second attempt; it doubles
	// for each attempt after that.
	DefaultBackoffBase = 200 * time.Millisecond
	// DefaultBackoffMax caps the inter-attempt delay.
	DefaultBackoffMax = 5 * time.Second
	// DefaultAttemptTimeout is the hard per-attempt deadline.
	DefaultAttemptTimeout = 10 * time.Second
)

// RoundTripperFunc adapts a function to http.RoundTripper so interceptors
// can be composed without named types.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// RawResponse is a fully-read provider response. The body is drained before
// the attempt context is released, so callers never race a cancellation.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Policy executes one logical request with retries, exponential backoff,
// per-attempt timeouts and a circuit breaker. One Policy instance belongs
// to one provider so breaker state is not shared across sources.
type Policy struct {
	name           string
	client         *http.Client
	maxAttempts    int
	backoffBase    time.Duration
	backoffMax     time.Duration
	attemptTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
}

// Option tweaks a Policy. Tests use these to shrink timings.
type Option func(*Policy)

func WithMaxAttempts(n int) Option         { return func(p *Policy) { p.maxAttempts = n } }
func WithBackoff(base, max time.Duration) Option {
	return func(p *Policy) { p.backoffBase, p.backoffMax = base, max }
}
func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Policy) { p.attemptTimeout = d }
}

// NewPolicy builds the policy for one named provider.
func NewPolicy(name string, client *http.Client, opts ...Option) *Policy {
	p := &Policy{
		name:           name,
		client:         client,
		maxAttempts:    DefaultMaxAttempts,
		backoffBase:    DefaultBackoffBase,
		backoffMax:     DefaultBackoffMax,
		attemptTimeout: DefaultAttemptTimeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Execute runs buildRequest through the retry loop. Client errors fail
// immediately; server and network errors are retried until attempts are
// exhausted, at which point the last error is returned tagged with the
// attempt count and elapsed time.
func (p *Policy) Execute(ctx context.Context, buildRequest func() (*http.Request, error)) (*RawResponse, error) {
	log := logger.GetLogger()
	started := time.Now()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, apperrors.Timeout(ctx.Err(), p.name)
		}

		raw, err := p.attempt(ctx, buildRequest)
		if err == nil {
			return raw, nil
		}

		// An open breaker or a non-retryable classification ends the loop.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.Network(err, p.name)
		}
		if !apperrors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt == p.maxAttempts {
			break
		}

		delay := p.backoffBase << (attempt - 1)
		if p.backoffMax > 0 && delay > p.backoffMax {
			delay = p.backoffMax
		}
		log.Debugw("retrying provider request",
			"provider", p.name,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.Timeout(ctx.Err(), p.name)
		case <-timer.C:
		}
	}

	var ae *apperrors.AppError
	if errors.As(lastErr, &ae) {
		ae.Attempts = p.maxAttempts
		ae.Elapsed = time.Since(started)
		return nil, ae
	}
	return nil, lastErr
}

// attempt performs a single HTTP round trip under the breaker with its own
// timeout. A timed-out attempt is aborted through context cancellation, not
// left running.
func (p *Policy) attempt(ctx context.Context, buildRequest func() (*http.Request, error)) (*RawResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	result, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := buildRequest()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeValidation, "building request for "+p.name)
		}
		req = req.WithContext(attemptCtx)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, p.classifyTransport(err, attemptCtx)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
			return nil, apperrors.FromStatus(resp.StatusCode, p.name)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, p.classifyTransport(err, attemptCtx)
		}
		return &RawResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*RawResponse), nil
}

func (p *Policy) classifyTransport(err error, attemptCtx context.Context) *apperrors.AppError {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return apperrors.Timeout(err, p.name)
	case errors.As(err, &nerr) && nerr.Timeout():
		return apperrors.Timeout(err, p.name)
	default:
		return apperrors.Network(err, p.name)
	}
}
