// Package queue implements the durable retry queue: failed requests are
// persisted with their full description so they can be replayed verbatim
// after a process restart. Drains are triggered by connectivity-restored
// notifications and by the periodic scheduler.
package queue

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"weatherdash/internal/logger"
)

// DefaultMaxAttempts bounds how often one entry is replayed before it is
// dropped. 0 disables the cutoff.
const DefaultMaxAttempts = 10

// ReplayRequest is the persisted description of one failed request.
type ReplayRequest struct {
	ID         string      `json:"id"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	Attempts   int         `json:"attempts"`
}

// Storage persists queue entries outside process memory.
type Storage interface {
	Save(ctx context.Context, req *ReplayRequest) error
	Delete(ctx context.Context, id string) error
	// List returns all entries ordered by EnqueuedAt ascending.
	List(ctx context.Context) ([]*ReplayRequest, error)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DrainResult reports which entries a drain replayed successfully.
type DrainResult struct {
	Succeeded   []string `json:"succeeded"`
	StillFailed []string `json:"stillFailed"`
	Dropped     []string `json:"dropped"`
	// Skipped is true when another drain was already in progress.
	Skipped bool `json:"skipped,omitempty"`
}

// Queue replays persisted requests. A drain in progress causes re-triggers
// to return immediately; one entry is never executed concurrently with
// itself.
type Queue struct {
	storage     Storage
	client      Doer
	maxAttempts int

	mu       sync.Mutex
	draining bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the bounded-retry cutoff.
func WithMaxAttempts(n int) Option { return func(q *Queue) { q.maxAttempts = n } }

// New creates a queue over the given storage backend.
func New(storage Storage, client Doer, opts ...Option) *Queue {
	q := &Queue{storage: storage, client: client, maxAttempts: DefaultMaxAttempts}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue persists the request description and returns its id.
func (q *Queue) Enqueue(ctx context.Context, method, url string, header http.Header, body []byte) (string, error) {
	req := &ReplayRequest{
		ID:         uuid.NewString(),
		Method:     method,
		URL:        url,
		Header:     header,
		Body:       body,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.storage.Save(ctx, req); err != nil {
		return "", err
	}
	logger.GetLogger().Infow("queued request for durable retry",
		"id", req.ID, "method", method, "url", url)
	return req.ID, nil
}

// Len reports the number of persisted entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.storage.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// NotifyOnline is the connectivity-restored hook; it runs one drain.
func (q *Queue) NotifyOnline(ctx context.Context) (DrainResult, error) {
	return q.Drain(ctx)
}

// Drain attempts every queued entry once. Success deletes the entry;
// failure increments its attempt counter and leaves it queued until the
// max-attempt cutoff drops it. A drain already in progress makes this call
// a no-op with Skipped set.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return DrainResult{Skipped: true}, nil
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	log := logger.GetLogger()

	entries, err := q.storage.List(ctx)
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if q.replay(ctx, entry) {
			if err := q.storage.Delete(ctx, entry.ID); err != nil {
				log.Errorw("failed to delete replayed entry", "id", entry.ID, "error", err)
				continue
			}
			result.Succeeded = append(result.Succeeded, entry.ID)
			continue
		}

		entry.Attempts++
		if q.maxAttempts > 0 && entry.Attempts >= q.maxAttempts {
			log.Warnw("dropping queued request after max attempts",
				"id", entry.ID, "url", entry.URL, "attempts", entry.Attempts)
			if err := q.storage.Delete(ctx, entry.ID); err != nil {
				log.Errorw("failed to drop exhausted entry", "id", entry.ID, "error", err)
			}
			result.Dropped = append(result.Dropped, entry.ID)
			continue
		}
		if err := q.storage.Save(ctx, entry); err != nil {
			log.Errorw("failed to persist attempt count", "id", entry.ID, "error", err)
		}
		result.StillFailed = append(result.StillFailed, entry.ID)
	}

	if len(entries) > 0 {
		log.Infow("drain completed",
			"succeeded", len(result.Succeeded),
			"stillFailed", len(result.StillFailed),
			"dropped", len(result.Dropped))
	}
	return result, nil
}

// replay executes one entry. 2xx and 3xx are success; 4xx cannot succeed
// on a later drain either, so they count as success for removal purposes
// after a warning; transport errors and 5xx are failures.
func (q *Queue) replay(ctx context.Context, entry *ReplayRequest) bool {
	log := logger.GetLogger()

	var body io.Reader
	if len(entry.Body) > 0 {
		body = bytes.NewReader(entry.Body)
	}
	req, err := http.NewRequestWithContext(ctx, entry.Method, entry.URL, body)
	if err != nil {
		log.Warnw("queued request is malformed, removing", "id", entry.ID, "error", err)
		return true
	}
	for k, vs := range entry.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := q.client.Do(req)
	if err != nil {
		log.Debugw("replay failed", "id", entry.ID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse

	if resp.StatusCode >= 500 {
		log.Debugw("replay got server error", "id", entry.ID, "status", resp.StatusCode)
		return false
	}
	if resp.StatusCode >= 400 {
		log.Warnw("queued request rejected by server, removing",
			"id", entry.ID, "status", resp.StatusCode)
	}
	return true
}
