package weather

import (
	"context"
	"net/http"
)

// Provider abstracts one external data source. Implementations validate
// preconditions, delegate the network call to the shared fetch policy,
// validate the payload shape and normalize units. They hold no per-call
// state and are safe for concurrent use.
type Provider interface {
	Name() string
	// Supports reports whether this source can serve the given kind.
	Supports(kind Kind) bool
	Fetch(ctx context.Context, q Query) (*NormalizedResult, error)
}

// Replayable is implemented by providers whose requests can be described
// as plain HTTP for the durable retry queue.
type Replayable interface {
	// Request builds the raw HTTP request this provider would issue for q.
	Request(q Query) (*http.Request, error)
}

// ProviderOutcome is the tagged result of one provider call. It is owned
// by the aggregator for the lifetime of one aggregation and immutable
// once produced.
type ProviderOutcome struct {
	Provider   string            `json:"provider"`
	Success    bool              `json:"success"`
	Data       *NormalizedResult `json:"-"`
	Err        error             `json:"-"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs"`
}
