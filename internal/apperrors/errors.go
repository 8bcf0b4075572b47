// Package apperrors defines the error taxonomy shared by the fetch policy,
// provider clients and the aggregator. Every failure that crosses a package
// boundary is an *AppError so callers can branch on Type instead of string
// matching.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

type ErrorType string

const (
	// TypeValidation marks bad caller input. Never retried.
	TypeValidation ErrorType = "VALIDATION_ERROR"
	// TypeHTTPClient marks a 4xx-equivalent provider response. Never retried.
	TypeHTTPClient ErrorType = "HTTP_CLIENT_ERROR"
	// TypeHTTPServer marks a 5xx provider response. Transient.
	TypeHTTPServer ErrorType = "HTTP_SERVER_ERROR"
	// TypeNetwork marks DNS/connection-level failures. Transient.
	TypeNetwork ErrorType = "NETWORK_ERROR"
	// TypeTimeout marks an attempt that exceeded its deadline. Transient.
	TypeTimeout ErrorType = "TIMEOUT"
	// TypeSchema marks a structurally invalid provider payload. Fatal for
	// the attempt; retries have already happened below this layer.
	TypeSchema ErrorType = "SCHEMA_ERROR"
	// TypeAllProvidersFailed is the aggregation-level failure.
	TypeAllProvidersFailed ErrorType = "ALL_PROVIDERS_FAILED"
)

// AppError is the structured error carried across component boundaries.
type AppError struct {
	Type    ErrorType
	Message string
	// Status holds the HTTP status for client/server error types, 0 otherwise.
	Status int
	// Attempts and Elapsed are filled in by the fetch policy on exhaustion.
	Attempts int
	Elapsed  time.Duration
	Raw      error
}

func (e *AppError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.Status)
	case e.Raw != nil:
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Raw)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
}

func (e *AppError) Unwrap() error { return e.Raw }

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message}
}

// Wrap attaches taxonomy context to an underlying error.
func Wrap(err error, t ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Type: t, Message: message, Raw: err}
}

// Validation reports a precondition failure before any network I/O.
func Validation(format string, args ...interface{}) *AppError {
	return &AppError{Type: TypeValidation, Message: fmt.Sprintf(format, args...)}
}

// FromStatus classifies an HTTP status code into the taxonomy.
// 4xx responses cannot succeed on retry; 5xx responses can.
func FromStatus(status int, provider string) *AppError {
	t := TypeHTTPServer
	if status >= 400 && status < 500 {
		t = TypeHTTPClient
	}
	return &AppError{
		Type:    t,
		Message: fmt.Sprintf("%s returned unexpected status", provider),
		Status:  status,
	}
}

// Network wraps a transport-level failure.
func Network(err error, provider string) *AppError {
	return &AppError{Type: TypeNetwork, Message: provider + " request failed", Raw: err}
}

// Timeout wraps an attempt deadline failure.
func Timeout(err error, provider string) *AppError {
	return &AppError{Type: TypeTimeout, Message: provider + " request timed out", Raw: err}
}

// Schema reports a payload that does not match the provider's contract.
func Schema(provider, detail string) *AppError {
	return &AppError{Type: TypeSchema, Message: fmt.Sprintf("%s payload invalid: %s", provider, detail)}
}

// TypeOf extracts the taxonomy type, or "" for foreign errors.
func TypeOf(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ""
}

// IsRetryable reports whether another attempt could plausibly succeed.
// Only server, network and timeout failures qualify.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case TypeHTTPServer, TypeNetwork, TypeTimeout:
		return true
	}
	return false
}

// ProviderFailure records one provider's error during an aggregation call.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// AggregateError is returned when every configured provider failed. It
// carries per-provider detail so the caller can render an actionable
// message and distinguish "no data available" from a programming error.
type AggregateError struct {
	Failures []ProviderFailure
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("%s: %d provider(s) failed", TypeAllProvidersFailed, len(e.Failures))
}

// NewAggregate builds an AggregateError from provider errors, keeping order.
func NewAggregate(failures []ProviderFailure) *AggregateError {
	for i := range failures {
		if failures[i].Message == "" && failures[i].Err != nil {
			failures[i].Message = failures[i].Err.Error()
		}
	}
	return &AggregateError{Failures: failures}
}

// IsAllProvidersFailed reports whether err is an aggregation-level failure.
func IsAllProvidersFailed(err error) bool {
	var ae *AggregateError
	return errors.As(err, &ae)
}
