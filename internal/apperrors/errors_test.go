package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatusClassification(t *testing.T) {
	assert.Equal(t, TypeHTTPClient, FromStatus(http.StatusTooManyRequests, "p").Type)
	assert.Equal(t, TypeHTTPClient, FromStatus(http.StatusNotFound, "p").Type)
	assert.Equal(t, TypeHTTPServer, FromStatus(http.StatusBadGateway, "p").Type)
	assert.Equal(t, TypeHTTPServer, FromStatus(http.StatusInternalServerError, "p").Type)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(FromStatus(http.StatusServiceUnavailable, "p")))
	assert.True(t, IsRetryable(Network(errors.New("refused"), "p")))
	assert.True(t, IsRetryable(Timeout(errors.New("deadline"), "p")))

	assert.False(t, IsRetryable(FromStatus(http.StatusUnauthorized, "p")))
	assert.False(t, IsRetryable(Validation("bad input")))
	assert.False(t, IsRetryable(Schema("p", "broken payload")))
	assert.False(t, IsRetryable(errors.New("foreign error")))
	assert.False(t, IsRetryable(nil))
}

func TestTypeOfUnwrapsThroughWrapping(t *testing.T) {
	inner := Timeout(errors.New("deadline"), "p")
	wrapped := fmt.Errorf("fetching current conditions: %w", inner)

	assert.Equal(t, TypeTimeout, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Network(cause, "openmeteo")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openmeteo")
}

func TestAggregateError(t *testing.T) {
	agg := NewAggregate([]ProviderFailure{
		{Provider: "a", Err: FromStatus(502, "a")},
		{Provider: "b", Err: Network(errors.New("unreachable"), "b")},
	})

	require.True(t, IsAllProvidersFailed(agg))
	assert.Contains(t, agg.Error(), "2 provider(s) failed")
	assert.NotEmpty(t, agg.Failures[0].Message, "messages are filled from the wrapped errors")

	assert.False(t, IsAllProvidersFailed(errors.New("plain")))
}
