package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "rate_limit", ErrorTypeRateLimit.String())
	assert.Equal(t, "transient", ErrorTypeTransient.String())
	assert.Equal(t, "empty_response", ErrorTypeEmptyResponse.String())
	assert.Equal(t, "auth", ErrorTypeAuth.String())
	assert.Equal(t, "bad_prompt", ErrorTypeBadPrompt.String())
	assert.Equal(t, "unknown", ErrorTypeUnknown.String())
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse, ErrorTypeUnknown}
	for _, et := range retryable {
		err := NewError(et, "test")
		assert.True(t, err.IsRetryable(), "expected %s to be retryable", et)
	}

	for _, et := range []ErrorType{ErrorTypeAuth, ErrorTypeBadPrompt} {
		err := NewError(et, "test")
		assert.False(t, err.IsRetryable(), "expected %s to be non-retryable", et)
		assert.True(t, err.IsFatal(), "expected %s to be fatal", et)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewErrorWithCause(ErrorTypeTransient, cause, "wrapped")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeTransient, TypeOf(err))
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.False(t, Is(err, ErrorTypeAuth))
}

func TestTypeOfUnclassified(t *testing.T) {
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain error")))
	assert.False(t, IsFatal(errors.New("plain error")))
	assert.True(t, IsFatal(NewError(ErrorTypeAuth, "bad key")))
}

func TestGetRetryConfig(t *testing.T) {
	err := NewError(ErrorTypeRateLimit, "limited")
	cfg := err.GetRetryConfig()
	require.Equal(t, DefaultRateLimitRetries, cfg.MaxRetries)
	assert.True(t, cfg.Jitter)
	assert.Greater(t, cfg.BackoffFactor, 1.0)
}

func TestWrappedThroughFmt(t *testing.T) {
	inner := NewErrorWithStatus(ErrorTypeRateLimit, 429, "too many requests")
	outer := fmt.Errorf("call failed: %w", inner)

	assert.Equal(t, ErrorTypeRateLimit, TypeOf(outer))
	var llmErr *Error
	require.ErrorAs(t, outer, &llmErr)
	assert.Equal(t, 429, llmErr.StatusCode)
}

func TestExtractStatusCode(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"request failed with status code: 429", 429},
		{"unexpected status: 503 service unavailable", 503},
		{"HTTP 401 Unauthorized", 401},
		{"got 500: internal error", 500},
		{"no code here", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractStatusCode(tc.in), "input %q", tc.in)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, ClassifyStatusCode(401))
	assert.Equal(t, ErrorTypeAuth, ClassifyStatusCode(403))
	assert.Equal(t, ErrorTypeRateLimit, ClassifyStatusCode(429))
	assert.Equal(t, ErrorTypeBadPrompt, ClassifyStatusCode(400))
	assert.Equal(t, ErrorTypeTransient, ClassifyStatusCode(503))
	assert.Equal(t, ErrorTypeUnknown, ClassifyStatusCode(302))
}
