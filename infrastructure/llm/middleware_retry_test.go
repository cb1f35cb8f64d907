package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/ports"
)

func TestRetryMiddleware_SuccessOnFirstAttempt(t *testing.T) {
	// Given a mock that succeeds immediately
	mock := NewMockCoreLLM()
	wrapped := RetryMiddleware(3, 100*time.Millisecond, time.Second)(mock)

	// When making a request
	resp, err := wrapped.DoRequest(context.Background(), Request{Prompt: "test prompt"})

	// Then it should succeed without retries
	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 20, resp.Usage.OutputTokens)
	assert.Equal(t, 1, mock.GetCallCount(), "should only call once on success")
}

func TestRetryMiddleware_RetriesOnTransientError(t *testing.T) {
	// Given a mock that fails twice with a server error then succeeds
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	mock.Error = NewProviderError("openai", ErrorTypeServerError, 503, "unavailable", nil)
	wrapped := RetryMiddleware(3, 5*time.Millisecond, 50*time.Millisecond)(mock)

	resp, err := wrapped.DoRequest(context.Background(), Request{Prompt: "test prompt"})

	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)
	assert.Equal(t, 3, mock.GetCallCount(), "should retry until success")
}

func TestRetryMiddleware_FailsAfterMaxRetries(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = errors.New("persistent error")
	wrapped := RetryMiddleware(2, 5*time.Millisecond, 50*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{Prompt: "test prompt"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed after 3 attempts")
	assert.Contains(t, err.Error(), "persistent error")
	assert.Equal(t, 3, mock.GetCallCount(), "should attempt max retries + 1")
}

func TestRetryMiddleware_DoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"circuit open", ErrCircuitOpen},
		{"authentication", NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)},
		{"bad request", NewProviderError("openai", ErrorTypeBadRequest, 400, "bad input", nil)},
		{"cancelled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCoreLLM()
			mock.Error = tt.err
			wrapped := RetryMiddleware(3, 5*time.Millisecond, 50*time.Millisecond)(mock)

			_, err := wrapped.DoRequest(context.Background(), Request{Prompt: "p"})

			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, mock.GetCallCount())
		})
	}
}

func TestRetryMiddleware_RateLimitIsRetryable(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 1
	mock.Error = NewProviderError("anthropic", ErrorTypeRateLimit, 429, "slow down", nil)
	wrapped := RetryMiddleware(1, time.Millisecond, 10*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{Prompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestRetryMiddleware_RespectsContextCancellation(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("openai", ErrorTypeServerError, 500, "boom", nil)
	wrapped := RetryMiddleware(5, 200*time.Millisecond, time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := wrapped.DoRequest(ctx, Request{Prompt: "p"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRetryMiddleware_CalculateDelayIsCapped(t *testing.T) {
	r := &retryLLM{baseDelay: 100 * time.Millisecond, maxDelay: 300 * time.Millisecond}

	for attempt := 0; attempt < 10; attempt++ {
		d := r.calculateDelay(attempt)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(errors.New("connection reset")))
	assert.True(t, shouldRetry(NewProviderError("google", ErrorTypeTimeout, 0, "", context.DeadlineExceeded)))
	assert.False(t, shouldRetry(ErrCircuitOpen))
	assert.False(t, shouldRetry(ports.NewLLMError("m", "invoke", context.Canceled)))
}
