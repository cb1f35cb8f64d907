package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// retryLLM implements automatic retry logic with exponential backoff.
// This handles transient failures by retrying requests with increasing
// delays while respecting circuit breaker and timeout constraints.
type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that automatically retries failed requests
// with exponential backoff. Only transient provider errors are retried.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// DoRequest executes the request with automatic retry logic.
func (r *retryLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	attempt := 0
	for ; attempt <= r.maxRetries; attempt++ {
		resp, err := r.next.DoRequest(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !shouldRetry(err) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	if attempt == 0 {
		return Response{}, lastErr
	}
	return Response{}, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
}

// shouldRetry reports whether err is worth another attempt. Classified
// provider errors decide for themselves; unclassified errors are retried.
func shouldRetry(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return true
}

func (r *retryLLM) calculateDelay(attempt int) time.Duration {
	// Exponential backoff with jitter.
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	multiplier := 1 << uint(attempt)
	delay := time.Duration(float64(r.baseDelay) * float64(multiplier))

	// Add jitter (±25%)
	// #nosec G404 - Using weak RNG is acceptable for jitter calculation
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if delay > r.maxDelay {
		delay = r.maxDelay
	}

	return delay
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }
