package ports

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLLMError tests the functionality of the LLMError error type.
// It covers error creation, message formatting, and retryable logic.
func TestLLMError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := NewLLMError("openai:gpt-4o", "invoke", ErrAuthenticationFailed)

		assert.Equal(t, "LLM error: model=openai:gpt-4o, operation=invoke, err=authentication failed", err.Error())
		assert.Equal(t, "openai:gpt-4o", err.Model)
		assert.Equal(t, "invoke", err.Operation)
		assert.True(t, errors.Is(err, ErrAuthenticationFailed))
	})

	t.Run("retryable errors", func(t *testing.T) {
		for _, baseErr := range []error{ErrRateLimited, ErrServiceUnavailable, ErrTimeout} {
			err := NewLLMError("test-model", "invoke", baseErr)
			assert.True(t, err.IsRetryable(), "%v should be retryable", baseErr)
		}

		for _, baseErr := range []error{ErrAuthenticationFailed, ErrUnknownProvider, errors.New("bad request")} {
			err := NewLLMError("test-model", "invoke", baseErr)
			assert.False(t, err.IsRetryable(), "%v should not be retryable", baseErr)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped rate limit", fmt.Errorf("openai: %w", ErrRateLimited), true},
		{"llm error around timeout", NewLLMError("openai:gpt-4o", "invoke", ErrTimeout), true},
		{"authentication", ErrAuthenticationFailed, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

// TestCacheError tests the functionality of the CacheError error type.
// It verifies that the error message is formatted correctly and contains the expected context.
func TestCacheError(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "cache miss",
			key:       "a1b2c3d4e5f6",
			operation: "Lookup",
			err:       errors.New("key not found"),
			wantMsg:   "cache error: operation=Lookup, key=a1b2c3d4e5f6, err=key not found",
		},
		{
			name:      "cache corruption",
			key:       "9f86d081884c",
			operation: "Lookup",
			err:       ErrCacheCorrupted,
			wantMsg:   "cache error: operation=Lookup, key=9f86d081884c, err=cache corrupted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCacheError(tt.key, tt.operation, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.key, err.Key)
			assert.Equal(t, tt.operation, err.Operation)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

// TestStoreError verifies StoreError formatting and unwrapping.
func TestStoreError(t *testing.T) {
	err := NewStoreError("experiments/summarize/concise", "Load", ErrRunNotFound)

	assert.Equal(t, "store error: operation=Load, path=experiments/summarize/concise, err=run not found", err.Error())
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

// TestConfigError tests the functionality of the ConfigError error type.
// It verifies that the error message is formatted correctly and contains the relevant configuration key.
func TestConfigError(t *testing.T) {
	err := NewConfigError("cache.path", ErrConfigNotFound)

	assert.Equal(t, "config error: key=cache.path, err=configuration not found", err.Error())
	assert.Equal(t, "cache.path", err.ConfigKey)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

// TestCommonInfrastructureErrors tests that the common infrastructure errors are defined.
// It checks that each error has the expected error message.
func TestCommonInfrastructureErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrRateLimited, "rate limited"},
		{ErrServiceUnavailable, "service unavailable"},
		{ErrTimeout, "operation timed out"},
		{ErrAuthenticationFailed, "authentication failed"},
		{ErrCacheCorrupted, "cache corrupted"},
		{ErrConfigNotFound, "configuration not found"},
		{ErrRunNotFound, "run not found"},
		{ErrUnknownProvider, "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

// TestErrorUnwrapping tests that all custom error types in the package support unwrapping.
// It ensures that the underlying error can be extracted correctly using errors.Is and Unwrap.
func TestErrorUnwrapping(t *testing.T) {
	baseErr := errors.New("underlying error")

	errorList := []interface {
		error
		Unwrap() error
	}{
		NewLLMError("model", "op", baseErr),
		NewCacheError("key", "op", baseErr),
		NewStoreError("path", "op", baseErr),
		NewConfigError("key", baseErr),
	}

	for _, err := range errorList {
		unwrapped := err.Unwrap()
		assert.Equal(t, baseErr, unwrapped, "%T should unwrap to base error", err)
		assert.True(t, errors.Is(err, baseErr), "%T should match base error with Is", err)
	}
}
