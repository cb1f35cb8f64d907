package ports

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the provider, cache, store and loader layers.
var (
	// ErrRateLimited indicates that the service has rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrAuthenticationFailed indicates that authentication with the
	// service failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrCacheCorrupted indicates that cached data is corrupted or invalid.
	ErrCacheCorrupted = errors.New("cache corrupted")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrRunNotFound indicates that no stored run matched a load request.
	ErrRunNotFound = errors.New("run not found")

	// ErrUnknownProvider indicates a model id names an unregistered provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

// LLMError wraps a failed model call with the model id and the step that
// failed ("client" or "invoke"). The orchestrator records it as a provider
// failure.
type LLMError struct {
	// Model is the "provider:model" id of the failed call.
	Model string

	// Operation is the step that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for LLMError.
func (e *LLMError) Error() string {
	return fmt.Sprintf("LLM error: model=%s, operation=%s, err=%v", e.Model, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the wrapped failure was transient.
func (e *LLMError) IsRetryable() bool { return IsRetryable(e.Err) }

// IsRetryable reports whether err is a rate limit, an outage or a timeout.
// A later run may succeed where this one failed; nothing else is worth
// repeating.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// NewLLMError creates a new LLMError with the given details.
func NewLLMError(model, operation string, err error) *LLMError {
	return &LLMError{
		Model:     model,
		Operation: operation,
		Err:       err,
	}
}

// CacheError represents an error from cache operations.
// It includes the key and operation that failed.
type CacheError struct {
	// Key is the cache key that was involved in the failed operation.
	Key string

	// Operation is the name of the cache operation that failed.
	Operation string

	// Err is the underlying error that caused the cache operation to fail.
	Err error
}

// Error implements the error interface for CacheError.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error { return e.Err }

// NewCacheError creates a new CacheError with the given details.
func NewCacheError(key, operation string, err error) *CacheError {
	return &CacheError{
		Key:       key,
		Operation: operation,
		Err:       err,
	}
}

// StoreError represents an error from result store operations.
type StoreError struct {
	// Path is the variant directory or run location involved.
	Path string

	// Operation is the name of the store operation that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s, path=%s, err=%v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(path, operation string, err error) *StoreError {
	return &StoreError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
