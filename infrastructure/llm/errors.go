package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ahrav/go-promptlab/internal/ports"
)

var (
	// ErrEmptyAPIKey is returned when a provider client is built without a key.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse is returned when a completion carries no text and no tool calls.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice is returned when an OpenAI completion has no choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrMissingAPIKey is returned when none of a provider's key variables is set.
	ErrMissingAPIKey = errors.New("API key environment variable not set")
)

// ErrorType is the provider-neutral category of a failed call.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	// ErrorTypeContentPolicy marks a prompt or response blocked by safety filters.
	ErrorTypeContentPolicy
	ErrorTypeTimeout
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeAuthentication: "authentication",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeBadRequest:     "bad_request",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeServerError:    "server_error",
	ErrorTypeContentPolicy:  "content_policy",
	ErrorTypeTimeout:        "timeout",
}

// String returns the snake_case name, or "" for ErrorTypeUnknown.
func (t ErrorType) String() string { return errorTypeNames[t] }

// ProviderError is a failed provider call after classification. The SDK
// error stays reachable through Unwrap.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	StatusCode int // zero when the call never got an HTTP response
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + " error"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if name := e.Type.String(); name != "" {
		msg += " [" + name + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether the retry middleware should try again.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTimeout:
		return true
	}
	return false
}

// Is maps the category onto the ports sentinels, so callers above the llm
// package can match with errors.Is.
func (e *ProviderError) Is(target error) bool {
	switch e.Type {
	case ErrorTypeAuthentication:
		return target == ports.ErrAuthenticationFailed
	case ErrorTypeRateLimit:
		return target == ports.ErrRateLimited
	case ErrorTypeServerError:
		return target == ports.ErrServiceUnavailable
	case ErrorTypeTimeout:
		return target == ports.ErrTimeout
	}
	return false
}

// NewProviderError builds a ProviderError directly, for failures no HTTP
// status describes.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Type:       errType,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// ErrorClassifier turns SDK errors of one provider into ProviderErrors.
type ErrorClassifier struct {
	Provider string
}

// Classify wraps err: context errors first, then the HTTP status when
// statusCode is non-zero. A cancelled call is ErrorTypeUnknown so it is
// never retried.
func (ec *ErrorClassifier) Classify(statusCode int, message string, err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "request canceled", err)
	case statusCode == 0:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "request failed", err)
	}

	if message == "" {
		message = "unknown error"
	}
	errType := statusType(statusCode)
	switch errType {
	case ErrorTypeAuthentication:
		message = ec.Provider + " authentication failed"
	case ErrorTypeRateLimit:
		message = ec.Provider + " rate limit exceeded"
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

func statusType(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorTypeAuthentication
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusNotFound:
		return ErrorTypeNotFound
	case code >= 500:
		return ErrorTypeServerError
	case code >= 400:
		return ErrorTypeBadRequest
	}
	return ErrorTypeUnknown
}
