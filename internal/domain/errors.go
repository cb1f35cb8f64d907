package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while planning, judging, or
// summarizing an experiment run.
var (
	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrJudgeFormat indicates that a judge returned output that could not be
	// turned into a score inside the configured range.
	ErrJudgeFormat = errors.New("judge format error")

	// ErrEmptyValue indicates that a required value is empty or nil.
	ErrEmptyValue = errors.New("empty value")

	// ErrNoScores indicates that an aggregation or statistic was requested
	// over an empty score collection.
	ErrNoScores = errors.New("no scores")
)

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Is reports ErrInvalidConfiguration so callers can treat every validation
// failure as a configuration error.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// AddErrorf adds a formatted error message to the validation error.
func (e *ValidationError) AddErrorf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// ErrOrNil returns e when it holds at least one failure and nil otherwise.
func (e *ValidationError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// JudgeFormatError describes judge output that could not be graded.
// The model response being judged is unaffected by this error.
type JudgeFormatError struct {
	// Model is the judge model that produced the output.
	Model string

	// Raw is the judge output, truncated for display.
	Raw string

	// Err is the specific parse or range failure.
	Err error
}

// Error implements the error interface for JudgeFormatError.
func (e *JudgeFormatError) Error() string {
	return fmt.Sprintf("judge format error: model=%s, err=%v", e.Model, e.Err)
}

// Unwrap returns the underlying parse failure.
func (e *JudgeFormatError) Unwrap() error { return e.Err }

// Is matches ErrJudgeFormat.
func (e *JudgeFormatError) Is(target error) bool { return target == ErrJudgeFormat }

// NewJudgeFormatError creates a JudgeFormatError, truncating raw output to
// keep persisted results readable.
func NewJudgeFormatError(model, raw string, err error) *JudgeFormatError {
	const maxRaw = 500
	if len(raw) > maxRaw {
		raw = raw[:maxRaw] + "..."
	}
	return &JudgeFormatError{Model: model, Raw: raw, Err: err}
}
