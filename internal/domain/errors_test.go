package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("judge")
		err.AddError("no judge model configured")

		assert.Equal(t, "validation error for judge: no judge model configured", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.Len(t, err.Errors, 1, "Should have one error")
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("variant")
		err.AddError("no models configured")
		err.AddErrorf("runs must be >= 1, got %d", 0)

		assert.Contains(t, err.Error(), "validation errors for variant")
		assert.Len(t, err.Errors, 2, "Should have two errors")
		assert.Equal(t, "runs must be >= 1, got 0", err.Errors[1])
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.NoError(t, err.ErrOrNil())
	})

	t.Run("matches invalid configuration", func(t *testing.T) {
		verr := NewValidationError("judge")
		verr.AddError("bad")
		wrapped := fmt.Errorf("load variant: %w", verr.ErrOrNil())

		assert.True(t, errors.Is(wrapped, ErrInvalidConfiguration))
	})
}

func TestJudgeFormatError(t *testing.T) {
	cause := errors.New("score 11 outside range 1-10")
	err := NewJudgeFormatError("openai:gpt-4o", `{"score": 11}`, cause)

	assert.Equal(t, "judge format error: model=openai:gpt-4o, err=score 11 outside range 1-10", err.Error())
	assert.True(t, errors.Is(err, ErrJudgeFormat), "Should match ErrJudgeFormat")
	assert.True(t, errors.Is(err, cause), "Should unwrap to cause")
	assert.False(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestJudgeFormatErrorTruncatesRaw(t *testing.T) {
	raw := strings.Repeat("x", 2000)
	err := NewJudgeFormatError("m", raw, errors.New("no score"))

	assert.Len(t, err.Raw, 503)
	assert.True(t, strings.HasSuffix(err.Raw, "..."))
}

func TestCommonDomainErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrInvalidConfiguration, "invalid configuration"},
		{ErrJudgeFormat, "judge format error"},
		{ErrEmptyValue, "empty value"},
		{ErrNoScores, "no scores"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "Error message mismatch")
		})
	}
}
