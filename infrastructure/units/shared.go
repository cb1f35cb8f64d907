// Package units grades model responses and renders prompt templates.
//
// JudgeEngine sends a rendered rubric to one judge model or a panel of
// judges, parses each verdict strictly, and aggregates panel scores.
// PlaceholderRenderer substitutes {{ name }} variables in prompt, system,
// and judge templates.
package units

import (
	"github.com/go-playground/validator/v10"
)

// Package-level validator instance for judge response validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()
