package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultRuns is the number of runs per input when an experiment does not
// set one.
const DefaultRuns = 5

// DefaultTemperature is the sampling temperature for model calls when a
// prompt does not set one. It matches the providers' own default so that
// repeated runs sample the response distribution.
const DefaultTemperature = 1.0

// DefaultInputID names the single implicit input used when a variant has
// no inputs file.
const DefaultInputID = "default"

// ExperimentConfig describes an experiment shared by all of its variants.
type ExperimentConfig struct {
	// Name identifies the experiment in stored runs and reports.
	Name string `yaml:"name" json:"name"`

	// Description is free-form documentation for humans.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Hypothesis states what the experiment is expected to show.
	Hypothesis string `yaml:"hypothesis,omitempty" json:"hypothesis,omitempty"`

	// Models lists model ids in "provider:model" form, in execution order.
	Models []string `yaml:"models" json:"models"`

	// Runs is the default number of runs per input. Must be at least 1.
	Runs int `yaml:"runs" json:"runs"`

	// KeyRefs maps a provider name to the environment variable holding its
	// API key, overriding the provider default.
	KeyRefs map[string]string `yaml:"key_refs,omitempty" json:"key_refs,omitempty"`

	// Metadata holds any additional front-matter keys verbatim.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// InputCase is one set of template bindings a prompt is run against.
type InputCase struct {
	// ID is unique within a variant.
	ID string `yaml:"id" json:"id"`

	// Bindings maps template variable names to values.
	Bindings map[string]any `yaml:"bindings,omitempty" json:"bindings,omitempty"`

	// Runs overrides the experiment run count for this input when set.
	Runs *int `yaml:"runs,omitempty" json:"runs,omitempty"`
}

// EffectiveRuns returns the run count for this input given the experiment default.
func (c InputCase) EffectiveRuns(defaultRuns int) int {
	if c.Runs != nil {
		return *c.Runs
	}
	return defaultRuns
}

// ToolDefinition is a function a model may call, with JSON-Schema shaped parameters.
type ToolDefinition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// ToolCall is a single function call emitted by a model.
type ToolCall struct {
	Name      string         `yaml:"name" json:"name"`
	Arguments map[string]any `yaml:"arguments,omitempty" json:"arguments,omitempty"`

	// ValidationError is set when the arguments do not satisfy the tool's
	// parameter schema. The call is still recorded.
	ValidationError string `yaml:"validation_error,omitempty" json:"validation_error,omitempty"`
}

// Usage records token consumption for one provider call.
type Usage struct {
	InputTokens  int `yaml:"input_tokens" json:"input_tokens"`
	OutputTokens int `yaml:"output_tokens" json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Variant is one prompt under test together with everything needed to run it.
type Variant struct {
	// Name is the variant directory's base name.
	Name string

	// Dir is the variant directory; stored runs live beneath it.
	Dir string

	Experiment ExperimentConfig

	// Prompt is the prompt template body.
	Prompt string

	// System is an optional system prompt template.
	System string

	// Models is the effective model list: the prompt's own list when set,
	// otherwise the experiment's.
	Models []string

	// Temperature is the sampling temperature for model calls.
	Temperature float64

	// MaxTokens caps model completions; zero uses the provider default.
	MaxTokens int

	Judge  JudgeConfig
	Inputs []InputCase
	Tools  []ToolDefinition
}

// Validate checks the variant for configuration errors that must be
// caught before any provider call is made.
func (v *Variant) Validate() error {
	verr := NewValidationError("variant " + v.Name)
	if len(v.Models) == 0 {
		verr.AddError("no models configured")
	}
	for _, m := range v.Models {
		if _, _, err := ParseModelID(m); err != nil {
			verr.AddError(err.Error())
		}
	}
	if v.Experiment.Runs < 1 {
		verr.AddErrorf("runs must be >= 1, got %d", v.Experiment.Runs)
	}
	if v.Temperature < 0 || v.Temperature > 2 {
		verr.AddErrorf("temperature must be between 0 and 2, got %g", v.Temperature)
	}
	if v.MaxTokens < 0 {
		verr.AddErrorf("max_tokens must be >= 0, got %d", v.MaxTokens)
	}
	seen := make(map[string]struct{}, len(v.Inputs))
	for _, in := range v.Inputs {
		if in.ID == "" {
			verr.AddError("input with empty id")
		}
		if _, dup := seen[in.ID]; dup {
			verr.AddErrorf("duplicate input id %q", in.ID)
		}
		seen[in.ID] = struct{}{}
		if in.Runs != nil && *in.Runs <= 0 {
			verr.AddErrorf("input %q: runs override must be > 0, got %d", in.ID, *in.Runs)
		}
	}
	for i, t := range v.Tools {
		if t.Name == "" {
			verr.AddErrorf("tool %d missing name", i)
		}
		if _, err := json.Marshal(t.Parameters); err != nil {
			verr.AddErrorf("tool %q: parameters cannot be encoded as JSON: %v", t.Name, err)
		}
	}
	if err := v.Judge.Validate(); err != nil {
		verr.AddError(err.Error())
	}
	return verr.ErrOrNil()
}

// ParseModelID splits a "provider:model" identifier.
func ParseModelID(id string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(id, ":")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("invalid model id %q: expected format 'provider:model'", id)
	}
	return provider, model, nil
}
