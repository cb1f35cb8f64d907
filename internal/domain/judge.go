package domain

import (
	"fmt"
	"math"
)

// DefaultJudgeModel is used when a judge file names no model.
const DefaultJudgeModel = "openai:gpt-4o"

// ScoreRange is the inclusive range a judge score must fall in.
type ScoreRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// DefaultScoreRange returns the [1, 10] range.
func DefaultScoreRange() ScoreRange { return ScoreRange{Min: 1, Max: 10} }

// Contains reports whether score lies inside the range, bounds included.
func (r ScoreRange) Contains(score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	return score >= float64(r.Min) && score <= float64(r.Max)
}

// Validate ensures Min < Max.
func (r ScoreRange) Validate() error {
	if r.Min >= r.Max {
		return fmt.Errorf("score range min (%d) must be less than max (%d)", r.Min, r.Max)
	}
	return nil
}

// String formats the range as "min-max".
func (r ScoreRange) String() string { return fmt.Sprintf("%d-%d", r.Min, r.Max) }

// JudgeMode selects between one judge model and a panel of judges.
// It is implemented by SingleJudge and MultiJudge only.
type JudgeMode interface {
	// JudgeModels returns the judge model ids in configured order.
	JudgeModels() []string
	isJudgeMode()
}

// SingleJudge grades with one model.
type SingleJudge struct {
	Model string
}

// JudgeModels implements JudgeMode.
func (s SingleJudge) JudgeModels() []string { return []string{s.Model} }

func (SingleJudge) isJudgeMode() {}

// MultiJudge grades with several models and aggregates their scores.
type MultiJudge struct {
	Models      []string
	Aggregation Aggregation
}

// JudgeModels implements JudgeMode.
func (m MultiJudge) JudgeModels() []string { return m.Models }

func (MultiJudge) isJudgeMode() {}

// JudgeConfig describes how responses are graded.
type JudgeConfig struct {
	// Template is the judge rubric. Response context is appended to it.
	Template string

	Mode JudgeMode

	// Range bounds valid scores. Out of range scores are errors.
	Range ScoreRange

	// Temperature for judge calls. Zero keeps grading reproducible.
	Temperature float64

	// ChainOfThought asks the judge to reason before scoring.
	ChainOfThought bool
}

// NewJudgeConfig returns a config with default range, temperature 0, and
// chain-of-thought enabled.
func NewJudgeConfig(template string, mode JudgeMode) JudgeConfig {
	return JudgeConfig{
		Template:       template,
		Mode:           mode,
		Range:          DefaultScoreRange(),
		Temperature:    0,
		ChainOfThought: true,
	}
}

// Models returns the judge models, or nil if no mode is set.
func (c JudgeConfig) Models() []string {
	if c.Mode == nil {
		return nil
	}
	return c.Mode.JudgeModels()
}

// IsMulti reports whether the config uses a judge panel.
func (c JudgeConfig) IsMulti() bool {
	_, ok := c.Mode.(MultiJudge)
	return ok
}

// Validate checks the judge configuration.
func (c JudgeConfig) Validate() error {
	verr := NewValidationError("judge")
	switch m := c.Mode.(type) {
	case nil:
		verr.AddError("no judge model configured")
	case SingleJudge:
		if _, _, err := ParseModelID(m.Model); err != nil {
			verr.AddError(err.Error())
		}
	case MultiJudge:
		if len(m.Models) == 0 {
			verr.AddError("multi-judge requires at least one model")
		}
		for _, id := range m.Models {
			if _, _, err := ParseModelID(id); err != nil {
				verr.AddError(err.Error())
			}
		}
		if !m.Aggregation.Valid() {
			verr.AddErrorf("unsupported aggregation %q", m.Aggregation)
		}
	}
	if err := c.Range.Validate(); err != nil {
		verr.AddError(err.Error())
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		verr.AddErrorf("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	return verr.ErrOrNil()
}

// JudgeScore is one judge model's grade for a response.
type JudgeScore struct {
	Model     string  `yaml:"model" json:"model"`
	Score     float64 `yaml:"score" json:"score"`
	Reasoning string  `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
	LatencyMS int64   `yaml:"latency_ms" json:"latency_ms"`
	Usage     Usage   `yaml:"usage" json:"usage"`

	// Error is set when this judge failed; Score is then meaningless.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Failed reports whether this judge produced no usable score.
func (s JudgeScore) Failed() bool { return s.Error != "" }

// JudgeOutcome is the combined result of grading one response.
type JudgeOutcome struct {
	// Score is the aggregated score.
	Score float64

	// Reasoning is the reasoning of the single judge, or of each judge joined
	// with its model name in multi-judge mode.
	Reasoning string

	// Scores holds every judge's grade in configured order.
	Scores []JudgeScore
}
