package domain

import (
	"cmp"
	"slices"
	"sync"
)

// TimestampLayout formats run timestamps; it sorts lexically in time order.
const TimestampLayout = "2006-01-02T15-04-05"

// FailureKind distinguishes provider failures from judge failures.
type FailureKind string

// Failure kinds recorded on a RunResult.
const (
	FailureNone     FailureKind = ""
	FailureProvider FailureKind = "provider"
	FailureJudge    FailureKind = "judge"
)

// RunKey identifies one (input, model, run index) triple.
type RunKey struct {
	InputID string
	Model   string
	Run     int
}

// RunResult is the outcome of one triple. Run is zero-based.
type RunResult struct {
	InputID   string     `yaml:"input_id" json:"input_id"`
	Model     string     `yaml:"model" json:"model"`
	Run       int        `yaml:"run" json:"run"`
	Cached    bool       `yaml:"cached" json:"cached"`
	Response  string     `yaml:"response,omitempty" json:"response,omitempty"`
	ToolCalls []ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	LatencyMS int64      `yaml:"latency_ms" json:"latency_ms"`
	Usage     Usage      `yaml:"usage" json:"usage"`

	// Prompt is the rendered prompt that was sent.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// Score is the aggregated judge score; nil when the triple was not scored.
	Score *float64 `yaml:"score,omitempty" json:"score,omitempty"`

	// Reasoning is the judge reasoning shown to users.
	Reasoning string `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`

	// Judges holds every individual judge grade in configured order.
	Judges []JudgeScore `yaml:"judges,omitempty" json:"judges,omitempty"`

	Failure FailureKind `yaml:"failure,omitempty" json:"failure,omitempty"`
	Error   string      `yaml:"error,omitempty" json:"error,omitempty"`
}

// Key returns the triple identifying this result.
func (r RunResult) Key() RunKey { return RunKey{InputID: r.InputID, Model: r.Model, Run: r.Run} }

// Scored reports whether the result carries a usable score.
func (r RunResult) Scored() bool { return r.Failure == FailureNone && r.Score != nil }

// ScoreValue returns the aggregated score, or 0 when unscored.
func (r RunResult) ScoreValue() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// ResultSet accumulates run results for one variant. It is safe for
// concurrent use. A later Add for the same key replaces the earlier one.
type ResultSet struct {
	mu      sync.Mutex
	results map[RunKey]RunResult

	inputOrder map[string]int
	modelOrder map[string]int
}

// NewResultSet creates an empty set. inputs and models give the display
// order used by Results; unknown ids sort after known ones.
func NewResultSet(inputs, models []string) *ResultSet {
	return &ResultSet{
		results:    make(map[RunKey]RunResult),
		inputOrder: indexOf(inputs),
		modelOrder: indexOf(models),
	}
}

func indexOf(ids []string) map[string]int {
	m := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := m[id]; !ok {
			m[id] = i
		}
	}
	return m
}

// Add records a result.
func (s *ResultSet) Add(r RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Key()] = r
}

// Get returns the result for key.
func (s *ResultSet) Get(key RunKey) (RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[key]
	return r, ok
}

// Len returns the number of results.
func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Results returns a snapshot sorted by input order, model order, then run.
func (s *ResultSet) Results() []RunResult {
	s.mu.Lock()
	out := make([]RunResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b RunResult) int {
		if c := compareOrdered(s.inputOrder, a.InputID, b.InputID); c != 0 {
			return c
		}
		if c := compareOrdered(s.modelOrder, a.Model, b.Model); c != 0 {
			return c
		}
		return cmp.Compare(a.Run, b.Run)
	})
	return out
}

func compareOrdered(order map[string]int, a, b string) int {
	ia, okA := order[a]
	ib, okB := order[b]
	switch {
	case okA && okB:
		return cmp.Compare(ia, ib)
	case okA:
		return -1
	case okB:
		return 1
	}
	return cmp.Compare(a, b)
}

// Counts tallies cached responses and failures by kind.
func (s *ResultSet) Counts() ResultCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c ResultCounts
	for _, r := range s.results {
		c.Total++
		if r.Cached {
			c.Cached++
		}
		switch r.Failure {
		case FailureProvider:
			c.ProviderFailures++
		case FailureJudge:
			c.JudgeFailures++
		}
	}
	return c
}

// ResultCounts summarizes a result set.
type ResultCounts struct {
	Total            int `yaml:"total" json:"total"`
	Cached           int `yaml:"cached" json:"cached"`
	ProviderFailures int `yaml:"provider_failures" json:"provider_failures"`
	JudgeFailures    int `yaml:"judge_failures" json:"judge_failures"`
}

// Failed returns the number of results with any failure.
func (c ResultCounts) Failed() int { return c.ProviderFailures + c.JudgeFailures }

// RunSummary is the persisted record of one variant run.
type RunSummary struct {
	RunID           string           `yaml:"run_id" json:"run_id"`
	Timestamp       string           `yaml:"timestamp" json:"timestamp"`
	Experiment      string           `yaml:"experiment" json:"experiment"`
	Variant         string           `yaml:"variant" json:"variant"`
	Models          []string         `yaml:"models" json:"models"`
	InputsCount     int              `yaml:"inputs_count" json:"inputs_count"`
	RunsPerInput    int              `yaml:"runs_per_input" json:"runs_per_input"`
	DurationSeconds float64          `yaml:"duration_seconds" json:"duration_seconds"`
	Counts          ResultCounts     `yaml:"counts" json:"counts"`
	Complete        bool             `yaml:"complete" json:"complete"`
	Hypothesis      string           `yaml:"hypothesis,omitempty" json:"hypothesis,omitempty"`
	Config          ExperimentConfig `yaml:"config" json:"config"`
	Judge           JudgeSnapshot    `yaml:"judge" json:"judge"`
	Results         []RunResult      `yaml:"results,omitempty" json:"results"`
	Stats           []InputStats     `yaml:"stats,omitempty" json:"stats"`
}

// JudgeSnapshot records the judge settings a run was graded with.
type JudgeSnapshot struct {
	Models         []string    `yaml:"models" json:"models"`
	Aggregation    Aggregation `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
	Range          ScoreRange  `yaml:"score_range" json:"score_range"`
	Temperature    float64     `yaml:"temperature" json:"temperature"`
	ChainOfThought bool        `yaml:"chain_of_thought" json:"chain_of_thought"`
}

// SnapshotJudge captures c for persistence.
func SnapshotJudge(c JudgeConfig) JudgeSnapshot {
	s := JudgeSnapshot{
		Models:         c.Models(),
		Range:          c.Range,
		Temperature:    c.Temperature,
		ChainOfThought: c.ChainOfThought,
	}
	if m, ok := c.Mode.(MultiJudge); ok {
		s.Aggregation = m.Aggregation
	}
	return s
}

// Scores returns every usable score in the summary.
func (s *RunSummary) Scores() []float64 {
	var out []float64
	for _, r := range s.Results {
		if r.Scored() {
			out = append(out, *r.Score)
		}
	}
	return out
}

// ScoresFor returns the usable scores for one (input, model) pair.
func (s *RunSummary) ScoresFor(inputID, model string) []float64 {
	var out []float64
	for _, r := range s.Results {
		if r.InputID == inputID && r.Model == model && r.Scored() {
			out = append(out, *r.Score)
		}
	}
	return out
}
