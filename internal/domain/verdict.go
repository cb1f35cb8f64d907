package domain

import "fmt"

// SignificanceLevel is the p-value threshold for a significant difference.
const SignificanceLevel = 0.05

// StrongSignificanceLevel marks a highly significant difference.
const StrongSignificanceLevel = 0.01

// LowSampleThreshold is the sample count below which intervals are flagged
// as unreliable.
const LowSampleThreshold = 5

// Interval is a closed confidence interval.
type Interval struct {
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
}

// Contains reports whether x lies strictly inside the interval.
func (i Interval) Contains(x float64) bool { return x > i.Lower && x < i.Upper }

// StatSummary summarizes the scores for one (input, model) pair. It is
// always derived from a result set and never stored on its own.
type StatSummary struct {
	N      int     `yaml:"n" json:"n"`
	Mean   float64 `yaml:"mean" json:"mean"`
	StdDev float64 `yaml:"stddev" json:"stddev"`
	Min    float64 `yaml:"min" json:"min"`
	Max    float64 `yaml:"max" json:"max"`

	// CI is the 95% confidence interval. Nil means undefined: n < 2.
	CI *Interval `yaml:"ci,omitempty" json:"ci,omitempty"`

	// LowSample is set when N < LowSampleThreshold.
	LowSample bool `yaml:"low_sample" json:"low_sample"`
}

// Defined reports whether any scores were summarized.
func (s StatSummary) Defined() bool { return s.N > 0 }

// CIString formats the interval, or the reason it is unavailable.
func (s StatSummary) CIString() string {
	switch {
	case s.N == 0:
		return "undefined"
	case s.CI == nil:
		return "n/a (n=1)"
	}
	return fmt.Sprintf("[%.2f, %.2f]", s.CI.Lower, s.CI.Upper)
}

// InputStats pairs a StatSummary with the key it summarizes.
type InputStats struct {
	InputID     string    `yaml:"input_id" json:"input_id"`
	Model       string    `yaml:"model" json:"model"`
	Scores      []float64 `yaml:"scores" json:"scores"`
	StatSummary `yaml:",inline"`
}

// ComparisonVerdict is the outcome of a significance test between two variants.
type ComparisonVerdict string

// Comparison verdicts.
const (
	VerdictAGreater     ComparisonVerdict = "A>B"
	VerdictBGreater     ComparisonVerdict = "B>A"
	VerdictNoDifference ComparisonVerdict = "no significant difference"
)

// ComparisonResult compares the scores of two variants. InputID and Model
// are empty when the comparison spans every key.
type ComparisonResult struct {
	VariantA string `yaml:"variant_a" json:"variant_a"`
	VariantB string `yaml:"variant_b" json:"variant_b"`
	InputID  string `yaml:"input_id,omitempty" json:"input_id,omitempty"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`

	MeanA float64 `yaml:"mean_a" json:"mean_a"`
	MeanB float64 `yaml:"mean_b" json:"mean_b"`
	NA    int     `yaml:"n_a" json:"n_a"`
	NB    int     `yaml:"n_b" json:"n_b"`

	// TStatistic is positive when A scored higher. It is infinite when both
	// samples have zero variance and different means.
	TStatistic float64 `yaml:"t_statistic" json:"-"`
	DF         float64 `yaml:"df" json:"df"`
	PValue     float64 `yaml:"p_value" json:"p_value"`

	Verdict ComparisonVerdict `yaml:"verdict" json:"verdict"`

	// HighlySignificant is set when PValue <= StrongSignificanceLevel and
	// the verdict names a winner.
	HighlySignificant bool `yaml:"highly_significant" json:"highly_significant"`
}

// Significant reports whether the comparison found a winner.
func (c ComparisonResult) Significant() bool { return c.Verdict != VerdictNoDifference }

// Winner returns the winning variant name, or "" if there is none.
func (c ComparisonResult) Winner() string {
	switch c.Verdict {
	case VerdictAGreater:
		return c.VariantA
	case VerdictBGreater:
		return c.VariantB
	}
	return ""
}

// Marker returns "**" for p <= 0.01, "*" for p <= 0.05, and "" otherwise.
func (c ComparisonResult) Marker() string {
	switch {
	case c.HighlySignificant:
		return "**"
	case c.Significant():
		return "*"
	}
	return ""
}

// ClassifyVerdict maps means and a p-value to a verdict.
func ClassifyVerdict(meanA, meanB, p float64) ComparisonVerdict {
	if p > SignificanceLevel || meanA == meanB {
		return VerdictNoDifference
	}
	if meanA > meanB {
		return VerdictAGreater
	}
	return VerdictBGreater
}
