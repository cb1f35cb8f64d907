// Package statistics summarizes judge scores and tests whether prompt
// variants differ significantly.
package statistics

import (
	"math"

	"github.com/ahrav/go-promptlab/internal/domain"
)

// confidenceLevel is the two-sided coverage of reported intervals.
const confidenceLevel = 0.95

// Summarize computes mean, sample standard deviation, range, and a 95%
// t-distribution confidence interval for scores. With no scores the
// summary is undefined (N == 0). With one score CI is nil.
func Summarize(scores []float64) domain.StatSummary {
	n := len(scores)
	s := domain.StatSummary{N: n, LowSample: n < domain.LowSampleThreshold}
	if n == 0 {
		return s
	}

	s.Min, s.Max = scores[0], scores[0]
	var sum float64
	for _, x := range scores {
		sum += x
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
	}
	s.Mean = sum / float64(n)
	if n == 1 {
		return s
	}

	s.StdDev = math.Sqrt(variance(scores, s.Mean))
	margin := CriticalValue(n-1) * s.StdDev / math.Sqrt(float64(n))
	s.CI = &domain.Interval{Lower: s.Mean - margin, Upper: s.Mean + margin}
	return s
}

// CriticalValue returns the two-sided 95% critical value of the t
// distribution with df degrees of freedom.
func CriticalValue(df int) float64 {
	if df < 1 {
		return math.NaN()
	}
	return studentTQuantile(1-(1-confidenceLevel)/2, float64(df))
}

// variance returns the unbiased sample variance.
func variance(xs []float64, mean float64) float64 {
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs)-1)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Round rounds x to places decimal places for display.
func Round(x float64, places int) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// Summaries groups scored results by (input, model) in the order keys first
// appear in results. A key whose runs all failed is kept with N == 0.
func Summaries(results []domain.RunResult) []domain.InputStats {
	type key struct{ input, model string }
	var order []key
	scores := make(map[key][]float64)
	for _, r := range results {
		k := key{r.InputID, r.Model}
		if _, seen := scores[k]; !seen {
			order = append(order, k)
			scores[k] = []float64{}
		}
		if r.Scored() {
			scores[k] = append(scores[k], *r.Score)
		}
	}

	out := make([]domain.InputStats, 0, len(order))
	for _, k := range order {
		out = append(out, domain.InputStats{
			InputID:     k.input,
			Model:       k.model,
			Scores:      scores[k],
			StatSummary: Summarize(scores[k]),
		})
	}
	return out
}
