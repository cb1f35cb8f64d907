package domain

import (
	"fmt"
	"math"
	"slices"
)

// Aggregation names the strategy combining multi-judge scores.
type Aggregation string

// Supported aggregation strategies.
const (
	AggregationMean     Aggregation = "mean"
	AggregationMedian   Aggregation = "median"
	AggregationMajority Aggregation = "majority"
)

// Valid reports whether a is a supported strategy.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationMean, AggregationMedian, AggregationMajority:
		return true
	}
	return false
}

// ParseAggregation maps a config value to an Aggregation. An empty value
// selects the mean.
func ParseAggregation(s string) (Aggregation, error) {
	if s == "" {
		return AggregationMean, nil
	}
	a := Aggregation(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unsupported aggregation %q, must be one of mean, median, majority",
			ErrInvalidConfiguration, s)
	}
	return a, nil
}

// Aggregate combines raw judge scores into one score.
//
// Majority picks the most frequent score and falls back to the mean when
// two or more scores tie for most frequent.
func (a Aggregation) Aggregate(scores []float64) (float64, error) {
	if len(scores) == 0 {
		return 0, ErrNoScores
	}
	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return 0, fmt.Errorf("cannot aggregate non-finite score %v", s)
		}
	}

	switch a {
	case AggregationMean, "":
		return mean(scores), nil
	case AggregationMedian:
		return median(scores), nil
	case AggregationMajority:
		if m, ok := mode(scores); ok {
			return m, nil
		}
		return mean(scores), nil
	default:
		return 0, fmt.Errorf("%w: unsupported aggregation %q", ErrInvalidConfiguration, a)
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode returns the unique most frequent value. ok is false on a tie.
func mode(xs []float64) (float64, bool) {
	counts := make(map[float64]int, len(xs))
	for _, x := range xs {
		counts[x]++
	}
	best, bestCount, tied := 0.0, 0, false
	for v, c := range counts {
		switch {
		case c > bestCount:
			best, bestCount, tied = v, c, false
		case c == bestCount:
			tied = true
		}
	}
	return best, !tied
}
