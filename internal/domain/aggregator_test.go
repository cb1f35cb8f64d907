package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregationAggregate(t *testing.T) {
	tests := []struct {
		name        string
		aggregation Aggregation
		scores      []float64
		want        float64
		wantErr     error
	}{
		{name: "mean of three judges", aggregation: AggregationMean, scores: []float64{8, 6, 10}, want: 8.0},
		{name: "median of three judges", aggregation: AggregationMedian, scores: []float64{8, 6, 10}, want: 8},
		{name: "median of even count averages middle", aggregation: AggregationMedian, scores: []float64{6, 9, 7, 10}, want: 8},
		{name: "mean is not rounded", aggregation: AggregationMean, scores: []float64{7, 8}, want: 7.5},
		{name: "empty aggregation means mean", aggregation: "", scores: []float64{2, 4}, want: 3},
		{name: "majority picks most frequent", aggregation: AggregationMajority, scores: []float64{7, 9, 7}, want: 7},
		{name: "majority tie falls back to mean", aggregation: AggregationMajority, scores: []float64{6, 10}, want: 8},
		{name: "majority three-way tie falls back to mean", aggregation: AggregationMajority, scores: []float64{8, 6, 10}, want: 8},
		{name: "single score", aggregation: AggregationMedian, scores: []float64{4}, want: 4},
		{name: "empty scores", aggregation: AggregationMean, scores: nil, wantErr: ErrNoScores},
		{name: "unknown strategy", aggregation: "mode", scores: []float64{1}, wantErr: ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.aggregation.Aggregate(tt.scores)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAggregationRejectsNonFinite(t *testing.T) {
	_, err := AggregationMean.Aggregate([]float64{1, math.NaN()})
	assert.Error(t, err)
}

func TestAggregationDoesNotMutateInput(t *testing.T) {
	scores := []float64{9, 1, 5}
	_, err := AggregationMedian.Aggregate(scores)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 1, 5}, scores)
}

func TestParseAggregation(t *testing.T) {
	a, err := ParseAggregation("")
	require.NoError(t, err)
	assert.Equal(t, AggregationMean, a)

	a, err = ParseAggregation("median")
	require.NoError(t, err)
	assert.Equal(t, AggregationMedian, a)

	_, err = ParseAggregation("weighted")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}
