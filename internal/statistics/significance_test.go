package statistics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/domain"
)

func TestWelchTTest(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []float64
		wantT float64
		wantP float64
		delta float64
	}{
		{
			name:  "too few samples",
			a:     []float64{9},
			b:     []float64{5, 6},
			wantT: 0,
			wantP: 1,
		},
		{
			name:  "identical distributions",
			a:     []float64{8, 7, 9, 6, 8},
			b:     []float64{8, 6, 9, 7, 8},
			wantT: 0,
			wantP: 1,
			delta: 1e-9,
		},
		{
			name:  "zero variance equal means",
			a:     []float64{7, 7, 7},
			b:     []float64{7, 7},
			wantT: 0,
			wantP: 1,
		},
		{
			name:  "unequal variances",
			a:     []float64{27.5, 21.0, 19.0, 23.6, 17.0, 17.9, 16.9, 20.1, 21.9, 22.6, 23.1, 19.6, 19.0, 21.7, 21.4},
			b:     []float64{27.1, 22.0, 20.8, 23.4, 23.4, 23.5, 25.8, 22.0, 24.8, 20.2, 21.9, 22.1, 22.9, 20.5, 24.4},
			wantT: -2.46,
			wantP: 0.021,
			delta: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WelchTTest(tt.a, tt.b)
			assert.InDelta(t, tt.wantT, got.T, tt.delta+1e-12)
			assert.InDelta(t, tt.wantP, got.P, tt.delta+1e-12)
		})
	}
}

func TestWelchTTestZeroVarianceDifferentMeans(t *testing.T) {
	got := WelchTTest([]float64{9, 9, 9, 9, 9}, []float64{5, 5, 5, 5, 5})
	assert.True(t, math.IsInf(got.T, 1))
	assert.Equal(t, 0.0, got.P)

	got = WelchTTest([]float64{5, 5}, []float64{9, 9})
	assert.True(t, math.IsInf(got.T, -1))
}

func TestCompare(t *testing.T) {
	t.Run("A clearly better", func(t *testing.T) {
		c := Compare("detailed", []float64{9, 9, 9, 9, 9}, "terse", []float64{5, 5, 5, 5, 5})

		assert.Equal(t, domain.VerdictAGreater, c.Verdict)
		assert.LessOrEqual(t, c.PValue, 0.01)
		assert.True(t, c.HighlySignificant)
		assert.Equal(t, "detailed", c.Winner())
		assert.Equal(t, 9.0, c.MeanA)
		assert.Equal(t, 5.0, c.MeanB)
		assert.Equal(t, 5, c.NA)
	})

	t.Run("near-identical distributions", func(t *testing.T) {
		c := Compare("a", []float64{8, 7, 9, 6, 8}, "b", []float64{8, 6, 9, 7, 8})

		assert.Equal(t, domain.VerdictNoDifference, c.Verdict)
		assert.False(t, c.HighlySignificant)
		assert.Empty(t, c.Winner())
	})

	t.Run("B better at 5 percent only", func(t *testing.T) {
		c := Compare("a", []float64{6, 7, 6, 8, 7}, "b", []float64{8, 8, 7, 9, 8})

		require.Equal(t, domain.VerdictBGreater, c.Verdict)
		assert.Greater(t, c.PValue, 0.01)
		assert.LessOrEqual(t, c.PValue, 0.05)
		assert.False(t, c.HighlySignificant)
		assert.Equal(t, "*", c.Marker())
	})

	t.Run("ordering without significance", func(t *testing.T) {
		c := Compare("a", []float64{9, 3, 8}, "b", []float64{4, 8, 5})

		assert.Greater(t, c.MeanA, c.MeanB)
		assert.Equal(t, domain.VerdictNoDifference, c.Verdict)
	})
}

func TestCompareVariants(t *testing.T) {
	results := CompareVariants([]NamedScores{
		{Name: "v1", Scores: []float64{9, 9, 8, 9, 9}},
		{Name: "v2", Scores: []float64{5, 6, 5, 5, 6}},
		{Name: "empty"},
		{Name: "v3", Scores: []float64{9, 8, 9, 9, 9}},
	})

	require.Len(t, results, 3)
	assert.Equal(t, [2]string{"v1", "v2"}, [2]string{results[0].VariantA, results[0].VariantB})
	assert.Equal(t, [2]string{"v1", "v3"}, [2]string{results[1].VariantA, results[1].VariantB})
	assert.Equal(t, [2]string{"v2", "v3"}, [2]string{results[2].VariantA, results[2].VariantB})
	assert.Equal(t, domain.VerdictAGreater, results[0].Verdict)
	assert.Equal(t, domain.VerdictNoDifference, results[1].Verdict)
	assert.Equal(t, domain.VerdictBGreater, results[2].Verdict)
}

func TestCompareByKey(t *testing.T) {
	v := func(x float64) *float64 { return &x }
	mk := func(variant, input string, scores ...float64) *domain.RunSummary {
		s := &domain.RunSummary{Variant: variant}
		for i, sc := range scores {
			s.Results = append(s.Results, domain.RunResult{InputID: input, Model: "openai:gpt-4o", Run: i, Score: v(sc)})
		}
		return s
	}

	a := mk("a", "q1", 9, 9, 9)
	a.Results = append(a.Results, domain.RunResult{InputID: "only-a", Model: "openai:gpt-4o", Score: v(3)})
	b := mk("b", "q1", 4, 4, 4)

	results := CompareByKey(a, b)
	require.Len(t, results, 1)
	assert.Equal(t, "q1", results[0].InputID)
	assert.Equal(t, "openai:gpt-4o", results[0].Model)
	assert.Equal(t, domain.VerdictAGreater, results[0].Verdict)
}
