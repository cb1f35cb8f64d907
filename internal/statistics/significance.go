package statistics

import (
	"math"

	"github.com/ahrav/go-promptlab/internal/domain"
)

// TTest is the outcome of Welch's two-sample t-test.
type TTest struct {
	T  float64
	DF float64

	// P is the two-tailed p-value.
	P float64
}

// WelchTTest compares two independent samples without assuming equal
// variances. Samples with fewer than two values give T=0, P=1. When both
// samples have zero variance, different means give an infinite T with P=0
// and equal means give T=0, P=1.
func WelchTTest(a, b []float64) TTest {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return TTest{T: 0, P: 1}
	}

	m1, m2 := meanOf(a), meanOf(b)
	v1, v2 := variance(a, m1)/n1, variance(b, m2)/n2
	se := math.Sqrt(v1 + v2)
	if se == 0 {
		df := n1 + n2 - 2
		switch {
		case m1 > m2:
			return TTest{T: math.Inf(1), DF: df, P: 0}
		case m1 < m2:
			return TTest{T: math.Inf(-1), DF: df, P: 0}
		}
		return TTest{T: 0, DF: df, P: 1}
	}

	t := (m1 - m2) / se
	df := (v1 + v2) * (v1 + v2) / (v1*v1/(n1-1) + v2*v2/(n2-1))
	return TTest{T: t, DF: df, P: studentTTwoTailed(t, df)}
}

// Compare tests variant a against variant b and classifies the result.
func Compare(nameA string, a []float64, nameB string, b []float64) domain.ComparisonResult {
	tt := WelchTTest(a, b)
	meanA, meanB := meanOf(a), meanOf(b)
	verdict := domain.ClassifyVerdict(meanA, meanB, tt.P)
	return domain.ComparisonResult{
		VariantA:          nameA,
		VariantB:          nameB,
		MeanA:             meanA,
		MeanB:             meanB,
		NA:                len(a),
		NB:                len(b),
		TStatistic:        tt.T,
		DF:                tt.DF,
		PValue:            tt.P,
		Verdict:           verdict,
		HighlySignificant: verdict != domain.VerdictNoDifference && tt.P <= domain.StrongSignificanceLevel,
	}
}

// NamedScores is the score sample of one variant.
type NamedScores struct {
	Name   string
	Scores []float64
}

// CompareVariants compares every pair of variants in order, skipping pairs
// where either side has no scores.
func CompareVariants(variants []NamedScores) []domain.ComparisonResult {
	var out []domain.ComparisonResult
	for i := range variants {
		for j := i + 1; j < len(variants); j++ {
			a, b := variants[i], variants[j]
			if len(a.Scores) == 0 || len(b.Scores) == 0 {
				continue
			}
			out = append(out, Compare(a.Name, a.Scores, b.Name, b.Scores))
		}
	}
	return out
}

// CompareByKey compares two runs per (input, model) key present in both,
// in the order keys appear in a.
func CompareByKey(a, b *domain.RunSummary) []domain.ComparisonResult {
	var out []domain.ComparisonResult
	for _, st := range Summaries(a.Results) {
		sa := st.Scores
		sb := b.ScoresFor(st.InputID, st.Model)
		if len(sa) == 0 || len(sb) == 0 {
			continue
		}
		c := Compare(a.Variant, sa, b.Variant, sb)
		c.InputID, c.Model = st.InputID, st.Model
		out = append(out, c)
	}
	return out
}
