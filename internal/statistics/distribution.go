package statistics

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// studentT returns the standard Student t distribution with df degrees of
// freedom. df need not be an integer; Welch's test uses a fractional one.
func studentT(df float64) distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
}

// studentTTwoTailed returns P(|T| >= |t|) for a Student t variable with df
// degrees of freedom.
func studentTTwoTailed(t, df float64) float64 {
	if math.IsNaN(t) || df <= 0 {
		return 1
	}
	if math.IsInf(t, 0) {
		return 0
	}
	return 2 * studentT(df).Survival(math.Abs(t))
}

// studentTQuantile returns the t with P(T <= t) = p.
func studentTQuantile(p, df float64) float64 {
	return studentT(df).Quantile(p)
}
