package significance

import (
	"fmt"
	"math"
	"sort"

	"bellstat/domain/stats"
	"bellstat/internal/statistic"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidenceLevel is the two-sided level of bootstrap intervals and of
// the Clopper-Pearson bound on the permutation p-value.
const DefaultConfidenceLevel = 0.95

// Inputs are the optional resampling outputs attached to a point result.
type Inputs struct {
	Permutation *stats.Distribution
	Bootstrap   *stats.Distribution
	// Bound requests the Azuma-Hoeffding tail bound when non-nil.
	Bound           *statistic.Bound
	ConfidenceLevel float64
}

// Summarize attaches p-values, the bootstrap interval and the analytic bound
// to a copy of point. point itself is not modified.
func Summarize(point *stats.StatisticResult, in Inputs) *stats.StatisticResult {
	res := *point
	res.Warnings = append([]string(nil), point.Warnings...)
	res.ExcludedDraws = 0
	res.Reproducible = true

	level := in.ConfidenceLevel
	if level <= 0 || level >= 1 {
		level = DefaultConfidenceLevel
	}

	for _, d := range []*stats.Distribution{in.Permutation, in.Bootstrap} {
		if d == nil {
			continue
		}
		res.ExcludedDraws += d.Excluded
		if !d.Reproducible() {
			res.Reproducible = false
		}
		if d.Excluded > 0 {
			res.AddWarning(fmt.Sprintf("%d of %d %s draws excluded as NaN", d.Excluded, d.Iterations, d.Kind))
		}
	}

	if d := in.Permutation; d != nil {
		switch {
		case res.Degenerate():
			res.AddWarning("p-value undefined for a degenerate statistic")
		case len(d.Draws) == 0:
			res.AddWarning("p-value undefined: no valid permutation draws")
		default:
			p, hits := EmpiricalPValue(res.Value, d.Draws)
			res.PValue = stats.Float(p)
			res.PValueLower = stats.Float(ClopperPearsonLower(hits, len(d.Draws), level))
		}
	}

	if d := in.Bootstrap; d != nil {
		if ci, err := PercentileInterval(d.Draws, level); err == nil {
			res.ConfidenceInterval = ci
		} else {
			res.AddWarning(fmt.Sprintf("confidence interval undefined: %v", err))
		}
	}

	if in.Bound != nil && !res.Degenerate() {
		res.BoundPValue = stats.Float(Azuma(*in.Bound))
	}
	return &res
}

// EmpiricalPValue is the two-sided permutation p-value of value: draws whose
// magnitude reaches |value| count as hits, ties included, and
// p = (hits + 1) / (N + 1).
func EmpiricalPValue(value float64, draws []float64) (p float64, hits int) {
	if len(draws) == 0 {
		return 1, 0
	}
	observed := math.Abs(value)
	for _, d := range draws {
		if math.Abs(d) >= observed {
			hits++
		}
	}
	return float64(hits+1) / float64(len(draws)+1), hits
}

// ClopperPearsonLower is the lower end of the two-sided Clopper-Pearson
// interval for hits successes in n trials.
func ClopperPearsonLower(hits, n int, level float64) float64 {
	if hits <= 0 || n <= 0 {
		return 0
	}
	alpha := (1 - level) / 2
	beta := distuv.Beta{Alpha: float64(hits), Beta: float64(n - hits + 1)}
	return beta.Quantile(alpha)
}

// PercentileInterval is the percentile-method interval of draws at the given
// two-sided level, interpolating linearly between order statistics.
func PercentileInterval(draws []float64, level float64) (*stats.Interval, error) {
	if len(draws) == 0 {
		return nil, fmt.Errorf("no valid bootstrap draws")
	}
	if level <= 0 || level >= 1 {
		return nil, fmt.Errorf("confidence level %v outside (0, 1)", level)
	}
	sorted := append([]float64(nil), draws...)
	sort.Float64s(sorted)
	alpha := (1 - level) / 2
	return &stats.Interval{
		Lo:    stat.Quantile(alpha, stat.LinInterp, sorted, nil),
		Hi:    stat.Quantile(1-alpha, stat.LinInterp, sorted, nil),
		Level: level,
	}, nil
}

// Azuma is the two-sided Azuma-Hoeffding tail probability
// min(1, 2 exp(-t^2 / (2 N C^2))) of a deviation t = b.Deviation.
func Azuma(b statistic.Bound) float64 {
	if b.N <= 0 || b.C <= 0 {
		return 1
	}
	n := float64(b.N)
	return math.Min(1, 2*math.Exp(-b.Deviation*b.Deviation/(2*n*b.C*b.C)))
}
