package statistic

import (
	"math"
	"sort"

	"bellstat/domain/core"
	"bellstat/domain/trial"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CumulativePoint is CH evaluated on the first Trials trials.
type CumulativePoint struct {
	Trials int     `json:"trials"`
	Value  float64 `json:"value"`
	Sigma  float64 `json:"sigma"`
}

// CumulativeCH evaluates CH on growing prefixes of the set every step
// trials, with the Poisson sigma
//
//	sqrt(sum C + (Sa[a1b1] + Sa[a2b1] + Sb[a1b1] + Sb[a1b2]) / 4) / denom
//
// A prefix with a zero denominator reports NaN for both fields.
func CumulativeCH(set *trial.Set, step int) ([]CumulativePoint, error) {
	if step <= 0 {
		return nil, core.NewValidationError("step", "must be positive")
	}
	m := NewCHModel(set)
	n := m.Len()
	if n < step {
		return nil, core.NewInsufficientDataError("cumulative ch", n, step)
	}

	out := make([]CumulativePoint, 0, n/step)
	id := Identity(n)
	for end := step; end <= n; end += step {
		cells := m.count(id[:end], id[:end], id[:end])
		numer, denom, value := chFromCells(cells)
		p := CumulativePoint{Trials: end, Value: value, Sigma: math.NaN()}
		if denom > 0 {
			coinc := numer + 2*float64(cells[1][1].Coincidences)
			p.Sigma = math.Sqrt(coinc+0.25*2*denom) / denom
		}
		out = append(out, p)
	}
	return out, nil
}

// BlockCovarianceColumns names the columns of BlockCovariance in order.
var BlockCovarianceColumns = []string{"sA1", "sA2", "sB1", "sB2", "c11", "c12", "c21", "c22"}

// BlockCovariance sums the per-trial singles (by own setting) and
// coincidences (by joint setting) over non-overlapping blocks of block
// trials, dropping the tail, and returns the sample covariance of the block
// sums. Off-diagonal structure reveals correlations the Poisson sigma misses.
func BlockCovariance(set *trial.Set, block int) (*mat.SymDense, error) {
	if block <= 0 {
		return nil, core.NewValidationError("block", "must be positive")
	}
	m := NewCHModel(set)
	nblocks := m.Len() / block
	if nblocks < 2 {
		return nil, core.NewInsufficientDataError("block covariance", m.Len(), 2*block)
	}

	sums := mat.NewDense(nblocks, len(BlockCovarianceColumns), nil)
	for i := 0; i < nblocks*block; i++ {
		row := i / block
		add := func(col int) { sums.Set(row, col, sums.At(row, col)+1) }
		if m.clickA[i] {
			add(int(m.setA[i]) - 1)
		}
		if m.clickB[i] {
			add(2 + int(m.setB[i]) - 1)
		}
		if m.coinc[i] {
			add(4 + 2*(int(m.setA[i])-1) + int(m.setB[i]) - 1)
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, sums, nil)
	return &cov, nil
}

// DefaultPeakBins is the histogram resolution of PeakDrift.
const DefaultPeakBins = 256

// PeakPoint is the match-offset histogram peak of one block of trials.
type PeakPoint struct {
	Trials int     `json:"trials"` // trials up to the end of the block
	Peak   float64 `json:"peak_ticks"`
	Mean   float64 `json:"mean_ticks"`
}

// PeakDrift splits the set into non-overlapping blocks of block trials,
// dropping the tail, and histograms B.Offset - A.Offset of each block into
// bins equal bins over the block's range. Peak is the left edge of the
// fullest bin; a peak that wanders from block to block means the sync model
// drifts over the run.
func PeakDrift(set *trial.Set, block, bins int) ([]PeakPoint, error) {
	if block <= 0 {
		return nil, core.NewValidationError("block", "must be positive")
	}
	if bins <= 0 {
		bins = DefaultPeakBins
	}
	nblocks := set.Len() / block
	if nblocks == 0 {
		return nil, core.NewInsufficientDataError("peak drift", set.Len(), block)
	}

	out := make([]PeakPoint, 0, nblocks)
	x := make([]float64, block)
	counts := make([]float64, bins)
	dividers := make([]float64, bins+1)
	for k := 0; k < nblocks; k++ {
		for i := range x {
			tr := set.At(k*block + i)
			x[i] = tr.B.Offset - tr.A.Offset
		}
		sort.Float64s(x)
		p := PeakPoint{Trials: (k + 1) * block, Peak: x[0], Mean: stat.Mean(x, nil)}
		if lo, hi := x[0], x[len(x)-1]; hi > lo {
			floats.Span(dividers, lo, hi)
			dividers[bins] = math.Nextafter(hi, math.Inf(1))
			for i := range counts {
				counts[i] = 0
			}
			stat.Histogram(counts, dividers, x, nil)
			p.Peak = dividers[floats.MaxIdx(counts)]
		}
		out = append(out, p)
	}
	return out, nil
}
