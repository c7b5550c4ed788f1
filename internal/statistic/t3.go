package statistic

import (
	"math"

	"bellstat/domain/core"
	"bellstat/domain/stats"
	"bellstat/domain/trial"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ============================================================================
// THIRD-ORDER (T3) STATISTIC
// ============================================================================
// Consecutive trials i and i+1 form a triple (A_i, B_i, R_i): A_i and B_i are
// the clicks of trial i, R_i is taken from trial i+1 according to the r_mode
// (any: A or B clicked, alice: A clicked, bob: B clicked). The last trial has
// no successor and is dropped.
//
// Every triple contributes the signed increment
//
//	x = 4ABR - AB - AR - BR + A + B + R   in [0, 4]
//
// whose sum equals the counter combination
// N_ABC - N_AB - N_AC - N_BC + N_A + N_B + N_C. The statistic is the mean of x.
// ============================================================================

// t3Coeff are the counter signs in indicator order (ABC, AB~C, A~BC, ~ABC, A, B, C).
var t3Coeff = []float64{1, -1, -1, -1, 1, 1, 1}

// T3Result is the full T3 evaluation of one trial set.
type T3Result struct {
	Value  float64
	Detail stats.T3Detail
}

// T3Value returns the mean signed increment over the triples of set.
func T3Value(set *trial.Set, mode stats.RMode) (float64, error) {
	m, err := NewT3Model(set, mode)
	if err != nil {
		return 0, err
	}
	id := Identity(m.Len())
	return m.Eval(id, id, id)
}

// ComputeT3 evaluates T3 with its seven counters and the covariance sigma of
// the signed total. cluster > 0 adds the cluster-robust sigma computed over
// contiguous blocks of cluster triples.
func ComputeT3(set *trial.Set, mode stats.RMode, cluster int) (*T3Result, error) {
	m, err := NewT3Model(set, mode)
	if err != nil {
		return nil, err
	}
	n := m.Len()

	var c stats.T3Counters
	c.Triples = n
	x := mat.NewDense(n, len(t3Coeff), nil)
	incr := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b, r := m.a[i], m.b[i], m.r[i]
		row := [7]bool{a && b && r, a && b && !r, a && !b && r, !a && b && r, a, b, r}
		for j, v := range row {
			if v {
				x.Set(i, j, 1)
			}
		}
		if a {
			c.NA++
		}
		if b {
			c.NB++
		}
		if r {
			c.NC++
		}
		switch {
		case row[0]:
			c.NABC++
		case row[1]:
			c.NAB++
		case row[2]:
			c.NAC++
		case row[3]:
			c.NBC++
		}
		incr[i] = increment(a, b, r)
	}

	total := float64(c.Total())
	res := &T3Result{
		Value: total / float64(n),
		Detail: stats.T3Detail{
			RMode:    mode,
			Counters: c,
			Total:    total,
			Sigma:    covarianceSigma(x),
		},
	}
	if res.Detail.Sigma > 0 {
		res.Detail.Z = total / res.Detail.Sigma
	}
	if cluster > 0 {
		res.Detail.ClusterSigma = stats.Float(clusterSigma(incr, cluster))
	}
	return res, nil
}

// Result converts the evaluation into a StatisticResult without resampling.
// The variance estimate is that of the mean increment, cluster-robust when a
// cluster size was given.
func (r *T3Result) Result() *stats.StatisticResult {
	detail := r.Detail
	n := float64(detail.Counters.Triples)
	sigma := detail.Sigma
	if detail.ClusterSigma != nil {
		sigma = *detail.ClusterSigma
	}
	return &stats.StatisticResult{
		Statistic:        stats.T3(detail.RMode),
		Value:            r.Value,
		Trials:           detail.Counters.Triples + 1,
		VarianceEstimate: stats.Float((sigma / n) * (sigma / n)),
		T3:               &detail,
	}
}

// covarianceSigma is sqrt(N c'Σc) with Σ the population covariance of the
// seven indicator columns.
func covarianceSigma(x *mat.Dense) float64 {
	n, _ := x.Dims()
	if n < 2 {
		return 0
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	cov.ScaleSym(float64(n-1)/float64(n), &cov)
	c := mat.NewVecDense(len(t3Coeff), t3Coeff)
	q := mat.Inner(c, &cov, c)
	if q <= 0 {
		return 0
	}
	return math.Sqrt(float64(n) * q)
}

// clusterSigma is the cluster-robust standard error of the sum of incr over
// contiguous blocks of size block (last partial block included).
func clusterSigma(incr []float64, block int) float64 {
	if len(incr) == 0 {
		return 0
	}
	mean := stat.Mean(incr, nil)
	var ss float64
	for start := 0; start < len(incr); start += block {
		end := min(start+block, len(incr))
		var s float64
		for _, v := range incr[start:end] {
			s += v - mean
		}
		ss += s * s
	}
	return math.Sqrt(ss)
}

func increment(a, b, r bool) float64 {
	var x int
	if a {
		x++
	}
	if b {
		x++
	}
	if r {
		x++
	}
	if a && b {
		x--
	}
	if a && r {
		x--
	}
	if b && r {
		x--
	}
	if a && b && r {
		x += 4
	}
	return float64(x)
}

// ============================================================================
// T3 MODEL
// ============================================================================

// T3Model is the resampling view of a trial set for T3. The (A_i, B_i) click
// pair forms the label columns and R_i is the anchor.
type T3Model struct {
	mode    stats.RMode
	a, b, r []bool
}

// NewT3Model builds the triple columns of set.
func NewT3Model(set *trial.Set, mode stats.RMode) (*T3Model, error) {
	if err := stats.ValidateRMode(mode); err != nil {
		return nil, err
	}
	if set.Len() < 2 {
		return nil, core.NewInsufficientDataError("t3", set.Len(), 2)
	}
	n := set.Len() - 1
	m := &T3Model{mode: mode, a: make([]bool, n), b: make([]bool, n), r: make([]bool, n)}
	for i := 0; i < n; i++ {
		cur, next := set.At(i), set.At(i+1)
		m.a[i] = cur.A.Clicked()
		m.b[i] = cur.B.Clicked()
		switch mode {
		case stats.RModeAny:
			m.r[i] = next.A.Clicked() || next.B.Clicked()
		case stats.RModeAlice:
			m.r[i] = next.A.Clicked()
		case stats.RModeBob:
			m.r[i] = next.B.Clicked()
		}
	}
	return m, nil
}

func (m *T3Model) Statistic() stats.Statistic { return stats.T3(m.mode) }
func (m *T3Model) Len() int { return len(m.r) }

// Eval returns the mean signed increment over the indexed positions.
func (m *T3Model) Eval(rows, labelsA, labelsB []int) (float64, error) {
	if err := checkLens(rows, labelsA, labelsB); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, core.NewInsufficientDataError("t3", 0, 1)
	}
	var sum int
	for k, row := range rows {
		sum += int(increment(m.a[labelsA[k]], m.b[labelsB[k]], m.r[row]))
	}
	return float64(sum) / float64(len(rows)), nil
}

// Bound centres the signed total on its expectation when the (A, B) labels
// are independent of R: jointly for pair, fully factorized for side. Each
// increment lies in [0, 4].
func (m *T3Model) Bound(mode stats.ShuffleMode) Bound {
	n := len(m.r)
	if n == 0 {
		return Bound{C: 4}
	}
	var na, nb, nr, nab, sum float64
	for i := 0; i < n; i++ {
		if m.a[i] {
			na++
		}
		if m.b[i] {
			nb++
		}
		if m.r[i] {
			nr++
		}
		if m.a[i] && m.b[i] {
			nab++
		}
		sum += increment(m.a[i], m.b[i], m.r[i])
	}
	fn := float64(n)
	pA, pB, pR, pAB := na/fn, nb/fn, nr/fn, nab/fn
	if mode == stats.ShuffleSide {
		pAB = pA * pB
	}
	mu0 := 4*pAB*pR - pAB - pA*pR - pB*pR + pA + pB + pR
	return Bound{N: n, C: 4, Deviation: math.Abs(sum - fn*mu0)}
}
