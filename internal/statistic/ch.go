package statistic

import (
	"math"

	"bellstat/domain/core"
	"bellstat/domain/stats"
	"bellstat/domain/trial"
)

// ============================================================================
// CLAUSER-HORNE (EBERHARD) STATISTIC
// ============================================================================
// Per joint setting cell (a, b) the calculator counts A singles (pattern > 0),
// B singles, coincidences (A pattern > 0 and equal to B's pattern) and trials.
// With C_ab the coincidences and Sa/Sb the singles:
//
//	numer = C11 + C12 + C21 - C22
//	denom = (Sa[a1b1] + Sa[a2b1] + Sb[a1b1] + Sb[a1b2]) / 2
//	CH    = numer / denom
//	sigma = sqrt(Sa[a1b1] + Sa[a2b1] + Sb[a1b1] + Sb[a1b2]) / (2 denom)
//	p_LR  = erfc(CH / sigma / sqrt 2) / 2
//
// The (a2, b2) cell carries the negative sign. A zero denominator yields NaN
// and a degeneracy warning, never an error.
// ============================================================================

// CHResult is the full CH evaluation of one trial set.
type CHResult struct {
	Value  float64
	Trials int
	Detail stats.CHDetail
}

// CHValue returns the normalized CH value of trials; NaN when degenerate.
func CHValue(set *trial.Set) float64 {
	return ComputeCH(set).Value
}

// ComputeCH evaluates CH with sigma, the likelihood-ratio p-value and the
// no-signalling diagnostics. Trials lacking a setting at either station are
// ignored.
func ComputeCH(set *trial.Set) CHResult {
	m := NewCHModel(set)
	id := Identity(m.Len())
	cells := m.count(id, id, id)
	numer, denom, value := chFromCells(cells)

	d := stats.CHDetail{
		Cells:        cells,
		Numerator:    numer,
		Denominator:  denom,
		NoSignalling: noSignalling(cells),
	}
	if denom == 0 {
		d.Degenerate = true
	} else {
		singles := 2 * denom
		d.Sigma = 0.5 * math.Sqrt(singles) / denom
		d.PValueLR = 0.5 * math.Erfc((value/d.Sigma)/math.Sqrt2)
	}
	return CHResult{Value: value, Trials: m.Len(), Detail: d}
}

// Result converts the evaluation into a StatisticResult without resampling.
func (r CHResult) Result() *stats.StatisticResult {
	detail := r.Detail
	res := &stats.StatisticResult{
		Statistic: stats.CH(),
		Value:     r.Value,
		Trials:    r.Trials,
		CH:        &detail,
	}
	if detail.Degenerate {
		res.AddWarning(core.NumericDegeneracyWarning{Statistic: "ch", Reason: "zero singles denominator"}.String())
	} else {
		res.VarianceEstimate = stats.Float(detail.Sigma * detail.Sigma)
	}
	return res
}

func chFromCells(c [2][2]stats.CellCounts) (numer, denom, value float64) {
	numer = float64(c[0][0].Coincidences + c[0][1].Coincidences + c[1][0].Coincidences - c[1][1].Coincidences)
	denom = 0.5 * float64(c[0][0].SinglesA+c[1][0].SinglesA+c[0][0].SinglesB+c[0][1].SinglesB)
	if denom == 0 {
		return numer, 0, math.NaN()
	}
	return numer, denom, numer / denom
}

func noSignalling(c [2][2]stats.CellCounts) stats.NoSignalling {
	tb1 := c[0][0].Trials + c[1][0].Trials
	tb2 := c[0][1].Trials + c[1][1].Trials
	ta1 := c[0][0].Trials + c[0][1].Trials
	ta2 := c[1][0].Trials + c[1][1].Trials

	pAb1 := ratio(c[0][0].SinglesA+c[1][0].SinglesA, tb1)
	pAb2 := ratio(c[0][1].SinglesA+c[1][1].SinglesA, tb2)
	pBa1 := ratio(c[0][0].SinglesB+c[0][1].SinglesB, ta1)
	pBa2 := ratio(c[1][0].SinglesB+c[1][1].SinglesB, ta2)

	ns := stats.NoSignalling{DeltaA: pAb1 - pAb2, DeltaB: pBa1 - pBa2}
	if tb1 > 0 && tb2 > 0 {
		ns.ZA = zscore(ns.DeltaA, varP(pAb1, tb1)+varP(pAb2, tb2))
	}
	if ta1 > 0 && ta2 > 0 {
		ns.ZB = zscore(ns.DeltaB, varP(pBa1, ta1)+varP(pBa2, ta2))
	}
	return ns
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func varP(p float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return p * (1 - p) / float64(n)
}

func zscore(d, variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	return d / math.Sqrt(variance)
}

// ============================================================================
// CH MODEL
// ============================================================================

// CHModel is the resampling view of a trial set for CH. Settings are the
// label columns; click flags are the anchor columns.
type CHModel struct {
	setA, setB     []uint8
	clickA, clickB []bool
	coinc          []bool
}

// NewCHModel extracts the CH columns of the trials carrying both settings.
func NewCHModel(set *trial.Set) *CHModel {
	set = set.WithSettings()
	n := set.Len()
	m := &CHModel{
		setA:   make([]uint8, n),
		setB:   make([]uint8, n),
		clickA: make([]bool, n),
		clickB: make([]bool, n),
		coinc:  make([]bool, n),
	}
	for i := 0; i < n; i++ {
		t := set.At(i)
		m.setA[i] = t.A.Setting
		m.setB[i] = t.B.Setting
		m.clickA[i] = t.A.Outcome > 0
		m.clickB[i] = t.B.Outcome > 0
		m.coinc[i] = t.A.Outcome > 0 && t.A.Outcome == t.B.Outcome
	}
	return m
}

func (m *CHModel) Statistic() stats.Statistic { return stats.CH() }
func (m *CHModel) Len() int { return len(m.setA) }

// Eval recomputes CH over the indexed positions; NaN when degenerate.
func (m *CHModel) Eval(rows, labelsA, labelsB []int) (float64, error) {
	if err := checkLens(rows, labelsA, labelsB); err != nil {
		return 0, err
	}
	_, _, v := chFromCells(m.count(rows, labelsA, labelsB))
	return v, nil
}

func (m *CHModel) count(rows, labelsA, labelsB []int) [2][2]stats.CellCounts {
	var cells [2][2]stats.CellCounts
	for k, r := range rows {
		c := &cells[m.setA[labelsA[k]]-1][m.setB[labelsB[k]]-1]
		c.Trials++
		if m.clickA[r] {
			c.SinglesA++
		}
		if m.clickB[r] {
			c.SinglesB++
		}
		if m.coinc[r] {
			c.Coincidences++
		}
	}
	return cells
}

// Bound centres CH on its expectation when setting labels are independent of
// the click pattern: jointly permuted for pair, as a product of marginals for
// side. Each trial moves numer - CH0*denom by at most 1 + |CH0|.
func (m *CHModel) Bound(mode stats.ShuffleMode) Bound {
	n := m.Len()
	id := Identity(n)
	cells := m.count(id, id, id)
	numer, denom, _ := chFromCells(cells)
	if n == 0 {
		return Bound{C: 1}
	}

	var p [2][2]float64
	var pa, pb [2]float64
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			f := float64(cells[x][y].Trials) / float64(n)
			p[x][y] = f
			pa[x] += f
			pb[y] += f
		}
	}
	if mode == stats.ShuffleSide {
		for x := 0; x < 2; x++ {
			for y := 0; y < 2; y++ {
				p[x][y] = pa[x] * pb[y]
			}
		}
	}

	var coincTot, saTot, sbTot float64
	for i := 0; i < n; i++ {
		if m.coinc[i] {
			coincTot++
		}
		if m.clickA[i] {
			saTot++
		}
		if m.clickB[i] {
			sbTot++
		}
	}
	expNumer := coincTot * (p[0][0] + p[0][1] + p[1][0] - p[1][1])
	expDenom := 0.5 * (saTot*(p[0][0]+p[1][0]) + sbTot*(p[0][0]+p[0][1]))
	ch0 := 0.0
	if expDenom > 0 {
		ch0 = expNumer / expDenom
	}
	return Bound{
		N:         n,
		C:         1 + math.Abs(ch0),
		Deviation: math.Abs(numer - ch0*denom),
	}
}
