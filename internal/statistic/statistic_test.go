package statistic

import (
	"errors"
	"math"
	"testing"

	"bellstat/domain/core"
	"bellstat/domain/stats"
	"bellstat/domain/trial"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cell appends trials for joint setting (sa, sb): coinc coincidences,
// aOnly A-only clicks and bOnly B-only clicks.
func cell(out []trial.Trial, sa, sb uint8, coinc, aOnly, bOnly int) []trial.Trial {
	add := func(oa, ob uint16) {
		out = append(out, trial.Trial{
			Slot: int64(len(out)),
			A:    trial.Side{Setting: sa, Outcome: oa},
			B:    trial.Side{Setting: sb, Outcome: ob},
		})
	}
	for i := 0; i < coinc; i++ {
		add(1, 1)
	}
	for i := 0; i < aOnly; i++ {
		add(2, 0)
	}
	for i := 0; i < bOnly; i++ {
		add(0, 4)
	}
	return out
}

// chFixture has coincidences 10/8/9/1 and singles Sa[a1b1]=20, Sa[a2b1]=18,
// Sb[a1b1]=22, Sb[a1b2]=16.
func chFixture() *trial.Set {
	var ts []trial.Trial
	ts = cell(ts, 1, 1, 10, 10, 12)
	ts = cell(ts, 1, 2, 8, 0, 8)
	ts = cell(ts, 2, 1, 9, 9, 0)
	ts = cell(ts, 2, 2, 1, 0, 0)
	// both click with different patterns: singles, not a coincidence
	ts = append(ts, trial.Trial{Slot: 999, A: trial.Side{Setting: 2, Outcome: 1}, B: trial.Side{Setting: 2, Outcome: 2}})
	// no setting recorded: ignored by CH
	ts = append(ts, trial.Trial{Slot: 1000, A: trial.Side{Setting: 0, Outcome: 1}, B: trial.Side{Setting: 1, Outcome: 1}})
	return trial.FromTrials(ts...)
}

func TestCHFixtureMatchesFormula(t *testing.T) {
	res := ComputeCH(chFixture())

	want := 26.0 / 38.0
	if res.Value != want {
		t.Fatalf("CH = %v, want exactly %v", res.Value, want)
	}
	assert.Equal(t, want, CHValue(chFixture()))
	assert.Equal(t, 26.0, res.Detail.Numerator)
	assert.Equal(t, 38.0, res.Detail.Denominator)

	sigma := 0.5 * math.Sqrt(76) / 38
	assert.Equal(t, sigma, res.Detail.Sigma)
	assert.Equal(t, 0.5*math.Erfc((want/sigma)/math.Sqrt2), res.Detail.PValueLR)
	assert.False(t, res.Detail.Degenerate)
	assert.Equal(t, 68, res.Trials)

	c := res.Detail.Cells
	assert.Equal(t, stats.CellCounts{Trials: 32, SinglesA: 20, SinglesB: 22, Coincidences: 10}, c[0][0])
	assert.Equal(t, stats.CellCounts{Trials: 2, SinglesA: 2, SinglesB: 2, Coincidences: 1}, c[1][1])
}

func TestCHNoSignalling(t *testing.T) {
	ns := ComputeCH(chFixture()).Detail.NoSignalling

	pAb1, pAb2 := 38.0/50.0, 10.0/18.0
	assert.InDelta(t, pAb1-pAb2, ns.DeltaA, 1e-12)
	wantZ := (pAb1 - pAb2) / math.Sqrt(pAb1*(1-pAb1)/50+pAb2*(1-pAb2)/18)
	assert.InDelta(t, wantZ, ns.ZA, 1e-12)

	pBa1, pBa2 := 38.0/48.0, 11.0/20.0
	assert.InDelta(t, pBa1-pBa2, ns.DeltaB, 1e-12)
}

func TestCHZeroDenominatorIsNaNWithWarning(t *testing.T) {
	var ts []trial.Trial
	ts = cell(ts, 1, 2, 0, 0, 0)
	ts = append(ts, trial.Trial{A: trial.Side{Setting: 2}, B: trial.Side{Setting: 2}})
	res := ComputeCH(trial.FromTrials(ts...))

	assert.True(t, math.IsNaN(res.Value))
	assert.True(t, res.Detail.Degenerate)

	out := res.Result()
	assert.True(t, out.Degenerate())
	assert.Nil(t, out.VarianceEstimate)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "numeric degeneracy")
}

func TestCHModelEval(t *testing.T) {
	m := NewCHModel(chFixture())
	require.Equal(t, 68, m.Len())

	id := Identity(m.Len())
	v, err := m.Eval(id, id, id)
	require.NoError(t, err)
	assert.Equal(t, 26.0/38.0, v)

	// Relabel every trial as (a2, b2): only the negative cell is populated
	// and the singles denominator drops to zero.
	last := make([]int, m.Len())
	for i := range last {
		last[i] = m.Len() - 1 // the mismatched (2,2) trial
	}
	v, err = m.Eval(id, last, last)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	_, err = m.Eval(id, id[:3], id)
	assert.Error(t, err)
}

// t3Fixture clicks (A,B): (1,1) (0,1) (1,0) (0,0) (1,1)
func t3Fixture() *trial.Set {
	clicks := [][2]uint16{{1, 1}, {0, 1}, {1, 0}, {0, 0}, {1, 1}}
	ts := make([]trial.Trial, len(clicks))
	for i, c := range clicks {
		ts[i] = trial.Trial{Slot: int64(i), A: trial.Side{Outcome: c[0]}, B: trial.Side{Outcome: c[1]}}
	}
	return trial.FromTrials(ts...)
}

func TestT3ValueByMode(t *testing.T) {
	tests := []struct {
		mode stats.RMode
		want float64
	}{
		{stats.RModeAny, 1.75},
		{stats.RModeAlice, 1.0},
		{stats.RModeBob, 1.75},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got, err := T3Value(t3Fixture(), tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeT3Counters(t *testing.T) {
	res, err := ComputeT3(t3Fixture(), stats.RModeAny, 1)
	require.NoError(t, err)

	c := res.Detail.Counters
	assert.Equal(t, stats.T3Counters{Triples: 4, NA: 2, NB: 2, NC: 3, NABC: 1, NBC: 1}, c)
	assert.Equal(t, 7, c.Total())
	assert.Equal(t, 7.0, res.Detail.Total)
	assert.Equal(t, 1.75, res.Value)

	// c'Xi is the increment itself, so sigma^2 = N * Var_pop(x) = 6.75.
	assert.InDelta(t, math.Sqrt(6.75), res.Detail.Sigma, 1e-9)
	require.NotNil(t, res.Detail.ClusterSigma)
	assert.InDelta(t, res.Detail.Sigma, *res.Detail.ClusterSigma, 1e-9, "block size 1 must reproduce the i.i.d. sigma")
	assert.InDelta(t, 7/math.Sqrt(6.75), res.Detail.Z, 1e-9)

	out := res.Result()
	assert.Equal(t, stats.T3(stats.RModeAny), out.Statistic)
	assert.Equal(t, 5, out.Trials)
	require.NotNil(t, out.VarianceEstimate)
	assert.InDelta(t, 6.75/16, *out.VarianceEstimate, 1e-9)
}

func TestT3InsufficientData(t *testing.T) {
	for _, set := range []*trial.Set{trial.FromTrials(), trial.FromTrials(trial.Trial{})} {
		_, err := T3Value(set, stats.RModeAny)
		if !errors.Is(err, core.ErrInsufficientData) {
			t.Fatalf("expected ErrInsufficientData for %d trials, got %v", set.Len(), err)
		}
		_, err = ComputeT3(set, stats.RModeAny, 0)
		assert.ErrorIs(t, err, core.ErrInsufficientData)
	}

	m, err := NewT3Model(t3Fixture(), stats.RModeAny)
	require.NoError(t, err)
	_, err = m.Eval(nil, nil, nil)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestIncrementRange(t *testing.T) {
	for _, a := range []bool{false, true} {
		for _, b := range []bool{false, true} {
			for _, r := range []bool{false, true} {
				x := increment(a, b, r)
				if x < 0 || x > 4 {
					t.Errorf("increment(%v,%v,%v) = %v outside [0,4]", a, b, r, x)
				}
			}
		}
	}
	assert.Equal(t, 4.0, increment(true, true, true))
	assert.Equal(t, 0.0, increment(false, false, false))
}

func TestBounds(t *testing.T) {
	m, err := NewT3Model(t3Fixture(), stats.RModeAny)
	require.NoError(t, err)
	b := m.Bound(stats.ShufflePair)
	assert.Equal(t, Bound{N: 4, C: 4, Deviation: 1}, b)

	ch := NewCHModel(chFixture()).Bound(stats.ShuffleSide)
	assert.Equal(t, 68, ch.N)
	assert.GreaterOrEqual(t, ch.C, 1.0)
	assert.LessOrEqual(t, ch.C, 2.0)
	assert.GreaterOrEqual(t, ch.Deviation, 0.0)
}

func TestModelForDispatch(t *testing.T) {
	m, err := ModelFor(stats.CH(), chFixture())
	require.NoError(t, err)
	assert.Equal(t, stats.CH(), m.Statistic())

	m, err = ModelFor(stats.T3(stats.RModeBob), t3Fixture())
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())

	_, err = ModelFor(stats.Statistic{Kind: "chsh"}, chFixture())
	assert.Error(t, err)

	res, err := Compute(stats.T3(stats.RModeAlice), t3Fixture(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Value)
	assert.Nil(t, res.T3.ClusterSigma)
}

func TestCumulativeCH(t *testing.T) {
	points, err := CumulativeCH(chFixture(), 20)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, []int{20, 40, 60}, []int{points[0].Trials, points[1].Trials, points[2].Trials})

	// first 20 trials: 10 coincidences and 10 A-only singles in (a1, b1)
	assert.InDelta(t, 10.0/15.0, points[0].Value, 1e-12)
	assert.InDelta(t, math.Sqrt(10+7.5)/15, points[0].Sigma, 1e-12)

	_, err = CumulativeCH(chFixture(), 0)
	assert.Error(t, err)
	_, err = CumulativeCH(chFixture(), 1000)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestBlockCovariance(t *testing.T) {
	cov, err := BlockCovariance(chFixture(), 10)
	require.NoError(t, err)
	assert.Equal(t, len(BlockCovarianceColumns), cov.SymmetricDim())
	for i := 0; i < cov.SymmetricDim(); i++ {
		assert.GreaterOrEqual(t, cov.At(i, i), 0.0)
	}

	_, err = BlockCovariance(chFixture(), 50)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestPeakDrift(t *testing.T) {
	// B-minus-A offsets: a block centred on 2 ticks, then one centred on 6
	diffs := []float64{0, 2, 2, 2, 2, 2, 2, 2, 2, 4, 2, 6, 6, 6, 6, 6, 6, 6, 6, 8, 1, 1, 1}
	ts := make([]trial.Trial, len(diffs))
	for i, d := range diffs {
		ts[i] = trial.Trial{Slot: int64(i), A: trial.Side{Offset: -1}, B: trial.Side{Offset: d - 1}}
	}

	points, err := PeakDrift(trial.FromTrials(ts...), 10, 4)
	if err != nil {
		t.Fatalf("PeakDrift: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d blocks, want 2 (tail dropped)", len(points))
	}
	want := []PeakPoint{{Trials: 10, Peak: 2, Mean: 2}, {Trials: 20, Peak: 5, Mean: 5.8}}
	for i, w := range want {
		p := points[i]
		if p.Trials != w.Trials || math.Abs(p.Peak-w.Peak) > 1e-12 || math.Abs(p.Mean-w.Mean) > 1e-12 {
			t.Errorf("block %d = %+v, want %+v", i, p, w)
		}
	}

	flat := make([]trial.Trial, 5)
	for i := range flat {
		flat[i] = trial.Trial{Slot: int64(i), B: trial.Side{Offset: 3}}
	}
	points, err = PeakDrift(trial.FromTrials(flat...), 5, 0)
	if err != nil || len(points) != 1 || points[0].Peak != 3 {
		t.Errorf("constant offsets: points %+v err %v, want one peak at 3", points, err)
	}

	if _, err := PeakDrift(trial.FromTrials(flat...), 0, 4); err == nil {
		t.Error("expected an error for block 0")
	}
	if _, err := PeakDrift(trial.FromTrials(flat...), 10, 4); !errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("short set: got %v, want ErrInsufficientData", err)
	}
}
