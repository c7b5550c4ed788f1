package significance

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"bellstat/adapters/rng"
	"bellstat/domain/stats"
	"bellstat/domain/trial"
	"bellstat/internal/resample"
	"bellstat/internal/statistic"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestEmpiricalPValue(t *testing.T) {
	symmetric := []float64{-2, -1, 0, 1, 2}
	// permutation CH draws sit around a non-zero null mean
	shifted := []float64{0.3, 0.4, 0.5, 0.6, -0.2}

	tests := []struct {
		name     string
		value    float64
		draws    []float64
		wantP    float64
		wantHits int
	}{
		{"inside", 1.5, symmetric, 3.0 / 6.0, 2},
		{"at zero", 0, symmetric, 1, 5},
		{"tie counts as extreme", 2, symmetric, 3.0 / 6.0, 2},
		{"negative side", -1.5, symmetric, 3.0 / 6.0, 2},
		{"beyond every draw", 10, symmetric, 1.0 / 6.0, 0},
		{"magnitude not distance from mean", 0.45, shifted, 3.0 / 6.0, 2},
		{"sign ignored", -0.45, shifted, 3.0 / 6.0, 2},
		{"below the mean", 0.1, shifted, 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, hits := EmpiricalPValue(tt.value, tt.draws)
			if hits != tt.wantHits {
				t.Errorf("hits = %d, want %d", hits, tt.wantHits)
			}
			if !near(p, tt.wantP, 1e-12) {
				t.Errorf("p = %v, want %v", p, tt.wantP)
			}
		})
	}

	if p, hits := EmpiricalPValue(1, nil); p != 1 || hits != 0 {
		t.Errorf("empty draws: p = %v hits = %d, want 1 and 0", p, hits)
	}
}

func TestClopperPearsonLower(t *testing.T) {
	if got := ClopperPearsonLower(0, 100, 0.95); got != 0 {
		t.Errorf("zero hits: got %v, want 0", got)
	}
	// Beta(n, 1) has quantile q^(1/n)
	if got, want := ClopperPearsonLower(10, 10, 0.95), math.Pow(0.025, 0.1); !near(got, want, 1e-9) {
		t.Errorf("all hits: got %v, want %v", got, want)
	}
	if lo := ClopperPearsonLower(50, 1000, 0.95); lo <= 0 || lo >= 0.05 {
		t.Errorf("50/1000: got %v, want in (0, 0.05)", lo)
	}
}

func TestPercentileInterval(t *testing.T) {
	draws := make([]float64, 1001)
	for i := range draws {
		draws[len(draws)-1-i] = float64(i)
	}
	ci, err := PercentileInterval(draws, 0.95)
	if err != nil {
		t.Fatalf("PercentileInterval: %v", err)
	}
	if !near(ci.Lo, 25, 1) || !near(ci.Hi, 975, 1) {
		t.Errorf("interval = [%v, %v], want about [25, 975]", ci.Lo, ci.Hi)
	}
	if ci.Level != 0.95 {
		t.Errorf("level = %v, want 0.95", ci.Level)
	}
	if draws[0] != 1000 {
		t.Errorf("input was reordered")
	}

	if _, err := PercentileInterval(nil, 0.95); err == nil {
		t.Error("expected an error for no draws")
	}
	if _, err := PercentileInterval(draws, 1.5); err == nil {
		t.Error("expected an error for level 1.5")
	}
}

func TestAzuma(t *testing.T) {
	if got := Azuma(statistic.Bound{N: 100, C: 1}); got != 1 {
		t.Errorf("zero deviation: got %v, want 1", got)
	}
	if got := Azuma(statistic.Bound{}); got != 1 {
		t.Errorf("empty bound: got %v, want 1", got)
	}
	if got := Azuma(statistic.Bound{N: 100, C: 1, Deviation: 30}); !near(got, 2*math.Exp(-4.5), 1e-15) {
		t.Errorf("deviation 30: got %v", got)
	}
	if Azuma(statistic.Bound{N: 100, C: 1, Deviation: 60}) >= Azuma(statistic.Bound{N: 100, C: 1, Deviation: 30}) {
		t.Error("bound must shrink as the deviation grows")
	}
}

// nullTrials draws trials whose settings and clicks are all independent.
func nullTrials(r *rand.Rand, n int) *trial.Set {
	ts := make([]trial.Trial, n)
	for i := range ts {
		ts[i] = trial.Trial{
			Slot: int64(i),
			A:    trial.Side{Setting: uint8(1 + r.IntN(2))},
			B:    trial.Side{Setting: uint8(1 + r.IntN(2))},
		}
		if r.Float64() < 0.4 {
			ts[i].A.Outcome = 1
		}
		if r.Float64() < 0.4 {
			ts[i].B.Outcome = 1
		}
	}
	return trial.FromTrials(ts...)
}

// Under the null the bound must not reject more often than its level.
func TestAzumaBoundIsConservativeUnderNull(t *testing.T) {
	const samples, alpha = 200, 0.05
	r := rand.New(rand.NewPCG(1, 2))

	var chRejects, t3Rejects int
	for i := 0; i < samples; i++ {
		set := nullTrials(r, 400)
		if Azuma(statistic.NewCHModel(set).Bound(stats.ShuffleSide)) <= alpha {
			chRejects++
		}
		m, err := statistic.NewT3Model(set, stats.RModeAny)
		if err != nil {
			t.Fatalf("NewT3Model: %v", err)
		}
		if Azuma(m.Bound(stats.ShufflePair)) <= alpha {
			t3Rejects++
		}
	}
	if limit := int(alpha * samples); chRejects > limit || t3Rejects > limit {
		t.Errorf("rejections ch=%d t3=%d, want at most %d each", chRejects, t3Rejects, limit)
	}
}

// The analytic bound never drops below the lower confidence bound of the
// permutation p-value computed on the same trials.
func TestBoundNotBelowPermutationLowerBound(t *testing.T) {
	engine := resample.NewEngine(rng.NewPCGAdapter())
	statistics := []stats.Statistic{stats.CH(), stats.T3(stats.RModeAny), stats.T3(stats.RModeBob)}
	modes := []stats.ShuffleMode{stats.ShufflePair, stats.ShuffleSide}

	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 12; i++ {
		set := nullTrials(r, 600)
		for _, st := range statistics {
			model, err := statistic.ModelFor(st, set)
			if err != nil {
				t.Fatalf("ModelFor(%s): %v", st, err)
			}
			point, err := statistic.Compute(st, set, 0)
			if err != nil {
				t.Fatalf("Compute(%s): %v", st, err)
			}
			for _, mode := range modes {
				seed := uint64(100 + i)
				dist, err := engine.Run(model, resample.Request{
					Kind: stats.Permutation, Iterations: 200, Seed: &seed, Threads: 2, ShuffleMode: mode,
				})
				if err != nil {
					t.Fatalf("%s %s: %v", st, mode, err)
				}
				bound := model.Bound(mode)
				res := Summarize(point, Inputs{Permutation: dist, Bound: &bound})
				if res.BoundPValue == nil || res.PValueLower == nil {
					t.Fatalf("set %d %s %s: missing bound or lower p-value", i, st, mode)
				}
				if *res.BoundPValue < *res.PValueLower {
					t.Errorf("set %d %s %s: bound %v below p lower %v", i, st, mode, *res.BoundPValue, *res.PValueLower)
				}
			}
		}
	}
}

func TestSummarize(t *testing.T) {
	point := &stats.StatisticResult{
		Statistic: stats.CH(),
		Value:     1.5,
		Trials:    400,
		Warnings:  []string{"existing"},
	}
	perm := &stats.Distribution{
		Kind: stats.Permutation, Iterations: 6, SeedProvided: true,
		Draws: []float64{-2, -1, 0, 1, 2}, Excluded: 1,
	}
	boot := &stats.Distribution{
		Kind: stats.Bootstrap, Iterations: 3, SeedProvided: true,
		Draws: []float64{1.4, 1.5, 1.6},
	}
	bound := &statistic.Bound{N: 100, C: 1, Deviation: 30}

	res := Summarize(point, Inputs{Permutation: perm, Bootstrap: boot, Bound: bound})

	if res.PValue == nil || !near(*res.PValue, 0.5, 1e-12) {
		t.Fatalf("p-value = %v, want 0.5", res.PValue)
	}
	if res.PValueLower == nil || *res.PValueLower >= *res.PValue {
		t.Errorf("p lower = %v, want below %v", res.PValueLower, *res.PValue)
	}
	if ci := res.ConfidenceInterval; ci == nil || ci.Level != DefaultConfidenceLevel || ci.Lo > ci.Hi {
		t.Errorf("confidence interval = %+v", ci)
	}
	if res.BoundPValue == nil || !near(*res.BoundPValue, 2*math.Exp(-4.5), 1e-15) {
		t.Errorf("bound p-value = %v", res.BoundPValue)
	}
	if res.ExcludedDraws != 1 || !res.Reproducible {
		t.Errorf("excluded = %d reproducible = %v, want 1 and true", res.ExcludedDraws, res.Reproducible)
	}
	if !slices.Contains(res.Warnings, "1 of 6 permutation draws excluded as NaN") {
		t.Errorf("warnings = %q", res.Warnings)
	}

	if point.PValue != nil || !slices.Equal(point.Warnings, []string{"existing"}) {
		t.Error("input result was modified")
	}

	boot.SeedProvided = false
	if Summarize(point, Inputs{Bootstrap: boot}).Reproducible {
		t.Error("an unseeded distribution must not be reproducible")
	}
}

func TestSummarizeDegenerate(t *testing.T) {
	point := &stats.StatisticResult{Statistic: stats.CH(), Value: math.NaN()}
	perm := &stats.Distribution{Kind: stats.Permutation, Iterations: 2, Draws: []float64{0.1, 0.2}}

	res := Summarize(point, Inputs{Permutation: perm, Bound: &statistic.Bound{N: 10, C: 2, Deviation: 1}})
	if res.PValue != nil || res.BoundPValue != nil {
		t.Errorf("degenerate point got p = %v bound = %v", res.PValue, res.BoundPValue)
	}
	if !slices.Contains(res.Warnings, "p-value undefined for a degenerate statistic") {
		t.Errorf("warnings = %q", res.Warnings)
	}

	empty := &stats.Distribution{Kind: stats.Bootstrap, Iterations: 2, Excluded: 2}
	res = Summarize(&stats.StatisticResult{Value: 1}, Inputs{Bootstrap: empty})
	if res.ConfidenceInterval != nil {
		t.Errorf("interval = %+v, want nil", res.ConfidenceInterval)
	}
	if res.ExcludedDraws != 2 || len(res.Warnings) != 2 {
		t.Errorf("excluded = %d warnings = %q", res.ExcludedDraws, res.Warnings)
	}
}
