package resample

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bellstat/adapters/rng"
	"bellstat/domain/core"
	"bellstat/domain/stats"
	"bellstat/domain/trial"
	"bellstat/internal/statistic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// iidTrials draws n trials with uniform settings and independent clicks.
func iidTrials(n int, seed uint64) *trial.Set {
	r := rand.New(rand.NewPCG(seed, seed^0xabcdef))
	ts := make([]trial.Trial, n)
	for i := range ts {
		ts[i] = trial.Trial{
			Slot: int64(i),
			A:    trial.Side{Setting: uint8(1 + r.IntN(2))},
			B:    trial.Side{Setting: uint8(1 + r.IntN(2))},
		}
		if r.Float64() < 0.3 {
			ts[i].A.Outcome = 1
		}
		if r.Float64() < 0.3 {
			ts[i].B.Outcome = 1
		}
	}
	return trial.FromTrials(ts...)
}

func seed(v uint64) *uint64 { return &v }

// fakeModel evaluates fn; fn must be safe for concurrent use.
type fakeModel struct {
	n  int
	fn func(rows, la, lb []int) (float64, error)
}

func (m *fakeModel) Statistic() stats.Statistic { return stats.CH() }
func (m *fakeModel) Len() int { return m.n }
func (m *fakeModel) Eval(rows, la, lb []int) (float64, error) {
	return m.fn(rows, la, lb)
}
func (m *fakeModel) Bound(stats.ShuffleMode) statistic.Bound { return statistic.Bound{} }

func TestRunDeterministicAcrossThreadCounts(t *testing.T) {
	set := iidTrials(2000, 7)
	engine := NewEngine(rng.NewPCGAdapter())

	tests := []struct {
		name  string
		model func() statistic.Model
		req   Request
	}{
		{"ch permutation pair", func() statistic.Model { return statistic.NewCHModel(set) },
			Request{Kind: stats.Permutation, Iterations: 64, ShuffleMode: stats.ShufflePair}},
		{"ch permutation side", func() statistic.Model { return statistic.NewCHModel(set) },
			Request{Kind: stats.Permutation, Iterations: 64, ShuffleMode: stats.ShuffleSide}},
		{"t3 bootstrap clustered", func() statistic.Model {
			m, err := statistic.NewT3Model(set, stats.RModeAny)
			require.NoError(t, err)
			return m
		}, Request{Kind: stats.Bootstrap, Iterations: 64, ClusterSize: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := tt.model()
			var reference []float64
			for _, threads := range []int{1, 3, 8, 64} {
				req := tt.req
				req.Seed = seed(42)
				req.Threads = threads
				dist, err := engine.Run(model, req)
				require.NoError(t, err)
				assert.Equal(t, 64, dist.Iterations)
				assert.Equal(t, threads, dist.Threads)
				if reference == nil {
					reference = dist.Draws
					continue
				}
				assert.Equal(t, reference, dist.Draws, "threads=%d", threads)
			}

			again, err := engine.Run(model, Request{
				Kind: tt.req.Kind, Iterations: 64, Seed: seed(42), Threads: 5,
				ClusterSize: tt.req.ClusterSize, ShuffleMode: tt.req.ShuffleMode,
			})
			require.NoError(t, err)
			assert.Equal(t, reference, again.Draws)

			other, err := engine.Run(model, Request{
				Kind: tt.req.Kind, Iterations: 64, Seed: seed(43), Threads: 5,
				ClusterSize: tt.req.ClusterSize, ShuffleMode: tt.req.ShuffleMode,
			})
			require.NoError(t, err)
			assert.NotEqual(t, reference, other.Draws)
		})
	}
}

func TestBootstrapClusterOneMatchesPlain(t *testing.T) {
	set := iidTrials(10000, 11)
	model, err := statistic.NewT3Model(set, stats.RModeAny)
	require.NoError(t, err)
	engine := NewEngine(rng.NewPCGAdapter())

	plain, err := engine.Run(model, Request{Kind: stats.Bootstrap, Iterations: 40, Seed: seed(3), Threads: 4})
	require.NoError(t, err)
	unit, err := engine.Run(model, Request{Kind: stats.Bootstrap, Iterations: 40, Seed: seed(3), Threads: 4, ClusterSize: 1})
	require.NoError(t, err)
	assert.Equal(t, plain.Draws, unit.Draws)

	res, err := statistic.ComputeT3(set, stats.RModeAny, 1)
	require.NoError(t, err)
	assert.InDelta(t, res.Detail.Sigma, *res.Detail.ClusterSigma, 1e-9*res.Detail.Sigma)
}

func TestSampleBlocksOfOneMatchPlain(t *testing.T) {
	const n = 97
	plain, unit := newScratch(n), newScratch(n)
	for draw := 0; draw < 20; draw++ {
		a := plain.sample(rand.New(rand.NewPCG(uint64(draw), 5)), 0)
		b := unit.sample(rand.New(rand.NewPCG(uint64(draw), 5)), 1)
		for k := range a {
			if a[k] != b[k] {
				t.Fatalf("draw %d row %d: plain %d, block %d", draw, k, a[k], b[k])
			}
			if b[k] < 0 || b[k] >= n {
				t.Fatalf("draw %d row %d: index %d out of range", draw, k, b[k])
			}
		}
	}
}

func TestPermutationModes(t *testing.T) {
	// fraction of positions whose A and B labels come from the same trial
	aligned := &fakeModel{n: 50, fn: func(rows, la, lb []int) (float64, error) {
		var same int
		for k := range rows {
			if rows[k] != k {
				return 0, errors.New("rows must stay in trial order")
			}
			if la[k] == lb[k] {
				same++
			}
		}
		return float64(same) / float64(len(rows)), nil
	}}
	engine := NewEngine(rng.NewPCGAdapter())

	pair, err := engine.Run(aligned, Request{Kind: stats.Permutation, Iterations: 20, Seed: seed(1)})
	require.NoError(t, err)
	assert.Equal(t, stats.ShufflePair, pair.ShuffleMode)
	for _, v := range pair.Draws {
		assert.Equal(t, 1.0, v)
	}

	side, err := engine.Run(aligned, Request{Kind: stats.Permutation, Iterations: 20, Seed: seed(1), ShuffleMode: stats.ShuffleSide})
	require.NoError(t, err)
	for _, v := range side.Draws {
		assert.Less(t, v, 1.0)
	}
}

func TestBootstrapDrawsWholeBlocks(t *testing.T) {
	const n, cluster = 23, 5
	var bad atomic.Int64
	blocks := &fakeModel{n: n, fn: func(rows, la, lb []int) (float64, error) {
		if len(rows) != n {
			bad.Add(1)
		}
		for k := 0; k < len(rows); {
			start := rows[k]
			if start%cluster != 0 {
				bad.Add(1)
				return 0, nil
			}
			end := min(start+cluster, n)
			for j := start; j < end && k < len(rows); j++ {
				if rows[k] != j || la[k] != j || lb[k] != j {
					bad.Add(1)
				}
				k++
			}
		}
		return 0, nil
	}}

	_, err := NewEngine(rng.NewPCGAdapter()).Run(blocks, Request{
		Kind: stats.Bootstrap, Iterations: 200, Seed: seed(9), Threads: 3, ClusterSize: cluster,
	})
	require.NoError(t, err)
	assert.Zero(t, bad.Load())
}

func TestNaNDrawsAreExcluded(t *testing.T) {
	flaky := &fakeModel{n: 30, fn: func(rows, la, lb []int) (float64, error) {
		if la[0]%2 == 0 {
			return math.NaN(), nil
		}
		return float64(la[0]), nil
	}}
	dist, err := NewEngine(rng.NewPCGAdapter()).Run(flaky, Request{Kind: stats.Permutation, Iterations: 300, Seed: seed(5)})
	require.NoError(t, err)
	assert.Positive(t, dist.Excluded)
	assert.Equal(t, 300, len(dist.Draws)+dist.Excluded)
	for _, v := range dist.Draws {
		assert.False(t, math.IsNaN(v))
	}
}

func TestWorkerFailureAbortsRun(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int64
	failing := &fakeModel{n: 10, fn: func(rows, la, lb []int) (float64, error) {
		if calls.Add(1) == 7 {
			return 0, boom
		}
		return 1, nil
	}}

	dist, err := NewEngine(rng.NewPCGAdapter()).Run(failing, Request{Kind: stats.Bootstrap, Iterations: 50, Seed: seed(1), Threads: 4})
	require.Error(t, err)
	assert.Nil(t, dist)
	assert.True(t, core.IsWorkerError(err))
	assert.ErrorIs(t, err, boom)

	var werr *core.ResamplingWorkerError
	require.ErrorAs(t, err, &werr)
	assert.GreaterOrEqual(t, werr.Shard, 0)
	assert.Less(t, werr.Shard, 4)
}

func TestWorkerPanicBecomesWorkerError(t *testing.T) {
	panicking := &fakeModel{n: 10, fn: func(rows, la, lb []int) (float64, error) {
		panic("index out of range")
	}}
	_, err := NewEngine(rng.NewPCGAdapter()).Run(panicking, Request{Kind: stats.Permutation, Iterations: 8, Seed: seed(1), Threads: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrResamplingWorker)
	assert.Contains(t, err.Error(), "panic: index out of range")
}

func TestRunValidation(t *testing.T) {
	ok := &fakeModel{n: 5, fn: func(rows, la, lb []int) (float64, error) { return 0, nil }}
	empty := &fakeModel{n: 0, fn: ok.fn}
	engine := NewEngine(rng.NewPCGAdapter())

	tests := []struct {
		name  string
		model statistic.Model
		req   Request
	}{
		{"zero iterations", ok, Request{Kind: stats.Permutation}},
		{"unknown kind", ok, Request{Kind: "jackknife", Iterations: 5}},
		{"bad shuffle mode", ok, Request{Kind: stats.Permutation, Iterations: 5, ShuffleMode: "diagonal"}},
		{"negative cluster", ok, Request{Kind: stats.Bootstrap, Iterations: 5, ClusterSize: -1}},
		{"empty model", empty, Request{Kind: stats.Bootstrap, Iterations: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Run(tt.model, tt.req)
			assert.Error(t, err)
		})
	}

	_, err := engine.Run(empty, Request{Kind: stats.Bootstrap, Iterations: 5})
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

type recordingObserver struct {
	mu     sync.Mutex
	shards int
	draws  int
	runs   int
}

func (o *recordingObserver) ObserveShard(_ stats.ResampleKind, _ stats.Statistic, draws int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shards++
	o.draws += draws
}

func (o *recordingObserver) ObserveRun(stats.ResampleKind, stats.Statistic, int, int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
}

func TestUnseededRunAndObserver(t *testing.T) {
	obs := &recordingObserver{}
	model := &fakeModel{n: 5, fn: func(rows, la, lb []int) (float64, error) { return 1, nil }}

	dist, err := NewEngine(rng.NewPCGAdapter(), WithObserver(obs)).Run(model, Request{Kind: stats.Permutation, Iterations: 10, Threads: 3})
	require.NoError(t, err)
	assert.False(t, dist.SeedProvided)
	assert.False(t, dist.Reproducible())
	assert.Len(t, dist.Draws, 10)

	assert.Equal(t, 3, obs.shards)
	assert.Equal(t, 10, obs.draws)
	assert.Equal(t, 1, obs.runs)
}

func TestEntropySeedSharedAcrossRuns(t *testing.T) {
	engine := NewEngine(rng.NewPCGAdapter())
	model := statistic.NewCHModel(iidTrials(300, 4))
	s := engine.EntropySeed()

	perm, err := engine.Run(model, Request{Kind: stats.Permutation, Iterations: 8, Seed: &s, Entropy: true})
	if err != nil {
		t.Fatalf("permutation: %v", err)
	}
	boot, err := engine.Run(model, Request{Kind: stats.Bootstrap, Iterations: 8, Seed: &s, Entropy: true})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, d := range []*stats.Distribution{perm, boot} {
		if d.Seed != s {
			t.Errorf("%s seed = %d, want %d", d.Kind, d.Seed, s)
		}
		if d.Reproducible() {
			t.Errorf("%s run on an entropy seed reported reproducible", d.Kind)
		}
	}
}
