package resample

import (
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"bellstat/domain/core"
	"bellstat/domain/stats"
	"bellstat/internal"
	"bellstat/internal/statistic"
	"bellstat/ports"

	"golang.org/x/sync/errgroup"
)

// RNG stream names. Permutation and bootstrap draws of one run never share
// randomness even under the same seed.
const (
	streamPermutation = "permutation"
	streamBootstrap   = "bootstrap"
)

// Request configures one resampling run.
type Request struct {
	Kind       stats.ResampleKind
	Iterations int
	// Seed fixes the draws; nil draws a fresh seed from entropy and marks the
	// distribution as not reproducible.
	Seed *uint64
	// Entropy marks a non-nil Seed as taken from EntropySeed rather than
	// supplied by the user.
	Entropy bool
	// Threads is the shard count; <= 0 means runtime.NumCPU().
	Threads int
	// ClusterSize > 0 switches bootstrap to contiguous block resampling.
	ClusterSize int
	// ShuffleMode selects pair or side permutation; empty means pair.
	ShuffleMode stats.ShuffleMode
}

// Observer receives run and shard timings, typically for metrics export.
type Observer interface {
	ObserveShard(kind stats.ResampleKind, stat stats.Statistic, draws int, elapsed time.Duration)
	ObserveRun(kind stats.ResampleKind, stat stats.Statistic, draws, excluded int, elapsed time.Duration)
}

// Engine runs permutation and bootstrap resampling over statistic models.
type Engine struct {
	rng      ports.RNGPort
	observer Observer
	logger   *internal.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver attaches a timing observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger replaces the default logger.
func WithLogger(l *internal.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a resampling engine drawing randomness from rng.
func NewEngine(rng ports.RNGPort, opts ...Option) *Engine {
	e := &Engine{rng: rng, logger: internal.NewDefaultLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntropySeed draws a fresh seed from the engine's entropy source, for
// callers that share one unsupplied seed across several runs.
func (e *Engine) EntropySeed() uint64 { return e.rng.EntropySeed() }

// Run executes req.Iterations independent draws of model's statistic.
//
// Draws are split into Threads contiguous ranges, one per shard. Every draw
// takes its randomness from a stream keyed on (seed, kind, draw index) and
// stores its value at its own index, so the distribution is identical for a
// given seed whatever the thread count. NaN draws are dropped from Draws and
// counted in Excluded. The first failing or panicking draw aborts the run
// with a *core.ResamplingWorkerError; the run itself is not cancellable.
func (e *Engine) Run(model statistic.Model, req Request) (*stats.Distribution, error) {
	if err := validate(model, &req); err != nil {
		return nil, err
	}

	dist := &stats.Distribution{
		Kind:        req.Kind,
		Statistic:   model.Statistic(),
		Iterations:  req.Iterations,
		Threads:     req.Threads,
		ClusterSize: req.ClusterSize,
	}
	if req.Kind == stats.Permutation {
		dist.ShuffleMode = req.ShuffleMode
	}
	if req.Seed != nil {
		dist.Seed, dist.SeedProvided = *req.Seed, !req.Entropy
	} else {
		dist.Seed = e.rng.EntropySeed()
	}

	start := time.Now()
	values := make([]float64, req.Iterations)

	var g errgroup.Group
	base, rem := req.Iterations/req.Threads, req.Iterations%req.Threads
	lo := 0
	for shard := 0; shard < req.Threads; shard++ {
		size := base
		if shard < rem {
			size++
		}
		from, to := lo, lo+size
		lo = to
		if size == 0 {
			continue
		}
		g.Go(func() error {
			return e.runShard(model, req, dist.Seed, shard, from, to, values)
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("%s resampling of %s aborted: %v", req.Kind, model.Statistic(), err)
		return nil, err
	}

	dist.Draws = make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			dist.Excluded++
			continue
		}
		dist.Draws = append(dist.Draws, v)
	}
	if dist.Excluded > 0 {
		e.logger.Warn("%s resampling of %s excluded %d of %d NaN draws",
			req.Kind, model.Statistic(), dist.Excluded, req.Iterations)
	}

	elapsed := time.Since(start)
	e.logger.Debug("%s resampling of %s: %d draws on %d shards in %v",
		req.Kind, model.Statistic(), req.Iterations, req.Threads, elapsed)
	if e.observer != nil {
		e.observer.ObserveRun(req.Kind, model.Statistic(), req.Iterations, dist.Excluded, elapsed)
	}
	return dist, nil
}

func validate(model statistic.Model, req *Request) error {
	if model == nil {
		return fmt.Errorf("resample: nil model")
	}
	switch req.Kind {
	case stats.Permutation:
		if req.ShuffleMode == "" {
			req.ShuffleMode = stats.ShufflePair
		}
		if err := stats.ValidateShuffleMode(req.ShuffleMode); err != nil {
			return err
		}
	case stats.Bootstrap:
		if req.ClusterSize < 0 {
			return core.NewValidationError("cluster_size", "must be >= 0")
		}
	default:
		return core.NewValidationError("kind", fmt.Sprintf("unknown resampling kind %q", req.Kind))
	}
	if req.Iterations <= 0 {
		return core.NewValidationError("iterations", "must be positive")
	}
	if model.Len() == 0 {
		return core.NewInsufficientDataError(model.Statistic().String(), 0, 1)
	}
	if req.Threads <= 0 {
		req.Threads = runtime.NumCPU()
	}
	if req.Threads > req.Iterations {
		req.Threads = req.Iterations
	}
	return nil
}

// runShard evaluates draws [from, to) and writes them into out.
func (e *Engine) runShard(model statistic.Model, req Request, seed uint64, shard, from, to int, out []float64) (err error) {
	draw := from
	defer func() {
		if r := recover(); r != nil {
			err = &core.ResamplingWorkerError{Shard: shard, Draw: draw, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()
	s := newScratch(model.Len())
	for ; draw < to; draw++ {
		var v float64
		switch req.Kind {
		case stats.Permutation:
			rng := e.rng.DrawStream(seed, streamPermutation, draw)
			rows, la, lb := s.permute(rng, req.ShuffleMode)
			v, err = model.Eval(rows, la, lb)
		case stats.Bootstrap:
			rng := e.rng.DrawStream(seed, streamBootstrap, draw)
			idx := s.sample(rng, req.ClusterSize)
			v, err = model.Eval(idx, idx, idx)
		}
		if err != nil {
			return &core.ResamplingWorkerError{Shard: shard, Draw: draw, Err: err}
		}
		out[draw] = v
	}

	if e.observer != nil {
		e.observer.ObserveShard(req.Kind, model.Statistic(), to-from, time.Since(start))
	}
	return nil
}

// scratch holds one shard's index arrays. Each draw fully rewrites the arrays
// it uses, so reuse across draws does not leak state between them.
type scratch struct {
	n        int
	identity []int
	a, b     []int
}

func newScratch(n int) *scratch {
	return &scratch{
		n:        n,
		identity: statistic.Identity(n),
		a:        make([]int, n),
		b:        make([]int, n),
	}
}

// permute returns the identity row order with permuted label columns: one
// permutation for both columns in pair mode, two independent ones in side mode.
func (s *scratch) permute(rng *rand.Rand, mode stats.ShuffleMode) (rows, labelsA, labelsB []int) {
	shuffle(rng, s.a)
	if mode == stats.ShuffleSide {
		shuffle(rng, s.b)
		return s.identity, s.a, s.b
	}
	return s.identity, s.a, s.a
}

// sample fills a with n row indices drawn with replacement, trial by trial
// when cluster is 0 or by whole contiguous blocks of cluster rows. Blocks of
// one row draw the same indices as the plain sampler.
func (s *scratch) sample(rng *rand.Rand, cluster int) []int {
	if cluster == 0 {
		for k := range s.a {
			s.a[k] = rng.IntN(s.n)
		}
		return s.a
	}
	blocks := (s.n + cluster - 1) / cluster
	for k := 0; k < s.n; {
		start := rng.IntN(blocks) * cluster
		end := min(start+cluster, s.n)
		for j := start; j < end && k < s.n; j++ {
			s.a[k] = j
			k++
		}
	}
	return s.a
}

// shuffle resets idx to the identity and applies a Fisher-Yates shuffle.
func shuffle(rng *rand.Rand, idx []int) {
	for i := range idx {
		idx[i] = i
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
}
