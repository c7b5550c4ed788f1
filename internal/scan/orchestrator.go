package scan

import (
	"context"
	"fmt"
	"sort"

	"bellstat/domain/core"
	"bellstat/domain/event"
	"bellstat/domain/stats"
	"bellstat/domain/trial"
	"bellstat/internal"
	"bellstat/internal/matcher"
	"bellstat/internal/resample"
	"bellstat/internal/significance"
	"bellstat/internal/statistic"
)

// Config is the per-radius analysis applied by the orchestrator.
type Config struct {
	Statistic stats.Statistic
	// Shuffle and Bootstrap are iteration counts; 0 skips that resampling.
	Shuffle     int
	Bootstrap   int
	ShuffleMode stats.ShuffleMode
	// ClusterSize > 0 selects block bootstrap and the cluster-robust T3 sigma.
	ClusterSize     int
	Azuma           bool
	Seed            *uint64
	Threads         int
	ConfidenceLevel float64
	// FailFast stops the scan at the first failing radius instead of
	// recording the failure and continuing.
	FailFast bool
}

// Validate checks the configuration before any radius runs.
func (c *Config) Validate() error {
	if err := c.Statistic.Validate(); err != nil {
		return err
	}
	if c.Shuffle < 0 || c.Bootstrap < 0 {
		return core.NewValidationError("iterations", "must be >= 0")
	}
	if c.ClusterSize < 0 {
		return core.NewValidationError("cluster_size", "must be >= 0")
	}
	if c.ShuffleMode == "" {
		c.ShuffleMode = stats.ShufflePair
	}
	return stats.ValidateShuffleMode(c.ShuffleMode)
}

// EntryHook is called after every radius with its trial set (nil when
// matching failed) and entry. A hook error marks the radius as failed.
type EntryHook func(ctx context.Context, set *trial.Set, entry stats.ScanEntry) error

// Orchestrator runs matching, statistics, resampling and significance for
// each radius of a scan.
type Orchestrator struct {
	engine  *resample.Engine
	cfg     Config
	logger  *internal.Logger
	onEntry EntryHook
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *internal.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithEntryHook(h EntryHook) Option {
	return func(o *Orchestrator) { o.onEntry = h }
}

// New validates cfg and builds an orchestrator.
func New(engine *resample.Engine, cfg Config, opts ...Option) (*Orchestrator, error) {
	if engine == nil {
		return nil, fmt.Errorf("scan: nil resampling engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{engine: engine, cfg: cfg, logger: internal.DefaultLogger}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the validated configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Scan analyzes every radius in the given order. Each radius is matched and
// evaluated independently. A failing radius is logged and recorded with its
// error in the result, and the remaining radii still run; with FailFast the
// scan instead returns the radius-annotated error together with the entries
// completed so far. The context is checked between radii.
func (o *Orchestrator) Scan(ctx context.Context, a, b event.Stream, sync event.SyncParameters, radii []float64) (*stats.ScanResult, error) {
	if err := ValidateRadii(radii); err != nil {
		return nil, err
	}
	out := &stats.ScanResult{Run: sync.Run, Statistic: o.cfg.Statistic}

	for _, r := range radii {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		o.logger.Info("run %s: %s at radius %g", sync.Run, o.cfg.Statistic, r)

		set, entry, err := o.radius(ctx, a, b, sync, r)
		if err != nil {
			entry = stats.ScanEntry{Radius: r, Err: err.Error()}
			o.logger.Error("run %s radius %g: %v", sync.Run, r, err)
		}
		if o.onEntry != nil {
			if herr := o.onEntry(ctx, set, entry); herr != nil && err == nil {
				err = herr
				entry.Err = herr.Error()
				o.logger.Error("run %s radius %g: %v", sync.Run, r, herr)
			}
		}
		out.Entries = append(out.Entries, entry)
		if err != nil && o.cfg.FailFast {
			return out, fmt.Errorf("radius %g: %w", r, err)
		}
	}
	if n := out.Failures(); n > 0 {
		o.logger.Warn("run %s: %d of %d radii failed", sync.Run, n, len(radii))
	}
	return out, nil
}

func (o *Orchestrator) radius(ctx context.Context, a, b event.Stream, sync event.SyncParameters, r float64) (*trial.Set, stats.ScanEntry, error) {
	set, err := matcher.Match(a, b, sync, r)
	if err != nil {
		return nil, stats.ScanEntry{}, err
	}
	d := set.Diagnostics()
	o.logger.Debug("radius %g: %d trials from %d slots (A only %d, B only %d)",
		r, d.Matched, d.SlotsScanned, d.OnlyA, d.OnlyB)

	entry, err := o.Analyze(set)
	return set, entry, err
}

// Analyze evaluates the configured statistic on set with the requested
// resampling and significance figures. The entry radius is set.Radius().
func (o *Orchestrator) Analyze(set *trial.Set) (stats.ScanEntry, error) {
	entry := stats.ScanEntry{Radius: set.Radius()}
	cfg := o.cfg

	point, err := statistic.Compute(cfg.Statistic, set, cfg.ClusterSize)
	if err != nil {
		return entry, err
	}
	model, err := statistic.ModelFor(cfg.Statistic, set)
	if err != nil {
		return entry, err
	}

	var in significance.Inputs
	in.ConfidenceLevel = cfg.ConfidenceLevel
	if model.Len() == 0 {
		if cfg.Shuffle > 0 || cfg.Bootstrap > 0 {
			point.AddWarning("resampling skipped: no trials with settings")
		}
	} else {
		// an unseeded radius draws one entropy seed for both runs
		seed, entropy := cfg.Seed, false
		if seed == nil {
			drawn := o.engine.EntropySeed()
			seed, entropy = &drawn, true
		}
		if cfg.Shuffle > 0 {
			in.Permutation, err = o.engine.Run(model, resample.Request{
				Kind:        stats.Permutation,
				Iterations:  cfg.Shuffle,
				Seed:        seed,
				Entropy:     entropy,
				Threads:     cfg.Threads,
				ShuffleMode: cfg.ShuffleMode,
			})
			if err != nil {
				return entry, err
			}
		}
		if cfg.Bootstrap > 0 {
			in.Bootstrap, err = o.engine.Run(model, resample.Request{
				Kind:        stats.Bootstrap,
				Iterations:  cfg.Bootstrap,
				Seed:        seed,
				Entropy:     entropy,
				Threads:     cfg.Threads,
				ClusterSize: cfg.ClusterSize,
			})
			if err != nil {
				return entry, err
			}
		}
	}
	if cfg.Azuma {
		b := model.Bound(cfg.ShuffleMode)
		in.Bound = &b
	}

	entry.Result = significance.Summarize(point, in)
	entry.Permutation = in.Permutation
	entry.Bootstrap = in.Bootstrap
	for _, w := range entry.Result.Warnings {
		o.logger.Warn("radius %g %s: %s", set.Radius(), cfg.Statistic, w)
	}
	return entry, nil
}

// ValidateRadii rejects empty, non-positive and duplicate radius lists.
func ValidateRadii(radii []float64) error {
	if len(radii) == 0 {
		return core.NewValidationError("radii", "at least one radius is required")
	}
	seen := make([]float64, len(radii))
	copy(seen, radii)
	sort.Float64s(seen)
	for i, r := range seen {
		if !(r > 0) {
			return core.NewValidationError("radii", fmt.Sprintf("radius %g must be positive", r))
		}
		if i > 0 && seen[i-1] == r {
			return core.NewValidationError("radii", fmt.Sprintf("radius %g listed twice", r))
		}
	}
	return nil
}
