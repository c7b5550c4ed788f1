package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bellstat/adapters/excel"
	"bellstat/adapters/ingest"
	"bellstat/domain/event"
	"bellstat/domain/run"
	"bellstat/domain/stats"
	"bellstat/domain/trial"
	"bellstat/internal"
	"bellstat/internal/config"
	"bellstat/internal/metrics"
	"bellstat/internal/resample"
	"bellstat/internal/scan"
	"bellstat/internal/statistic"
	"bellstat/ports"
)

// AnalysisService runs radius scans over one or more runs and persists a
// record per (run, radius, statistic).
type AnalysisService struct {
	engine   *resample.Engine
	ledger   ports.LedgerWriterPort
	recorder *metrics.Recorder
	logger   *internal.Logger
}

// ServiceOption configures an AnalysisService.
type ServiceOption func(*AnalysisService)

// WithRecorder reports scan progress to a metrics recorder.
func WithRecorder(r *metrics.Recorder) ServiceOption {
	return func(s *AnalysisService) { s.recorder = r }
}

// WithLogger sets the service logger.
func WithLogger(l *internal.Logger) ServiceOption {
	return func(s *AnalysisService) { s.logger = l }
}

// NewAnalysisService creates an analysis service. A nil ledger disables
// persistence.
func NewAnalysisService(engine *resample.Engine, ledger ports.LedgerWriterPort, opts ...ServiceOption) *AnalysisService {
	s := &AnalysisService{engine: engine, ledger: ledger, logger: internal.DefaultLogger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalysisRequest is one run to scan.
type AnalysisRequest struct {
	Name  string
	Alice event.Stream
	Bob   event.Stream
	Sync  event.SyncParameters
	Radii []float64
	Scan  scan.Config
	// CumulativeStep > 0 adds the cumulative CH series of every radius.
	CumulativeStep int
}

// AnalysisResult is the outcome of one run.
type AnalysisResult struct {
	Name       string                                  `json:"name"`
	Scan       *stats.ScanResult                       `json:"scan"`
	Keys       []string                                `json:"keys"`
	Matching   map[float64]trial.Diagnostics           `json:"-"`
	Cumulative map[float64][]statistic.CumulativePoint `json:"-"`
	Elapsed    time.Duration                           `json:"elapsed"`
}

// Analyze scans every radius of req. Per-radius failures are recorded in
// the scan result; only FailFast, cancellation or invalid input return an
// error.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("analysis needs a run name")
	}
	start := time.Now()
	res := &AnalysisResult{
		Name:       req.Name,
		Matching:   make(map[float64]trial.Diagnostics),
		Cumulative: make(map[float64][]statistic.CumulativePoint),
	}
	if req.Sync.Run == "" {
		req.Sync.Run = req.Name
	}

	hook := func(ctx context.Context, set *trial.Set, entry stats.ScanEntry) error {
		defer func() {
			if s.recorder != nil {
				s.recorder.ObserveRadius(req.Name, req.Scan.Statistic, entry)
			}
		}()
		if set == nil {
			return nil
		}
		res.Matching[entry.Radius] = set.Diagnostics()
		if req.CumulativeStep > 0 && req.Scan.Statistic.IsCH() {
			points, err := statistic.CumulativeCH(set, req.CumulativeStep)
			if err != nil {
				s.logger.Warn("run %s radius %g: cumulative ch: %v", req.Name, entry.Radius, err)
			} else {
				res.Cumulative[entry.Radius] = points
			}
		}
		if entry.Failed() || entry.Result == nil || s.ledger == nil {
			return nil
		}
		record := run.NewRecord(s.descriptor(req, entry), req.Sync, entry, set.Diagnostics())
		if err := s.ledger.SaveRecord(ctx, record); err != nil {
			return err
		}
		res.Keys = append(res.Keys, record.Descriptor.Key())
		s.logger.Debug("saved %s (%s)", record.Descriptor.Key(), record.Descriptor.Fingerprint.Short())
		return nil
	}

	orch, err := scan.New(s.engine, req.Scan, scan.WithLogger(s.logger), scan.WithEntryHook(hook))
	if err != nil {
		return nil, err
	}
	res.Scan, err = orch.Scan(ctx, req.Alice, req.Bob, req.Sync, req.Radii)
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, err
	}
	s.logger.Info("run %s: %d radii in %s, %d failed", req.Name, len(res.Scan.Entries), res.Elapsed.Round(time.Millisecond), res.Scan.Failures())
	return res, nil
}

// descriptor describes the evaluation behind entry. An unseeded run
// records the entropy seed its distributions share.
func (s *AnalysisService) descriptor(req AnalysisRequest, entry stats.ScanEntry) run.Descriptor {
	cfg := req.Scan
	d := run.NewDescriptor(req.Name, cfg.Statistic, entry.Radius)
	if cfg.ShuffleMode != "" {
		d.ShuffleMode = cfg.ShuffleMode
	}
	d.Iterations = run.Iterations{Shuffle: cfg.Shuffle, Bootstrap: cfg.Bootstrap}
	d.ClusterSize = cfg.ClusterSize
	d.Azuma = cfg.Azuma
	d.Threads = cfg.Threads
	if cfg.Seed != nil {
		d.Seed, d.SeedProvided = *cfg.Seed, true
	} else {
		for _, dist := range []*stats.Distribution{entry.Permutation, entry.Bootstrap} {
			if dist != nil {
				d.Seed = dist.Seed
				break
			}
		}
	}
	return d.Seal()
}

// AnalyzeFiles loads one run from disk and scans it.
func (s *AnalysisService) AnalyzeFiles(ctx context.Context, spec excel.RunSpec, req AnalysisRequest, opts ingest.Options) (*AnalysisResult, error) {
	sync, err := ingest.LoadSync(spec.Sync)
	if err != nil {
		return nil, err
	}
	alice, asum, err := ingest.LoadEvents(spec.Alice, opts)
	if err != nil {
		return nil, err
	}
	bob, bsum, err := ingest.LoadEvents(spec.Bob, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run %s: %d Alice events (%d clicks), %d Bob events (%d clicks)",
		spec.Name, asum.Events, asum.Clicks, bsum.Events, bsum.Clicks)
	if n := asum.OutOfMask + bsum.OutOfMask; n > 0 {
		s.logger.Warn("run %s: %d events carried detector bits outside the outcome mask", spec.Name, n)
	}

	req.Name, req.Alice, req.Bob, req.Sync = spec.Name, alice, bob, sync
	return s.Analyze(ctx, req)
}

// AnalyzeBatch scans every run of a manifest in order. A run that cannot
// be loaded or scanned is logged and skipped; the joined errors are
// returned with the results of the runs that completed.
func (s *AnalysisService) AnalyzeBatch(ctx context.Context, specs []excel.RunSpec, req AnalysisRequest, opts ingest.Options) ([]*AnalysisResult, error) {
	var (
		results []*AnalysisResult
		errs    []error
	)
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.AnalyzeFiles(ctx, spec, req, opts)
		if err != nil {
			s.logger.Error("run %s: %v", spec.Name, err)
			errs = append(errs, fmt.Errorf("run %s: %w", spec.Name, err))
			if req.Scan.FailFast {
				return results, errors.Join(errs...)
			}
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ScanConfig translates the application configuration into the
// orchestrator's per-radius settings.
func ScanConfig(cfg *config.Config) (scan.Config, error) {
	st, err := cfg.Statistic()
	if err != nil {
		return scan.Config{}, err
	}
	a := cfg.Analysis
	return scan.Config{
		Statistic:       st,
		Shuffle:         a.Shuffle,
		Bootstrap:       a.Bootstrap,
		ShuffleMode:     stats.ShuffleMode(a.ShuffleMode),
		ClusterSize:     a.ClusterSize,
		Azuma:           a.Azuma,
		Seed:            a.Seed,
		Threads:         a.Threads,
		ConfidenceLevel: a.ConfidenceLevel,
		FailFast:        a.FailFast,
	}, nil
}
