package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bellstat/adapters/excel"
	"bellstat/adapters/ingest"
	"bellstat/adapters/rng"
	"bellstat/adapters/storage"
	"bellstat/app"
	"bellstat/internal"
	"bellstat/internal/config"
	"bellstat/internal/metrics"
	"bellstat/internal/report"
	"bellstat/internal/resample"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type analyzeFlags struct {
	name           string
	manifest       string
	radius         float64
	scanRadius     string
	statistic      string
	shuffle        int
	bootstrap      int
	shuffleMode    string
	cluster        int
	azuma          bool
	seed           uint64
	threads        int
	confidence     float64
	failFast       bool
	outcomeMask    uint16
	cumulativeStep int
	out            string
	html           bool
	xlsx           bool
	storage        string
	location       string
	metricsAddr    string
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze [alice.jsonl bob.jsonl sync.json]",
		Short: "Match two event streams and evaluate a Bell statistic per radius",
		Long: `Match the Alice and Bob event streams under the sync artifact at each
radius (in timestamp ticks) and evaluate the configured statistic with its
resampling distributions and significance figures. Every completed radius is
saved to the results ledger; a failing radius is reported and the scan
continues unless --fail-fast is set.

With --manifest the runs are read from a CSV or xlsx table with the columns
name, alice, bob and sync instead of from the arguments.

Example: bellstat analyze a.jsonl b.jsonl sync.json --scan-radius 5,10,20 --shuffle 1000 --seed 7`,
		Args: func(cmd *cobra.Command, args []string) error {
			if f.manifest != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cfg, logger, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "Run name used in storage keys (default: the sync artifact's run, else the Alice file name)")
	fl.StringVar(&f.manifest, "manifest", "", "CSV or xlsx manifest of runs to analyse in batch")
	fl.Float64Var(&f.radius, "radius", 0, "Single coincidence radius in ticks")
	fl.StringVar(&f.scanRadius, "scan-radius", "", "Comma-separated radius list, exclusive with --radius")
	fl.StringVar(&f.statistic, "statistic", "", "ch, t3:any, t3:alice or t3:bob")
	fl.IntVar(&f.shuffle, "shuffle", 0, "Permutation draws; 0 skips the permutation test")
	fl.IntVar(&f.bootstrap, "bootstrap", 0, "Bootstrap draws; 0 skips the bootstrap")
	fl.StringVar(&f.shuffleMode, "shuffle-mode", "", "pair or side")
	fl.IntVar(&f.cluster, "cluster", 0, "Block size for the cluster bootstrap and cluster-robust sigma")
	fl.BoolVar(&f.azuma, "azuma", false, "Add the Azuma-Hoeffding bound")
	fl.Uint64Var(&f.seed, "seed", 0, "Master seed; unset draws one from the system entropy source")
	fl.IntVar(&f.threads, "threads", 0, "Resampling workers (0 = all CPUs)")
	fl.Float64Var(&f.confidence, "confidence", 0, "Confidence level of the bootstrap interval")
	fl.BoolVar(&f.failFast, "fail-fast", false, "Stop at the first failing radius")
	fl.Uint16Var(&f.outcomeMask, "outcome-mask", 0, "Keep only these detector bits of each outcome (0 keeps all)")
	fl.IntVar(&f.cumulativeStep, "cumulative-step", 0, "Add the cumulative CH series every N trials")
	fl.StringVar(&f.out, "out", "", "Report output directory")
	fl.BoolVar(&f.html, "html", false, "Also write an HTML report")
	fl.BoolVar(&f.xlsx, "xlsx", false, "Also write an xlsx workbook")
	fl.StringVar(&f.storage, "storage", "", "Results ledger backend: file, sqlite3 or postgres")
	fl.StringVar(&f.location, "storage-location", "", "Ledger directory or DSN")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while running")

	return cmd
}

// apply copies the flags the user set over the loaded configuration.
func (f analyzeFlags) apply(fl *pflag.FlagSet, cfg *config.Config) error {
	a := &cfg.Analysis
	if fl.Changed("radius") {
		a.Radius, a.ScanRadii = f.radius, nil
	}
	if fl.Changed("scan-radius") {
		radii, err := config.ParseRadii(f.scanRadius)
		if err != nil {
			return err
		}
		a.ScanRadii = radii
		if !fl.Changed("radius") {
			a.Radius = 0
		}
	}
	if fl.Changed("statistic") {
		a.Statistic = f.statistic
	}
	if fl.Changed("shuffle") {
		a.Shuffle = f.shuffle
	}
	if fl.Changed("bootstrap") {
		a.Bootstrap = f.bootstrap
	}
	if fl.Changed("shuffle-mode") {
		a.ShuffleMode = f.shuffleMode
	}
	if fl.Changed("cluster") {
		a.ClusterSize = f.cluster
	}
	if fl.Changed("azuma") {
		a.Azuma = f.azuma
	}
	if fl.Changed("seed") {
		seed := f.seed
		a.Seed = &seed
	}
	if fl.Changed("threads") {
		a.Threads = f.threads
	}
	if fl.Changed("confidence") {
		a.ConfidenceLevel = f.confidence
	}
	if fl.Changed("fail-fast") {
		a.FailFast = f.failFast
	}
	if fl.Changed("outcome-mask") {
		a.OutcomeMask = f.outcomeMask
	}
	if fl.Changed("out") {
		cfg.Output.Dir = f.out
	}
	if fl.Changed("html") {
		cfg.Output.HTML = f.html
	}
	if fl.Changed("xlsx") {
		cfg.Output.XLSX = f.xlsx
	}
	if fl.Changed("storage") {
		cfg.Storage.Backend = f.storage
	}
	if fl.Changed("storage-location") {
		cfg.Storage.Location = f.location
	}
	if fl.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	return nil
}

func runAnalyze(ctx context.Context, cfg *config.Config, logger *internal.Logger, f analyzeFlags, args []string) error {
	scanCfg, err := app.ScanConfig(cfg)
	if err != nil {
		return err
	}

	ledger, closeLedger, err := storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.Location)
	if err != nil {
		return err
	}
	defer closeLedger()

	recorder := metrics.NewRecorder()
	if cfg.Metrics.Addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		server := metrics.NewServer(recorder, logger)
		go func() {
			if err := server.ListenAndServe(srvCtx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	engine := resample.NewEngine(rng.NewPCGAdapter(), resample.WithObserver(recorder), resample.WithLogger(logger))
	svc := app.NewAnalysisService(engine, ledger, app.WithRecorder(recorder), app.WithLogger(logger))
	writer := app.NewReportWriter(cfg.Output)

	req := app.AnalysisRequest{
		Radii:          cfg.Radii(),
		Scan:           scanCfg,
		CumulativeStep: f.cumulativeStep,
	}
	opts := ingest.Options{OutcomeMask: cfg.Analysis.OutcomeMask}

	var results []*app.AnalysisResult
	var runErr error
	if f.manifest != "" {
		specs, err := excel.ReadRunManifest(f.manifest)
		if err != nil {
			return err
		}
		results, runErr = svc.AnalyzeBatch(ctx, specs, req, opts)
	} else {
		spec := excel.RunSpec{Name: f.name, Alice: args[0], Bob: args[1], Sync: args[2]}
		if spec.Name == "" {
			spec.Name, err = defaultRunName(spec)
			if err != nil {
				return err
			}
		}
		res, err := svc.AnalyzeFiles(ctx, spec, req, opts)
		if res != nil {
			results = append(results, res)
		}
		runErr = err
	}

	for _, res := range results {
		if res.Scan == nil {
			continue
		}
		fmt.Printf("# %s\n\n", res.Name)
		if err := report.WriteScan(os.Stdout, res.Scan); err != nil {
			return err
		}
		fmt.Println()
		paths, err := writer.WriteAnalysis(res)
		if err != nil {
			return err
		}
		for _, p := range paths {
			logger.Info("wrote %s", p)
		}
		if len(res.Scan.Entries) > 0 && res.Scan.Failures() == len(res.Scan.Entries) {
			runErr = errors.Join(runErr, fmt.Errorf("run %s: every radius failed: %w", res.Name, res.Scan.Err()))
		}
	}
	return runErr
}

// defaultRunName prefers the run named in the sync artifact, then the
// Alice file name without extension.
func defaultRunName(spec excel.RunSpec) (string, error) {
	sync, err := ingest.LoadSync(spec.Sync)
	if err != nil {
		return "", err
	}
	if sync.Run != "" {
		return sync.Run, nil
	}
	base := filepath.Base(spec.Alice)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}
