package main

import (
	"os"

	"bellstat/adapters/storage"
	"bellstat/app"
	"bellstat/internal/aggregate"
	"bellstat/internal/report"

	"github.com/spf13/cobra"
)

func newCombineCmd() *cobra.Command {
	var (
		name     string
		out      string
		html     bool
		xlsx     bool
		backend  string
		location string
	)

	cmd := &cobra.Command{
		Use:   "combine [pattern]",
		Short: "Combine saved results across runs",
		Long: `Combine every saved record whose key matches the glob pattern into one
report: per-record rows, the combined total with quadrature sigma and z, and
the pooled resampling draws. Keys have the form <run>__<statistic>__r<radius>;
all matched records must share one statistic.

Example: bellstat combine "run*__t3-any__r20"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("storage") {
				cfg.Storage.Backend = backend
			}
			if fl.Changed("storage-location") {
				cfg.Storage.Location = location
			}
			if fl.Changed("out") {
				cfg.Output.Dir = out
			}
			if fl.Changed("html") {
				cfg.Output.HTML = html
			}
			if fl.Changed("xlsx") {
				cfg.Output.XLSX = xlsx
			}
			if err := cfg.ValidateCommon(); err != nil {
				return err
			}

			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			if _, err := aggregate.Match(pattern, ""); err != nil {
				return err
			}

			ctx := cmd.Context()
			ledger, closeLedger, err := storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.Location)
			if err != nil {
				return err
			}
			defer closeLedger()

			rep, err := aggregate.CombineStore(ctx, ledger, pattern)
			if err != nil {
				return err
			}
			if err := report.WriteCombine(os.Stdout, rep); err != nil {
				return err
			}
			paths, err := app.NewReportWriter(cfg.Output).WriteCombine(name, rep)
			if err != nil {
				return err
			}
			for _, p := range paths {
				logger.Info("wrote %s", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "combined", "Report file name without extension")
	cmd.Flags().StringVar(&out, "out", "", "Report output directory")
	cmd.Flags().BoolVar(&html, "html", false, "Also write an HTML report")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "Also write an xlsx workbook")
	cmd.Flags().StringVar(&backend, "storage", "", "Results ledger backend: file, sqlite3 or postgres")
	cmd.Flags().StringVar(&location, "storage-location", "", "Ledger directory or DSN")

	return cmd
}
