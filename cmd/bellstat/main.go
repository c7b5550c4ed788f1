package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bellstat/internal"
	"bellstat/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bellstat",
		Short: "Bell-test statistics over time-tagged detector events",
		Long: `bellstat matches the event streams of two stations into trials and
evaluates the CH or T3 statistic with permutation and bootstrap resampling,
empirical p-values, confidence intervals and an Azuma-Hoeffding bound.

Configuration is read from defaults, an optional YAML file (--config or
BELLSTAT_CONFIG), a .env file and BELLSTAT_* environment variables, in
increasing precedence; command flags override all of them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (ERROR, WARN, INFO, DEBUG, TRACE)")

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newCombineCmd(),
		newSimulateCmd(),
		newMatchStatsCmd(),
	)
	return rootCmd
}

// loadConfig loads the layered configuration and applies --log-level.
func loadConfig() (*config.Config, *internal.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, ok := internal.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg, internal.NewLogger(level), nil
}
