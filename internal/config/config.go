package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"bellstat/domain/stats"
	"bellstat/internal"
	"bellstat/internal/errors"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Storage  StorageConfig  `yaml:"storage"`
	Output   OutputConfig   `yaml:"output"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
}

// AnalysisConfig holds the per-run analysis settings
type AnalysisConfig struct {
	Statistic string `yaml:"statistic"`
	// Radius and ScanRadii are mutually exclusive.
	Radius          float64   `yaml:"radius"`
	ScanRadii       []float64 `yaml:"scan_radii"`
	Shuffle         int       `yaml:"shuffle"`
	Bootstrap       int       `yaml:"bootstrap"`
	ShuffleMode     string    `yaml:"shuffle_mode"`
	ClusterSize     int       `yaml:"cluster"`
	Azuma           bool      `yaml:"azuma"`
	Seed            *uint64   `yaml:"seed"`
	Threads         int       `yaml:"threads"`
	ConfidenceLevel float64   `yaml:"confidence_level"`
	FailFast        bool      `yaml:"fail_fast"`
	OutcomeMask     uint16    `yaml:"outcome_mask"`
}

// StorageConfig selects the results ledger
type StorageConfig struct {
	Backend  string `yaml:"backend"`  // file, sqlite3 or postgres
	Location string `yaml:"location"` // directory or DSN
}

// OutputConfig holds report settings
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	HTML         bool   `yaml:"html"`
	XLSX         bool   `yaml:"xlsx"`
	IncludeDraws bool   `yaml:"include_draws"`
}

// MetricsConfig holds the metrics listener; an empty Addr disables it
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Statistic:       "ch",
			ShuffleMode:     string(stats.ShufflePair),
			ConfidenceLevel: 0.95,
		},
		Storage: StorageConfig{
			Backend:  "file",
			Location: "results/ledger",
		},
		Output: OutputConfig{
			Dir:          "results",
			IncludeDraws: true,
		},
		LogLevel: "INFO",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing precedence. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	config := Default()
	if path == "" {
		path = os.Getenv("BELLSTAT_CONFIG")
	}
	if path != "" {
		if err := loadFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}
	return config, nil
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(errors.WithCode(errors.CodeConfigInvalid, err), "failed to read config %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.Wrapf(errors.WithCode(errors.CodeConfigInvalid, err), "failed to parse config %s", path)
	}
	return nil
}

func applyEnv(c *Config) error {
	a := &c.Analysis
	a.Statistic = getEnvOrDefault("BELLSTAT_STATISTIC", a.Statistic)
	a.ShuffleMode = getEnvOrDefault("BELLSTAT_SHUFFLE_MODE", a.ShuffleMode)
	a.Shuffle = getEnvIntOrDefault("BELLSTAT_SHUFFLE", a.Shuffle)
	a.Bootstrap = getEnvIntOrDefault("BELLSTAT_BOOTSTRAP", a.Bootstrap)
	a.ClusterSize = getEnvIntOrDefault("BELLSTAT_CLUSTER", a.ClusterSize)
	a.Threads = getEnvIntOrDefault("BELLSTAT_THREADS", a.Threads)
	a.Azuma = getEnvBoolOrDefault("BELLSTAT_AZUMA", a.Azuma)
	a.FailFast = getEnvBoolOrDefault("BELLSTAT_FAIL_FAST", a.FailFast)
	a.ConfidenceLevel = getEnvFloatOrDefault("BELLSTAT_CONFIDENCE_LEVEL", a.ConfidenceLevel)
	if v := os.Getenv("BELLSTAT_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.ConfigInvalid(fmt.Sprintf("BELLSTAT_SEED must be an unsigned integer, got %q", v))
		}
		a.Seed = &seed
	}
	if v := os.Getenv("BELLSTAT_RADIUS"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.ConfigInvalid(fmt.Sprintf("BELLSTAT_RADIUS must be a number, got %q", v))
		}
		a.Radius = r
	}
	if v := os.Getenv("BELLSTAT_SCAN_RADIUS"); v != "" {
		radii, err := ParseRadii(v)
		if err != nil {
			return err
		}
		a.ScanRadii = radii
	}

	c.Storage.Backend = getEnvOrDefault("BELLSTAT_STORAGE", c.Storage.Backend)
	c.Storage.Location = getEnvOrDefault("BELLSTAT_STORAGE_LOCATION", c.Storage.Location)
	if url := os.Getenv("DATABASE_URL"); url != "" && c.Storage.Backend == "postgres" {
		c.Storage.Location = url
	}
	c.Output.Dir = getEnvOrDefault("BELLSTAT_OUTPUT_DIR", c.Output.Dir)
	c.Output.HTML = getEnvBoolOrDefault("BELLSTAT_HTML", c.Output.HTML)
	c.Output.XLSX = getEnvBoolOrDefault("BELLSTAT_XLSX", c.Output.XLSX)
	c.Metrics.Addr = getEnvOrDefault("BELLSTAT_METRICS_ADDR", c.Metrics.Addr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	return nil
}

// ParseRadii parses a comma-separated radius list such as "2,3.5,5".
func ParseRadii(s string) ([]float64, error) {
	var radii []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("invalid radius %q in %q", part, s))
		}
		radii = append(radii, r)
	}
	if len(radii) == 0 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("no radii in %q", s))
	}
	return radii, nil
}

// Radii returns the radii to analyse: the single radius or the scan list.
func (c *Config) Radii() []float64 {
	if len(c.Analysis.ScanRadii) > 0 {
		return c.Analysis.ScanRadii
	}
	return []float64{c.Analysis.Radius}
}

// Statistic parses the configured statistic.
func (c *Config) Statistic() (stats.Statistic, error) {
	st, err := stats.ParseStatistic(c.Analysis.Statistic)
	if err != nil {
		return st, errors.ConfigInvalid(err.Error())
	}
	return st, nil
}

// EffectiveThreads resolves a zero thread count to the CPU count.
func (c *Config) EffectiveThreads() int {
	if c.Analysis.Threads > 0 {
		return c.Analysis.Threads
	}
	return runtime.NumCPU()
}

// Validate checks the configuration for an analysis run
func (c *Config) Validate() error {
	a := c.Analysis
	if a.Radius != 0 && len(a.ScanRadii) > 0 {
		return errors.ConfigInvalid("radius and scan radii are mutually exclusive")
	}
	if a.Radius == 0 && len(a.ScanRadii) == 0 {
		return errors.ConfigInvalid("either a radius or a list of scan radii is required")
	}
	for _, r := range c.Radii() {
		if !(r > 0) {
			return errors.ConfigInvalid(fmt.Sprintf("radius must be positive, got %g", r))
		}
	}
	sorted := append([]float64(nil), c.Radii()...)
	sort.Float64s(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return errors.ConfigInvalid(fmt.Sprintf("duplicate radius %g", sorted[i]))
		}
	}
	if _, err := c.Statistic(); err != nil {
		return err
	}
	if err := stats.ValidateShuffleMode(stats.ShuffleMode(a.ShuffleMode)); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if a.Shuffle < 0 || a.Bootstrap < 0 {
		return errors.ConfigInvalid("iteration counts must be >= 0")
	}
	if a.ClusterSize < 0 {
		return errors.ConfigInvalid("cluster size must be >= 0")
	}
	if a.Threads < 0 {
		return errors.ConfigInvalid("threads must be >= 0")
	}
	if !(a.ConfidenceLevel > 0 && a.ConfidenceLevel < 1) {
		return errors.ConfigInvalid(fmt.Sprintf("confidence level must be in (0, 1), got %g", a.ConfidenceLevel))
	}
	return c.ValidateCommon()
}

// ValidateCommon checks the settings shared by every command.
func (c *Config) ValidateCommon() error {
	switch c.Storage.Backend {
	case "file", "sqlite3", "postgres":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown storage backend %q (want file|sqlite3|postgres)", c.Storage.Backend))
	}
	if c.Storage.Location == "" {
		return errors.ConfigInvalid("storage location is required")
	}
	if _, ok := internal.ParseLogLevel(c.LogLevel); !ok {
		return errors.ConfigInvalid(fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
