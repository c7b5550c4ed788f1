package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bellstat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"BELLSTAT_CONFIG", "BELLSTAT_RADIUS", "BELLSTAT_SCAN_RADIUS", "BELLSTAT_STORAGE", "BELLSTAT_STORAGE_LOCATION", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestSimulateAnalyzeCombine(t *testing.T) {
	dir := workspace(t)

	require.NoError(t, execute("simulate", "--run", "sim01", "--slots", "800", "--out", "data"))
	for _, f := range []string{"sim01_alice.jsonl", "sim01_bob.jsonl", "sim01_sync.json"} {
		assert.FileExists(t, filepath.Join(dir, "data", f))
	}

	inputs := []string{"data/sim01_alice.jsonl", "data/sim01_bob.jsonl", "data/sim01_sync.json"}
	require.NoError(t, execute(append([]string{"analyze"}, append(inputs,
		"--scan-radius", "20,40", "--shuffle", "10", "--seed", "3",
		"--storage-location", "ledger", "--out", "reports", "--xlsx", "--log-level", "ERROR")...)...))
	assert.FileExists(t, filepath.Join(dir, "ledger", "sim01__ch__r20.json"))
	assert.FileExists(t, filepath.Join(dir, "ledger", "sim01__ch__r40.json"))
	assert.FileExists(t, filepath.Join(dir, "reports", "sim01.md"))
	assert.FileExists(t, filepath.Join(dir, "reports", "sim01.xlsx"))

	require.NoError(t, execute("combine", "sim01__ch__*", "--storage-location", "ledger", "--out", "reports", "--log-level", "ERROR"))
	assert.FileExists(t, filepath.Join(dir, "reports", "combined.md"))

	require.NoError(t, execute(append([]string{"matchstats"}, append(inputs, "--scan-radius", "10,20", "--log-level", "ERROR")...)...))

	err := execute(append([]string{"analyze"}, append(inputs, "--log-level", "ERROR")...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radius")

	err = execute("combine", "nothing*", "--storage-location", "ledger", "--log-level", "ERROR")
	assert.Error(t, err)
}

func TestMatchStatsDiagnostics(t *testing.T) {
	workspace(t)
	if err := execute("simulate", "--run", "sim02", "--slots", "800", "--out", "data"); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"matchstats", "data/sim02_alice.jsonl", "data/sim02_bob.jsonl", "data/sim02_sync.json",
		"--scan-radius", "10,20", "--alice-bits", "0x2", "--peak-block", "50", "--log-level", "ERROR"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("matchstats: %v", err)
	}

	report := out.String()
	for _, want := range []string{
		"## Match statistics sim02",
		"### Outcome coverage A (expected bits 0x2",
		"### Outcome coverage B (expected bits 0x0",
		"| 0x1 |",
		"### Offset peak drift at radius 20",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("matchstats output lacks %q:\n%s", want, report)
		}
	}
	alice, _, _ := strings.Cut(report, "### Outcome coverage B")
	if !strings.Contains(alice, "| foreign |") || strings.Contains(alice, "| foreign | 0 |") {
		t.Errorf("Alice clicks outside 0x2 were not reported as foreign:\n%s", alice)
	}
}

func TestAnalyzeFlagsOverrideConfig(t *testing.T) {
	cmd := newAnalyzeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--radius", "7", "--seed", "0", "--statistic", "t3:bob", "--html"}))

	cfg := config.Default()
	cfg.Analysis.ScanRadii = []float64{1, 2}
	var f analyzeFlags
	f.radius, f.statistic, f.html = 7, "t3:bob", true
	require.NoError(t, f.apply(cmd.Flags(), cfg))

	assert.Equal(t, []float64{7}, cfg.Radii())
	require.NotNil(t, cfg.Analysis.Seed)
	assert.Equal(t, uint64(0), *cfg.Analysis.Seed)
	assert.Equal(t, "t3:bob", cfg.Analysis.Statistic)
	assert.True(t, cfg.Output.HTML)
	assert.False(t, cfg.Output.XLSX)
	assert.NoError(t, cfg.Validate())
}
