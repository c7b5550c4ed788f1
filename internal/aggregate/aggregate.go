package aggregate

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"bellstat/domain/core"
	"bellstat/domain/stats"
	"bellstat/ports"

	mstats "github.com/montanaflynn/stats"
)

// Input is one named saved result with its optional raw distributions.
type Input struct {
	Name        string
	Result      *stats.StatisticResult
	Permutation *stats.Distribution
	Bootstrap   *stats.Distribution
}

// Row is the per-input line of a combined report. Total and Sigma are in sum
// units: the signed T3 counter total, or the CH numerator.
type Row struct {
	Name       string   `json:"name"`
	Value      *float64 `json:"value"`
	Trials     int      `json:"trials"`
	Total      float64  `json:"total"`
	Sigma      float64  `json:"sigma"`
	Z          float64  `json:"z"`
	Degenerate bool     `json:"degenerate,omitempty"`
}

// DrawSummary pools the draws of one resampling kind across inputs.
type DrawSummary struct {
	Kind   stats.ResampleKind `json:"kind"`
	Inputs int                `json:"inputs"`
	Count  int                `json:"count"`
	Mean   float64            `json:"mean"`
	StdDev float64            `json:"std_dev"`
	P025   float64            `json:"p025"`
	P975   float64            `json:"p975"`
}

// Report is the cross-run combination of every input matching Pattern.
type Report struct {
	Pattern   string          `json:"pattern"`
	Statistic stats.Statistic `json:"statistic"`
	Rows      []Row           `json:"rows"`
	// Combined signed total, quadrature sigma and z.
	Total float64 `json:"total"`
	Sigma float64 `json:"sigma"`
	Z     float64 `json:"z"`
	// Mean and sample standard deviation of the non-degenerate point values.
	PooledMean float64 `json:"pooled_mean"`
	Dispersion float64 `json:"dispersion"`

	Permutation *DrawSummary `json:"permutation,omitempty"`
	Bootstrap   *DrawSummary `json:"bootstrap,omitempty"`
}

// Match reports whether name matches the shell glob pattern; the empty
// pattern matches everything.
func Match(pattern, name string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	return filepath.Match(pattern, name)
}

// Combine aggregates every input whose name matches pattern, in name order.
// All matched inputs must carry a result of the same statistic. Zero matches
// fail with core.ErrNoMatch.
func Combine(inputs []Input, pattern string) (*Report, error) {
	var matched []Input
	for _, in := range inputs {
		ok, err := Match(pattern, in.Name)
		if err != nil {
			return nil, core.NewValidationError("pattern", err.Error())
		}
		if ok {
			matched = append(matched, in)
		}
	}
	if len(matched) == 0 {
		return nil, core.NewNoMatchError(pattern)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	rep := &Report{Pattern: pattern}
	var variance float64
	var values []float64
	var perm, boot []*stats.Distribution
	for i, in := range matched {
		if in.Result == nil {
			return nil, fmt.Errorf("input %s has no result", in.Name)
		}
		if i == 0 {
			rep.Statistic = in.Result.Statistic
		} else if in.Result.Statistic != rep.Statistic {
			return nil, fmt.Errorf("cannot combine %s with %s (input %s)", in.Result.Statistic, rep.Statistic, in.Name)
		}

		row := rowFor(in)
		rep.Rows = append(rep.Rows, row)
		rep.Total += row.Total
		variance += row.Sigma * row.Sigma
		if !row.Degenerate {
			values = append(values, in.Result.Value)
		}
		if in.Permutation != nil {
			perm = append(perm, in.Permutation)
		}
		if in.Bootstrap != nil {
			boot = append(boot, in.Bootstrap)
		}
	}

	rep.Sigma = math.Sqrt(variance)
	if rep.Sigma > 0 {
		rep.Z = rep.Total / rep.Sigma
	}
	if len(values) > 0 {
		rep.PooledMean, _ = mstats.Mean(values)
	}
	if len(values) > 1 {
		rep.Dispersion, _ = mstats.StandardDeviationSample(values)
	}

	var err error
	if rep.Permutation, err = pool(stats.Permutation, perm); err != nil {
		return nil, err
	}
	if rep.Bootstrap, err = pool(stats.Bootstrap, boot); err != nil {
		return nil, err
	}
	return rep, nil
}

func rowFor(in Input) Row {
	r := in.Result
	row := Row{Name: in.Name, Trials: r.Trials, Degenerate: r.Degenerate()}
	if !row.Degenerate {
		row.Value = stats.Float(r.Value)
	}
	switch {
	case r.T3 != nil:
		row.Total = r.T3.Total
		row.Sigma = r.T3.Sigma
		if r.T3.ClusterSigma != nil {
			row.Sigma = *r.T3.ClusterSigma
		}
	case r.CH != nil && !r.CH.Degenerate:
		row.Total = r.CH.Numerator
		row.Sigma = r.CH.Sigma * r.CH.Denominator
	}
	if row.Sigma > 0 {
		row.Z = row.Total / row.Sigma
	}
	return row
}

func pool(kind stats.ResampleKind, dists []*stats.Distribution) (*DrawSummary, error) {
	var draws []float64
	for _, d := range dists {
		draws = append(draws, d.Draws...)
	}
	if len(draws) == 0 {
		return nil, nil
	}
	s := &DrawSummary{Kind: kind, Inputs: len(dists), Count: len(draws)}
	var err error
	if s.Mean, err = mstats.Mean(draws); err != nil {
		return nil, err
	}
	if len(draws) > 1 {
		if s.StdDev, err = mstats.StandardDeviationSample(draws); err != nil {
			return nil, err
		}
	}
	if s.P025, err = mstats.PercentileNearestRank(draws, 2.5); err != nil {
		return nil, err
	}
	if s.P975, err = mstats.PercentileNearestRank(draws, 97.5); err != nil {
		return nil, err
	}
	return s, nil
}

// CombineStore loads every record whose key matches pattern from store and
// combines them.
func CombineStore(ctx context.Context, store ports.LedgerReaderPort, pattern string) (*Report, error) {
	keys, err := store.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var inputs []Input
	for _, key := range keys {
		ok, err := Match(pattern, key)
		if err != nil {
			return nil, core.NewValidationError("pattern", err.Error())
		}
		if !ok {
			continue
		}
		rec, err := store.GetRecord(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		inputs = append(inputs, Input{
			Name:        key,
			Result:      rec.Result,
			Permutation: rec.Permutation,
			Bootstrap:   rec.Bootstrap,
		})
	}
	return Combine(inputs, pattern)
}
