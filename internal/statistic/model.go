package statistic

import (
	"fmt"

	"bellstat/domain/stats"
	"bellstat/domain/trial"
)

// Model is a columnar, read-only view of one TrialSet for one statistic.
//
// Eval recomputes the statistic over len(rows) positions. Position k reads its
// anchor columns (outcomes for CH, R for T3) from row rows[k] and its A and B
// label columns from labelsA[k] and labelsB[k]. Passing the identity for all
// three reproduces the point value; permutations relabel, bootstrap samples
// pass the same index slice three times. Eval never writes to the model, so
// one model is shared by every resampling worker.
type Model interface {
	Statistic() stats.Statistic
	Len() int
	Eval(rows, labelsA, labelsB []int) (float64, error)
	// Bound describes the Azuma-Hoeffding martingale of the observed sample
	// under the given shuffle null.
	Bound(mode stats.ShuffleMode) Bound
}

// Bound is the bounded-difference description of a statistic: N increments,
// each changing the centred sum by at most C, with observed deviation
// Deviation from the null expectation, in sum units.
type Bound struct {
	N         int
	C         float64
	Deviation float64
}

// ModelFor builds the model for stat over set.
func ModelFor(stat stats.Statistic, set *trial.Set) (Model, error) {
	if err := stat.Validate(); err != nil {
		return nil, err
	}
	switch stat.Kind {
	case stats.KindCH:
		return NewCHModel(set), nil
	case stats.KindT3:
		return NewT3Model(set, stat.RMode)
	default:
		return nil, fmt.Errorf("unsupported statistic %s", stat)
	}
}

// Compute evaluates the full point result of stat over set, including the
// statistic-specific detail block. cluster > 0 adds the cluster-robust sigma
// to T3 results.
func Compute(stat stats.Statistic, set *trial.Set, cluster int) (*stats.StatisticResult, error) {
	if err := stat.Validate(); err != nil {
		return nil, err
	}
	switch stat.Kind {
	case stats.KindCH:
		return ComputeCH(set).Result(), nil
	case stats.KindT3:
		res, err := ComputeT3(set, stat.RMode, cluster)
		if err != nil {
			return nil, err
		}
		return res.Result(), nil
	default:
		return nil, fmt.Errorf("unsupported statistic %s", stat)
	}
}

// Identity returns [0, n).
func Identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func checkLens(rows, labelsA, labelsB []int) error {
	if len(labelsA) != len(rows) || len(labelsB) != len(rows) {
		return fmt.Errorf("index length mismatch: rows=%d labelsA=%d labelsB=%d", len(rows), len(labelsA), len(labelsB))
	}
	return nil
}
