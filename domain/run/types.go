package run

import (
	"fmt"
	"strconv"

	"bellstat/domain/core"
	"bellstat/domain/stats"
)

// CodeVersion is stamped into every descriptor so stored results can be
// traced back to the build that produced them.
const CodeVersion = "bellstat/1.0.0"

// Descriptor names one (run, radius, statistic) evaluation. It travels with
// the data through the pipeline; storage keys derive from it and are never
// parsed back into metadata.
type Descriptor struct {
	RunID        core.RunID        `json:"run_id"`
	Name         string            `json:"name"`
	Statistic    stats.Statistic   `json:"statistic"`
	Radius       float64           `json:"radius"`
	ShuffleMode  stats.ShuffleMode `json:"shuffle_mode"`
	Iterations   Iterations        `json:"iterations"`
	ClusterSize  int               `json:"cluster_size"`
	Azuma        bool              `json:"azuma"`
	Seed         uint64            `json:"seed"`
	SeedProvided bool              `json:"seed_provided"`
	Threads      int               `json:"threads"`
	CodeVersion  string            `json:"code_version"`
	Fingerprint  core.Hash         `json:"fingerprint"`
}

// Iterations holds the draw counts of both resampling kinds; zero disables one.
type Iterations struct {
	Shuffle   int `json:"shuffle"`
	Bootstrap int `json:"bootstrap"`
}

// Fingerprint hashes every parameter that determines the numeric output.
// Threads is excluded: results do not depend on it.
func Fingerprint(d Descriptor) core.Hash {
	return core.ComputeFieldHash(map[string]interface{}{
		"name":         d.Name,
		"stat":         d.Statistic.String(),
		"radius":       strconv.FormatFloat(d.Radius, 'g', -1, 64),
		"shuffle_mode": d.ShuffleMode,
		"shuffle":      d.Iterations.Shuffle,
		"bootstrap":    d.Iterations.Bootstrap,
		"cluster":      d.ClusterSize,
		"azuma":        d.Azuma,
		"seed":         d.Seed,
		"seeded":       d.SeedProvided,
		"code":         d.CodeVersion,
	})
}

// Key is the storage key of the descriptor: run name, statistic and radius.
func (d Descriptor) Key() string {
	return fmt.Sprintf("%s__%s__r%s", d.Name, statKey(d.Statistic), strconv.FormatFloat(d.Radius, 'g', -1, 64))
}

func statKey(s stats.Statistic) string {
	if s.IsT3() {
		return "t3-" + string(s.RMode)
	}
	return string(s.Kind)
}
