package trial

import (
	"bellstat/domain/event"
)

// Side is one station's contribution to a trial, in A's time frame.
type Side struct {
	Timestamp float64 `json:"t"`
	Offset    float64 `json:"offset"` // signed distance from the slot centre
	Setting   uint8   `json:"setting"`
	Outcome   uint16  `json:"outcome"`
}

// Clicked reports whether any detector fired on this side.
func (s Side) Clicked() bool { return s.Outcome != 0 }

// Trial is one matched coincidence slot.
type Trial struct {
	Slot   int64   `json:"slot"`
	Center float64 `json:"center"`
	A      Side    `json:"a"`
	B      Side    `json:"b"`
}

// HasSettings reports whether both stations recorded a setting.
func (t Trial) HasSettings() bool {
	return (t.A.Setting == 1 || t.A.Setting == 2) && (t.B.Setting == 1 || t.B.Setting == 2)
}

// Diagnostics counts how slots fared during matching.
type Diagnostics struct {
	SlotsScanned int `json:"slots_scanned"`
	Matched      int `json:"matched"`
	OnlyA        int `json:"only_a"`
	OnlyB        int `json:"only_b"`
}

// Set is the ordered, immutable trial sequence for one (run, radius) pair.
// Callers read it through accessors; nothing hands out the backing slice.
type Set struct {
	trials      []Trial
	radius      float64
	sync        event.SyncParameters
	diagnostics Diagnostics
}

// NewSet takes ownership of trials, which must already be ordered by slot.
func NewSet(trials []Trial, radius float64, sync event.SyncParameters, diag Diagnostics) *Set {
	return &Set{trials: trials, radius: radius, sync: sync, diagnostics: diag}
}

// FromTrials builds an ad-hoc set, mostly useful for fixtures.
func FromTrials(trials ...Trial) *Set {
	cp := make([]Trial, len(trials))
	copy(cp, trials)
	return &Set{trials: cp, diagnostics: Diagnostics{Matched: len(cp)}}
}

func (s *Set) Len() int { return len(s.trials) }
func (s *Set) At(i int) Trial { return s.trials[i] }
func (s *Set) Radius() float64 { return s.radius }
func (s *Set) Sync() event.SyncParameters { return s.sync }
func (s *Set) Diagnostics() Diagnostics { return s.diagnostics }

// Slots returns the slot indices in order.
func (s *Set) Slots() []int64 {
	out := make([]int64, len(s.trials))
	for i, t := range s.trials {
		out[i] = t.Slot
	}
	return out
}

// WithSettings returns the subset whose trials carry a setting at both stations.
func (s *Set) WithSettings() *Set {
	kept := make([]Trial, 0, len(s.trials))
	for _, t := range s.trials {
		if t.HasSettings() {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(s.trials) {
		return s
	}
	return &Set{trials: kept, radius: s.radius, sync: s.sync, diagnostics: s.diagnostics}
}
