package trial

import (
	"slices"
	"testing"
)

func TestFromTrialsCopiesInput(t *testing.T) {
	in := []Trial{{Slot: 1}, {Slot: 2}}
	s := FromTrials(in...)
	in[0].Slot = 99

	if got := s.At(0).Slot; got != 1 {
		t.Errorf("At(0).Slot = %d, want 1", got)
	}
	if got := s.Slots(); !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("Slots() = %v, want [1 2]", got)
	}
	if got := s.Diagnostics().Matched; got != 2 {
		t.Errorf("Matched = %d, want 2", got)
	}
}

func TestWithSettingsFilters(t *testing.T) {
	s := FromTrials(
		Trial{Slot: 1, A: Side{Setting: 1}, B: Side{Setting: 2}},
		Trial{Slot: 2, A: Side{Setting: 0}, B: Side{Setting: 2}},
		Trial{Slot: 3, A: Side{Setting: 2}, B: Side{Setting: 3}},
		Trial{Slot: 4, A: Side{Setting: 2}, B: Side{Setting: 1}},
	)

	f := s.WithSettings()
	if got := f.Slots(); !slices.Equal(got, []int64{1, 4}) {
		t.Errorf("filtered slots = %v, want [1 4]", got)
	}
	if s.Len() != 4 {
		t.Errorf("source set changed to %d trials", s.Len())
	}

	all := FromTrials(Trial{A: Side{Setting: 1}, B: Side{Setting: 1}})
	if all.WithSettings() != all {
		t.Error("a fully set trial set should be returned as is")
	}
}
