package event

import (
	"errors"
	"testing"

	"bellstat/domain/core"
)

func TestStreamCheckOrder(t *testing.T) {
	tests := []struct {
		name    string
		stream  Stream
		wantIdx int
	}{
		{"empty", nil, -1},
		{"sorted with ties", Stream{{Timestamp: 1}, {Timestamp: 1}, {Timestamp: 5}}, -1},
		{"decrease", Stream{{Timestamp: 1}, {Timestamp: 9}, {Timestamp: 3}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stream.CheckOrder(StationA)
			if tt.wantIdx < 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var oerr *core.InputOrderError
			if !errors.As(err, &oerr) {
				t.Fatalf("expected InputOrderError, got %v", err)
			}
			if oerr.Index != tt.wantIdx || oerr.Station != "A" {
				t.Errorf("got index %d station %s", oerr.Index, oerr.Station)
			}
		})
	}
}

func TestSyncParametersProjectionAndValidation(t *testing.T) {
	p := SyncParameters{Offset: 10, Drift: 0.5, Period: 100}
	if got := p.ToA(20); got != 40 {
		t.Errorf("ToA(20) = %v, want 40", got)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid parameters rejected: %v", err)
	}

	bad := []SyncParameters{
		{Period: 0},
		{Period: -3},
		{Period: 10, Drift: -1},
	}
	for _, b := range bad {
		if err := b.Validate(); !errors.Is(err, core.ErrAlignment) {
			t.Errorf("%v: expected ErrAlignment, got %v", b, err)
		}
	}
}

func TestEventPredicates(t *testing.T) {
	if (Event{Outcome: 0}).Clicked() {
		t.Error("zero outcome must not count as a click")
	}
	if !(Event{Outcome: 4}).Clicked() {
		t.Error("nonzero outcome must count as a click")
	}
	if (Event{Setting: 0}).HasSetting() || !(Event{Setting: 2}).HasSetting() {
		t.Error("HasSetting mismatch")
	}
}
