package event

import (
	"fmt"
	"math"

	"bellstat/domain/core"
)

// Station names a detector site.
type Station string

const (
	StationA Station = "A"
	StationB Station = "B"
)

// Event is one time-tagged detection record from a station.
// Outcome is the detector click bitmask; zero is a valid "no click" outcome.
type Event struct {
	Timestamp int64  `json:"t"`
	Setting   uint8  `json:"setting"`
	Outcome   uint16 `json:"outcome"`
}

// Clicked reports whether any detector fired.
func (e Event) Clicked() bool { return e.Outcome != 0 }

// HasSetting reports whether a measurement setting (1 or 2) was recorded.
func (e Event) HasSetting() bool { return e.Setting == 1 || e.Setting == 2 }

// Stream is a station's time-sorted sequence of events.
type Stream []Event

// CheckOrder returns an *core.InputOrderError at the first decreasing timestamp.
func (s Stream) CheckOrder(station Station) error {
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp < s[i-1].Timestamp {
			return &core.InputOrderError{
				Station: string(station),
				Index:   i,
				Prev:    s[i-1].Timestamp,
				Next:    s[i].Timestamp,
			}
		}
	}
	return nil
}

// SyncParameters maps station B's clock onto station A's time base and
// describes the periodic trigger structure shared by both stations.
type SyncParameters struct {
	Run            string  `json:"run"`
	Offset         float64 `json:"offset_ticks"`
	Drift          float64 `json:"drift"`
	Period         float64 `json:"delta_ticks"`
	Phase          float64 `json:"phase_ticks"`
	PulsesPerTrial int     `json:"pk"`
}

// ToA projects a B timestamp into A's frame.
func (p SyncParameters) ToA(b int64) float64 {
	return float64(b)*(1+p.Drift) + p.Offset
}

// Validate checks the parameters are usable for slot construction.
func (p SyncParameters) Validate() error {
	if !(p.Period > 0) || math.IsInf(p.Period, 0) {
		return core.NewAlignmentError("trigger period must be positive and finite, got %v", p.Period)
	}
	if math.IsNaN(p.Offset) || math.IsInf(p.Offset, 0) || math.IsNaN(p.Drift) || math.IsInf(p.Drift, 0) {
		return core.NewAlignmentError("offset and drift must be finite")
	}
	if p.Drift <= -1 {
		return core.NewAlignmentError("drift %v would reverse B's time axis", p.Drift)
	}
	if math.IsNaN(p.Phase) || math.IsInf(p.Phase, 0) {
		return core.NewAlignmentError("phase must be finite")
	}
	return nil
}

func (p SyncParameters) String() string {
	return fmt.Sprintf("sync{run=%s offset=%g drift=%g period=%g phase=%g pk=%d}",
		p.Run, p.Offset, p.Drift, p.Period, p.Phase, p.PulsesPerTrial)
}
