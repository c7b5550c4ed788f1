package matcher

import (
	"math"

	"bellstat/domain/core"
	"bellstat/domain/event"
	"bellstat/domain/trial"
)

// ============================================================================
// TRIAL MATCHER
// ============================================================================
// Turns two independently clocked detector streams into an ordered set of
// coincidence trials. Station B is projected into A's frame, then every
// trigger slot centre in the overlap is visited once. For each slot the
// nearest event of each stream is located with a forward-only cursor; the
// slot becomes a trial only when both nearest events sit within the radius.
//
// The nearest-event choice does not depend on the radius, so a wider radius
// can only add trials.
// ============================================================================

// Match aligns streams a and b under sync and returns the trials whose A and
// B events both lie within radius of a slot centre.
func Match(a, b event.Stream, sync event.SyncParameters, radius float64) (*trial.Set, error) {
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return nil, core.NewAlignmentError("radius must be positive and finite, got %v", radius)
	}
	if err := sync.Validate(); err != nil {
		return nil, err
	}
	if radius >= sync.Period/2 {
		return nil, core.NewAlignmentError("radius %v must be below half the trigger period %v", radius, sync.Period)
	}
	if err := a.CheckOrder(event.StationA); err != nil {
		return nil, err
	}
	if err := b.CheckOrder(event.StationB); err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, core.NewAlignmentError("empty stream (A=%d events, B=%d events)", len(a), len(b))
	}

	ta := make([]float64, len(a))
	for i, e := range a {
		ta[i] = float64(e.Timestamp)
	}
	tb := make([]float64, len(b))
	for i, e := range b {
		tb[i] = sync.ToA(e.Timestamp)
	}

	lo := math.Max(ta[0], tb[0])
	hi := math.Min(ta[len(ta)-1], tb[len(tb)-1])
	if lo > hi {
		return nil, core.NewAlignmentError("no overlap after sync: A spans [%v, %v], B spans [%v, %v]",
			ta[0], ta[len(ta)-1], tb[0], tb[len(tb)-1])
	}

	first := int64(math.Ceil((lo - radius - sync.Phase) / sync.Period))
	last := int64(math.Floor((hi + radius - sync.Phase) / sync.Period))

	var (
		trials = make([]trial.Trial, 0, estimateTrials(first, last, len(a), len(b)))
		diag   trial.Diagnostics
		ca, cb int
	)
	for k := first; k <= last; k++ {
		center := sync.Phase + float64(k)*sync.Period
		diag.SlotsScanned++

		ia := nearest(ta, &ca, center)
		ib := nearest(tb, &cb, center)
		offA := ta[ia] - center
		offB := tb[ib] - center
		inA := math.Abs(offA) <= radius
		inB := math.Abs(offB) <= radius

		switch {
		case inA && inB:
			trials = append(trials, trial.Trial{
				Slot:   k,
				Center: center,
				A:      trial.Side{Timestamp: ta[ia], Offset: offA, Setting: a[ia].Setting, Outcome: a[ia].Outcome},
				B:      trial.Side{Timestamp: tb[ib], Offset: offB, Setting: b[ib].Setting, Outcome: b[ib].Outcome},
			})
		case inA:
			diag.OnlyA++
		case inB:
			diag.OnlyB++
		}
	}
	diag.Matched = len(trials)

	return trial.NewSet(trials, radius, sync, diag), nil
}

// nearest advances *cur to the last timestamp not after c and returns the
// index of the closer of that event and its successor. Ties go to the
// earlier event.
func nearest(ts []float64, cur *int, c float64) int {
	i := *cur
	for i+1 < len(ts) && ts[i+1] <= c {
		i++
	}
	*cur = i
	if i+1 < len(ts) && math.Abs(ts[i+1]-c) < math.Abs(ts[i]-c) {
		return i + 1
	}
	return i
}

func estimateTrials(first, last int64, na, nb int) int {
	n := last - first + 1
	if m := int64(min(na, nb)); m < n {
		n = m
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// RadiusCount is the match outcome at one radius.
type RadiusCount struct {
	Radius      float64
	Diagnostics trial.Diagnostics
}

// CountByRadius matches the streams once per radius and reports only the
// diagnostics, for choosing a scan range.
func CountByRadius(a, b event.Stream, sync event.SyncParameters, radii []float64) ([]RadiusCount, error) {
	out := make([]RadiusCount, 0, len(radii))
	for _, r := range radii {
		set, err := Match(a, b, sync, r)
		if err != nil {
			return nil, err
		}
		out = append(out, RadiusCount{Radius: r, Diagnostics: set.Diagnostics()})
	}
	return out, nil
}
