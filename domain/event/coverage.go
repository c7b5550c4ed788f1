package event

import (
	"maps"
	"slices"
)

// MaskCount is how often one outcome pattern occurred.
type MaskCount struct {
	Mask  uint16 `json:"mask"`
	Count int    `json:"count"`
}

// Coverage tallies the click patterns of a stream against the detector bits
// expected on that station.
type Coverage struct {
	Events  int         `json:"events"`
	Allowed uint16      `json:"allowed"`
	Masks   []MaskCount `json:"masks"`   // clicks within Allowed, ascending by pattern
	Foreign int         `json:"foreign"` // clicks carrying a bit outside Allowed
}

// Coverage counts the click patterns of s. An allowed mask of 0 accepts
// every bit.
func (s Stream) Coverage(allowed uint16) Coverage {
	c := Coverage{Events: len(s), Allowed: allowed}
	counts := make(map[uint16]int)
	for _, e := range s {
		if !e.Clicked() {
			continue
		}
		if allowed != 0 && e.Outcome&^allowed != 0 {
			c.Foreign++
			continue
		}
		counts[e.Outcome]++
	}
	for _, m := range slices.Sorted(maps.Keys(counts)) {
		c.Masks = append(c.Masks, MaskCount{Mask: m, Count: counts[m]})
	}
	return c
}

// Fraction is n relative to every event of the stream.
func (c Coverage) Fraction(n int) float64 {
	if c.Events == 0 {
		return 0
	}
	return float64(n) / float64(c.Events)
}

// Rare returns the single detector bits of Allowed whose one-bit pattern
// occurs in less than threshold of the events.
func (c Coverage) Rare(threshold float64) []uint16 {
	seen := make(map[uint16]int, len(c.Masks))
	for _, m := range c.Masks {
		seen[m.Mask] = m.Count
	}
	var rare []uint16
	for bit := uint16(1); bit != 0; bit <<= 1 {
		if c.Allowed&bit != 0 && c.Fraction(seen[bit]) < threshold {
			rare = append(rare, bit)
		}
	}
	return rare
}

// Masked returns a copy of s keeping only the mask bits of every outcome.
func (s Stream) Masked(mask uint16) Stream {
	out := make(Stream, len(s))
	for i, e := range s {
		e.Outcome &= mask
		out[i] = e
	}
	return out
}
