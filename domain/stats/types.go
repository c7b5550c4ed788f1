package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ============================================================================
// STATISTIC VARIANT
// ============================================================================

// Kind selects the statistic family.
type Kind string

const (
	KindCH Kind = "ch"
	KindT3 Kind = "t3"
)

// RMode selects which station's click in the following trial plays the
// role of the third slot R in a T3 triple.
type RMode string

const (
	RModeAny   RMode = "any"
	RModeAlice RMode = "alice"
	RModeBob   RMode = "bob"
)

// Statistic is the tagged variant CH | T3{RMode}.
type Statistic struct {
	Kind  Kind  `json:"kind"`
	RMode RMode `json:"r_mode,omitempty"`
}

func CH() Statistic           { return Statistic{Kind: KindCH} }
func T3(mode RMode) Statistic { return Statistic{Kind: KindT3, RMode: mode} }

func (s Statistic) IsCH() bool { return s.Kind == KindCH }
func (s Statistic) IsT3() bool { return s.Kind == KindT3 }

func (s Statistic) String() string {
	if s.Kind == KindT3 {
		return fmt.Sprintf("t3:%s", s.RMode)
	}
	return string(s.Kind)
}

// Validate rejects unknown kinds and modes.
func (s Statistic) Validate() error {
	switch s.Kind {
	case KindCH:
		if s.RMode != "" {
			return fmt.Errorf("statistic ch takes no r_mode, got %q", s.RMode)
		}
		return nil
	case KindT3:
		return ValidateRMode(s.RMode)
	default:
		return fmt.Errorf("unknown statistic %q", s.Kind)
	}
}

func ValidateRMode(m RMode) error {
	switch m {
	case RModeAny, RModeAlice, RModeBob:
		return nil
	}
	return fmt.Errorf("unknown r_mode %q (want any|alice|bob)", m)
}

// ParseStatistic accepts "ch", "t3" (r_mode any) and "t3:<mode>".
func ParseStatistic(s string) (Statistic, error) {
	name, mode, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	var st Statistic
	switch Kind(name) {
	case KindCH:
		st = CH()
		if mode != "" {
			st.RMode = RMode(mode)
		}
	case KindT3:
		if mode == "" {
			mode = string(RModeAny)
		}
		st = T3(RMode(mode))
	default:
		return Statistic{}, fmt.Errorf("unknown statistic %q", s)
	}
	return st, st.Validate()
}

// ============================================================================
// RESAMPLING
// ============================================================================

// ResampleKind distinguishes label permutation from bootstrap resampling.
type ResampleKind string

const (
	Permutation ResampleKind = "permutation"
	Bootstrap   ResampleKind = "bootstrap"
)

// ShuffleMode controls how permutation relabels trials.
type ShuffleMode string

const (
	// ShufflePair permutes the (A, B) label pair jointly.
	ShufflePair ShuffleMode = "pair"
	// ShuffleSide permutes A's and B's labels independently.
	ShuffleSide ShuffleMode = "side"
)

func ValidateShuffleMode(m ShuffleMode) error {
	if m == ShufflePair || m == ShuffleSide {
		return nil
	}
	return fmt.Errorf("unknown shuffle mode %q (want pair|side)", m)
}

// Distribution is one empirical resampling distribution. Draws holds the
// non-NaN draws in draw-index order; Excluded counts the NaN draws dropped.
type Distribution struct {
	Kind         ResampleKind `json:"kind"`
	Statistic    Statistic    `json:"statistic"`
	Iterations   int          `json:"iterations"`
	Seed         uint64       `json:"seed"`
	SeedProvided bool         `json:"seed_provided"`
	Threads      int          `json:"threads"`
	ClusterSize  int          `json:"cluster_size"`
	ShuffleMode  ShuffleMode  `json:"shuffle_mode,omitempty"`
	Draws        []float64    `json:"draws"`
	Excluded     int          `json:"excluded"`
}

// Reproducible reports whether the run can be replayed from its seed.
func (d *Distribution) Reproducible() bool { return d != nil && d.SeedProvided }

// ============================================================================
// RESULTS
// ============================================================================

// Interval is a two-sided confidence interval.
type Interval struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Level float64 `json:"level"`
}

// CellCounts are the per joint-setting counts used by CH.
type CellCounts struct {
	Trials       int `json:"trials"`
	SinglesA     int `json:"singles_a"`
	SinglesB     int `json:"singles_b"`
	Coincidences int `json:"coincidences"`
}

// NoSignalling holds the marginal-independence diagnostics reported with CH.
type NoSignalling struct {
	DeltaA float64 `json:"delta_a"`
	ZA     float64 `json:"z_a"`
	DeltaB float64 `json:"delta_b"`
	ZB     float64 `json:"z_b"`
}

// CHDetail carries the CH decomposition. Cells is indexed [setA-1][setB-1].
type CHDetail struct {
	Cells        [2][2]CellCounts `json:"cells"`
	Numerator    float64          `json:"numerator"`
	Denominator  float64          `json:"denominator"`
	Sigma        float64          `json:"sigma"`
	PValueLR     float64          `json:"p_value_lr"`
	Degenerate   bool             `json:"degenerate"`
	NoSignalling NoSignalling     `json:"no_signalling"`
}

// T3Counters are the seven triple counters.
type T3Counters struct {
	Triples int `json:"triples"`
	NA      int `json:"n_a"`
	NB      int `json:"n_b"`
	NC      int `json:"n_c"`
	NAB     int `json:"n_ab"`
	NAC     int `json:"n_ac"`
	NBC     int `json:"n_bc"`
	NABC    int `json:"n_abc"`
}

// Total is the signed counter combination.
func (c T3Counters) Total() int {
	return c.NABC - c.NAB - c.NAC - c.NBC + c.NA + c.NB + c.NC
}

// T3Detail carries the T3 decomposition.
type T3Detail struct {
	RMode        RMode      `json:"r_mode"`
	Counters     T3Counters `json:"counters"`
	Total        float64    `json:"total"`
	Sigma        float64    `json:"sigma"`
	ClusterSigma *float64   `json:"cluster_sigma,omitempty"`
	Z            float64    `json:"z"`
}

// StatisticResult is one full evaluation of a TrialSet. Value is NaN when the
// statistic is numerically degenerate; JSON encodes that as null.
type StatisticResult struct {
	Statistic          Statistic `json:"statistic"`
	Value              float64   `json:"-"`
	Trials             int       `json:"trials"`
	VarianceEstimate   *float64  `json:"variance_estimate,omitempty"`
	PValue             *float64  `json:"p_value,omitempty"`
	PValueLower        *float64  `json:"p_value_lower,omitempty"`
	ConfidenceInterval *Interval `json:"confidence_interval,omitempty"`
	BoundPValue        *float64  `json:"bound_p_value,omitempty"`
	Warnings           []string  `json:"warnings,omitempty"`
	ExcludedDraws      int       `json:"excluded_draws"`
	Reproducible       bool      `json:"reproducible"`
	CH                 *CHDetail `json:"ch,omitempty"`
	T3                 *T3Detail `json:"t3,omitempty"`
}

type statisticResultJSON StatisticResult

func (r StatisticResult) MarshalJSON() ([]byte, error) {
	var v *float64
	if !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
		v = &r.Value
	}
	return json.Marshal(struct {
		Value *float64 `json:"value"`
		statisticResultJSON
	}{v, statisticResultJSON(r)})
}

func (r *StatisticResult) UnmarshalJSON(data []byte) error {
	aux := struct {
		Value *float64 `json:"value"`
		*statisticResultJSON
	}{statisticResultJSON: (*statisticResultJSON)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Value = math.NaN()
	if aux.Value != nil {
		r.Value = *aux.Value
	}
	return nil
}

// Degenerate reports whether the point value is NaN.
func (r *StatisticResult) Degenerate() bool { return math.IsNaN(r.Value) }

// AddWarning appends a warning once.
func (r *StatisticResult) AddWarning(w string) {
	for _, existing := range r.Warnings {
		if existing == w {
			return
		}
	}
	r.Warnings = append(r.Warnings, w)
}

// Float returns a pointer to v, for the optional result fields.
func Float(v float64) *float64 { return &v }

// ============================================================================
// SCAN
// ============================================================================

// ScanEntry is the outcome of one radius. Err is set instead of Result when
// the radius failed.
type ScanEntry struct {
	Radius      float64          `json:"radius"`
	Result      *StatisticResult `json:"result,omitempty"`
	Permutation *Distribution    `json:"permutation,omitempty"`
	Bootstrap   *Distribution    `json:"bootstrap,omitempty"`
	Err         string           `json:"error,omitempty"`
}

func (e ScanEntry) Failed() bool { return e.Err != "" }

// ScanResult maps radii to results in scan order.
type ScanResult struct {
	Run       string      `json:"run"`
	Statistic Statistic   `json:"statistic"`
	Entries   []ScanEntry `json:"entries"`
}

// Entry returns the entry for radius r.
func (s *ScanResult) Entry(r float64) (ScanEntry, bool) {
	for _, e := range s.Entries {
		if e.Radius == r {
			return e, true
		}
	}
	return ScanEntry{}, false
}

// Failures counts failed radii.
func (s *ScanResult) Failures() int {
	n := 0
	for _, e := range s.Entries {
		if e.Failed() {
			n++
		}
	}
	return n
}

// Err joins the per-radius failure markers, or returns nil.
func (s *ScanResult) Err() error {
	var errs []error
	for _, e := range s.Entries {
		if e.Failed() {
			errs = append(errs, fmt.Errorf("radius %g: %s", e.Radius, e.Err))
		}
	}
	return errors.Join(errs...)
}
