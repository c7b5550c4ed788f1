package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"bellstat/domain/event"
	"bellstat/domain/trial"
)

// RunGeneratorConfig configures the synthetic two-station run generator
type RunGeneratorConfig struct {
	Run    string `json:"run" yaml:"run"`
	Slots  int    `json:"slots" yaml:"slots"`
	Period int64  `json:"period" yaml:"period"`
	Phase  int64  `json:"phase" yaml:"phase"`
	// Offset and Drift describe B's clock: a B tick b sits at b*(1+Drift)+Offset on A's clock.
	Offset float64 `json:"offset" yaml:"offset"`
	Drift  float64 `json:"drift" yaml:"drift"`
	// Jitter is the largest distance of an event from its slot centre.
	Jitter int64 `json:"jitter" yaml:"jitter"`
	// MissingRate is the probability that a station records no event in a slot.
	MissingRate float64 `json:"missing_rate" yaml:"missing_rate"`
	// Efficiency is the click probability of each station.
	Efficiency float64 `json:"efficiency" yaml:"efficiency"`
	// Correlation is the probability that B copies A's hidden variable
	// instead of drawing its own.
	Correlation float64 `json:"correlation" yaml:"correlation"`
	Seed        uint64  `json:"seed" yaml:"seed"`
}

// DefaultRunConfig returns a well-synchronized, moderately correlated run
func DefaultRunConfig() RunGeneratorConfig {
	return RunGeneratorConfig{
		Run:         "synthetic",
		Slots:       5000,
		Period:      1000,
		Offset:      250000,
		Jitter:      40,
		MissingRate: 0.02,
		Efficiency:  0.3,
		Correlation: 0.8,
		Seed:        42,
	}
}

// Validate checks the generator configuration
func (c RunGeneratorConfig) Validate() error {
	switch {
	case c.Slots <= 0:
		return fmt.Errorf("slots must be positive, got %d", c.Slots)
	case c.Period <= 0:
		return fmt.Errorf("period must be positive, got %d", c.Period)
	case c.Jitter < 0 || 2*c.Jitter >= c.Period:
		return fmt.Errorf("jitter %d must lie in [0, period/2)", c.Jitter)
	case c.Drift <= -1:
		return fmt.Errorf("drift must exceed -1, got %g", c.Drift)
	}
	for name, p := range map[string]float64{"missing_rate": c.MissingRate, "efficiency": c.Efficiency, "correlation": c.Correlation} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must lie in [0, 1], got %g", name, p)
		}
	}
	return nil
}

// Sync returns the clock model that aligns the generated streams
func (c RunGeneratorConfig) Sync() event.SyncParameters {
	return event.SyncParameters{
		Run:            c.Run,
		Offset:         c.Offset,
		Drift:          c.Drift,
		Period:         float64(c.Period),
		Phase:          float64(c.Phase),
		PulsesPerTrial: 1,
	}
}

// RunGenerator generates time-sorted event streams for two stations
type RunGenerator struct {
	config RunGeneratorConfig
	rng    *rand.Rand
}

// NewRunGenerator creates a new run generator
func NewRunGenerator(config RunGeneratorConfig) (*RunGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RunGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x5deece66d)),
	}, nil
}

// Generate draws both streams. A's timestamps are on the reference clock;
// B's are on its own clock and need Sync() to be matched.
func (g *RunGenerator) Generate() (a, b event.Stream) {
	c := g.config
	a = make(event.Stream, 0, c.Slots)
	b = make(event.Stream, 0, c.Slots)

	for slot := 0; slot < c.Slots; slot++ {
		centre := float64(int64(slot)*c.Period + c.Phase)
		lambda := g.rng.Float64()
		lambdaB := lambda
		if g.rng.Float64() >= c.Correlation {
			lambdaB = g.rng.Float64()
		}

		if g.rng.Float64() >= c.MissingRate {
			a = append(a, event.Event{
				Timestamp: int64(math.Round(centre + g.jitter())),
				Setting:   uint8(1 + g.rng.IntN(2)),
				Outcome:   click(lambda, c.Efficiency),
			})
		}
		if g.rng.Float64() >= c.MissingRate {
			onA := centre + g.jitter()
			b = append(b, event.Event{
				Timestamp: int64(math.Round((onA - c.Offset) / (1 + c.Drift))),
				Setting:   uint8(1 + g.rng.IntN(2)),
				Outcome:   click(lambdaB, c.Efficiency),
			})
		}
	}
	return a, b
}

func (g *RunGenerator) jitter() float64 {
	if g.config.Jitter == 0 {
		return 0
	}
	return float64(g.rng.Int64N(2*g.config.Jitter+1) - g.config.Jitter)
}

func click(lambda, efficiency float64) uint16 {
	if lambda < efficiency {
		return 1
	}
	return 0
}

// IIDTrials draws n trials with uniform settings and independent clicks of
// probability pClick, already matched.
func IIDTrials(n int, pClick float64, seed uint64) *trial.Set {
	r := rand.New(rand.NewPCG(seed, ^seed))
	ts := make([]trial.Trial, n)
	for i := range ts {
		ts[i] = trial.Trial{
			Slot:   int64(i),
			Center: float64(i),
			A:      trial.Side{Setting: uint8(1 + r.IntN(2))},
			B:      trial.Side{Setting: uint8(1 + r.IntN(2))},
		}
		if r.Float64() < pClick {
			ts[i].A.Outcome = 1
		}
		if r.Float64() < pClick {
			ts[i].B.Outcome = 1
		}
	}
	return trial.FromTrials(ts...)
}
