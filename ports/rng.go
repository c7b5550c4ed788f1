package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic resampling
type RNGPort interface {
	// DrawStream returns the private generator of one resampling draw. The
	// stream is a pure function of (seed, stream name, draw index), so the
	// draw sees the same randomness whichever worker executes it.
	DrawStream(seed uint64, stream string, draw int) *rand.Rand

	// EntropySeed returns a fresh seed for runs where none was supplied.
	EntropySeed() uint64
}
