package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// PCGAdapter implements ports.RNGPort with math/rand/v2 PCG generators.
//
// Draw d of stream s under seed k is seeded with
//
//	hi = splitmix64(k ^ djb2(s))
//	lo = splitmix64(hi ^ (d+1)*0x9e3779b97f4a7c15)
//
// which depends on nothing but (k, s, d).
type PCGAdapter struct{}

func NewPCGAdapter() *PCGAdapter { return &PCGAdapter{} }

// DrawStream returns the generator for one draw.
func (PCGAdapter) DrawStream(seed uint64, stream string, draw int) *rand.Rand {
	hi := splitmix64(seed ^ uint64(hashString(stream)))
	lo := splitmix64(hi ^ (uint64(draw)+1)*0x9e3779b97f4a7c15)
	return rand.New(rand.NewPCG(hi, lo))
}

// EntropySeed reads a seed from the OS entropy source.
func (PCGAdapter) EntropySeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return rand.Uint64()
	}
	return binary.LittleEndian.Uint64(b[:])
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2
	}
	return hash
}
