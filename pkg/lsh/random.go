package lsh

import "math/rand"

// Fixed seeds shared by every node. Changing any of them changes bucket
// placement and invalidates indexes built elsewhere.
const (
	// RbitsSeed seeds the projection mask generator.
	RbitsSeed int64 = 945792045
	// ControlSeed seeds the control key factor table.
	ControlSeed int64 = 907452457
	// MainSeed seeds the main key factor table.
	MainSeed int64 = 918747475
)

// randMax is the exclusive upper bound of rand.Int31.
const randMax = 1 << 31

// Random draws uniform integers from a locally owned, seeded source.
// It is not safe for concurrent use.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a generator seeded with seed.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// Uint32Between returns a uniform integer in [minB, maxB].
// Bounds wider than 31 bits combine two draws.
func (r *Random) Uint32Between(minB, maxB uint64) uint64 {
	if maxB <= minB {
		return minB
	}
	span := float64(maxB-minB) + 1.0
	if maxB-minB < randMax {
		return minB + uint64(span*float64(r.rng.Int31())/float64(randMax))
	}
	hi := float64(r.rng.Int31())
	lo := float64(r.rng.Int31())
	return minB + uint64(span*(hi*float64(randMax)+lo)/(float64(randMax)*float64(randMax)))
}
