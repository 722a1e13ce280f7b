package lsh

const (
	// MaxHashRnd bounds the hash factors drawn for each bit position (2^29).
	MaxHashRnd = 536870912

	// ControlHashPrimeBits is the prime every factor is reduced by
	// before being summed.
	ControlHashPrimeBits = 217645177
)

// UniversalHasher computes main and control keys from masked vectors
// with two tables of random per-bit factors.
type UniversalHasher struct {
	control [][]uint64
	main    [][]uint64
}

// NewUniversalHasher builds the control and main factor tables for l lines
// of totalBits positions. Every line is drawn from a generator freshly
// seeded with the table's seed, so all lines of a table share one row of
// factors and the tables are identical on every node.
func NewUniversalHasher(l, totalBits int, controlSeed, mainSeed int64) (*UniversalHasher, error) {
	if totalBits <= 0 {
		return nil, ErrZeroWidth
	}
	if l <= 0 {
		return nil, ErrInvalidParams
	}

	h := &UniversalHasher{
		control: make([][]uint64, l),
		main:    make([][]uint64, l),
	}
	for i := 0; i < l; i++ {
		h.control[i] = factorRow(totalBits, controlSeed)
		h.main[i] = factorRow(totalBits, mainSeed)
	}
	return h, nil
}

func factorRow(totalBits int, seed int64) []uint64 {
	rng := NewRandom(seed)
	row := make([]uint64, totalBits)
	for i := range row {
		row[i] = rng.Uint32Between(1, MaxHashRnd)
	}
	return row
}

// BitHash sums factors[l][i] mod ControlHashPrimeBits over the set bits i
// of masked. The sum wraps around on overflow.
func BitHash(masked BitVector, factors [][]uint64, l int) uint64 {
	row := factors[l]
	var r uint64
	masked.ForEachSet(func(i int) {
		if i < len(row) {
			r += row[i] % ControlHashPrimeBits
		}
	})
	return r
}

// ControlHash returns the control key of masked on line l.
func (h *UniversalHasher) ControlHash(masked BitVector, l int) uint64 {
	return BitHash(masked, h.control, l)
}

// MainHash returns the main key of masked on line l, reduced to [0, hsize).
func (h *UniversalHasher) MainHash(masked BitVector, l int, hsize uint64) uint64 {
	return BitHash(masked, h.main, l) % hsize
}

// ControlFactors returns a copy of the control factors of line l.
func (h *UniversalHasher) ControlFactors(l int) []uint64 {
	return append([]uint64(nil), h.control[l]...)
}

// MainFactors returns a copy of the main factors of line l.
func (h *UniversalHasher) MainFactors(l int) []uint64 {
	return append([]uint64(nil), h.main[l]...)
}
