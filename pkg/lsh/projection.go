package lsh

// ProjectionFamily holds the L sampling masks g_l. Each mask has exactly
// k bits set, never at position 0. Masks are immutable once built.
type ProjectionFamily struct {
	k     int
	masks []BitVector
}

// NewProjectionFamily draws l masks of width totalBits with k bits each,
// by rejection sampling from rng.
func NewProjectionFamily(k, l, totalBits int, rng *Random) (*ProjectionFamily, error) {
	if totalBits <= 0 {
		return nil, ErrZeroWidth
	}
	if k <= 0 || l <= 0 || k > totalBits-1 {
		return nil, ErrInvalidParams
	}

	masks := make([]BitVector, l)
	for i := range masks {
		g := NewBitVector(totalBits)
		for set := 0; set < k; {
			pos := int(rng.Uint32Between(0, uint64(totalBits-2))) + 1
			if !g.Test(pos) {
				g.Set(pos)
				set++
			}
		}
		masks[i] = g
	}

	return &ProjectionFamily{k: k, masks: masks}, nil
}

// K returns the number of bits sampled per line.
func (p *ProjectionFamily) K() int {
	return p.k
}

// L returns the number of masks.
func (p *ProjectionFamily) L() int {
	return len(p.masks)
}

// Mask returns a copy of mask l.
func (p *ProjectionFamily) Mask(l int) BitVector {
	return p.masks[l].Clone()
}

// Project returns the AND of v with every mask, one vector per line.
func (p *ProjectionFamily) Project(v BitVector) []BitVector {
	out := make([]BitVector, len(p.masks))
	for i, g := range p.masks {
		out[i] = v.And(g)
	}
	return out
}
