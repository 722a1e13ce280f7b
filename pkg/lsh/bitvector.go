package lsh

import (
	"math/bits"
	"strings"
)

// BitVector is a fixed-width bit sequence packed into 64-bit words.
// Bit i lives in word i/64 at position i%64.
type BitVector struct {
	words []uint64
	width int
}

// NewBitVector creates a zeroed bit vector of the given width.
func NewBitVector(width int) BitVector {
	if width < 0 {
		width = 0
	}
	return BitVector{
		words: make([]uint64, (width+63)/64),
		width: width,
	}
}

// Width returns the number of bits in the vector.
func (v BitVector) Width() int {
	return v.width
}

// Set sets the bit at index i. Out of range indexes are ignored.
func (v BitVector) Set(i int) {
	if i < 0 || i >= v.width {
		return
	}
	v.words[i/64] |= 1 << uint(i%64)
}

// Clear clears the bit at index i. Out of range indexes are ignored.
func (v BitVector) Clear(i int) {
	if i < 0 || i >= v.width {
		return
	}
	v.words[i/64] &^= 1 << uint(i%64)
}

// Test reports whether the bit at index i is set.
func (v BitVector) Test(i int) bool {
	if i < 0 || i >= v.width {
		return false
	}
	return v.words[i/64]&(1<<uint(i%64)) != 0
}

// OnesCount returns the number of set bits.
func (v BitVector) OnesCount() int {
	n := 0
	for _, w := range v.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// And returns the bitwise AND of v and o. The result has the width of v;
// bits beyond the width of o are treated as zero.
func (v BitVector) And(o BitVector) BitVector {
	r := NewBitVector(v.width)
	for i := range r.words {
		if i < len(o.words) {
			r.words[i] = v.words[i] & o.words[i]
		}
	}
	return r
}

// Equal reports whether both vectors have the same width and bits.
func (v BitVector) Equal(o BitVector) bool {
	if v.width != o.width {
		return false
	}
	for i := range v.words {
		if v.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the vector.
func (v BitVector) Clone() BitVector {
	r := NewBitVector(v.width)
	copy(r.words, v.words)
	return r
}

// ForEachSet calls fn with the index of every set bit, in increasing order.
func (v BitVector) ForEachSet(fn func(i int)) {
	for wi, w := range v.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(wi*64 + tz)
			w &= w - 1
		}
	}
}

// String renders the vector as '0'/'1' characters, bit 0 first.
func (v BitVector) String() string {
	var sb strings.Builder
	sb.Grow(v.width)
	for i := 0; i < v.width; i++ {
		if v.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// HammingDistance counts the number of differing bits between two vectors.
// Returns -1 if the vectors have different widths.
func HammingDistance(a, b BitVector) int {
	if a.width != b.width {
		return -1
	}

	distance := 0
	for i := range a.words {
		distance += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return distance
}
