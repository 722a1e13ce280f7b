package lsh

import "math/bits"

const (
	// CharBit is the number of bits used to encode one input byte.
	CharBit = 8

	// DefaultFixedStrSize is the number of input bytes kept by the codec.
	// Longer inputs are truncated, shorter ones are right-padded with spaces.
	DefaultFixedStrSize = 50
)

// byteWidth is the platform width of a byte, checked against CharBit
// before any scheme is built.
var byteWidth = bits.Len8(^uint8(0))

// Codec encodes strings into fixed-width bit vectors of
// CharBit * fixedStrSize bits.
//
// The embedding is lossy: only the first fixedStrSize bytes of an input
// take part in hashing.
type Codec struct {
	fixedStrSize int
	totalBits    int
}

// NewCodec creates a codec keeping fixedStrSize bytes per input.
// Returns ErrZeroWidth if the resulting width is zero, and ErrByteWidth
// if the platform byte is not CharBit bits wide.
func NewCodec(fixedStrSize int) (*Codec, error) {
	if byteWidth != CharBit {
		return nil, ErrByteWidth
	}
	if fixedStrSize <= 0 {
		return nil, ErrZeroWidth
	}
	return &Codec{
		fixedStrSize: fixedStrSize,
		totalBits:    CharBit * fixedStrSize,
	}, nil
}

// FixedStrSize returns the number of input bytes kept per string.
func (c *Codec) FixedStrSize() int {
	return c.fixedStrSize
}

// TotalBits returns the width of every encoded vector.
func (c *Codec) TotalBits() int {
	return c.totalBits
}

// Encode turns s into a bit vector of TotalBits bits. Each byte occupies
// CharBit consecutive positions, most significant bit first.
func (c *Codec) Encode(s string) BitVector {
	v := NewBitVector(c.totalBits)
	for i := 0; i < c.fixedStrSize; i++ {
		b := byte(' ')
		if i < len(s) {
			b = s[i]
		}
		base := i * CharBit
		for j := 0; j < CharBit; j++ {
			if (b>>uint(CharBit-1-j))&1 == 1 {
				v.Set(base + j)
			}
		}
	}
	return v
}
