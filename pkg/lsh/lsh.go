// Package lsh implements Locality Sensitive Hashing of strings under the
// Hamming distance. Strings are embedded into fixed-width bit vectors,
// sampled by L random projection masks, and hashed into a dual-key chained
// table so that similar strings share buckets with high probability.
//
// Mask and factor generation use fixed seeds, so independent nodes
// build identical schemes without coordination. The parameters k, L, the
// table size and the fixed string size are baked into every key: changing
// any of them after a table has been populated requires a full rebuild.
//
// Nothing in this package is safe for concurrent mutation; callers
// serialize access themselves.
package lsh

import "errors"

var (
	// ErrZeroWidth is returned when a scheme would encode into zero bits.
	ErrZeroWidth = errors.New("lsh: zero-width bit domain")

	// ErrByteWidth is returned when the platform byte is not CharBit bits wide.
	ErrByteWidth = errors.New("lsh: platform byte width is not 8 bits")

	// ErrInvalidParams is returned for non-positive k, L or table size, or
	// a k larger than the number of samplable bit positions.
	ErrInvalidParams = errors.New("lsh: invalid scheme parameters")

	// ErrNotFound is returned when an element or bucket does not exist.
	ErrNotFound = errors.New("lsh: not found")

	// ErrKeyOutOfRange is returned for a main key not below the table size.
	ErrKeyOutOfRange = errors.New("lsh: main key out of range")
)

// Seeds groups the three generator seeds of a scheme.
type Seeds struct {
	Rbits   int64
	Control int64
	Main    int64
}

// DefaultSeeds returns the seeds every node uses unless told otherwise.
func DefaultSeeds() Seeds {
	return Seeds{Rbits: RbitsSeed, Control: ControlSeed, Main: MainSeed}
}

type systemOptions struct {
	seeds        Seeds
	fixedStrSize int
}

// SystemOption configures a SystemHamming.
type SystemOption func(*systemOptions)

// WithSeeds overrides the generator seeds.
func WithSeeds(s Seeds) SystemOption {
	return func(o *systemOptions) { o.seeds = s }
}

// WithFixedStrSize overrides the number of input bytes kept per string.
func WithFixedStrSize(n int) SystemOption {
	return func(o *systemOptions) { o.fixedStrSize = n }
}

// SystemHamming is the Hamming-distance LSH scheme: a Codec, a
// ProjectionFamily of L masks with k bits each, and a UniversalHasher.
type SystemHamming struct {
	k      int
	l      int
	seeds  Seeds
	codec  *Codec
	proj   *ProjectionFamily
	hasher *UniversalHasher
}

// NewSystemHamming builds the scheme for k sampled bits per line and l lines.
// All masks and factor tables are generated here and never change afterwards.
func NewSystemHamming(k, l int, opts ...SystemOption) (*SystemHamming, error) {
	o := systemOptions{
		seeds:        DefaultSeeds(),
		fixedStrSize: DefaultFixedStrSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	codec, err := NewCodec(o.fixedStrSize)
	if err != nil {
		return nil, err
	}

	proj, err := NewProjectionFamily(k, l, codec.TotalBits(), NewRandom(o.seeds.Rbits))
	if err != nil {
		return nil, err
	}

	hasher, err := NewUniversalHasher(l, codec.TotalBits(), o.seeds.Control, o.seeds.Main)
	if err != nil {
		return nil, err
	}

	return &SystemHamming{
		k:      k,
		l:      l,
		seeds:  o.seeds,
		codec:  codec,
		proj:   proj,
		hasher: hasher,
	}, nil
}

// K returns the number of bits sampled per line.
func (s *SystemHamming) K() int { return s.k }

// L returns the number of hash lines.
func (s *SystemHamming) L() int { return s.l }

// Seeds returns the seeds the scheme was built from.
func (s *SystemHamming) Seeds() Seeds { return s.seeds }

// TotalBits returns the width of encoded strings.
func (s *SystemHamming) TotalBits() int { return s.codec.TotalBits() }

// FixedStrSize returns the number of input bytes kept per string.
func (s *SystemHamming) FixedStrSize() int { return s.codec.FixedStrSize() }

// Mask returns a copy of projection mask l.
func (s *SystemHamming) Mask(l int) BitVector { return s.proj.Mask(l) }

// MaskBit returns bit i of projection mask l as 0 or 1.
func (s *SystemHamming) MaskBit(l, i int) int {
	if s.proj.masks[l].Test(i) {
		return 1
	}
	return 0
}

// Hasher returns the scheme's factor tables.
func (s *SystemHamming) Hasher() *UniversalHasher { return s.hasher }

// Encode embeds str into the scheme's bit domain.
func (s *SystemHamming) Encode(str string) BitVector {
	return s.codec.Encode(str)
}

// Project masks v with every line's projection.
func (s *SystemHamming) Project(v BitVector) []BitVector {
	return s.proj.Project(v)
}

// LKeysFromStr returns the L main keys (in [0, hsize)) and L control keys of str.
func (s *SystemHamming) LKeysFromStr(str string, hsize uint64) (mainKeys, controlKeys []uint64) {
	projected := s.proj.Project(s.codec.Encode(str))
	mainKeys = make([]uint64, s.l)
	controlKeys = make([]uint64, s.l)
	for l, masked := range projected {
		mainKeys[l] = s.hasher.MainHash(masked, l, hsize)
		controlKeys[l] = s.hasher.ControlHash(masked, l)
	}
	return mainKeys, controlKeys
}

// MainKeys returns the L main keys of str.
func (s *SystemHamming) MainKeys(str string, hsize uint64) []uint64 {
	projected := s.proj.Project(s.codec.Encode(str))
	keys := make([]uint64, s.l)
	for l, masked := range projected {
		keys[l] = s.hasher.MainHash(masked, l, hsize)
	}
	return keys
}

// ControlKeys returns the L control keys of str.
func (s *SystemHamming) ControlKeys(str string) []uint64 {
	projected := s.proj.Project(s.codec.Encode(str))
	keys := make([]uint64, s.l)
	for l, masked := range projected {
		keys[l] = s.hasher.ControlHash(masked, l)
	}
	return keys
}

// Distance is the Hamming distance between two encoded vectors.
func (s *SystemHamming) Distance(a, b BitVector) int {
	return HammingDistance(a, b)
}

// DistanceStr is the Hamming distance between the encodings of a and b.
func (s *SystemHamming) DistanceStr(a, b string) int {
	return HammingDistance(s.codec.Encode(a), s.codec.Encode(b))
}

// ComputeMainKeys implements KeyScheme.
func (s *SystemHamming) ComputeMainKeys(item string, hsize uint64) []uint64 {
	return s.MainKeys(item, hsize)
}

// ComputeControlKeys implements KeyScheme.
func (s *SystemHamming) ComputeControlKeys(item string) []uint64 {
	return s.ControlKeys(item)
}

// ComputeKeys implements KeyScheme.
func (s *SystemHamming) ComputeKeys(item string, hsize uint64) (mainKeys, controlKeys []uint64) {
	return s.LKeysFromStr(item, hsize)
}
