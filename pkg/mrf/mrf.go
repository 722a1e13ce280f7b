// Package mrf extracts multi-resolution features from short texts such as
// queries and URLs, and scores the similarity of two feature sets.
//
// A text is tokenized and every window of consecutive tokens produces a set
// of chains: subsequences of the window where any token but the first may be
// replaced by a skip marker. Each chain carries a radius that shrinks with
// every real token it holds; chains whose radius falls within the configured
// range are hashed into 32-bit features. Chains without a skip are hashed
// irrespective of token order.
package mrf

import (
	"errors"
	"math"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultDelimiters separate tokens when no other set is configured.
const DefaultDelimiters = "\n\t\f\r ,.;:`'!?)(-|><^·&\"\\/{}#$–"

const (
	DefaultWindowLength = 5
	DefaultMinRadius    = 0
	DefaultMaxRadius    = 5

	// Epsilon keeps Radiance finite for identical feature sets.
	Epsilon = 1e-6

	skipToken     = "<skip>"
	skipTokenHash = 0xDEADBEEF

	// StopwordToken stands in for a stop word inside a window.
	StopwordToken = "S"

	// MaxQueryTokens is the query length above which length protection
	// keeps only full-window chains.
	MaxQueryTokens = 14

	// QuerySeparator splits a query into alternatives.
	QuerySeparator = "||"
)

var chainFactors = [...]uint32{1, 3, 5, 11, 23, 47, 97, 197, 397, 797}

var (
	ErrInvalidWindow = errors.New("mrf: window length must be positive")
	ErrInvalidRadius = errors.New("mrf: radius range must satisfy 0 <= min <= max")
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithDelimiters sets the token delimiter set.
func WithDelimiters(delims string) Option {
	return func(e *Extractor) { e.delims = delims }
}

// WithRadius sets the radius range of emitted chains.
func WithRadius(minRadius, maxRadius int) Option {
	return func(e *Extractor) {
		e.minRadius = minRadius
		e.maxRadius = maxRadius
	}
}

// WithWindowLength sets the number of tokens a chain may span.
func WithWindowLength(n int) Option {
	return func(e *Extractor) { e.window = n }
}

// WithLengthProtection sets whether queries of more than MaxQueryTokens
// tokens have their maximum radius forced to 0. It is on by default.
func WithLengthProtection(on bool) Option {
	return func(e *Extractor) { e.protect = on }
}

// WithStopwords replaces words of list by StopwordToken.
func WithStopwords(list *StopwordList) Option {
	return func(e *Extractor) { e.stopwords = list }
}

// Extractor turns texts into sorted, de-duplicated feature vectors.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	delims    string
	minRadius int
	maxRadius int
	window    int
	stopwords *StopwordList
	protect   bool
}

// NewExtractor returns an Extractor with the default delimiters, window and
// radius range, as modified by opts.
func NewExtractor(opts ...Option) (*Extractor, error) {
	e := &Extractor{
		delims:    DefaultDelimiters,
		minRadius: DefaultMinRadius,
		maxRadius: DefaultMaxRadius,
		window:    DefaultWindowLength,
		protect:   true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.window <= 0 {
		return nil, ErrInvalidWindow
	}
	if e.minRadius < 0 || e.minRadius > e.maxRadius {
		return nil, ErrInvalidRadius
	}
	return e, nil
}

// WindowLength returns the configured window length.
func (e *Extractor) WindowLength() int { return e.window }

// Radius returns the configured radius range.
func (e *Extractor) Radius() (minRadius, maxRadius int) { return e.minRadius, e.maxRadius }

// LengthProtection reports whether long queries are cut to full-window
// chains.
func (e *Extractor) LengthProtection() bool { return e.protect }

// Tokenize splits s on any rune of delims, dropping empty tokens.
func Tokenize(s, delims string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(delims, r)
	})
}

// Tokens tokenizes s, lower-cases every token and masks stop words.
func (e *Extractor) Tokens(s string) []string {
	tokens := Tokenize(s, e.delims)
	for i, tok := range tokens {
		tok = strings.ToLower(tok)
		if e.window > 1 && e.stopwords.Has(tok) {
			tok = StopwordToken
		}
		tokens[i] = tok
	}
	return tokens
}

// CompileQuery splits q into its "||" separated alternatives, trimmed and
// without empty ones.
func CompileQuery(q string) []string {
	var out []string
	for _, part := range strings.Split(q, QuerySeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Features returns the sorted, unique features of s.
func (e *Extractor) Features(s string) []uint32 {
	return e.features(e.Tokens(s), nil)
}

// QueryFeatures returns the sorted, unique features of every alternative
// of query q. With length protection on, an alternative of more than
// MaxQueryTokens tokens only yields radius 0 chains.
func (e *Extractor) QueryFeatures(q string) []uint32 {
	var features []uint32
	for _, part := range CompileQuery(q) {
		tokens := e.Tokens(part)
		if e.protect && len(tokens) > MaxQueryTokens {
			capped := *e
			capped.maxRadius = 0
			features = capped.features(tokens, features)
			continue
		}
		features = e.features(tokens, features)
	}
	slices.Sort(features)
	return slices.Compact(features)
}

func (e *Extractor) features(tokens []string, features []uint32) []uint32 {
	for start := range tokens {
		features = e.build(tokens[start:], features)
	}
	slices.Sort(features)
	return slices.Compact(features)
}

// build appends the features of every chain starting at tokens[0].
func (e *Extractor) build(tokens []string, features []uint32) []uint32 {
	radius := e.window - max(1, e.window-len(tokens))
	first := newChain(tokens[0], radius)
	features = e.emit(first, features)

	limit := min(len(tokens), e.window)
	chains := []chain{first}
	for tok := 1; len(chains) > 0; tok++ {
		var next []chain
		for _, c := range chains {
			if c.len() >= limit {
				continue
			}
			extended := c.with(tokens[tok], c.radius-1)
			features = e.emit(extended, features)

			skipped := c.with(skipToken, c.radius)
			skipped.skip = true

			next = append(next, extended, skipped)
		}
		chains = next
	}
	return features
}

func (e *Extractor) emit(c chain, features []uint32) []uint32 {
	if c.radius < e.minRadius || c.radius > e.maxRadius {
		return features
	}
	if c.len() == 1 && len(c.tokens[0]) <= 1 {
		return features
	}
	return append(features, c.hash())
}

// WeightedFeatures returns the features of s with their number of
// occurrences.
func (e *Extractor) WeightedFeatures(s string) map[uint32]float64 {
	tokens := e.Tokens(s)

	var features []uint32
	for start := range tokens {
		features = e.build(tokens[start:], features)
	}
	weights := make(map[uint32]float64, len(features))
	for _, f := range features {
		weights[f]++
	}
	return weights
}

// TFIDF reweights bags in place: every weight is scaled by the log inverse
// frequency of its feature across bags, then each bag is normalized to sum
// to 1. A bag whose weights sum to 0 is left unnormalized.
func TFIDF(bags []map[uint32]float64) {
	df := make(map[uint32]int)
	for _, bag := range bags {
		for f, w := range bag {
			if w != 0 {
				df[f]++
			}
		}
	}

	n := float64(len(bags))
	for _, bag := range bags {
		norm := 0.0
		for f, w := range bag {
			if d := df[f]; d > 0 {
				w *= math.Log(n / float64(d))
			}
			bag[f] = w
			norm += w
		}
		if norm == 0 {
			continue
		}
		for f := range bag {
			bag[f] /= norm
		}
	}
}

// SingleFeature hashes the tokens of s in order into one feature.
func SingleFeature(s, delims string) uint32 {
	return hashTokens(Tokenize(s, delims))
}

// Distance counts the features found in only one of two sorted sets, and
// the features they share.
func Distance(a, b []uint32) (distance float64, common int) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			common++
			i++
			j++
		}
	}
	return float64(len(a)+len(b)-2*common), common
}

// Radiance scores two sorted feature sets: the squared number of shared
// features over their distance.
func Radiance(a, b []uint32) float64 {
	dist, common := Distance(a, b)
	return float64(common*common) / (dist + Epsilon)
}

// Radiance scores the similarity of two texts.
func (e *Extractor) Radiance(a, b string) float64 {
	return Radiance(e.Features(a), e.Features(b))
}

func hashToken(tok string) uint32 {
	if tok == skipToken {
		return skipTokenHash
	}
	return uint32(xxhash.Sum64String(tok))
}

func hashTokens(tokens []string) uint32 {
	var h uint32
	for i := 0; i < min(len(tokens), len(chainFactors)); i++ {
		h += hashToken(tokens[i]) * chainFactors[i]
	}
	return h
}
