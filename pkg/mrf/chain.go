package mrf

import (
	"slices"
	"strings"
)

// chain is a subsequence of a token window. skip is set once a skip marker
// has been appended, after which token order is significant.
type chain struct {
	tokens []string
	radius int
	skip   bool
}

func newChain(tok string, radius int) chain {
	return chain{
		tokens: []string{tok},
		radius: radius,
		skip:   tok == skipToken,
	}
}

func (c chain) len() int { return len(c.tokens) }

// with returns a copy of c extended by tok.
func (c chain) with(tok string, radius int) chain {
	tokens := make([]string, len(c.tokens), len(c.tokens)+1)
	copy(tokens, c.tokens)
	return chain{
		tokens: append(tokens, tok),
		radius: radius,
		skip:   c.skip,
	}
}

func (c chain) hash() uint32 {
	if c.skip {
		return hashTokens(c.tokens)
	}
	sorted := slices.Clone(c.tokens)
	slices.Sort(sorted)
	return hashTokens(sorted)
}

func (c chain) String() string {
	return strings.Join(c.tokens, " ")
}
