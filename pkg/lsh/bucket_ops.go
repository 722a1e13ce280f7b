package lsh

import (
	"cmp"
	"slices"
)

// Ranked is an element together with its share of all occurrences across
// a group of buckets.
type Ranked[T cmp.Ordered] struct {
	Element     T
	Count       int
	Probability float64
}

// Union2 returns the union of the elements of a and b.
func Union2[T cmp.Ordered](a, b *Bucket[T]) Set[T] {
	out := make(Set[T], a.Len()+b.Len())
	UnionInto(a, out)
	UnionInto(b, out)
	return out
}

// UnionInto adds every element of b to acc.
func UnionInto[T cmp.Ordered](b *Bucket[T], acc Set[T]) {
	for t := range b.elements {
		acc[t] = struct{}{}
	}
}

// LUnion returns the union of all buckets' elements. An empty input yields
// an empty set.
func LUnion[T cmp.Ordered](buckets []*Bucket[T]) Set[T] {
	switch len(buckets) {
	case 0:
		return Set[T]{}
	case 1:
		return buckets[0].Elements()
	}

	out := make(Set[T])
	for _, b := range buckets {
		UnionInto(b, out)
	}
	return out
}

// LUnionWithProbabilities counts in how many buckets each distinct element
// occurs and normalizes by the total number of occurrences. The result is
// sorted by decreasing probability, ties broken by ascending element, and
// keeps every element even when probabilities are equal.
func LUnionWithProbabilities[T cmp.Ordered](buckets []*Bucket[T]) []Ranked[T] {
	counts := make(map[T]int)
	total := 0
	for _, b := range buckets {
		for t := range b.elements {
			counts[t]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	out := make([]Ranked[T], 0, len(counts))
	for t, c := range counts {
		out = append(out, Ranked[T]{
			Element:     t,
			Count:       c,
			Probability: float64(c) / float64(total),
		})
	}
	slices.SortFunc(out, func(a, b Ranked[T]) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		return cmp.Compare(a.Element, b.Element)
	})
	return out
}
