package lsh

import (
	"cmp"
	"slices"
)

// HammingTable is a UniformHashTable of strings keyed by a SystemHamming.
type HammingTable struct {
	*UniformHashTable[string]
	system *SystemHamming
}

// NewHammingTable creates a table of size slots over system.
func NewHammingTable(system *SystemHamming, size uint64, opts ...TableOption) (*HammingTable, error) {
	if system == nil {
		return nil, ErrInvalidParams
	}
	t, err := NewUniformHashTable[string](system, size, opts...)
	if err != nil {
		return nil, err
	}
	return &HammingTable{UniformHashTable: t, system: system}, nil
}

// System returns the scheme the table is keyed by.
func (t *HammingTable) System() *SystemHamming { return t.system }

// Neighbor is a candidate string with its exact Hamming distance to a query.
type Neighbor struct {
	Item     string
	Distance int
}

// Nearest ranks candidates by the Hamming distance of their encoding to
// the encoding of query, dropping those farther than maxDist. A negative
// maxDist keeps every candidate. Ties are ordered by item.
func (s *SystemHamming) Nearest(query string, candidates []string, maxDist int) []Neighbor {
	q := s.Encode(query)
	out := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		d := HammingDistance(q, s.Encode(c))
		if maxDist >= 0 && d > maxDist {
			continue
		}
		out = append(out, Neighbor{Item: c, Distance: d})
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Item, b.Item)
	})
	return out
}

// Neighbors queries the table with all of the scheme's lines and ranks
// the union of matching buckets by Hamming distance to query.
func (t *HammingTable) Neighbors(query string, maxDist int) []Neighbor {
	return t.system.Nearest(query, t.GetLElements(query, t.system.L()).Sorted(), maxDist)
}
