package lsh

import (
	"cmp"
	"fmt"
	"io"
	"slices"
)

// Set is an unordered collection of unique elements.
type Set[T cmp.Ordered] map[T]struct{}

// Contains reports whether t is in the set.
func (s Set[T]) Contains(t T) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the elements in ascending order.
func (s Set[T]) Sorted() []T {
	out := make([]T, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Bucket is a chained hash-table bucket: a set of elements sharing one
// control key within a table slot.
type Bucket[T cmp.Ordered] struct {
	key      uint64
	elements Set[T]
}

// NewBucket creates a bucket with the given control key and elements.
func NewBucket[T cmp.Ordered](key uint64, items ...T) *Bucket[T] {
	b := &Bucket[T]{key: key, elements: make(Set[T], len(items))}
	for _, t := range items {
		b.Add(t)
	}
	return b
}

// Key returns the bucket's control key.
func (b *Bucket[T]) Key() uint64 { return b.key }

// SetKey sets the bucket's control key.
func (b *Bucket[T]) SetKey(key uint64) { b.key = key }

// Add inserts t. Adding an element already present is a no-op.
func (b *Bucket[T]) Add(t T) {
	b.elements[t] = struct{}{}
}

// Remove deletes t, returning an error wrapping ErrNotFound if t is absent.
func (b *Bucket[T]) Remove(t T) error {
	if _, ok := b.elements[t]; !ok {
		return fmt.Errorf("%w: element %v in bucket %d", ErrNotFound, t, b.key)
	}
	delete(b.elements, t)
	return nil
}

// Contains reports whether t is in the bucket.
func (b *Bucket[T]) Contains(t T) bool {
	return b.elements.Contains(t)
}

// IsEmpty reports whether the bucket holds no element.
func (b *Bucket[T]) IsEmpty() bool { return len(b.elements) == 0 }

// Len returns the number of elements.
func (b *Bucket[T]) Len() int { return len(b.elements) }

// Reset clears the elements and zeroes the key, readying the bucket for reuse.
func (b *Bucket[T]) Reset() {
	b.key = 0
	clear(b.elements)
}

// Elements returns a copy of the element set.
func (b *Bucket[T]) Elements() Set[T] {
	out := make(Set[T], len(b.elements))
	for t := range b.elements {
		out[t] = struct{}{}
	}
	return out
}

// Print writes a human-readable dump of the bucket to w.
func (b *Bucket[T]) Print(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "bucket #%d (%d)\n", b.key, len(b.elements)); err != nil {
		return err
	}
	for i, t := range b.elements.Sorted() {
		if _, err := fmt.Fprintf(w, "  %d: %v\n", i, t); err != nil {
			return err
		}
	}
	return nil
}
