package lsh

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// DefaultTableSize is the number of slots of a table built without an
// explicit size.
const DefaultTableSize = 100

// KeyScheme derives the L (main, control) key pairs of an element.
// Main keys must fall in [0, hsize).
type KeyScheme[T cmp.Ordered] interface {
	ComputeMainKeys(item T, hsize uint64) []uint64
	ComputeControlKeys(item T) []uint64
	ComputeKeys(item T, hsize uint64) (mainKeys, controlKeys []uint64)
}

// AddStatus reports what a single-line insertion did.
type AddStatus int

const (
	// AddExisting means the element went into an existing bucket.
	AddExisting AddStatus = 1
	// AddNewBucket means a bucket was added to an allocated slot.
	AddNewBucket AddStatus = 2
	// AddNewSlot means the slot was empty and has been created.
	AddNewSlot AddStatus = 3
)

// RemoveStatus reports what a single-line removal did.
type RemoveStatus int

const (
	// RemoveNotFound means no bucket or element matched.
	RemoveNotFound RemoveStatus = 0
	// Removed means the element was removed from its bucket.
	Removed RemoveStatus = 1
)

type handle int

// slot chains the buckets sharing a main key. A slot whose chain has been
// emptied stays allocated for reuse.
type slot struct {
	chain []handle
}

type tableOptions struct {
	logger *slog.Logger
}

// TableOption configures a UniformHashTable.
type TableOption func(*tableOptions)

// WithLogger sets the logger used for recoverable lookup failures.
func WithLogger(l *slog.Logger) TableOption {
	return func(o *tableOptions) { o.logger = l }
}

// UniformHashTable is a dual-key hash table with collisions resolved by
// chaining. The main key selects a slot, the control key selects a bucket
// within it. Buckets are owned by the table's arena and addressed by
// handle; emptied buckets are kept in a pool and reused.
type UniformHashTable[T cmp.Ordered] struct {
	size   uint64
	scheme KeyScheme[T]
	logger *slog.Logger

	slots     []*slot
	filled    []uint64
	filledPos map[uint64]int

	arena []*Bucket[T]
	pool  []handle
}

// NewUniformHashTable creates a table of size slots whose keys come from scheme.
func NewUniformHashTable[T cmp.Ordered](scheme KeyScheme[T], size uint64, opts ...TableOption) (*UniformHashTable[T], error) {
	if scheme == nil || size == 0 {
		return nil, ErrInvalidParams
	}
	o := tableOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return &UniformHashTable[T]{
		size:      size,
		scheme:    scheme,
		logger:    o.logger,
		slots:     make([]*slot, size),
		filledPos: make(map[uint64]int),
	}, nil
}

// Size returns the number of slots.
func (t *UniformHashTable[T]) Size() uint64 { return t.size }

// Scheme returns the table's key scheme.
func (t *UniformHashTable[T]) Scheme() KeyScheme[T] { return t.scheme }

// Add inserts item along its first l key pairs and returns the mean status.
func (t *UniformHashTable[T]) Add(item T, l int) float64 {
	mainKeys, controlKeys := t.scheme.ComputeKeys(item, t.size)
	n := lineCount(l, mainKeys, controlKeys)
	if n == 0 {
		return 0
	}

	sum := 0
	for i := 0; i < n; i++ {
		st, err := t.AddKeys(mainKeys[i], controlKeys[i], item)
		if err != nil {
			t.logger.Warn("add failed on line",
				"main", mainKeys[i],
				"control", controlKeys[i],
				"error", err,
			)
			continue
		}
		sum += int(st)
	}
	return float64(sum) / float64(n)
}

// AddKeys inserts item into the bucket (mainKey, controlKey), creating the
// slot or bucket as needed.
func (t *UniformHashTable[T]) AddKeys(mainKey, controlKey uint64, item T) (AddStatus, error) {
	if mainKey >= t.size {
		return 0, fmt.Errorf("%w: %d >= %d", ErrKeyOutOfRange, mainKey, t.size)
	}

	s := t.slots[mainKey]
	if s == nil {
		h := t.newBucket(controlKey, item)
		t.slots[mainKey] = &slot{chain: []handle{h}}
		t.addFilled(mainKey)
		return AddNewSlot, nil
	}

	if h, ok := t.find(s, controlKey); ok {
		t.arena[h].Add(item)
		return AddExisting, nil
	}

	h := t.newBucket(controlKey, item)
	if len(s.chain) == 0 {
		t.addFilled(mainKey)
	}
	s.chain = append(s.chain, h)
	return AddNewBucket, nil
}

// Remove deletes item along its first l key pairs and returns the mean
// status, i.e. the fraction of lines that found and removed it.
func (t *UniformHashTable[T]) Remove(item T, l int) float64 {
	mainKeys, controlKeys := t.scheme.ComputeKeys(item, t.size)
	n := lineCount(l, mainKeys, controlKeys)
	if n == 0 {
		return 0
	}

	sum := 0
	for i := 0; i < n; i++ {
		sum += int(t.RemoveKeys(mainKeys[i], controlKeys[i], item))
	}
	return float64(sum) / float64(n)
}

// RemoveKeys deletes item from bucket (mainKey, controlKey). A bucket left
// empty is unlinked, reset and pooled; a slot left empty leaves the filled
// index but stays allocated.
func (t *UniformHashTable[T]) RemoveKeys(mainKey, controlKey uint64, item T) RemoveStatus {
	s := t.slotAt(mainKey)
	if s == nil {
		t.logger.Warn("can't find bucket, removal failed",
			"main", mainKey,
			"control", controlKey,
		)
		return RemoveNotFound
	}
	idx := slices.IndexFunc(s.chain, func(h handle) bool {
		return t.arena[h].Key() == controlKey
	})
	if idx < 0 {
		t.logger.Warn("can't find bucket, removal failed",
			"main", mainKey,
			"control", controlKey,
		)
		return RemoveNotFound
	}

	h := s.chain[idx]
	b := t.arena[h]
	if err := b.Remove(item); err != nil {
		t.logger.Warn("can't find element, removal failed",
			"main", mainKey,
			"control", controlKey,
			"error", err,
		)
		return RemoveNotFound
	}

	if b.IsEmpty() {
		s.chain = slices.Delete(s.chain, idx, idx+1)
		b.Reset()
		t.pool = append(t.pool, h)
		if len(s.chain) == 0 {
			t.removeFilled(mainKey)
		}
	}
	return Removed
}

// Get returns the bucket (mainKey, controlKey), if any. Misses are logged
// at debug level.
func (t *UniformHashTable[T]) Get(mainKey, controlKey uint64) (*Bucket[T], bool) {
	if mainKey >= t.size {
		t.logger.Warn("main key beyond table size", "main", mainKey, "size", t.size)
		return nil, false
	}
	s := t.slots[mainKey]
	if s == nil {
		t.logger.Debug("can't find bucket", "main", mainKey, "control", controlKey, "reason", "empty slot")
		return nil, false
	}
	h, ok := t.find(s, controlKey)
	if !ok {
		t.logger.Debug("can't find bucket", "main", mainKey, "control", controlKey, "reason", "no matching control key")
		return nil, false
	}
	return t.arena[h], true
}

// GetL returns the buckets matching item's first l key pairs. Pairs
// without a bucket are skipped.
func (t *UniformHashTable[T]) GetL(item T, l int) []*Bucket[T] {
	mainKeys, controlKeys := t.scheme.ComputeKeys(item, t.size)
	n := lineCount(l, mainKeys, controlKeys)

	out := make([]*Bucket[T], 0, n)
	for i := 0; i < n; i++ {
		if b, ok := t.Get(mainKeys[i], controlKeys[i]); ok {
			out = append(out, b)
		}
	}
	return out
}

// GetLElements returns the union of the elements sharing a bucket with
// item on any of its first l lines.
func (t *UniformHashTable[T]) GetLElements(item T, l int) Set[T] {
	return LUnion(t.GetL(item, l))
}

// GetLElementsWithProbabilities ranks the elements sharing a bucket with
// item by their share of occurrences across the matching buckets.
func (t *UniformHashTable[T]) GetLElementsWithProbabilities(item T, l int) []Ranked[T] {
	return LUnionWithProbabilities(t.GetL(item, l))
}

// FilledSize returns the number of slots holding at least one bucket.
func (t *UniformHashTable[T]) FilledSize() int { return len(t.filled) }

// Filled returns a copy of the filled slot index.
func (t *UniformHashTable[T]) Filled() []uint64 {
	return append([]uint64(nil), t.filled...)
}

// PoolSize returns the number of emptied buckets waiting for reuse.
func (t *UniformHashTable[T]) PoolSize() int { return len(t.pool) }

// CountBuckets returns the number of live buckets.
func (t *UniformHashTable[T]) CountBuckets() int {
	n := 0
	for _, key := range t.filled {
		n += len(t.slots[key].chain)
	}
	return n
}

// MeanBucketsPerBin returns the average chain length over filled slots,
// or 0 for an empty table.
func (t *UniformHashTable[T]) MeanBucketsPerBin() float64 {
	if len(t.filled) == 0 {
		return 0
	}
	return float64(t.CountBuckets()) / float64(len(t.filled))
}

// FreeUnusedBuckets releases every pooled bucket.
func (t *UniformHashTable[T]) FreeUnusedBuckets() {
	for _, h := range t.pool {
		t.arena[h] = nil
	}
	t.pool = t.pool[:0]
	t.compact()
}

// Clear destroys every bucket, live and pooled, leaving an empty table.
func (t *UniformHashTable[T]) Clear() {
	t.slots = make([]*slot, t.size)
	t.filled = nil
	t.filledPos = make(map[uint64]int)
	t.arena = nil
	t.pool = nil
}

// Print writes a dump of every filled slot to w.
func (t *UniformHashTable[T]) Print(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "uhash (%d)\n", len(t.filled)); err != nil {
		return err
	}
	for i, key := range t.filled {
		if _, err := fmt.Fprintf(w, "%d: slot %d\n", i, key); err != nil {
			return err
		}
		for _, h := range t.slots[key].chain {
			if err := t.arena[h].Print(w); err != nil {
				return err
			}
		}
	}
	return nil
}

func lineCount(l int, mainKeys, controlKeys []uint64) int {
	return max(0, min(l, len(mainKeys), len(controlKeys)))
}

func (t *UniformHashTable[T]) slotAt(mainKey uint64) *slot {
	if mainKey >= t.size {
		t.logger.Warn("main key beyond table size", "main", mainKey, "size", t.size)
		return nil
	}
	return t.slots[mainKey]
}

func (t *UniformHashTable[T]) find(s *slot, controlKey uint64) (handle, bool) {
	for _, h := range s.chain {
		if t.arena[h].Key() == controlKey {
			return h, true
		}
	}
	return 0, false
}

// newBucket takes a bucket from the pool, or allocates one in the arena.
func (t *UniformHashTable[T]) newBucket(controlKey uint64, item T) handle {
	if n := len(t.pool); n > 0 {
		h := t.pool[n-1]
		t.pool = t.pool[:n-1]
		b := t.arena[h]
		b.SetKey(controlKey)
		b.Add(item)
		return h
	}
	t.arena = append(t.arena, NewBucket(controlKey, item))
	return handle(len(t.arena) - 1)
}

func (t *UniformHashTable[T]) addFilled(key uint64) {
	if _, ok := t.filledPos[key]; ok {
		return
	}
	t.filledPos[key] = len(t.filled)
	t.filled = append(t.filled, key)
}

func (t *UniformHashTable[T]) removeFilled(key uint64) {
	pos, ok := t.filledPos[key]
	if !ok {
		return
	}
	last := len(t.filled) - 1
	if pos != last {
		moved := t.filled[last]
		t.filled[pos] = moved
		t.filledPos[moved] = pos
	}
	t.filled = t.filled[:last]
	delete(t.filledPos, key)
}

// compact drops released arena entries and renumbers the live handles.
func (t *UniformHashTable[T]) compact() {
	remap := make(map[handle]handle, len(t.arena))
	live := t.arena[:0]
	for i, b := range t.arena {
		if b == nil {
			continue
		}
		remap[handle(i)] = handle(len(live))
		live = append(live, b)
	}
	clear(t.arena[len(live):])
	t.arena = live

	for _, key := range t.filled {
		s := t.slots[key]
		for i, h := range s.chain {
			s.chain[i] = remap[h]
		}
	}
	for i, h := range t.pool {
		t.pool[i] = remap[h]
	}
}
