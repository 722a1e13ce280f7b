// Package index serves a Hamming LSH table of strings backed by a durable
// store.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/seeks-project/seeks/internal/config"
	"github.com/seeks-project/seeks/internal/store"
	"github.com/seeks-project/seeks/pkg/lsh"
	"github.com/seeks-project/seeks/pkg/mrf"
)

// ErrEmptyItem is returned when adding or removing an empty string.
var ErrEmptyItem = errors.New("index: empty item")

// Store persists the indexed items.
type Store interface {
	Put(ctx context.Context, item string) (store.Record, bool, error)
	PutManual(ctx context.Context, item string) (store.Record, bool, error)
	Delete(ctx context.Context, item string) (bool, error)
	Each(ctx context.Context, fn func(store.Record) error) error
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists items to st and allows Load and Rebuild.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithExtractor sets the extractor used to score query matches.
func WithExtractor(e *mrf.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSeeds overrides the hashing seeds.
func WithSeeds(seeds lsh.Seeds) Option {
	return func(s *Service) { s.seeds = &seeds }
}

// AddResult describes an insertion.
type AddResult struct {
	Item string `json:"item"`
	ID   string `json:"id"`
	// Status is the mean table status over the L lines: 3 when every line
	// opened a new slot, 1 when every line hit an existing bucket.
	Status float64 `json:"status"`
	New    bool    `json:"new"`
}

// RemoveResult describes a removal.
type RemoveResult struct {
	Item    string `json:"item"`
	Removed int    `json:"removed"` // lines the item was removed from
	Lines   int    `json:"lines"`
	Deleted bool   `json:"deleted"` // removed from the store
}

// QueryOptions narrow a query.
type QueryOptions struct {
	// MaxDistance drops matches farther than this Hamming distance.
	// Negative keeps every match.
	MaxDistance int
	// Limit caps the number of matches. Zero or negative means no cap.
	Limit int
}

// Match is a candidate returned by Query.
type Match struct {
	Item        string  `json:"item"`
	Count       int     `json:"count"`
	Probability float64 `json:"probability"`
	Distance    int     `json:"distance"`
	Radiance    float64 `json:"radiance"`
}

// Distance compares two strings.
type Distance struct {
	Hamming  int     `json:"hamming"`
	Radiance float64 `json:"radiance"`
}

// Stats summarizes the index.
type Stats struct {
	Items             int     `json:"items"`
	FilledSlots       int     `json:"filled_slots"`
	Buckets           int     `json:"buckets"`
	PooledBuckets     int     `json:"pooled_buckets"`
	MeanBucketsPerBin float64 `json:"mean_buckets_per_bin"`
	K                 int     `json:"k"`
	L                 int     `json:"l"`
	TableSize         uint64  `json:"table_size"`
	FixedStrSize      int     `json:"fixed_str_size"`
}

// Service owns a HammingTable. All methods are safe for concurrent use.
//
// Items added through Add are manual: feed removals delivered through
// RemoveItem leave them indexed, and only Remove drops them.
type Service struct {
	mu        sync.RWMutex
	system    *lsh.SystemHamming
	table     *lsh.HammingTable
	extractor *mrf.Extractor
	store     Store
	logger    *slog.Logger
	seeds     *lsh.Seeds
	items     int
	manual    map[string]struct{}
}

// New builds an empty index from cfg.
func New(cfg config.LSHConfig, opts ...Option) (*Service, error) {
	s := &Service{logger: slog.Default(), manual: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}

	sysOpts := []lsh.SystemOption{lsh.WithFixedStrSize(cfg.FixedStrSize)}
	if s.seeds != nil {
		sysOpts = append(sysOpts, lsh.WithSeeds(*s.seeds))
	}
	system, err := lsh.NewSystemHamming(cfg.K, cfg.L, sysOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create hashing scheme: %w", err)
	}
	table, err := lsh.NewHammingTable(system, cfg.TableSize, lsh.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	if s.extractor == nil {
		if s.extractor, err = mrf.NewExtractor(); err != nil {
			return nil, err
		}
	}

	s.system = system
	s.table = table
	return s, nil
}

// Load indexes every stored item. It returns the number of items loaded.
func (s *Service) Load(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Rebuild discards the table and reloads it from the store.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table.Clear()
	s.items = 0
	clear(s.manual)
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	l := s.system.L()
	n := 0
	err := s.store.Each(ctx, func(r store.Record) error {
		if !s.contains(r.Item) {
			s.items++
		}
		if r.Manual {
			s.manual[r.Item] = struct{}{}
		}
		s.table.Add(r.Item, l)
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to load items: %w", err)
	}
	s.logger.Info("index loaded",
		"items", n,
		"filled", s.table.FilledSize(),
		"buckets", s.table.CountBuckets(),
	)
	return n, nil
}

// Add indexes item along every line and persists it as a manual item.
func (s *Service) Add(ctx context.Context, item string) (AddResult, error) {
	return s.add(ctx, item, true)
}

func (s *Service) add(ctx context.Context, item string, manual bool) (AddResult, error) {
	if item == "" {
		return AddResult{}, ErrEmptyItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := AddResult{Item: item, ID: store.ID(item), New: !s.contains(item)}
	if s.store != nil {
		put := s.store.Put
		if manual {
			put = s.store.PutManual
		}
		rec, _, err := put(ctx, item)
		if err != nil {
			return AddResult{}, err
		}
		res.ID = rec.ID
	}

	res.Status = s.table.Add(item, s.system.L())
	if res.New {
		s.items++
	}
	if manual {
		s.manual[item] = struct{}{}
	}

	s.logger.Debug("item added", "item", item, "status", res.Status, "new", res.New, "manual", manual)
	return res, nil
}

// Remove removes item from every line and from the store, whether it was
// added manually or by a feed.
func (s *Service) Remove(ctx context.Context, item string) (RemoveResult, error) {
	if item == "" {
		return RemoveResult{}, ErrEmptyItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(ctx, item)
}

func (s *Service) remove(ctx context.Context, item string) (RemoveResult, error) {
	l := s.system.L()
	present := s.contains(item)
	res := RemoveResult{Item: item, Lines: l}
	res.Removed = int(math.Round(s.table.Remove(item, l) * float64(l)))
	if present {
		s.items--
	}
	delete(s.manual, item)

	if s.store != nil {
		deleted, err := s.store.Delete(ctx, item)
		if err != nil {
			return res, err
		}
		res.Deleted = deleted
	}

	s.logger.Debug("item removed", "item", item, "lines", res.Removed)
	return res, nil
}

// AddItem indexes an item listed by a feed.
func (s *Service) AddItem(ctx context.Context, item string) error {
	_, err := s.add(ctx, item, false)
	return err
}

// RemoveItem drops an item no feed lists anymore. Manual items are kept.
func (s *Service) RemoveItem(ctx context.Context, item string) error {
	if item == "" {
		return ErrEmptyItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.manual[item]; ok {
		s.logger.Debug("kept manual item", "item", item)
		return nil
	}
	_, err := s.remove(ctx, item)
	return err
}

// Manual reports whether item was added through Add.
func (s *Service) Manual(item string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.manual[item]
	return ok
}

// Contains reports whether item is indexed.
func (s *Service) Contains(item string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contains(item)
}

func (s *Service) contains(item string) bool {
	for _, b := range s.table.GetL(item, s.system.L()) {
		if b.Contains(item) {
			return true
		}
	}
	return false
}

// Query returns the items sharing a bucket with item on any line, ranked by
// the share of matching buckets they appear in, then by Hamming distance.
// Radiance compares the candidates with the query features of item.
func (s *Service) Query(item string, opts QueryOptions) []Match {
	s.mu.RLock()
	ranked := s.table.GetLElementsWithProbabilities(item, s.system.L())
	s.mu.RUnlock()

	q := s.system.Encode(item)
	qf := s.extractor.QueryFeatures(item)

	matches := make([]Match, 0, len(ranked))
	for _, r := range ranked {
		d := lsh.HammingDistance(q, s.system.Encode(r.Element))
		if opts.MaxDistance >= 0 && d > opts.MaxDistance {
			continue
		}
		matches = append(matches, Match{
			Item:        r.Element,
			Count:       r.Count,
			Probability: r.Probability,
			Distance:    d,
			Radiance:    mrf.Radiance(qf, s.extractor.Features(r.Element)),
		})
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Item, b.Item)
	})
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches
}

// Distance compares a and b by the Hamming distance of their encodings and
// by the radiance of their features.
func (s *Service) Distance(a, b string) Distance {
	return Distance{
		Hamming:  s.system.DistanceStr(a, b),
		Radiance: s.extractor.Radiance(a, b),
	}
}

// Compact releases pooled buckets.
func (s *Service) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.table.PoolSize()
	s.table.FreeUnusedBuckets()
	return n
}

// Stats reports the table's occupancy.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Items:             s.items,
		FilledSlots:       s.table.FilledSize(),
		Buckets:           s.table.CountBuckets(),
		PooledBuckets:     s.table.PoolSize(),
		MeanBucketsPerBin: s.table.MeanBucketsPerBin(),
		K:                 s.system.K(),
		L:                 s.system.L(),
		TableSize:         s.table.Size(),
		FixedStrSize:      s.system.FixedStrSize(),
	}
}
