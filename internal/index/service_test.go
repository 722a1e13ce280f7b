package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seeks-project/seeks/internal/config"
	"github.com/seeks-project/seeks/internal/store"
	"github.com/seeks-project/seeks/pkg/lsh"
)

var testLSH = config.LSHConfig{K: 4, L: 3, TableSize: 100, FixedStrSize: 50}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := New(testLSH, opts...)
	require.NoError(t, err)
	return s
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path, store.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// TestNewRejectsInvalidParams verifies configuration errors surface from New.
func TestNewRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LSHConfig
	}{
		{"zero k", config.LSHConfig{K: 0, L: 3, TableSize: 100, FixedStrSize: 50}},
		{"zero l", config.LSHConfig{K: 4, L: 0, TableSize: 100, FixedStrSize: 50}},
		{"zero table", config.LSHConfig{K: 4, L: 3, TableSize: 0, FixedStrSize: 50}},
		{"zero width", config.LSHConfig{K: 4, L: 3, TableSize: 100, FixedStrSize: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, WithLogger(quietLogger()))
			assert.Error(t, err)
		})
	}
}

// TestAddAndQuery verifies an added item is returned by its own query.
func TestAddAndQuery(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "seeks-project.info")
	require.NoError(t, err)
	assert.True(t, res.New)
	assert.Equal(t, store.ID("seeks-project.info"), res.ID)
	assert.GreaterOrEqual(t, res.Status, 1.0)
	assert.LessOrEqual(t, res.Status, 3.0)

	matches := s.Query("seeks-project.info", QueryOptions{MaxDistance: -1})
	require.Len(t, matches, 1)
	assert.Equal(t, "seeks-project.info", matches[0].Item)
	assert.Equal(t, 0, matches[0].Distance)
	assert.Equal(t, 3, matches[0].Count)
	assert.InDelta(t, 1.0, matches[0].Probability, 1e-9)
	assert.Greater(t, matches[0].Radiance, 0.0)
}

// TestAddTwiceIsIdempotent verifies re-adding does not grow the index.
func TestAddTwiceIsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "x.org")
	require.NoError(t, err)
	res, err := s.Add(ctx, "x.org")
	require.NoError(t, err)

	assert.False(t, res.New)
	assert.InDelta(t, 1.0, res.Status, 1e-9, "every line should hit the existing bucket")
	assert.Equal(t, 1, s.Stats().Items)
}

// TestRemove verifies removal from every line.
func TestRemove(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "x.org")
	require.NoError(t, err)
	buckets := s.Stats().Buckets

	// Lines mapping to the same bucket remove the item once.
	res, err := s.Remove(ctx, "x.org")
	require.NoError(t, err)
	assert.Equal(t, buckets, res.Removed)
	assert.Equal(t, 3, res.Lines)
	assert.False(t, s.Contains("x.org"))
	assert.Empty(t, s.Query("x.org", QueryOptions{MaxDistance: -1}))

	res, err = s.Remove(ctx, "x.org")
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.Zero(t, s.Stats().Items)
}

// TestEmptyItemRejected verifies empty strings are refused.
func TestEmptyItemRejected(t *testing.T) {
	s := newTestService(t)
	_, err := s.Add(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyItem)
	_, err = s.Remove(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyItem)
}

// TestQueryMaxDistanceAndLimit verifies filtering and capping of matches.
func TestQueryMaxDistanceAndLimit(t *testing.T) {
	// A single mask bit on a one-slot table puts every item in one of two
	// buckets, so near and far strings are both candidates.
	s, err := New(config.LSHConfig{K: 1, L: 1, TableSize: 1, FixedStrSize: 50}, WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	items := []string{"aaaa", "aaab", "zzzz", "aaaa.org"}
	for _, it := range items {
		_, err := s.Add(ctx, it)
		require.NoError(t, err)
	}

	all := s.Query("aaaa", QueryOptions{MaxDistance: -1})
	require.NotEmpty(t, all)
	assert.Equal(t, "aaaa", all[0].Item, "exact match ranks first on ties")

	for _, m := range s.Query("aaaa", QueryOptions{MaxDistance: 2}) {
		assert.LessOrEqual(t, m.Distance, 2)
	}
	assert.Len(t, s.Query("aaaa", QueryOptions{MaxDistance: -1, Limit: 1}), 1)
}

// TestQueryOrdering verifies matches are sorted by probability then distance.
func TestQueryOrdering(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := s.Add(ctx, fmt.Sprintf("http://host%d.example/", i))
		require.NoError(t, err)
	}

	matches := s.Query("http://host1.example/", QueryOptions{MaxDistance: -1})
	for i := 1; i < len(matches); i++ {
		prev, cur := matches[i-1], matches[i]
		if prev.Probability == cur.Probability {
			assert.LessOrEqual(t, prev.Distance, cur.Distance)
		} else {
			assert.Greater(t, prev.Probability, cur.Probability)
		}
	}
}

// TestDistance verifies the pairwise comparison.
func TestDistance(t *testing.T) {
	s := newTestService(t)

	d := s.Distance("a", "b")
	assert.Equal(t, 2, d.Hamming)

	same := s.Distance("seeks project", "seeks project")
	assert.Zero(t, same.Hamming)
	assert.Greater(t, same.Radiance, s.Distance("seeks project", "weather").Radiance)
}

// TestPersistAndLoad verifies a second service rebuilds from the store.
func TestPersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	s := newTestService(t, WithStore(openStore(t, path)))
	for _, it := range []string{"a.org", "b.org", "c.org"} {
		_, err := s.Add(ctx, it)
		require.NoError(t, err)
	}
	res, err := s.Remove(ctx, "b.org")
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	reloaded := newTestService(t, WithStore(openStore(t, path)))
	n, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, reloaded.Contains("a.org"))
	assert.False(t, reloaded.Contains("b.org"))
	assert.True(t, reloaded.Contains("c.org"))
	assert.Equal(t, 2, reloaded.Stats().Items)
}

// TestRebuildWithNewParameters verifies a rebuild under other parameters
// keeps every stored item reachable.
func TestRebuildWithNewParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	s := newTestService(t, WithStore(openStore(t, path)))
	_, err := s.Add(ctx, "seeks-project.info")
	require.NoError(t, err)

	wider, err := New(config.LSHConfig{K: 8, L: 5, TableSize: 37, FixedStrSize: 64},
		WithLogger(quietLogger()), WithStore(openStore(t, path)))
	require.NoError(t, err)
	n, err := wider.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, wider.Contains("seeks-project.info"))

	stats := wider.Stats()
	assert.Equal(t, 8, stats.K)
	assert.Equal(t, 5, stats.L)
	assert.Equal(t, uint64(37), stats.TableSize)
	assert.Equal(t, 64, stats.FixedStrSize)
}

// TestCompactReleasesPool verifies pooled buckets are freed.
func TestCompactReleasesPool(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "x.org")
	require.NoError(t, err)
	buckets := s.Stats().Buckets
	_, err = s.Remove(ctx, "x.org")
	require.NoError(t, err)

	assert.Equal(t, buckets, s.Stats().PooledBuckets)
	assert.Equal(t, buckets, s.Compact())
	assert.Zero(t, s.Stats().PooledBuckets)
}

// TestWithSeeds verifies custom seeds change the key layout.
func TestWithSeeds(t *testing.T) {
	a := newTestService(t)
	b := newTestService(t, WithSeeds(lsh.Seeds{Rbits: 1, Control: 2, Main: 3}))
	ctx := context.Background()

	_, err := a.Add(ctx, "seeks-project.info")
	require.NoError(t, err)
	_, err = b.Add(ctx, "seeks-project.info")
	require.NoError(t, err)

	assert.True(t, a.Contains("seeks-project.info"))
	assert.True(t, b.Contains("seeks-project.info"))
}

// TestConcurrentAccess exercises the lock under the race detector.
func TestConcurrentAccess(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				item := fmt.Sprintf("http://w%d.example/%d", w, i)
				_, _ = s.Add(ctx, item)
				_ = s.Query(item, QueryOptions{MaxDistance: -1})
				if i%3 == 0 {
					_, _ = s.Remove(ctx, item)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, 4*(50-17), stats.Items)
}

// TestRemoveItemKeepsManualItems verifies a feed removal leaves manually
// added items indexed and stored.
func TestRemoveItemKeepsManualItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	st := openStore(t, path)
	s := newTestService(t, WithStore(st))
	ctx := context.Background()

	_, err := s.Add(ctx, "manual.org")
	require.NoError(t, err)
	require.NoError(t, s.AddItem(ctx, "manual.org"))
	require.NoError(t, s.AddItem(ctx, "feed.org"))
	assert.True(t, s.Manual("manual.org"))
	assert.False(t, s.Manual("feed.org"))

	require.NoError(t, s.RemoveItem(ctx, "manual.org"))
	require.NoError(t, s.RemoveItem(ctx, "feed.org"))
	assert.True(t, s.Contains("manual.org"))
	assert.False(t, s.Contains("feed.org"))
	assert.Equal(t, 1, s.Stats().Items)

	_, err = st.Get(ctx, "manual.org")
	assert.NoError(t, err)
	_, err = st.Get(ctx, "feed.org")
	assert.ErrorIs(t, err, store.ErrNotFound)

	res, err := s.Remove(ctx, "manual.org")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.False(t, s.Contains("manual.org"))
	assert.False(t, s.Manual("manual.org"))
}

// TestLoadRestoresManualItems verifies the manual mark survives a reload.
func TestLoadRestoresManualItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	s := newTestService(t, WithStore(openStore(t, path)))
	_, err := s.Add(ctx, "manual.org")
	require.NoError(t, err)
	require.NoError(t, s.AddItem(ctx, "feed.org"))

	reloaded := newTestService(t, WithStore(openStore(t, path)))
	_, err = reloaded.Load(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded.Manual("manual.org"))
	assert.False(t, reloaded.Manual("feed.org"))

	require.NoError(t, reloaded.RemoveItem(ctx, "manual.org"))
	assert.True(t, reloaded.Contains("manual.org"))
}
