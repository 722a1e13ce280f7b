package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "items.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestIDIsStableDigest verifies IDs are deterministic base58 digests.
func TestIDIsStableDigest(t *testing.T) {
	id := ID("seeks-project.info")
	assert.Equal(t, id, ID("seeks-project.info"))
	assert.NotEqual(t, id, ID("seeks-project.org"))

	raw, err := base58.Decode(id)
	require.NoError(t, err)
	assert.Len(t, raw, 16, "ID should encode a 128-bit digest")
}

// TestPutAndGet verifies a stored item can be read back.
func TestPutAndGet(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	rec, created, err := s.Put(ctx, "http://www.example.com/")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ID("http://www.example.com/"), rec.ID)

	got, err := s.Get(ctx, "http://www.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "http://www.example.com/", got.Item)
	assert.True(t, at.Equal(got.AddedAt), "AddedAt: got %v", got.AddedAt)
}

// TestPutIsIdempotent verifies a second Put keeps the first record.
func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _, err := s.Put(ctx, "x")
	require.NoError(t, err)

	second, created, err := s.Put(ctx, "x")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestDelete verifies deletion and its reported outcome.
func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.Put(ctx, "x")
	require.NoError(t, err)

	removed, err := s.Delete(ctx, "x")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete(ctx, "x")
	require.NoError(t, err)
	assert.False(t, removed, "second delete should report nothing removed")

	_, err = s.Get(ctx, "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestEachInInsertionOrder verifies replay order.
func TestEachInInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []string{"c", "a", "b"}
	for _, it := range items {
		_, _, err := s.Put(ctx, it)
		require.NoError(t, err)
	}

	var got []string
	err := s.Each(ctx, func(r Record) error {
		got = append(got, r.Item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

// TestEachStopsOnError verifies the callback's error is returned.
func TestEachStopsOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, it := range []string{"a", "b"} {
		_, _, err := s.Put(ctx, it)
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	calls := 0
	err := s.Each(ctx, func(Record) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// TestEachAllowsWrites verifies the callback may modify the store.
func TestEachAllowsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.Put(ctx, "a")
	require.NoError(t, err)

	err = s.Each(ctx, func(r Record) error {
		_, err := s.Delete(ctx, r.Item)
		return err
	})
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestReopenKeepsItems verifies durability across Open calls.
func TestReopenKeepsItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, _, err = s.Put(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Item)
}

// TestPutManualFlagsRecord verifies the manual flag is set by PutManual
// and survives later feed Puts.
func TestPutManualFlagsRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, created, err := s.Put(ctx, "feed.org")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, rec.Manual)

	rec, created, err = s.PutManual(ctx, "feed.org")
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, rec.Manual, "PutManual should flag an existing record")

	rec, _, err = s.Put(ctx, "feed.org")
	require.NoError(t, err)
	assert.True(t, rec.Manual, "Put should keep the manual flag")

	rec, created, err = s.PutManual(ctx, "cli.org")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, rec.Manual)

	manual := map[string]bool{}
	require.NoError(t, s.Each(ctx, func(r Record) error {
		manual[r.Item] = r.Manual
		return nil
	}))
	assert.Equal(t, map[string]bool{"feed.org": true, "cli.org": true}, manual)
}

// TestFeedItems verifies feed membership is recorded per path.
func TestFeedItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFeedItem(ctx, "/feeds/a.txt", "x"))
	require.NoError(t, s.AddFeedItem(ctx, "/feeds/a.txt", "y"))
	require.NoError(t, s.AddFeedItem(ctx, "/feeds/a.txt", "x"))
	require.NoError(t, s.AddFeedItem(ctx, "/feeds/b.txt", "x"))

	got, err := s.FeedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"/feeds/a.txt": {"x", "y"},
		"/feeds/b.txt": {"x"},
	}, got)

	require.NoError(t, s.RemoveFeedItem(ctx, "/feeds/a.txt", "x"))
	require.NoError(t, s.RemoveFeedItem(ctx, "/feeds/b.txt", "x"))
	require.NoError(t, s.RemoveFeedItem(ctx, "/feeds/b.txt", "missing"))

	got, err = s.FeedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"/feeds/a.txt": {"y"}}, got)
}

// TestOpenMigratesOldSchema verifies databases without the manual column
// are upgraded in place.
func TestOpenMigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`
		DROP TABLE items;
		CREATE TABLE items (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			id       TEXT    NOT NULL UNIQUE,
			item     TEXT    NOT NULL,
			added_at INTEGER NOT NULL
		);`)
	require.NoError(t, err)
	_, err = s.db.Exec("INSERT INTO items (id, item, added_at) VALUES (?, ?, 0)", ID("old"), "old")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, got.Manual)

	rec, _, err := s.PutManual(ctx, "old")
	require.NoError(t, err)
	assert.True(t, rec.Manual)
}
