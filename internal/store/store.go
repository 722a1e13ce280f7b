// Package store persists indexed items in SQLite so the in-memory index can
// be rebuilt on startup.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mr-tron/base58"
	"github.com/zeebo/xxh3"
)

// ErrNotFound is returned when an item is not stored.
var ErrNotFound = errors.New("store: item not found")

const schema = `
CREATE TABLE IF NOT EXISTS items (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	id       TEXT    NOT NULL UNIQUE,
	item     TEXT    NOT NULL,
	added_at INTEGER NOT NULL,
	manual   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feed_items (
	path TEXT NOT NULL,
	item TEXT NOT NULL,
	PRIMARY KEY (path, item)
);`

// Record is a stored item. Manual records were added directly rather than
// through a feed.
type Record struct {
	ID      string
	Item    string
	AddedAt time.Time
	Manual  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a SQLite-backed set of items.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// ID returns the base58 form of the 128-bit xxh3 digest of item.
func ID(item string) string {
	h := xxh3.HashString128(item)
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], h.Hi)
	binary.BigEndian.PutUint64(b[8:], h.Lo)
	return base58.Encode(b[:])
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps in-memory
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.db = db

	s.logger.Debug("store opened", "path", path)
	return s, nil
}

// migrate adds the columns missing from databases created by older
// versions.
func migrate(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(items)")
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if !cols["manual"] {
		if _, err := db.Exec("ALTER TABLE items ADD COLUMN manual INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores item. It reports whether the item was new. An existing
// record keeps its manual flag.
func (s *Store) Put(ctx context.Context, item string) (Record, bool, error) {
	return s.put(ctx, item, false)
}

// PutManual stores item and flags it as manually added. It reports
// whether the item was new.
func (s *Store) PutManual(ctx context.Context, item string) (Record, bool, error) {
	return s.put(ctx, item, true)
}

func (s *Store) put(ctx context.Context, item string, manual bool) (Record, bool, error) {
	rec := Record{ID: ID(item), Item: item, AddedAt: s.now().UTC(), Manual: manual}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO items (id, item, added_at, manual) VALUES (?, ?, ?, ?)",
		rec.ID, rec.Item, rec.AddedAt.UnixNano(), manual,
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to insert item: %w", err)
	}
	if n > 0 {
		return rec, true, nil
	}

	if manual {
		if _, err := s.db.ExecContext(ctx, "UPDATE items SET manual = 1 WHERE id = ?", rec.ID); err != nil {
			return Record{}, false, fmt.Errorf("failed to flag item: %w", err)
		}
	}
	existing, err := s.Get(ctx, item)
	return existing, false, err
}

// Delete removes item. It reports whether the item was stored.
func (s *Store) Delete(ctx context.Context, item string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", ID(item))
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	return n > 0, nil
}

// Get returns the record of item, or ErrNotFound.
func (s *Store) Get(ctx context.Context, item string) (Record, error) {
	var (
		rec     Record
		addedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, item, added_at, manual FROM items WHERE id = ?", ID(item),
	).Scan(&rec.ID, &rec.Item, &addedAt, &rec.Manual)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, item)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to query item: %w", err)
	}
	rec.AddedAt = time.Unix(0, addedAt).UTC()
	return rec, nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// Each calls fn for every record in insertion order, stopping at the first
// error.
func (s *Store) Each(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, item, added_at, manual FROM items ORDER BY seq")
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	// Collect first so fn may write to the store.
	var recs []Record
	for rows.Next() {
		var (
			rec     Record
			addedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Item, &addedAt, &rec.Manual); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		rec.AddedAt = time.Unix(0, addedAt).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	rows.Close()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// AddFeedItem records that the feed at path lists item.
func (s *Store) AddFeedItem(ctx context.Context, path, item string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO feed_items (path, item) VALUES (?, ?)", path, item)
	if err != nil {
		return fmt.Errorf("failed to record feed item: %w", err)
	}
	return nil
}

// RemoveFeedItem forgets that the feed at path lists item.
func (s *Store) RemoveFeedItem(ctx context.Context, path, item string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM feed_items WHERE path = ? AND item = ?", path, item)
	if err != nil {
		return fmt.Errorf("failed to forget feed item: %w", err)
	}
	return nil
}

// FeedItems returns the recorded items of every feed, keyed by path.
func (s *Store) FeedItems(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, item FROM feed_items ORDER BY path, item")
	if err != nil {
		return nil, fmt.Errorf("failed to list feed items: %w", err)
	}
	defer rows.Close()

	feeds := make(map[string][]string)
	for rows.Next() {
		var path, item string
		if err := rows.Scan(&path, &item); err != nil {
			return nil, fmt.Errorf("failed to scan feed item: %w", err)
		}
		feeds[path] = append(feeds[path], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list feed items: %w", err)
	}
	return feeds, nil
}
