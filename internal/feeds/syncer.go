// Package feeds keeps the index in sync with feed files: plain text files
// listing one item (typically a URL) per line.
package feeds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink receives the items appearing in and disappearing from feeds.
type Sink interface {
	AddItem(ctx context.Context, item string) error
	RemoveItem(ctx context.Context, item string) error
}

// ParseFeed reads one item per line. Surrounding space is trimmed; blank
// lines and lines starting with '#' are skipped. Duplicates are dropped.
func ParseFeed(r io.Reader) ([]string, error) {
	var items []string
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		items = append(items, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return items, nil
}

// ReadFeed reads the feed file at path.
func ReadFeed(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed: %w", err)
	}
	defer f.Close()

	return ParseFeed(f)
}

// Ledger persists the items each feed file lists, so feed membership
// survives restarts.
type Ledger interface {
	AddFeedItem(ctx context.Context, path, item string) error
	RemoveFeedItem(ctx context.Context, path, item string) error
	FeedItems(ctx context.Context) (map[string][]string, error)
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithLedger records feed membership in l.
func WithLedger(l Ledger) SyncerOption {
	return func(s *Syncer) { s.ledger = l }
}

// Syncer tracks which items each feed file contributes. An item shared by
// several feeds is removed from the sink only once no feed lists it.
type Syncer struct {
	sink   Sink
	filter Filter
	logger *slog.Logger
	ledger Ledger

	mu    sync.Mutex
	files map[string]map[string]struct{}
	refs  map[string]int
	// restored feeds not seen on disk since Restore
	pending map[string]struct{}
}

// NewSyncer creates a Syncer feeding sink.
func NewSyncer(sink Sink, filter Filter, logger *slog.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		sink:    sink,
		filter:  filter,
		logger:  logger,
		files:   make(map[string]map[string]struct{}),
		refs:    make(map[string]int),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore seeds the tracked feeds from the ledger without touching the
// sink, whose items are assumed to be loaded already. Restored feeds that
// are not synced before Prune are dropped.
func (s *Syncer) Restore(ctx context.Context) error {
	if s.ledger == nil {
		return nil
	}
	feeds, err := s.ledger.FeedItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore feeds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for path, items := range feeds {
		if _, ok := s.files[path]; ok {
			continue
		}
		set := make(map[string]struct{}, len(items))
		for _, it := range items {
			set[it] = struct{}{}
			s.refs[it]++
		}
		s.files[path] = set
		s.pending[path] = struct{}{}
		n += len(items)
	}
	s.logger.Info("feeds restored", "files", len(feeds), "items", n)
	return nil
}

// Prune drops the restored feeds that have not been synced since Restore,
// typically files deleted while the daemon was stopped.
func (s *Syncer) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for path := range s.pending {
		if err := s.dropFile(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scan syncs every feed file under dir.
func (s *Syncer) Scan(ctx context.Context, dir string) error {
	var errs []error
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.filter.Match(path) {
			return nil
		}
		if err := s.SyncFile(ctx, path); err != nil {
			errs = append(errs, err)
		}
		return ctx.Err()
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run handles events until ctx is cancelled or events is closed.
func (s *Syncer) Run(ctx context.Context, events <-chan FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.Handle(ctx, event); err != nil {
				s.logger.Error("failed to sync feed", "path", event.Path, "op", event.Op.String(), "error", err)
			}
		}
	}
}

// Handle applies a single file event.
func (s *Syncer) Handle(ctx context.Context, event FileEvent) error {
	if !s.filter.Match(event.Path) {
		return nil
	}
	switch event.Op {
	case OpCreate, OpModify:
		return s.SyncFile(ctx, event.Path)
	case OpDelete:
		return s.DropFile(ctx, event.Path)
	}
	return nil
}

// SyncFile re-reads path and applies the difference with its last contents.
// A file that no longer exists is dropped.
func (s *Syncer) SyncFile(ctx context.Context, path string) error {
	items, err := ReadFeed(path)
	if errors.Is(err, os.ErrNotExist) {
		return s.DropFile(ctx, path)
	}
	if err != nil {
		return err
	}

	next := make(map[string]struct{}, len(items))
	for _, it := range items {
		next[it] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.files[path]
	var errs []error
	added, removed := 0, 0
	for _, it := range items {
		if _, ok := prev[it]; ok {
			continue
		}
		if err := s.acquire(ctx, it); err != nil {
			// Retried on the next sync of this file.
			delete(next, it)
			errs = append(errs, err)
			continue
		}
		if err := s.record(ctx, path, it); err != nil {
			errs = append(errs, err)
		}
		added++
	}
	for it := range prev {
		if _, ok := next[it]; ok {
			continue
		}
		if err := s.release(ctx, it); err != nil {
			errs = append(errs, err)
		}
		if err := s.forget(ctx, path, it); err != nil {
			errs = append(errs, err)
		}
		removed++
	}
	s.files[path] = next
	delete(s.pending, path)

	s.logger.Info("feed synced",
		"path", path,
		"items", len(next),
		"added", added,
		"removed", removed,
	)
	return errors.Join(errs...)
}

// DropFile releases every item contributed by path.
func (s *Syncer) DropFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropFile(ctx, path)
}

func (s *Syncer) dropFile(ctx context.Context, path string) error {
	prev, ok := s.files[path]
	if !ok {
		return nil
	}
	delete(s.files, path)
	delete(s.pending, path)

	var errs []error
	for it := range prev {
		if err := s.release(ctx, it); err != nil {
			errs = append(errs, err)
		}
		if err := s.forget(ctx, path, it); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("feed dropped", "path", path, "items", len(prev))
	return errors.Join(errs...)
}

// Files returns the number of tracked feed files.
func (s *Syncer) Files() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Items returns the number of distinct items contributed by feeds.
func (s *Syncer) Items() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

func (s *Syncer) acquire(ctx context.Context, item string) error {
	if s.refs[item] == 0 {
		if err := s.sink.AddItem(ctx, item); err != nil {
			return fmt.Errorf("failed to add %q: %w", item, err)
		}
	}
	s.refs[item]++
	return nil
}

func (s *Syncer) release(ctx context.Context, item string) error {
	n := s.refs[item]
	if n <= 1 {
		delete(s.refs, item)
		if err := s.sink.RemoveItem(ctx, item); err != nil {
			return fmt.Errorf("failed to remove %q: %w", item, err)
		}
		return nil
	}
	s.refs[item] = n - 1
	return nil
}

func (s *Syncer) record(ctx context.Context, path, item string) error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.AddFeedItem(ctx, path, item)
}

func (s *Syncer) forget(ctx context.Context, path, item string) error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.RemoveFeedItem(ctx, path, item)
}
