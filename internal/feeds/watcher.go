package feeds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Op represents the type of feed file operation.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

// String returns a human-readable representation of the operation.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "Create"
	case OpModify:
		return "Modify"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// FileEvent represents a change to a feed file.
type FileEvent struct {
	Path string
	Op   Op
}

// ErrorCallback is called when an error occurs during watching.
type ErrorCallback func(err error)

// SkippedPath represents a path that was skipped during initial scan.
type SkippedPath struct {
	Path string
	Err  error
}

// ErrRootNotExist is returned when the feed directory does not exist.
var ErrRootNotExist = errors.New("feed directory does not exist")

// ErrRootNotDirectory is returned when the feed path is not a directory.
var ErrRootNotDirectory = errors.New("feed path is not a directory")

// DefaultExcludes are directory names never descended into.
var DefaultExcludes = []string{
	".git",
	".cache",
	".tmp",
}

// Filter selects the files treated as feeds.
type Filter struct {
	Extensions   []string // lower-case, with the dot; empty accepts any
	IgnoreHidden bool
}

// Match reports whether path names a feed file.
func (f Filter) Match(path string) bool {
	base := filepath.Base(path)
	if f.IgnoreHidden && strings.HasPrefix(base, ".") {
		return false
	}
	if len(f.Extensions) == 0 {
		return true
	}
	return slices.Contains(f.Extensions, strings.ToLower(filepath.Ext(base)))
}

// Watcher monitors a feed directory tree for changes to feed files.
// Directories are watched recursively but never reported.
type Watcher struct {
	root     string
	events   chan<- FileEvent
	fsw      *fsnotify.Watcher
	filter   Filter
	excludes []string
	mu       sync.RWMutex // protects excludes and skippedPaths

	onError      ErrorCallback
	droppedCount atomic.Int64
	skippedPaths []SkippedPath

	done chan struct{}
}

// NewWatcher creates a watcher for the feed files under root matching filter.
func NewWatcher(root string, filter Filter, events chan<- FileEvent) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotExist, root)
		}
		return nil, fmt.Errorf("cannot access feed directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		events:   events,
		fsw:      fsw,
		filter:   filter,
		excludes: append([]string(nil), DefaultExcludes...),
		done:     make(chan struct{}),
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.skip(path, err)
			return nil
		}
		if d.IsDir() {
			if path != root && w.shouldExclude(path) {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				if path == root {
					return err
				}
				// Unreadable subtrees are reported, not fatal.
				w.skip(path, err)
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// SetExcludes sets the directory names to exclude from watching.
// This is safe to call concurrently with Start().
func (w *Watcher) SetExcludes(excludes []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.excludes = append([]string(nil), excludes...)
}

// SetErrorCallback sets a callback function that will be called when errors occur.
func (w *Watcher) SetErrorCallback(cb ErrorCallback) {
	w.onError = cb
}

// DroppedEventCount returns the number of events that were dropped due to channel full.
func (w *Watcher) DroppedEventCount() int64 {
	return w.droppedCount.Load()
}

func (w *Watcher) skip(path string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skippedPaths = append(w.skippedPaths, SkippedPath{Path: path, Err: err})
}

// SkippedPaths returns paths that were skipped during initial scan due to errors.
func (w *Watcher) SkippedPaths() []SkippedPath {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.skippedPaths)
}

// shouldExclude checks if any element of path below root is excluded.
func (w *Watcher) shouldExclude(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		if slices.Contains(w.excludes, part) {
			return true
		}
	}
	return false
}

// Start begins watching for events (blocking).
// Returns when the context is cancelled or Close() is called.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.shouldExclude(event.Name) {
				continue
			}

			var op Op
			switch {
			case event.Op&fsnotify.Create != 0:
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.fsw.Add(event.Name)
					continue
				}
				op = OpCreate
			case event.Op&fsnotify.Write != 0:
				op = OpModify
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				op = OpDelete
			default:
				continue
			}

			if !w.filter.Match(event.Name) {
				continue
			}

			// Non-blocking send; a full channel drops the event.
			select {
			case w.events <- FileEvent{Path: event.Name, Op: op}:
			default:
				w.droppedCount.Add(1)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// Close stops the watcher and signals Start() to return.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}
