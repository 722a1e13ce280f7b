package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/seeks-project/seeks/internal/config"
	"github.com/seeks-project/seeks/internal/feeds"
	"github.com/seeks-project/seeks/internal/index"
	"github.com/seeks-project/seeks/internal/ipc"
	"github.com/seeks-project/seeks/internal/store"
	"github.com/seeks-project/seeks/pkg/mrf"
)

// DefaultCompactInterval is how often pooled buckets are released.
const DefaultCompactInterval = 10 * time.Minute

// Daemon serves the LSH index over IPC and keeps it in sync with the
// feed directories.
type Daemon struct {
	cfg             config.DaemonConfig
	store           *store.Store
	index           *index.Service
	syncer          *feeds.Syncer
	watchers        []*feeds.Watcher
	server          *ipc.Server
	logger          *slog.Logger
	compactInterval time.Duration

	// Event channel
	events chan feeds.FileEvent

	// background goroutines touching the index or the store
	wg sync.WaitGroup
}

// NewDaemon opens the store and rebuilds the index from it.
func NewDaemon(cfg config.DaemonConfig, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	extractor, err := newExtractor(cfg.MRF, logger)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0700); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Storage.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	svc, err := index.New(cfg.LSH,
		index.WithStore(st),
		index.WithExtractor(extractor),
		index.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	// Parameters may have changed since the last run, so the table is
	// always rebuilt from the stored items.
	if _, err := svc.Load(context.Background()); err != nil {
		st.Close()
		return nil, err
	}

	filter := feeds.Filter{
		Extensions:   cfg.Feeds.Extensions,
		IgnoreHidden: cfg.Feeds.IgnoreHidden,
	}

	return &Daemon{
		cfg:             cfg,
		store:           st,
		index:           svc,
		syncer:          feeds.NewSyncer(svc, filter, logger, feeds.WithLedger(st)),
		logger:          logger,
		compactInterval: DefaultCompactInterval,
		events:          make(chan feeds.FileEvent, 100),
	}, nil
}

// newExtractor builds the query feature extractor, merging every
// configured stopword list into one.
func newExtractor(cfg config.MRFConfig, logger *slog.Logger) (*mrf.Extractor, error) {
	opts := []mrf.Option{
		mrf.WithRadius(cfg.MinRadius, cfg.MaxRadius),
		mrf.WithWindowLength(cfg.WindowLength),
		mrf.WithLengthProtection(cfg.LengthProtection),
	}
	if cfg.Delimiters != "" {
		opts = append(opts, mrf.WithDelimiters(cfg.Delimiters))
	}

	if len(cfg.StopwordLists) > 0 {
		stopwords := mrf.NewStopwordList()
		langs := make([]string, 0, len(cfg.StopwordLists))
		for lang := range cfg.StopwordLists {
			langs = append(langs, lang)
		}
		slices.Sort(langs)
		for _, lang := range langs {
			list, err := mrf.LoadStopwords(cfg.StopwordLists[lang])
			if err != nil {
				return nil, fmt.Errorf("failed to load %s stopwords: %w", lang, err)
			}
			logger.Info("stopwords loaded", "lang", lang, "words", list.Len())
			stopwords.Merge(list)
		}
		opts = append(opts, mrf.WithStopwords(stopwords))
	}

	return mrf.NewExtractor(opts...)
}

// Index returns the served index.
func (d *Daemon) Index() *index.Service { return d.index }

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	// Start IPC server
	server, err := ipc.NewServer(d.cfg.IPC.SocketPath, d.index, d.logger)
	if err != nil {
		d.store.Close()
		return err
	}
	d.server = server

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		d.logger.Info("starting IPC server", "socket", d.cfg.IPC.SocketPath)
		serverErr <- server.Start()
	}()

	// Background work stops before the store closes, whatever ends Run.
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.syncer.Restore(bgCtx); err != nil {
		d.logger.Warn("feed ledger unavailable", "error", err)
	}

	// Watch before scanning so edits made during the scan are not lost.
	d.startWatchers(bgCtx)
	d.goBackground(func() { d.syncer.Run(bgCtx, d.events) })
	d.scanFeeds(bgCtx)
	if err := d.syncer.Prune(bgCtx); err != nil {
		d.logger.Warn("failed to drop vanished feeds", "error", err)
	}

	d.goBackground(func() { d.compactLoop(bgCtx) })

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down daemon")
	case err := <-serverErr:
		d.logger.Error("server error", "error", err)
	}

	// Graceful shutdown
	return d.shutdown(cancel)
}

func (d *Daemon) goBackground(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// startWatchers initializes file watchers for all configured feed directories.
func (d *Daemon) startWatchers(ctx context.Context) {
	filter := feeds.Filter{
		Extensions:   d.cfg.Feeds.Extensions,
		IgnoreHidden: d.cfg.Feeds.IgnoreHidden,
	}

	for _, dir := range d.cfg.Feeds.Directories {
		expandedDir := config.ExpandPath(dir)

		watcher, err := feeds.NewWatcher(expandedDir, filter, d.events)
		if err != nil {
			d.logger.Warn("failed to create watcher",
				"dir", dir,
				"error", err,
			)
			continue
		}
		d.logSkipped(watcher.Root(), watcher.SkippedPaths())

		watcher.SetErrorCallback(func(err error) {
			d.logger.Error("watcher error", "error", err)
		})

		d.watchers = append(d.watchers, watcher)

		d.goBackground(func() {
			d.logger.Info("watching feeds", "dir", watcher.Root())
			watcher.Start(ctx)
		})
	}
}

// logSkipped reports the directories a watcher could not descend into.
// Feeds below them are neither scanned nor followed.
func (d *Daemon) logSkipped(dir string, skipped []feeds.SkippedPath) {
	for _, sp := range skipped {
		d.logger.Warn("feed path not watched",
			"dir", dir,
			"path", sp.Path,
			"error", sp.Err,
		)
	}
}

// scanFeeds syncs the feed files already present on disk.
func (d *Daemon) scanFeeds(ctx context.Context) {
	for _, w := range d.watchers {
		if err := d.syncer.Scan(ctx, w.Root()); err != nil {
			d.logger.Warn("feed scan incomplete", "dir", w.Root(), "error", err)
		}
	}
	d.logger.Info("feeds scanned",
		"files", d.syncer.Files(),
		"items", d.syncer.Items(),
	)
}

// compactLoop periodically releases the buckets pooled by removals.
func (d *Daemon) compactLoop(ctx context.Context) {
	if d.compactInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.compactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.index.Compact(); n > 0 {
				d.logger.Debug("released pooled buckets", "count", n)
			}
		}
	}
}

// shutdown stops the background work and the server, then closes the
// store.
func (d *Daemon) shutdown(cancel context.CancelFunc) error {
	var errs []error

	cancel()

	// Stop watchers
	for _, w := range d.watchers {
		if dropped := w.DroppedEventCount(); dropped > 0 {
			d.logger.Warn("feed events dropped", "dir", w.Root(), "count", dropped)
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.wg.Wait()

	// Stop server
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}

	stats := d.index.Stats()
	d.logger.Info("index closed", "items", stats.Items, "buckets", stats.Buckets)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
