package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/seeks-project/seeks/internal/config"
)

// flagOverrides holds command-line values that take precedence over the
// configuration file. Zero values leave the file setting untouched.
type flagOverrides struct {
	socketPath string
	dbPath     string
	feedDirs   string
	k          int
	l          int
	tableSize  uint64
}

func main() {
	// Define command-line flags
	configPath := flag.String("config", "", "Path to TOML configuration file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	compactInterval := flag.Duration("compact-interval", DefaultCompactInterval, "How often pooled buckets are released (0 disables)")

	var ov flagOverrides
	flag.StringVar(&ov.socketPath, "socket", "", "Unix socket path for IPC")
	flag.StringVar(&ov.dbPath, "db", "", "Path to the item database")
	flag.StringVar(&ov.feedDirs, "feeds", "", "Comma-separated list of feed directories to watch")
	flag.IntVar(&ov.k, "k", 0, "Bits per projection mask")
	flag.IntVar(&ov.l, "l", 0, "Number of hash lines")
	flag.Uint64Var(&ov.tableSize, "table-size", 0, "Number of slots in the hash table")

	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	// Build configuration
	cfg, err := buildConfig(*configPath, ov)
	if err != nil {
		logger.Error("failed to build configuration", "error", err)
		os.Exit(1)
	}

	// Ensure directories exist
	paths := config.DefaultPaths()
	if err := paths.EnsureDirectories(); err != nil {
		logger.Error("failed to create directories", "error", err)
		os.Exit(1)
	}

	daemon, err := NewDaemon(cfg, logger)
	if err != nil {
		logger.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}
	daemon.compactInterval = *compactInterval

	// Set up signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting seeks-lshd",
		"socket", cfg.IPC.SocketPath,
		"db", cfg.Storage.DBPath,
		"feeds", cfg.Feeds.Directories,
		"k", cfg.LSH.K,
		"l", cfg.LSH.L,
		"tableSize", cfg.LSH.TableSize,
		"fixedStrSize", cfg.LSH.FixedStrSize,
		"compactInterval", compactInterval.String(),
	)

	if err := daemon.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}

	logger.Info("daemon stopped gracefully")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildConfig creates a DaemonConfig from file and/or flags.
// Flags override file settings.
func buildConfig(configPath string, ov flagOverrides) (config.DaemonConfig, error) {
	cfg := config.DefaultDaemonConfig()

	// Load from file if provided
	if configPath != "" {
		fileCfg, err := config.LoadDaemonConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = *fileCfg
	}

	// Override with flags
	if ov.feedDirs != "" {
		dirs := strings.Split(ov.feedDirs, ",")
		for i, dir := range dirs {
			dirs[i] = config.ExpandPath(strings.TrimSpace(dir))
		}
		cfg.Feeds.Directories = dirs
	}
	if ov.socketPath != "" {
		cfg.IPC.SocketPath = config.ExpandPath(ov.socketPath)
	}
	if ov.dbPath != "" {
		cfg.Storage.DBPath = config.ExpandPath(ov.dbPath)
	}
	if ov.k != 0 {
		cfg.LSH.K = ov.k
	}
	if ov.l != 0 {
		cfg.LSH.L = ov.l
	}
	if ov.tableSize != 0 {
		cfg.LSH.TableSize = ov.tableSize
	}

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
