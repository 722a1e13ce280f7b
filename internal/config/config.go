// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/seeks-project/seeks/pkg/lsh"
	"github.com/seeks-project/seeks/pkg/mrf"
)

// Paths holds XDG-compliant paths for Seeks.
type Paths struct {
	ConfigDir  string // ~/.config/seeks
	DataDir    string // ~/.local/share/seeks
	LSHSocket  string // ~/.local/share/seeks/lshd.sock
	ItemsDB    string // ~/.local/share/seeks/items.db
	FeedsDir   string // ~/.local/share/seeks/feeds
	ConfigFile string // ~/.config/seeks/lshd.toml
}

// ExpandPath expands ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
// Panics if home directory cannot be determined when ~ expansion is needed.
func ExpandPath(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultPaths returns the default XDG-compliant paths.
// Panics if the user's home directory cannot be determined.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir := filepath.Join(home, ".config", "seeks")
	dataDir := filepath.Join(home, ".local", "share", "seeks")

	return Paths{
		ConfigDir:  configDir,
		DataDir:    dataDir,
		LSHSocket:  filepath.Join(dataDir, "lshd.sock"),
		ItemsDB:    filepath.Join(dataDir, "items.db"),
		FeedsDir:   filepath.Join(dataDir, "feeds"),
		ConfigFile: filepath.Join(configDir, "lshd.toml"),
	}
}

// EnsureDirectories creates config and data directories if they don't exist.
func (p Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return err
	}
	return os.MkdirAll(p.DataDir, 0700)
}

// DaemonConfig holds configuration for seeks-lshd.
type DaemonConfig struct {
	LSH     LSHConfig     `toml:"lsh"`
	MRF     MRFConfig     `toml:"mrf"`
	Feeds   FeedsConfig   `toml:"feeds"`
	Storage StorageConfig `toml:"storage"`
	IPC     IPCConfig     `toml:"ipc"`
}

// LSHConfig holds the hashing scheme and table parameters.
// Changing any of them requires rebuilding the index.
type LSHConfig struct {
	K            int    `toml:"k"`
	L            int    `toml:"l"`
	TableSize    uint64 `toml:"table_size"`
	FixedStrSize int    `toml:"fixed_str_size"`
}

// MRFConfig holds query feature extraction settings.
type MRFConfig struct {
	MinRadius     int               `toml:"min_radius"`
	MaxRadius     int               `toml:"max_radius"`
	WindowLength  int               `toml:"window_length"`
	Delimiters    string            `toml:"delimiters"`
	StopwordLists map[string]string `toml:"stopword_lists"`
	// LengthProtection cuts queries longer than mrf.MaxQueryTokens to
	// full-window chains.
	LengthProtection bool `toml:"query_length_protection"`
}

// FeedsConfig holds feed directory watching settings.
type FeedsConfig struct {
	Directories  []string `toml:"directories"`
	Extensions   []string `toml:"extensions"`
	IgnoreHidden bool     `toml:"ignore_hidden"`
}

// StorageConfig holds storage paths.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// IPCConfig holds the daemon's socket path.
type IPCConfig struct {
	SocketPath string `toml:"socket_path"`
}

// DefaultDaemonConfig returns a DaemonConfig with sensible defaults.
func DefaultDaemonConfig() DaemonConfig {
	paths := DefaultPaths()
	return DaemonConfig{
		LSH: LSHConfig{
			K:            4,
			L:            3,
			TableSize:    lsh.DefaultTableSize,
			FixedStrSize: lsh.DefaultFixedStrSize,
		},
		MRF: MRFConfig{
			MinRadius:        mrf.DefaultMinRadius,
			MaxRadius:        mrf.DefaultMaxRadius,
			WindowLength:     mrf.DefaultWindowLength,
			Delimiters:       mrf.DefaultDelimiters,
			StopwordLists:    map[string]string{},
			LengthProtection: true,
		},
		Feeds: FeedsConfig{
			Directories:  []string{paths.FeedsDir},
			Extensions:   []string{".txt", ".urls"},
			IgnoreHidden: true,
		},
		Storage: StorageConfig{
			DBPath: paths.ItemsDB,
		},
		IPC: IPCConfig{
			SocketPath: paths.LSHSocket,
		},
	}
}

// LoadDaemonConfig loads a DaemonConfig from a TOML file.
// Paths with ~ are expanded to the user's home directory.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultDaemonConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	// Expand paths in directories
	for i, dir := range cfg.Feeds.Directories {
		cfg.Feeds.Directories[i] = ExpandPath(dir)
	}
	for lang, p := range cfg.MRF.StopwordLists {
		cfg.MRF.StopwordLists[lang] = ExpandPath(p)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.IPC.SocketPath = ExpandPath(cfg.IPC.SocketPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects parameters the index cannot be built with.
func (c DaemonConfig) Validate() error {
	var errs []error
	if c.LSH.K <= 0 {
		errs = append(errs, fmt.Errorf("lsh.k must be positive, got %d", c.LSH.K))
	}
	if c.LSH.L <= 0 {
		errs = append(errs, fmt.Errorf("lsh.l must be positive, got %d", c.LSH.L))
	}
	if c.LSH.TableSize == 0 {
		errs = append(errs, errors.New("lsh.table_size must be positive"))
	}
	if c.LSH.FixedStrSize <= 0 {
		errs = append(errs, fmt.Errorf("lsh.fixed_str_size must be positive, got %d", c.LSH.FixedStrSize))
	} else if c.LSH.K > c.LSH.FixedStrSize*lsh.CharBit-1 {
		errs = append(errs, fmt.Errorf("lsh.k must not exceed %d, got %d",
			c.LSH.FixedStrSize*lsh.CharBit-1, c.LSH.K))
	}
	if c.MRF.WindowLength <= 0 {
		errs = append(errs, fmt.Errorf("mrf.window_length must be positive, got %d", c.MRF.WindowLength))
	}
	if c.MRF.MinRadius < 0 || c.MRF.MinRadius > c.MRF.MaxRadius {
		errs = append(errs, fmt.Errorf("mrf radius range [%d, %d] is invalid", c.MRF.MinRadius, c.MRF.MaxRadius))
	}
	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path must be set"))
	}
	if c.IPC.SocketPath == "" {
		errs = append(errs, errors.New("ipc.socket_path must be set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
