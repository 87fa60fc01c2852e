package data

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigFile is looked up when --config is not given
const DefaultConfigFile = "catelo.yaml"

// GlobalOptions defines CLI flags shared by every subcommand. Zero values mean
// "not given" so configuration file and environment values are kept.
type GlobalOptions struct {
	ConfigFile string `long:"config" short:"c" description:"Configuration file path" default:"catelo.yaml"`
	NoConfig   bool   `long:"no-config" description:"Skip loading configuration file"`
	User       string `long:"user" short:"u" description:"User whose ratings and sessions are used" env:"CATELO_USER"`

	// Storage options
	Backend    string `long:"backend" description:"Storage backend (file/sqlite)"`
	StorageDir string `long:"storage-dir" description:"Session directory for the file backend"`
	DSN        string `long:"dsn" description:"Database path for the sqlite backend"`

	// Elo engine options
	KFactor int    `long:"k-factor" description:"Rating change sensitivity"`
	Seed    uint64 `long:"seed" description:"Seed for tie-breaking jitter (0 = time based)"`

	// Tournament pacing
	Debounce         time.Duration `long:"debounce" description:"Minimum time between votes"`
	UndoWindow       time.Duration `long:"undo-window" description:"How long the last vote can be undone"`
	CompletionPolicy string        `long:"completion" description:"Completion policy (estimate/exhaustion)"`

	// Logging
	LogLevel  string `long:"log-level" description:"Log level (debug/info/warn/error)"`
	LogFormat string `long:"log-format" description:"Log format (text/json)"`
	Verbose   bool   `long:"verbose" short:"v" description:"Enable verbose logging"`
	NoJournal bool   `long:"no-journal" description:"Disable the audit journal"`
}

// LoadConfig resolves configuration with precedence defaults < file < .env <
// environment < flags, and validates the result.
func LoadConfig(opts *GlobalOptions) (*Config, error) {
	var config *Config
	if opts.NoConfig {
		defaults := DefaultConfig()
		config = &defaults
		applyEnvironmentOverrides(config)
	} else {
		path := ResolveConfigPath(opts.ConfigFile)
		// only an explicitly named file must exist
		if opts.ConfigFile != DefaultConfigFile {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
		}
		loaded, err := LoadWithEnvironment(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration file: %w", err)
		}
		config = loaded
	}

	ApplyCLIOverrides(config, opts)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// ApplyCLIOverrides applies command-line flag values to the configuration
func ApplyCLIOverrides(config *Config, opts *GlobalOptions) {
	if opts.Backend != "" {
		config.Storage.Backend = opts.Backend
	}
	if opts.StorageDir != "" {
		config.Storage.Dir = opts.StorageDir
	}
	if opts.DSN != "" {
		config.Storage.DSN = opts.DSN
	}
	if opts.KFactor != 0 {
		config.Elo.KFactor = opts.KFactor
	}
	if opts.Seed != 0 {
		config.Tournament.Seed = opts.Seed
	}
	if opts.Debounce != 0 {
		config.Tournament.DebounceInterval = opts.Debounce
	}
	if opts.UndoWindow != 0 {
		config.Tournament.UndoWindow = opts.UndoWindow
	}
	if opts.CompletionPolicy != "" {
		config.Tournament.CompletionPolicy = opts.CompletionPolicy
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		config.Logging.Format = opts.LogFormat
	}
	if opts.Verbose {
		config.Logging.Level = "debug"
	}
	if opts.NoJournal {
		config.Journal.Enabled = false
	}
}

// ResolveConfigPath returns the first existing candidate for a relative config
// file name, or the name itself when none exists.
func ResolveConfigPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	for _, path := range GetConfigSearchPaths(filename) {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filename
}

// GetConfigSearchPaths returns possible configuration file locations
func GetConfigSearchPaths(filename string) []string {
	paths := []string{filename}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "catelo", filename))
		paths = append(paths, filepath.Join(homeDir, ".catelo", filename))
	}

	paths = append(paths, filepath.Join("/etc", "catelo", filename))
	return paths
}

// CreateDefaultConfig creates a default configuration file at the specified path
func CreateDefaultConfig(filePath string) error {
	config := DefaultConfig()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.SaveToFile(filePath); err != nil {
		return fmt.Errorf("failed to create default config: %w", err)
	}
	return nil
}
