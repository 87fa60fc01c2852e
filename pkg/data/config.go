// Package data provides configuration, persisted session snapshots and
// storage backends for the catelo tournament. It handles Elo and tournament
// settings, candidate normalization, and JSON file or SQLite persistence
// with validation and environment variable support.
package data

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pashagolub/catelo/pkg/elo"
)

// Error types for configuration validation
var (
	ErrInvalidEloConfig        = errors.New("invalid Elo configuration")
	ErrInvalidTournamentConfig = errors.New("invalid tournament configuration")
	ErrInvalidStorageConfig    = errors.New("invalid storage configuration")
	ErrInvalidLoggingConfig    = errors.New("invalid logging configuration")
	ErrConfigNotFound          = errors.New("configuration file not found")
	ErrConfigParseError        = errors.New("failed to parse configuration file")
)

// Completion policies
const (
	CompletionEstimate   = "estimate"   // complete after the estimated number of matches
	CompletionExhaustion = "exhaustion" // complete once every pair has been judged
)

// Storage backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the top-level configuration for the application
type Config struct {
	Elo        EloConfig        `yaml:"elo" json:"elo"`
	Tournament TournamentConfig `yaml:"tournament" json:"tournament"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Journal    JournalConfig    `yaml:"journal" json:"journal"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// EloConfig holds settings for Elo rating calculations
type EloConfig struct {
	InitialRating float64 `yaml:"initial_rating" json:"initial_rating"` // Starting rating for unseen names (default 1500)
	KFactor       int     `yaml:"k_factor" json:"k_factor"`             // Rating change sensitivity (default 32)
	MinRating     float64 `yaml:"min_rating" json:"min_rating"`         // Minimum allowed rating (default 1000)
	MaxRating     float64 `yaml:"max_rating" json:"max_rating"`         // Maximum allowed rating (default 2000)
	Jitter        float64 `yaml:"jitter" json:"jitter"`                 // Tie-breaking noise for both/neither votes
}

// TournamentConfig holds pacing and scheduling settings
type TournamentConfig struct {
	DebounceInterval  time.Duration `yaml:"debounce_interval" json:"debounce_interval"`   // Minimum time between votes
	UndoWindow        time.Duration `yaml:"undo_window" json:"undo_window"`               // How long the last vote can be undone
	UncertaintyWeight float64       `yaml:"uncertainty_weight" json:"uncertainty_weight"` // Scheduler weight for under-compared names
	SequenceFallback  bool          `yaml:"sequence_fallback" json:"sequence_fallback"`   // Offer rematches once every pair is judged
	CompletionPolicy  string        `yaml:"completion_policy" json:"completion_policy"`   // estimate or exhaustion
	SizePreference    int           `yaml:"size_preference" json:"size_preference"`       // Default number of names per tournament
	Seed              uint64        `yaml:"seed" json:"seed"`                             // Jitter seed, 0 means time based
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend"` // file or sqlite
	Dir     string `yaml:"dir" json:"dir"`         // Session directory for the file backend
	DSN     string `yaml:"dsn" json:"dsn"`         // Database path for the sqlite backend
}

// JournalConfig controls the audit trail
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// LoggingConfig controls structured logging output
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

// DefaultConfig returns the standard configuration
func DefaultConfig() Config {
	return Config{
		Elo:        DefaultEloConfig(),
		Tournament: DefaultTournamentConfig(),
		Storage:    DefaultStorageConfig(),
		Journal:    DefaultJournalConfig(),
		Logging:    DefaultLoggingConfig(),
	}
}

// DefaultEloConfig returns standard Elo settings
func DefaultEloConfig() EloConfig {
	return EloConfig{
		InitialRating: elo.DefaultInitialRating,
		KFactor:       elo.DefaultKFactor,
		MinRating:     elo.DefaultMinRating,
		MaxRating:     elo.DefaultMaxRating,
		Jitter:        elo.DefaultJitter,
	}
}

// DefaultTournamentConfig returns standard pacing settings
func DefaultTournamentConfig() TournamentConfig {
	return TournamentConfig{
		DebounceInterval:  500 * time.Millisecond,
		UndoWindow:        2500 * time.Millisecond,
		UncertaintyWeight: elo.DefaultUncertaintyWeight,
		SequenceFallback:  true,
		CompletionPolicy:  CompletionEstimate,
		SizePreference:    8,
	}
}

// DefaultStorageConfig returns the file backend in ./sessions
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: BackendFile,
		Dir:     "sessions",
		DSN:     "catelo.db",
	}
}

// DefaultJournalConfig returns journal settings
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled: true,
		Dir:     "journal",
	}
}

// DefaultLoggingConfig returns text logging at info level
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
	}
}

// EngineConfig converts the settings into an elo.Config
func (e EloConfig) EngineConfig() elo.Config {
	return elo.Config{
		InitialRating: e.InitialRating,
		KFactor:       e.KFactor,
		MinRating:     e.MinRating,
		MaxRating:     e.MaxRating,
		Jitter:        e.Jitter,
	}
}

// SchedulerConfig converts the settings into an elo.SchedulerConfig
func (t TournamentConfig) SchedulerConfig() elo.SchedulerConfig {
	return elo.SchedulerConfig{
		UncertaintyWeight: t.UncertaintyWeight,
		SequenceFallback:  t.SequenceFallback,
	}
}

// Validate checks all configuration sections
func (c *Config) Validate() error {
	if err := c.Elo.Validate(); err != nil {
		return err
	}
	if err := c.Tournament.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// Validate checks Elo settings
func (e *EloConfig) Validate() error {
	if err := e.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEloConfig, err)
	}
	return nil
}

// Validate checks tournament settings
func (t *TournamentConfig) Validate() error {
	if t.DebounceInterval < 0 {
		return fmt.Errorf("%w: debounce interval cannot be negative", ErrInvalidTournamentConfig)
	}
	if t.UndoWindow < 0 {
		return fmt.Errorf("%w: undo window cannot be negative", ErrInvalidTournamentConfig)
	}
	if t.UncertaintyWeight <= 0 {
		return fmt.Errorf("%w: uncertainty weight must be positive", ErrInvalidTournamentConfig)
	}
	switch t.CompletionPolicy {
	case CompletionEstimate, CompletionExhaustion:
	default:
		return fmt.Errorf("%w: unknown completion policy %q", ErrInvalidTournamentConfig, t.CompletionPolicy)
	}
	if t.SizePreference < 2 {
		return fmt.Errorf("%w: size preference must be at least 2", ErrInvalidTournamentConfig)
	}
	return nil
}

// Validate checks storage settings
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case BackendFile:
		if strings.TrimSpace(s.Dir) == "" {
			return fmt.Errorf("%w: file backend requires a directory", ErrInvalidStorageConfig)
		}
	case BackendSQLite:
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("%w: sqlite backend requires a dsn", ErrInvalidStorageConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidStorageConfig, s.Backend)
	}
	return nil
}

// Validate checks logging settings
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidLoggingConfig, l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidLoggingConfig, l.Format)
	}
	return nil
}

// LoadFromFile reads a YAML configuration file and fills in defaults
func LoadFromFile(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	// decoding onto defaults keeps every field the file omits
	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParseError, filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filename, err)
	}
	return &config, nil
}

// LoadWithEnvironment loads defaults, then the optional file, then a .env
// file from the working directory, then CATELO_* environment overrides.
func LoadWithEnvironment(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		fileConfig, err := LoadFromFile(filename)
		if err != nil && !errors.Is(err, ErrConfigNotFound) {
			return nil, err
		}
		if err == nil {
			config = *fileConfig
		}
	}

	// a missing .env file is not an error; existing variables win
	_ = godotenv.Load()

	applyEnvironmentOverrides(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid final configuration: %w", err)
	}
	return &config, nil
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(filename string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}

func applyEnvironmentOverrides(config *Config) {
	// Elo configuration overrides
	if val := os.Getenv("CATELO_ELO_INITIAL_RATING"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.Elo.InitialRating = parsed
		}
	}
	if val := os.Getenv("CATELO_ELO_K_FACTOR"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.Elo.KFactor = parsed
		}
	}
	if val := os.Getenv("CATELO_ELO_MIN_RATING"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.Elo.MinRating = parsed
		}
	}
	if val := os.Getenv("CATELO_ELO_MAX_RATING"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.Elo.MaxRating = parsed
		}
	}
	if val := os.Getenv("CATELO_ELO_JITTER"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.Elo.Jitter = parsed
		}
	}

	// Tournament configuration overrides
	if val := os.Getenv("CATELO_TOURNAMENT_DEBOUNCE"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			config.Tournament.DebounceInterval = parsed
		}
	}
	if val := os.Getenv("CATELO_TOURNAMENT_UNDO_WINDOW"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			config.Tournament.UndoWindow = parsed
		}
	}
	if val := os.Getenv("CATELO_TOURNAMENT_UNCERTAINTY_WEIGHT"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			config.Tournament.UncertaintyWeight = parsed
		}
	}
	if val := os.Getenv("CATELO_TOURNAMENT_SEQUENCE_FALLBACK"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			config.Tournament.SequenceFallback = parsed
		}
	}
	if val := os.Getenv("CATELO_TOURNAMENT_COMPLETION_POLICY"); val != "" {
		config.Tournament.CompletionPolicy = strings.ToLower(val)
	}
	if val := os.Getenv("CATELO_TOURNAMENT_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.Tournament.SizePreference = parsed
		}
	}
	if val := os.Getenv("CATELO_TOURNAMENT_SEED"); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
			config.Tournament.Seed = parsed
		}
	}

	// Storage configuration overrides
	if val := os.Getenv("CATELO_STORAGE_BACKEND"); val != "" {
		config.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("CATELO_STORAGE_DIR"); val != "" {
		config.Storage.Dir = val
	}
	if val := os.Getenv("CATELO_STORAGE_DSN"); val != "" {
		config.Storage.DSN = val
	}

	// Journal and logging overrides
	if val := os.Getenv("CATELO_JOURNAL_ENABLED"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			config.Journal.Enabled = parsed
		}
	}
	if val := os.Getenv("CATELO_JOURNAL_DIR"); val != "" {
		config.Journal.Dir = val
	}
	if val := os.Getenv("CATELO_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("CATELO_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
}
