// Package config loads satchel configuration from satchel.yaml, the
// SATCHEL_* environment and built-in defaults, in that precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/satchelhq/satchel/internal/resolver"
)

// DefaultDir is the satchel data directory, relative to the working
// directory unless overridden.
const DefaultDir = ".satchel"

// Config is the full satchel configuration tree.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Backend BackendConfig `mapstructure:"backend"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Log     LogConfig     `mapstructure:"log"`
}

// StoreConfig configures the local database.
type StoreConfig struct {
	// Path is the database file location.
	Path string `mapstructure:"path"`

	// QuotaBytes caps local storage for usage accounting. Zero means
	// the host grants no quota and percentages are not computed.
	QuotaBytes int64 `mapstructure:"quota_bytes"`
}

// BackendConfig selects and configures the store driver.
type BackendConfig struct {
	// Type is "sqlite" or "libsql". Empty means detect from the URL.
	Type string `mapstructure:"type"`

	// URL is the libsql primary (libsql://, https:// or wss://).
	URL string `mapstructure:"url"`

	// AuthToken authenticates against the libsql primary.
	AuthToken string `mapstructure:"auth_token"`

	// SyncInterval enables periodic replica sync inside the driver.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	// Strategy is the default conflict resolution strategy
	// (auto, local, remote, merge, manual).
	Strategy string `mapstructure:"strategy"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	// SpoolDir is watched for arriving course bundles.
	SpoolDir string `mapstructure:"spool_dir"`

	// SyncInterval is the period between automatic sync passes.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// Debounce is how long the spool watcher waits after the last
	// filesystem event before importing.
	Debounce time.Duration `mapstructure:"debounce"`
}

// RelayConfig configures the websocket event relay.
type RelayConfig struct {
	// Port to listen on.
	Port int `mapstructure:"port"`
}

// LogConfig configures optional rotating file logging. An empty File
// leaves logging on stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path: filepath.Join(DefaultDir, "satchel.db"),
		},
		Backend: BackendConfig{},
		Sync: SyncConfig{
			Strategy: resolver.StrategyAuto.String(),
		},
		Daemon: DaemonConfig{
			SpoolDir:     filepath.Join(DefaultDir, "spool"),
			SyncInterval: 5 * time.Minute,
			Debounce:     2 * time.Second,
		},
		Relay: RelayConfig{
			Port: 8080,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads satchel.yaml from dir, overlays SATCHEL_* environment
// variables, and validates the result. A missing config file is not an
// error; defaults apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("satchel")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SATCHEL")
	v.AutomaticEnv()

	// Store
	v.BindEnv("store.path", "SATCHEL_STORE_PATH")
	v.BindEnv("store.quota_bytes", "SATCHEL_QUOTA_BYTES")

	// Backend
	v.BindEnv("backend.type", "SATCHEL_BACKEND")
	v.BindEnv("backend.url", "SATCHEL_BACKEND_URL")
	v.BindEnv("backend.auth_token", "SATCHEL_AUTH_TOKEN")

	// Sync
	v.BindEnv("sync.strategy", "SATCHEL_STRATEGY")

	// Daemon
	v.BindEnv("daemon.spool_dir", "SATCHEL_SPOOL_DIR")

	// Relay
	v.BindEnv("relay.port", "SATCHEL_RELAY_PORT")

	// Log
	v.BindEnv("log.file", "SATCHEL_LOG_FILE")

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No satchel.yaml; defaults and environment take over.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.quota_bytes", d.Store.QuotaBytes)
	v.SetDefault("backend.type", d.Backend.Type)
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.auth_token", d.Backend.AuthToken)
	v.SetDefault("backend.sync_interval", d.Backend.SyncInterval)
	v.SetDefault("sync.strategy", d.Sync.Strategy)
	v.SetDefault("daemon.spool_dir", d.Daemon.SpoolDir)
	v.SetDefault("daemon.sync_interval", d.Daemon.SyncInterval)
	v.SetDefault("daemon.debounce", d.Daemon.Debounce)
	v.SetDefault("relay.port", d.Relay.Port)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// Validate checks cross-field consistency. Called by Load; call it
// again after applying command-line overrides.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.QuotaBytes < 0 {
		return fmt.Errorf("store.quota_bytes must not be negative, got %d", c.Store.QuotaBytes)
	}
	if _, err := resolver.ParseStrategy(c.Sync.Strategy); err != nil {
		return fmt.Errorf("sync.strategy: %w", err)
	}
	if c.Daemon.SyncInterval <= 0 {
		return fmt.Errorf("daemon.sync_interval must be positive, got %v", c.Daemon.SyncInterval)
	}
	if c.Daemon.Debounce <= 0 {
		return fmt.Errorf("daemon.debounce must be positive, got %v", c.Daemon.Debounce)
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port out of range: %d", c.Relay.Port)
	}
	return nil
}

// Strategy returns the parsed default resolution strategy.
func (c *Config) Strategy() resolver.Strategy {
	s, err := resolver.ParseStrategy(c.Sync.Strategy)
	if err != nil {
		return resolver.StrategyAuto
	}
	return s
}

// defaultYAML is the starter config written by `satchel init`.
const defaultYAML = `# satchel configuration
#
# Values here are overridden by SATCHEL_* environment variables.

store:
  path: .satchel/satchel.db
  # quota_bytes: 524288000

backend:
  # type: libsql
  # url: libsql://satchel-yourorg.turso.io
  # auth_token: ""

sync:
  strategy: auto

daemon:
  spool_dir: .satchel/spool
  sync_interval: 5m
  debounce: 2s

relay:
  port: 8080

log:
  # file: .satchel/satchel.log
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28
`

// WriteDefault writes the starter satchel.yaml into dir. Fails if the
// file already exists.
func WriteDefault(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, "satchel.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config already exists at %s", path)
	}

	if err := os.WriteFile(path, []byte(defaultYAML), 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}
