package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete DittoVFS configuration.
//
// This structure captures all configurable aspects of a cache instance:
//   - Logging configuration
//   - Cache sizing and strictness
//   - Diagnostics throttling
//   - Record store (peer) selection and configuration (store-specific)
//   - Mount definitions, each backed by a file system driver
//   - Metrics exposure
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each record store defines its own configuration type. The Store section
// contains type-specific maps (store.memory, store.badger) and only the one
// matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Cache sizes the in-memory structures
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Diagnostics throttles repeated warnings
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`

	// Store specifies the record store type and type-specific configuration
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Mounts defines the roots opened at startup
	Mounts []MountConfig `mapstructure:"mounts" yaml:"mounts" validate:"dive"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// CacheConfig sizes the cache.
type CacheConfig struct {
	// NameCacheSize bounds the name table caches
	NameCacheSize int `mapstructure:"name_cache_size" yaml:"name_cache_size" validate:"gte=0"`

	// InternerCapacity is the number of user-data maps remembered
	InternerCapacity int `mapstructure:"interner_capacity" yaml:"interner_capacity" validate:"gte=0"`

	// UserDataInternMaxEntries is the largest user-data map that is interned
	UserDataInternMaxEntries int `mapstructure:"user_data_intern_max_entries" yaml:"user_data_intern_max_entries" validate:"gte=0"`

	// StrictChecks verifies directory invariants after every mutation
	StrictChecks bool `mapstructure:"strict_checks" yaml:"strict_checks"`
}

// DiagnosticsConfig throttles duplicate-name warnings.
type DiagnosticsConfig struct {
	// DuplicateLogRate is the sustained number of warnings per second.
	// Zero logs every duplicate.
	DuplicateLogRate float64 `mapstructure:"duplicate_log_rate" yaml:"duplicate_log_rate" validate:"gte=0"`

	// DuplicateLogBurst is the number of warnings allowed at once
	DuplicateLogBurst int `mapstructure:"duplicate_log_burst" yaml:"duplicate_log_burst" validate:"gte=0"`
}

// StoreConfig specifies record store configuration.
//
// The Type field determines which peer implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which record store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// MountConfig defines a single mount.
type MountConfig struct {
	// Path is the mount path (e.g., "/workspace")
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`

	// Driver selects the file system behind the mount
	// Valid values: os, memory
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=os memory"`

	// Root is the directory exposed by an os driver
	Root string `mapstructure:"root" yaml:"root"`

	// CaseSensitive is the driver's default case sensitivity (default: true)
	CaseSensitive *bool `mapstructure:"case_sensitive" yaml:"case_sensitive"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	// Enabled starts the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOVFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"cache.name_cache_size", "cache.strict_checks",
		"store.type", "metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittovfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittovfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
