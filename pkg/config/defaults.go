package config

import (
	"path/filepath"
	"strings"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/intern"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are filled into the store maps
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyCacheDefaults(&cfg.Cache)
	applyDiagnosticsDefaults(&cfg.Diagnostics)
	applyStoreDefaults(&cfg.Store)

	if len(cfg.Mounts) == 0 {
		cfg.Mounts = []MountConfig{{Path: "/workspace", Driver: "os", Root: "."}}
	}
	applyMountDefaults(cfg.Mounts)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.NameCacheSize == 0 {
		cfg.NameCacheSize = vfs.DefaultNameCacheSize
	}
	if cfg.InternerCapacity == 0 {
		cfg.InternerCapacity = intern.DefaultUserDataCapacity
	}
	if cfg.UserDataInternMaxEntries == 0 {
		cfg.UserDataInternMaxEntries = intern.DefaultUserDataMaxEntries
	}
}

func applyDiagnosticsDefaults(cfg *DiagnosticsConfig) {
	if cfg.DuplicateLogRate == 0 {
		cfg.DuplicateLogRate = 1
	}
	if cfg.DuplicateLogBurst == 0 {
		cfg.DuplicateLogBurst = 10
	}
}

// applyStoreDefaults sets record store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Applied for every type so generated files document them.
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(getConfigDir(), "records")
	}
}

func applyMountDefaults(mounts []MountConfig) {
	for i := range mounts {
		m := &mounts[i]
		if m.Driver == "" {
			m.Driver = "os"
		}
		if m.CaseSensitive == nil {
			sensitive := true
			m.CaseSensitive = &sensitive
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
