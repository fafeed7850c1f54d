package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoVFS Configuration File
#
# Values can be overridden with DITTOVFS_* environment variables,
# e.g. DITTOVFS_LOGGING_LEVEL=DEBUG.
`

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating the
// parent directories.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg section by section, each preceded by
// a comment describing it.
func generateYAMLWithComments(cfg *Config) (string, error) {
	sections := []struct {
		comment string
		key     string
		value   any
	}{
		{"Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, path)", "logging", cfg.Logging},
		{"Cache sizing. strict_checks verifies directory invariants after every mutation", "cache", cfg.Cache},
		{"Duplicate-name warnings per second and burst", "diagnostics", cfg.Diagnostics},
		{"Record store: memory or badger. Only the section matching type is used", "store", cfg.Store},
		{"Mounts: path in the cache, driver (os, memory), root directory for os", "mounts", cfg.Mounts},
		{"Prometheus metrics endpoint", "metrics", cfg.Metrics},
	}

	var b strings.Builder
	b.WriteString(configHeader)
	for _, s := range sections {
		out, err := yaml.Marshal(map[string]any{s.key: s.value})
		if err != nil {
			return "", fmt.Errorf("failed to marshal %s: %w", s.key, err)
		}
		b.WriteString("\n# ")
		b.WriteString(s.comment)
		b.WriteString("\n")
		b.Write(out)
	}
	return b.String(), nil
}
