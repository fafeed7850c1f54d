package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here. Validation
// accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Mounts) == 0 {
		return fmt.Errorf("mounts: at least one mount must be configured")
	}

	paths := make(map[string]bool)
	for i, m := range cfg.Mounts {
		if paths[m.Path] {
			return fmt.Errorf("mounts[%d]: duplicate mount path %q", i, m.Path)
		}
		paths[m.Path] = true

		if m.Driver == "os" && m.Root == "" {
			return fmt.Errorf("mounts[%d]: root is required for the os driver", i)
		}
	}

	if cfg.Store.Type == "badger" {
		if p, _ := cfg.Store.Badger["db_path"].(string); p == "" {
			if inMemory, _ := cfg.Store.Badger["in_memory"].(bool); !inMemory {
				return fmt.Errorf("store.badger: db_path is required unless in_memory is set")
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
