// Package config loads YAML configuration files. ${VAR} references are
// expanded from the environment before parsing.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration types that can check themselves.
type Validator interface {
	Validate() error
}

// Load reads filename into target, which should already hold defaults.
// Keys missing from the file keep their default values.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Parse(data, target); err != nil {
		return fmt.Errorf("config file %s: %w", filename, err)
	}
	return nil
}

// LoadOptional behaves like Load, but a missing file leaves target at its
// defaults. The result is validated either way.
func LoadOptional[T any](filename string, target *T) (found bool, err error) {
	err = Load(filename, target)
	if errors.Is(err, os.ErrNotExist) {
		return false, validate(target)
	}
	return err == nil, err
}

// Parse expands environment references in data, decodes it into target and
// validates the result.
func Parse[T any](data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}
	return validate(target)
}

func validate[T any](target *T) error {
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
