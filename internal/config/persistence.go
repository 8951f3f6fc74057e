// file: internal/config/persistence.go
// version: 2.0.0
// guid: 79a7cace-8e32-437f-b2e9-034ea8a8b19b

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile returns the default config path under home.
func DefaultConfigFile(home string) string {
	return filepath.Join(home, ".video-autoprocessor.yaml")
}

// ReadInConfig reads the configured file into v. A missing default file is
// not an error; a missing explicit file is.
func ReadInConfig(v *viper.Viper, explicit bool) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && !explicit {
			return nil
		}
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// SampleSettings returns the nested default settings map.
func SampleSettings() map[string]any {
	v := viper.New()
	SetDefaults(v)
	return v.AllSettings()
}

// WriteSample writes the default configuration as YAML to path. Existing
// files are left untouched unless overwrite is set.
func WriteSample(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(SampleSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
