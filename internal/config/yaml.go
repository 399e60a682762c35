package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadYAML overlays the file onto cfg. Keys missing from the file keep
// their current values.
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
