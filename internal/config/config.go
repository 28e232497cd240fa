// Package config loads and validates the YAML configuration file for the
// racegate binary.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level racegate configuration.
type Config struct {
	MQTT       MQTTConfig `yaml:"mqtt"`
	DefaultLineX float64  `yaml:"default_line_x"`
	DebugExportDir string `yaml:"debug_export_dir"`
	LogLevel   string     `yaml:"log_level"`
	HealthAddr string     `yaml:"health_addr"`
}

// MQTTConfig holds the broker address used by internal/transport's MQTT
// implementation.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// Load reads and parses a YAML configuration file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}

	return &cfg, nil
}
