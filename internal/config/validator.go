package config

import (
	"fmt"
	"os"
)

const (
	minLineX = 0.1
	maxLineX = 0.9
)

// Validate checks the configuration is well-formed, rejecting missing
// required fields and filling in defaults for everything else.
func Validate(cfg *Config) error {
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if cfg.DefaultLineX == 0 {
		cfg.DefaultLineX = 0.5
	}
	if cfg.DefaultLineX < minLineX || cfg.DefaultLineX > maxLineX {
		return fmt.Errorf("default_line_x must be in [%.1f, %.1f], got %v", minLineX, maxLineX, cfg.DefaultLineX)
	}

	if cfg.DebugExportDir == "" {
		cfg.DebugExportDir = os.TempDir()
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}

	if cfg.HealthAddr == "" {
		cfg.HealthAddr = ":8080"
	}

	return nil
}
