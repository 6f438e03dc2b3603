// Package config loads the application configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantsignal/recengine/internal/infrastructure/db"
	"github.com/quantsignal/recengine/internal/lifecycle"
	"github.com/quantsignal/recengine/internal/provider"
)

// Config is the full application configuration.
type Config struct {
	DB       db.Config        `yaml:"db"`
	Engine   lifecycle.Config `yaml:"engine"`
	Provider provider.Config  `yaml:"provider"`
	Metrics  MetricsConfig    `yaml:"metrics"`
	LogLevel string           `yaml:"log_level"`
}

// MetricsConfig configures the prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when a section is omitted.
func Default() Config {
	return Config{
		DB:       db.DefaultConfig(),
		Engine:   lifecycle.DefaultConfig(),
		Provider: provider.DefaultConfig(),
		Metrics:  MetricsConfig{Addr: ":9109"},
		LogLevel: "info",
	}
}

// Load reads and validates a YAML config file, starting from defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
