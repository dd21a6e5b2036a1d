// Package config provides configuration loading and validation for the settlement pricer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultHTTPAddr          = ":8080"
	DefaultMetricsAddr       = ":9091"
	DefaultFreshnessWindow   = 15 * time.Minute
	DefaultReferenceDecimals = 18
	DefaultMinPeriod         = 10 * time.Minute
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${ENV} references and applying defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = DefaultHTTPAddr
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}

	// Aggregation defaults
	if cfg.Aggregation.FreshnessWindow.ToDuration() == 0 {
		cfg.Aggregation.FreshnessWindow = Duration(DefaultFreshnessWindow)
	}
	if cfg.Aggregation.EqualizeMode == "" {
		cfg.Aggregation.EqualizeMode = "uniform"
	}

	for i := range cfg.TWAP.Pools {
		if cfg.TWAP.Pools[i].MinPeriod.ToDuration() == 0 {
			cfg.TWAP.Pools[i].MinPeriod = Duration(DefaultMinPeriod)
		}
		if cfg.TWAP.Pools[i].Decimals == 0 {
			cfg.TWAP.Pools[i].Decimals = DefaultReferenceDecimals
		}
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}
