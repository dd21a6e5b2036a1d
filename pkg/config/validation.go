package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const maxBasisPoints = 10000

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateStoreConfig(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := validateAggregationConfig(&cfg.Aggregation); err != nil {
		return fmt.Errorf("aggregation config: %w", err)
	}

	assets := make(map[string]bool, len(cfg.Assets))
	for i, asset := range cfg.Assets {
		key := strings.ToUpper(strings.TrimSpace(asset.Asset))
		if key == "" {
			return fmt.Errorf("asset %d: %w", i, ErrAssetRequired)
		}
		if assets[key] {
			return fmt.Errorf("asset %d: %w: %s", i, ErrDuplicateAsset, asset.Asset)
		}
		assets[key] = true
		if err := validateAssetConfig(&asset); err != nil {
			return fmt.Errorf("asset %d (%s): %w", i, asset.Asset, err)
		}
	}

	pools := make(map[string]bool, len(cfg.TWAP.Pools))
	for i, pool := range cfg.TWAP.Pools {
		if err := validatePoolConfig(&pool); err != nil {
			return fmt.Errorf("twap pool %d (%s): %w", i, pool.Name, err)
		}
		if pools[pool.Name] {
			return fmt.Errorf("twap pool %d: %w: %s", i, ErrDuplicatePool, pool.Name)
		}
		pools[pool.Name] = true
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return ErrTLSConfigIncomplete
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}
	return nil
}

func validateStoreConfig(cfg *StoreConfig) error {
	cfg.Backend = strings.ToLower(cfg.Backend)
	switch cfg.Backend {
	case StoreMemory:
		return nil
	case StoreBadger:
		if cfg.Path == "" {
			return ErrStorePathRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %s (must be '%s' or '%s')", ErrInvalidStoreBackend, cfg.Backend, StoreMemory, StoreBadger)
	}
}

func validateAggregationConfig(cfg *AggregationConfig) error {
	if cfg.FreshnessWindow.ToDuration() <= 0 {
		return ErrInvalidFreshnessWindow
	}
	if cfg.WeightDeviationTolerance > maxBasisPoints {
		return fmt.Errorf("%w: weight_deviation_tolerance %d", ErrInvalidTolerance, cfg.WeightDeviationTolerance)
	}
	if cfg.PriceDeviationTolerance > maxBasisPoints {
		return fmt.Errorf("%w: price_deviation_tolerance %d", ErrInvalidTolerance, cfg.PriceDeviationTolerance)
	}
	mode := strings.ToLower(cfg.EqualizeMode)
	if mode != "uniform" && mode != "legacy_divide" {
		return fmt.Errorf("%w: %s (must be 'uniform' or 'legacy_divide')", ErrInvalidEqualizeMode, cfg.EqualizeMode)
	}
	cfg.EqualizeMode = mode
	return nil
}

func validateAssetConfig(cfg *AssetConfig) error {
	seen := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.ID) == "" {
			return fmt.Errorf("source %d: %w", i, ErrSourceIDRequired)
		}
		if seen[src.ID] {
			return fmt.Errorf("source %d: %w: %s", i, ErrDuplicateSource, src.ID)
		}
		seen[src.ID] = true
		if src.Weight > maxBasisPoints {
			return fmt.Errorf("source %s: %w: %d", src.ID, ErrInvalidWeight, src.Weight)
		}
	}
	return nil
}

func validatePoolConfig(cfg *PoolConfig) error {
	if cfg.Name == "" {
		return ErrPoolNameRequired
	}
	if strings.TrimSpace(cfg.Asset) == "" {
		return ErrAssetRequired
	}
	if cfg.RPCURL == "" {
		return ErrRPCURLRequired
	}
	if cfg.PairAddress == "" {
		return ErrPairAddressRequired
	}
	if cfg.TokenIndex != 0 && cfg.TokenIndex != 1 {
		return fmt.Errorf("%w: %d", ErrInvalidTokenIndex, cfg.TokenIndex)
	}
	if cfg.MinPeriod.ToDuration() < time.Second {
		return fmt.Errorf("%w: %s", ErrInvalidMinPeriod, cfg.MinPeriod.ToDuration())
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	// Validate level
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	// Validate format
	formatValid := strings.ToLower(cfg.Format) == "json" || strings.ToLower(cfg.Format) == "text"
	if !formatValid {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
