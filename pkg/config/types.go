package config

import "time"

// Config is the root configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Assets      []AssetConfig     `yaml:"assets"`
	TWAP        TWAPConfig        `yaml:"twap"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig configures the API surfaces
type ServerConfig struct {
	HTTP      HTTPConfig `yaml:"http"`
	WebSocket WSConfig   `yaml:"websocket"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// WSConfig configures the WebSocket server. An empty addr mounts /ws on the HTTP server.
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// StoreConfig selects where quotes, sources and expiry prices live
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory | badger
	Path    string `yaml:"path"`    // badger directory
}

// AggregationConfig configures the weighted aggregator
type AggregationConfig struct {
	FreshnessWindow          Duration `yaml:"freshness_window"`
	WeightDeviationTolerance uint32   `yaml:"weight_deviation_tolerance"` // bp
	PriceDeviationTolerance  uint32   `yaml:"price_deviation_tolerance"`  // bp
	OutlierDetection         bool     `yaml:"outlier_detection"`
	ReferenceDecimals        *uint8   `yaml:"reference_decimals"`
	EqualizeMode             string   `yaml:"equalize_mode"` // uniform | legacy_divide
}

// RefDecimals returns the reference precision for outlier comparison.
func (a AggregationConfig) RefDecimals() uint8 {
	if a.ReferenceDecimals == nil {
		return DefaultReferenceDecimals
	}
	return *a.ReferenceDecimals
}

// AssetConfig seeds the source registry for one asset
type AssetConfig struct {
	Asset   string         `yaml:"asset"`
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig is one seeded reporter
type SourceConfig struct {
	ID       string `yaml:"id"`
	Weight   uint32 `yaml:"weight"`   // bp
	Decimals uint8  `yaml:"decimals"` // precision the reporter scales its values by
}

// TWAPConfig lists the TWAP samplers
type TWAPConfig struct {
	Pools []PoolConfig `yaml:"pools"`
}

// PoolConfig configures one EVM pair sampler
type PoolConfig struct {
	Name            string   `yaml:"name"`
	Asset           string   `yaml:"asset"`
	RPCURL          string   `yaml:"rpc_url"`
	PairAddress     string   `yaml:"pair_address"`
	TokenIndex      int      `yaml:"token_index"`
	Decimals        uint8    `yaml:"decimals"`
	MinPeriod       Duration `yaml:"min_period"`
	TriggerInterval Duration `yaml:"trigger_interval"` // 0 disables the trigger loop
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
