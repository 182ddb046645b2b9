// Package config loads and validates Scriptorium configuration from YAML
// files and SCRIPTORIUM_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scriptorium/scriptorium/internal/authority"
)

// ConfigFileName is the per-library configuration file.
const ConfigFileName = "scriptorium.yaml"

// Config is the complete Scriptorium configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Backends BackendsConfig `yaml:"backends" json:"backends"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`

	// Tiers maps collection names to their configured authority tier.
	// Re-tiering at runtime is a cache-invalidation event handled by the
	// retier watcher, not engine state.
	Tiers map[string]int `yaml:"tiers" json:"tiers"`
}

// PathsConfig locates the on-disk indexes and metadata database.
type PathsConfig struct {
	// DataDir is the root directory for all index files.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// TierFile is the collection tier configuration watched for live
	// re-tiering. Empty disables the watcher.
	TierFile string `yaml:"tier_file" json:"tier_file"`
}

// SearchConfig tunes the retrieval engine.
// Weights are configurable via:
//  1. scriptorium.yaml - per-library tuning
//  2. Env vars (SCRIPTORIUM_LEXICAL_WEIGHT, SCRIPTORIUM_VECTOR_WEIGHT) - highest priority
type SearchConfig struct {
	// LexicalWeight and VectorWeight are the default fusion weights.
	// They must sum to a positive value; the engine rescales them.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`

	// DefaultLimit and MaxLimit bound the result window.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// OverfetchFactor multiplies the requested window when querying the
	// backends.
	OverfetchFactor int `yaml:"overfetch_factor" json:"overfetch_factor"`

	// BackendTimeout bounds each retriever call; SearchTimeout bounds a
	// full pipeline execution.
	BackendTimeout time.Duration `yaml:"backend_timeout" json:"backend_timeout"`
	SearchTimeout  time.Duration `yaml:"search_timeout" json:"search_timeout"`
}

// CacheConfig sizes the query cache.
type CacheConfig struct {
	Capacity int           `yaml:"capacity" json:"capacity"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// BackendsConfig configures the retrieval backends.
type BackendsConfig struct {
	// Dimensions is the embedding dimension of the vector index.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// HNSWM and HNSWEfSearch tune the vector graph.
	HNSWM        int `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`

	// CircuitMaxFailures and CircuitResetTimeout tune the per-backend
	// circuit breakers.
	CircuitMaxFailures  int           `yaml:"circuit_max_failures" json:"circuit_max_failures"`
	CircuitResetTimeout time.Duration `yaml:"circuit_reset_timeout" json:"circuit_reset_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format" json:"format"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			LexicalWeight:   0.6,
			VectorWeight:    0.4,
			DefaultLimit:    10,
			MaxLimit:        100,
			OverfetchFactor: 4,
			BackendTimeout:  2 * time.Second,
			SearchTimeout:   5 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 512,
			TTL:      60 * time.Second,
		},
		Backends: BackendsConfig{
			Dimensions:          384,
			HNSWM:               16,
			HNSWEfSearch:        48,
			CircuitMaxFailures:  5,
			CircuitResetTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tiers: map[string]int{},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scriptorium"
	}
	return filepath.Join(home, ".scriptorium")
}

// Load builds the effective configuration for a library directory:
// defaults, then scriptorium.yaml when present, then SCRIPTORIUM_* env
// overrides.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies SCRIPTORIUM_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCRIPTORIUM_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("SCRIPTORIUM_TIER_FILE"); v != "" {
		c.Paths.TierFile = v
	}
	if v := os.Getenv("SCRIPTORIUM_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.LexicalWeight = f
		}
	}
	if v := os.Getenv("SCRIPTORIUM_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.VectorWeight = f
		}
	}
	if v := os.Getenv("SCRIPTORIUM_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("SCRIPTORIUM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCRIPTORIUM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for semantic errors.
func (c *Config) Validate() error {
	if c.Search.LexicalWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative, got %g/%g",
			c.Search.LexicalWeight, c.Search.VectorWeight)
	}
	if c.Search.LexicalWeight+c.Search.VectorWeight <= 0 {
		return fmt.Errorf("fusion weights must sum to a positive value")
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("max_limit %d below default_limit %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.OverfetchFactor <= 0 {
		return fmt.Errorf("overfetch_factor must be positive, got %d", c.Search.OverfetchFactor)
	}
	if c.Backends.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Backends.Dimensions)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	for name, tier := range c.Tiers {
		if !authority.Tier(tier).Valid() {
			return fmt.Errorf("collection %q: tier %d outside valid range %d-%d",
				name, tier, authority.MinTier, authority.MaxTier)
		}
	}

	return nil
}

// CollectionTiers returns the configured tiers as authority values.
func (c *Config) CollectionTiers() map[string]authority.Tier {
	tiers := make(map[string]authority.Tier, len(c.Tiers))
	for name, tier := range c.Tiers {
		tiers[name] = authority.Tier(tier)
	}
	return tiers
}

// WriteYAML persists the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
