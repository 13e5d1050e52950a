// Package config handles configuration loading for the atlas approximation
// server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server           ServerConfig                     `yaml:"server"`
	Log              LogConfig                        `yaml:"log"`
	Atlas            AtlasConfig                      `yaml:"atlas"`
	Cache            CacheConfig                      `yaml:"cache"`
	Limits           LimitsConfig                     `yaml:"limits"`
	MeasurementTypes map[string]MeasurementTypeConfig `yaml:"measurement_types"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port                int      `yaml:"port"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
	CORSOrigins         []string `yaml:"cors_origins"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AtlasConfig locates the organism containers.
type AtlasConfig struct {
	// Backend is "local" or "minio".
	Backend string `yaml:"backend"`
	// Path is the directory holding <organism>.zarr for the local backend.
	Path string `yaml:"path"`
	// Embeddings names the protein embedding container.
	Embeddings string `yaml:"embeddings"`
	// ReferenceDB is the sqlite file with surface features and
	// interactions. Empty disables those operations.
	ReferenceDB string      `yaml:"reference_db"`
	Minio       MinioConfig `yaml:"minio"`
}

// MinioConfig contains S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	Bucket            string  `yaml:"bucket"`
	Prefix            string  `yaml:"prefix"`
	AccessKey         string  `yaml:"access_key"`
	SecretKey         string  `yaml:"secret_key"`
	UseSSL            bool    `yaml:"use_ssl"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ChunkCacheMB    int `yaml:"chunk_cache_mb"`
	ChunkTTLMinutes int `yaml:"chunk_ttl_minutes"`
	QueryCacheSize  int `yaml:"query_cache_size"`
}

// LimitsConfig bounds request sizes and read fan-out.
type LimitsConfig struct {
	MaxFeatures             int `yaml:"max_features"`
	MaxFeaturesNeighborhood int `yaml:"max_features_neighborhood"`
	MaxConcurrentReads      int `yaml:"max_concurrent_reads"`
}

// MeasurementTypeConfig describes one measurement type.
type MeasurementTypeConfig struct {
	Unit string `yaml:"unit"`
	// FractionIsAverage serves the average matrix for fraction queries.
	FractionIsAverage bool `yaml:"fraction_is_average"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		cfg := DefaultConfig()
		applyEnv(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 60,
			IdleTimeoutSeconds:  60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Atlas: AtlasConfig{
			Backend:    "local",
			Path:       "./data/atlas",
			Embeddings: "protein_embeddings",
		},
		Cache: CacheConfig{
			ChunkCacheMB:    256,
			ChunkTTLMinutes: 60,
			QueryCacheSize:  1000,
		},
		Limits: LimitsConfig{
			MaxFeatures:             50,
			MaxFeaturesNeighborhood: 100,
			MaxConcurrentReads:      8,
		},
		MeasurementTypes: map[string]MeasurementTypeConfig{
			"gene_expression":         {Unit: "cptt"},
			"chromatin_accessibility": {Unit: "", FractionIsAverage: true},
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = defaults.Server.ReadTimeoutSeconds
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = defaults.Server.WriteTimeoutSeconds
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = defaults.Server.IdleTimeoutSeconds
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Atlas.Backend == "" {
		cfg.Atlas.Backend = defaults.Atlas.Backend
	}
	if cfg.Atlas.Path == "" {
		cfg.Atlas.Path = defaults.Atlas.Path
	}
	if cfg.Atlas.Embeddings == "" {
		cfg.Atlas.Embeddings = defaults.Atlas.Embeddings
	}
	if cfg.Cache.ChunkTTLMinutes == 0 {
		cfg.Cache.ChunkTTLMinutes = defaults.Cache.ChunkTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Limits.MaxFeatures == 0 {
		cfg.Limits.MaxFeatures = defaults.Limits.MaxFeatures
	}
	if cfg.Limits.MaxFeaturesNeighborhood == 0 {
		cfg.Limits.MaxFeaturesNeighborhood = defaults.Limits.MaxFeaturesNeighborhood
	}
	if cfg.Limits.MaxConcurrentReads == 0 {
		cfg.Limits.MaxConcurrentReads = defaults.Limits.MaxConcurrentReads
	}
	if cfg.MeasurementTypes == nil {
		cfg.MeasurementTypes = defaults.MeasurementTypes
	}
}

// applyEnv lets deployments keep credentials out of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ATLASAPPROX_ATLAS_PATH"); v != "" {
		cfg.Atlas.Path = v
	}
	if v := os.Getenv("ATLASAPPROX_MINIO_ACCESS_KEY"); v != "" {
		cfg.Atlas.Minio.AccessKey = v
	}
	if v := os.Getenv("ATLASAPPROX_MINIO_SECRET_KEY"); v != "" {
		cfg.Atlas.Minio.SecretKey = v
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Atlas.Backend {
	case "local":
	case "minio":
		if c.Atlas.Minio.Endpoint == "" || c.Atlas.Minio.Bucket == "" {
			return fmt.Errorf("atlas.minio.endpoint and atlas.minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown atlas.backend %q (want local or minio)", c.Atlas.Backend)
	}
	if c.Limits.MaxFeatures < 0 || c.Limits.MaxFeaturesNeighborhood < 0 || c.Limits.MaxConcurrentReads < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}
