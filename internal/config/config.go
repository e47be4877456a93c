// Package config loads, validates and materializes the scenecache
// configuration from YAML files and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/nerfedge/scenecache/pkg/types"
)

// Configuration represents the complete scenecache configuration.
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Layers      []LayerConfig     `yaml:"layers"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Streamer    StreamerConfig    `yaml:"streamer"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// GlobalConfig represents process-wide settings.
type GlobalConfig struct {
	LogLevel             string        `yaml:"log_level"`
	MaxBackgroundWorkers int           `yaml:"max_background_workers"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// LayerConfig represents one cache tier, fastest first in the Layers list.
type LayerConfig struct {
	Name               string        `yaml:"name"`
	MaxSize            string        `yaml:"max_size"`
	MaxEntries         int           `yaml:"max_entries"`
	TTL                time.Duration `yaml:"ttl"`
	EvictionPolicy     string        `yaml:"eviction_policy"`
	CompressionEnabled bool          `yaml:"compression_enabled"`
	PersistToDisk      bool          `yaml:"persist_to_disk"`
}

// PersistenceConfig represents the backing stores available to layers
// configured with persist_to_disk.
type PersistenceConfig struct {
	Directory   string   `yaml:"directory"`
	Compression bool     `yaml:"compression"`
	IndexFile   string   `yaml:"index_file"`
	S3          S3Config `yaml:"s3"`
}

// S3Config represents the optional shared S3 store.
type S3Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// StreamerConfig represents the chunk streamer settings.
type StreamerConfig struct {
	BaseURL                   string        `yaml:"base_url"`
	CacheSizeMB               int           `yaml:"cache_size_mb"`
	MaxConcurrentDownloads    int           `yaml:"max_concurrent_downloads"`
	PreloadDistance           float64       `yaml:"preload_distance"`
	PredictiveDistance        float64       `yaml:"predictive_distance"`
	LookAheadSeconds          float64       `yaml:"look_ahead_seconds"`
	PredictivePrefetchEnabled bool          `yaml:"predictive_prefetch_enabled"`
	ChunkSize                 float64       `yaml:"chunk_size"`
	DistanceDecay             float64       `yaml:"distance_decay"`
	MaxLOD                    int           `yaml:"max_lod"`
	LODStep                   float64       `yaml:"lod_step"`
	LODBias                   int           `yaml:"lod_bias"`
	SweepInterval             time.Duration `yaml:"sweep_interval"`
	RateLimit                 string        `yaml:"rate_limit"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// NewDefault returns a configuration with sensible defaults: a fast
// in-memory adaptive tier over a larger LRU tier backed by disk.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:             "INFO",
			MaxBackgroundWorkers: 8,
			CleanupInterval:      time.Minute,
		},
		Layers: []LayerConfig{
			{
				Name:           "memory",
				MaxSize:        "256MB",
				MaxEntries:     50000,
				TTL:            30 * time.Minute,
				EvictionPolicy: "adaptive",
			},
			{
				Name:               "disk",
				MaxSize:            "2GB",
				MaxEntries:         200000,
				TTL:                24 * time.Hour,
				EvictionPolicy:     "lru",
				CompressionEnabled: true,
				PersistToDisk:      true,
			},
		},
		Persistence: PersistenceConfig{
			Directory:   "/var/cache/scenecache",
			Compression: true,
		},
		Streamer: StreamerConfig{
			CacheSizeMB:               512,
			MaxConcurrentDownloads:    4,
			PreloadDistance:           50,
			LookAheadSeconds:          2,
			PredictivePrefetchEnabled: true,
			ChunkSize:                 10,
			DistanceDecay:             0.1,
			MaxLOD:                    3,
			LODStep:                   20,
			SweepInterval:             5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies environment variable overrides.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("SCENECACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SCENECACHE_MAX_BACKGROUND_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Global.MaxBackgroundWorkers = n
		}
	}
	if val := os.Getenv("SCENECACHE_CLEANUP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Global.CleanupInterval = d
		}
	}
	if val := os.Getenv("SCENECACHE_PERSIST_DIR"); val != "" {
		c.Persistence.Directory = val
	}
	if val := os.Getenv("SCENECACHE_S3_BUCKET"); val != "" {
		c.Persistence.S3.Enabled = true
		c.Persistence.S3.Bucket = val
	}
	if val := os.Getenv("SCENECACHE_BASE_URL"); val != "" {
		c.Streamer.BaseURL = val
	}
	if val := os.Getenv("SCENECACHE_CACHE_SIZE_MB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Streamer.CacheSizeMB = n
		}
	}
	if val := os.Getenv("SCENECACHE_MAX_CONCURRENT_DOWNLOADS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Streamer.MaxConcurrentDownloads = n
		}
	}
	if val := os.Getenv("SCENECACHE_PREDICTIVE_PREFETCH"); val != "" {
		c.Streamer.PredictivePrefetchEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SCENECACHE_METRICS_LISTEN"); val != "" {
		c.Metrics.Enabled = true
		c.Metrics.Listen = val
	}
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if len(c.Layers) == 0 {
		return fmt.Errorf("at least one cache layer must be configured")
	}

	names := make(map[string]bool, len(c.Layers))
	persisted := false
	for i, layer := range c.Layers {
		if layer.Name == "" {
			return fmt.Errorf("layer %d has no name", i)
		}
		if names[layer.Name] {
			return fmt.Errorf("duplicate layer name %q", layer.Name)
		}
		names[layer.Name] = true

		if layer.EvictionPolicy != "" && !types.EvictionPolicy(layer.EvictionPolicy).Valid() {
			return fmt.Errorf("layer %q: invalid eviction_policy %q", layer.Name, layer.EvictionPolicy)
		}
		if layer.MaxSize != "" {
			if _, err := ParseSize(layer.MaxSize); err != nil {
				return fmt.Errorf("layer %q: %w", layer.Name, err)
			}
		}
		if layer.PersistToDisk {
			persisted = true
		}
	}

	if persisted && c.Persistence.Directory == "" && !c.Persistence.S3.Enabled {
		return fmt.Errorf("persist_to_disk requires persistence.directory or persistence.s3")
	}
	if c.Persistence.S3.Enabled && c.Persistence.S3.Bucket == "" {
		return fmt.Errorf("persistence.s3 requires a bucket")
	}

	if c.Streamer.RateLimit != "" {
		if _, err := ParseSize(c.Streamer.RateLimit); err != nil {
			return fmt.Errorf("streamer rate_limit: %w", err)
		}
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseSize converts a human-readable size string like "512MB" or "2GB"
// into bytes. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	str := strings.TrimSpace(strings.ToUpper(s))
	if str == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(str, "TB"):
		multiplier = 1 << 40
		str = strings.TrimSuffix(str, "TB")
	case strings.HasSuffix(str, "GB"):
		multiplier = 1 << 30
		str = strings.TrimSuffix(str, "GB")
	case strings.HasSuffix(str, "MB"):
		multiplier = 1 << 20
		str = strings.TrimSuffix(str, "MB")
	case strings.HasSuffix(str, "KB"):
		multiplier = 1 << 10
		str = strings.TrimSuffix(str, "KB")
	case strings.HasSuffix(str, "B"):
		str = strings.TrimSuffix(str, "B")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(value * float64(multiplier)), nil
}
