package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerfedge/scenecache/internal/cache"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Layers, 2)
	assert.Equal(t, "memory", cfg.Layers[0].Name)
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512MB", 512 << 20},
		{"2GB", 2 << 30},
		{"1.5KB", 1536},
		{"64kb", 64 << 10},
		{"1TB", 1 << 40},
		{"1024", 1024},
		{"100B", 100},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "MB", "ten", "-5MB"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `
global:
  log_level: DEBUG
  cleanup_interval: 30s
layers:
  - name: gpu
    max_size: 64MB
    max_entries: 1000
    eviction_policy: adaptive
  - name: disk
    max_size: 1GB
    eviction_policy: lru
    persist_to_disk: true
persistence:
  directory: /tmp/scenecache-test
streamer:
  base_url: https://scenes.example.com
  cache_size_mb: 128
  preload_distance: 40
  predictive_prefetch_enabled: true
  rate_limit: 10MB
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Global.CleanupInterval)
	require.Len(t, cfg.Layers, 2)
	assert.Equal(t, "gpu", cfg.Layers[0].Name)
	assert.Equal(t, "adaptive", cfg.Layers[0].EvictionPolicy)
	assert.True(t, cfg.Layers[1].PersistToDisk)
	assert.Equal(t, "https://scenes.example.com", cfg.Streamer.BaseURL)
	assert.Equal(t, 128, cfg.Streamer.CacheSizeMB)
	assert.Equal(t, float64(40), cfg.Streamer.PreloadDistance)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := NewDefault()
	cfg.Streamer.BaseURL = "http://localhost:8000"
	require.NoError(t, cfg.SaveToFile(path))

	loaded := &Configuration{}
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg.Streamer.BaseURL, loaded.Streamer.BaseURL)
	assert.Equal(t, cfg.Layers, loaded.Layers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCENECACHE_LOG_LEVEL", "WARN")
	t.Setenv("SCENECACHE_CACHE_SIZE_MB", "64")
	t.Setenv("SCENECACHE_PREDICTIVE_PREFETCH", "false")

	cfg := NewDefault()
	cfg.LoadFromEnv()
	assert.Equal(t, "WARN", cfg.Global.LogLevel)
	assert.Equal(t, 64, cfg.Streamer.CacheSizeMB)
	assert.False(t, cfg.Streamer.PredictivePrefetchEnabled)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"no layers", func(c *Configuration) { c.Layers = nil }},
		{"unnamed layer", func(c *Configuration) { c.Layers[0].Name = "" }},
		{"duplicate names", func(c *Configuration) { c.Layers[1].Name = c.Layers[0].Name }},
		{"bad policy", func(c *Configuration) { c.Layers[0].EvictionPolicy = "mru" }},
		{"bad size", func(c *Configuration) { c.Layers[0].MaxSize = "lots" }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }},
		{"bad rate limit", func(c *Configuration) { c.Streamer.RateLimit = "fast" }},
		{"s3 without bucket", func(c *Configuration) { c.Persistence.S3.Enabled = true }},
		{"persist without store", func(c *Configuration) { c.Persistence.Directory = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBuildRuntime(t *testing.T) {
	cfg := NewDefault()
	cfg.Persistence.Directory = t.TempDir()
	cfg.Streamer.BaseURL = "http://localhost:8000"

	rt, err := cfg.Build(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Cache)
	require.NotNil(t, rt.Streamer)
	require.Len(t, rt.Cache.Layers(), 2)
	assert.Equal(t, "memory", rt.Cache.Layers()[0].Name())
	assert.Equal(t, int64(256<<20), rt.Cache.Layers()[0].MaxSizeBytes())

	// The assembled cache works end to end.
	require.NoError(t, rt.Cache.Set("weights/coarse", []byte("w"), cache.TieredSetOptions{}))
	v, ok := rt.Cache.Get("weights/coarse")
	require.True(t, ok)
	assert.Equal(t, []byte("w"), v)
}

func TestBuildWithoutStreamer(t *testing.T) {
	cfg := NewDefault()
	cfg.Persistence.Directory = t.TempDir()
	cfg.Streamer.BaseURL = ""

	rt, err := cfg.Build(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Nil(t, rt.Streamer)
}
