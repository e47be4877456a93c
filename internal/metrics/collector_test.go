package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerfedge/scenecache/pkg/types"
)

type fakeCacheSource struct {
	stats types.TieredStats
}

func (f *fakeCacheSource) Stats() types.TieredStats { return f.stats }

type fakeStreamSource struct {
	stats types.StreamingStats
}

func (f *fakeStreamSource) Stats() types.StreamingStats { return f.stats }

func TestCollectorCacheMetrics(t *testing.T) {
	src := &fakeCacheSource{stats: types.TieredStats{
		Hits:   10,
		Misses: 4,
		LayerStats: []types.CacheStats{
			{Name: "memory", Hits: 8, Misses: 6, Evictions: 2, Entries: 3, Size: 300, Utilization: 0.3},
		},
	}}
	c := NewCollector(Config{Enabled: true}, src, nil)

	c.Update()
	assert.Equal(t, 10.0, testutil.ToFloat64(c.requestCounter.WithLabelValues("hit")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.requestCounter.WithLabelValues("miss")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.layerEvents.WithLabelValues("memory", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.layerEvents.WithLabelValues("memory", "eviction")))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.layerBytes.WithLabelValues("memory")))

	// Counters advance by delta between polls; gauges track the snapshot.
	src.stats.Hits = 15
	src.stats.LayerStats[0].Size = 100
	c.Update()
	assert.Equal(t, 15.0, testutil.ToFloat64(c.requestCounter.WithLabelValues("hit")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.layerBytes.WithLabelValues("memory")))
}

func TestCollectorStreamMetrics(t *testing.T) {
	src := &fakeStreamSource{stats: types.StreamingStats{
		CachedChunks:    5,
		CacheSizeBytes:  5000,
		InFlight:        2,
		Downloads:       7,
		DownloadErrors:  1,
		BytesDownloaded: 7000,
		ChunksEvicted:   3,
	}}
	c := NewCollector(Config{Enabled: true}, nil, src)

	c.Update()
	assert.Equal(t, 5.0, testutil.ToFloat64(c.chunksCached))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.downloadCounter.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.downloadCounter.WithLabelValues("error")))
	assert.Equal(t, 7000.0, testutil.ToFloat64(c.bytesDownloaded))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.chunksEvicted))
}

func TestCollectorRegistryGathers(t *testing.T) {
	src := &fakeCacheSource{stats: types.TieredStats{Hits: 1}}
	c := NewCollector(Config{Enabled: true}, src, nil)
	c.Update()

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCounterDeltaNeverNegative(t *testing.T) {
	assert.Equal(t, 0.0, counterDelta(3, 5))
	assert.Equal(t, 2.0, counterDelta(5, 3))
}
