package types

import (
	"time"
)

// CacheStats represents performance statistics for a single cache layer.
type CacheStats struct {
	Name        string  `json:"name,omitempty"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// TieredStats aggregates statistics across all layers of a tiered cache.
// Hits and Misses count client-visible requests observed at the tiered
// boundary; internal promotion writes are not included.
type TieredStats struct {
	Hits       uint64       `json:"hits"`
	Misses     uint64       `json:"misses"`
	HitRate    float64      `json:"hit_rate"`
	MissRate   float64      `json:"miss_rate"`
	LayerStats []CacheStats `json:"layer_stats"`
}

// StreamingStats reports the current state of the chunk streamer.
type StreamingStats struct {
	CachedChunks    int    `json:"cached_chunks"`
	CacheSizeBytes  int64  `json:"cache_size_bytes"`
	InFlight        int    `json:"in_flight"`
	Downloads       uint64 `json:"downloads"`
	DownloadErrors  uint64 `json:"download_errors"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	ChunksEvicted   uint64 `json:"chunks_evicted"`
}

// EvictionPolicy identifies one of the supported cache eviction policies.
type EvictionPolicy string

const (
	EvictionLRU      EvictionPolicy = "lru"
	EvictionLFU      EvictionPolicy = "lfu"
	EvictionFIFO     EvictionPolicy = "fifo"
	EvictionAdaptive EvictionPolicy = "adaptive"
)

// Valid reports whether p names a supported eviction policy.
func (p EvictionPolicy) Valid() bool {
	switch p {
	case EvictionLRU, EvictionLFU, EvictionFIFO, EvictionAdaptive:
		return true
	}
	return false
}

// SetOptions carries per-entry options for cache writes.
type SetOptions struct {
	// TTL overrides the layer's default TTL for this entry. Zero means
	// use the layer default; negative disables expiry for this entry.
	TTL time.Duration

	// Priority is a caller-settable rank carried on the entry. The core
	// eviction policies do not consult it; collaborators that order
	// entries (such as the chunk streamer's distance sweep) do.
	Priority float64
}

// DownloadState tracks the lifecycle of a streamed chunk.
type DownloadState int32

const (
	DownloadAbsent DownloadState = iota
	DownloadInFlight
	DownloadCached
	DownloadFailed
)

// String returns the lowercase name of the download state.
func (s DownloadState) String() string {
	switch s {
	case DownloadAbsent:
		return "absent"
	case DownloadInFlight:
		return "in_flight"
	case DownloadCached:
		return "cached"
	case DownloadFailed:
		return "failed"
	}
	return "unknown"
}
