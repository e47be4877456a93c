package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nerfedge/scenecache/internal/cache"
	"github.com/nerfedge/scenecache/internal/cache/persist"
	"github.com/nerfedge/scenecache/internal/executor"
	"github.com/nerfedge/scenecache/internal/stream"
	"github.com/nerfedge/scenecache/pkg/types"
)

// Runtime bundles the components materialized from a Configuration: the
// tiered cache, the chunk streamer when a content URL is configured, and
// the shared background executor and backing store behind them.
type Runtime struct {
	Cache    *cache.Tiered
	Streamer *stream.Streamer

	exec  *executor.Executor
	store *persist.DiskStore
}

// Build validates the configuration and assembles the runtime. The context
// is used only for credential resolution when the S3 store is enabled.
func (c *Configuration) Build(ctx context.Context, logger *zap.Logger) (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := c.Global.MaxBackgroundWorkers
	if workers <= 0 {
		workers = 8
	}
	rt := &Runtime{exec: executor.New(int64(workers))}

	store, err := c.buildStore(ctx, logger, rt)
	if err != nil {
		rt.exec.Stop()
		return nil, err
	}

	layers := make([]*cache.Layer, 0, len(c.Layers))
	for _, lc := range c.Layers {
		size := int64(0)
		if lc.MaxSize != "" {
			size, _ = ParseSize(lc.MaxSize) // validated above
		}
		opts := []cache.LayerOption{cache.WithLogger(logger.Named(lc.Name))}
		if lc.PersistToDisk && store != nil {
			opts = append(opts, cache.WithPersistentStore(store, rt.exec))
		}
		layers = append(layers, cache.NewLayer(cache.LayerConfig{
			Name:               lc.Name,
			MaxSizeBytes:       size,
			MaxEntries:         lc.MaxEntries,
			TTL:                lc.TTL,
			Policy:             types.EvictionPolicy(lc.EvictionPolicy),
			CompressionEnabled: lc.CompressionEnabled,
		}, opts...))
	}
	rt.Cache = cache.NewTiered(layers, rt.exec,
		cache.WithTieredLogger(logger.Named("tiered")),
		cache.WithCleanupInterval(c.Global.CleanupInterval))

	if c.Streamer.BaseURL != "" {
		rateLimit := 0
		if c.Streamer.RateLimit != "" {
			n, _ := ParseSize(c.Streamer.RateLimit) // validated above
			rateLimit = int(n)
		}
		rt.Streamer = stream.NewStreamer(stream.StreamerConfig{
			BaseURL:                   c.Streamer.BaseURL,
			CacheSizeMB:               c.Streamer.CacheSizeMB,
			MaxConcurrentDownloads:    c.Streamer.MaxConcurrentDownloads,
			PreloadDistance:           c.Streamer.PreloadDistance,
			PredictiveDistance:        c.Streamer.PredictiveDistance,
			LookAheadSeconds:          c.Streamer.LookAheadSeconds,
			PredictivePrefetchEnabled: c.Streamer.PredictivePrefetchEnabled,
			ChunkSize:                 c.Streamer.ChunkSize,
			DistanceDecay:             c.Streamer.DistanceDecay,
			MaxLOD:                    c.Streamer.MaxLOD,
			LODStep:                   c.Streamer.LODStep,
			LODBias:                   c.Streamer.LODBias,
			SweepInterval:             c.Streamer.SweepInterval,
			RateLimitBytesPerSec:      rateLimit,
		}, stream.NewHTTPTransport(c.Streamer.BaseURL, nil),
			stream.WithLogger(logger.Named("streamer")))
	}

	return rt, nil
}

// buildStore materializes the persistent store shared by every layer with
// persist_to_disk: the local disk store when a directory is configured,
// else the S3 store.
func (c *Configuration) buildStore(ctx context.Context, logger *zap.Logger, rt *Runtime) (types.PersistentStore, error) {
	needed := false
	for _, lc := range c.Layers {
		if lc.PersistToDisk {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	if c.Persistence.Directory != "" {
		ds, err := persist.NewDiskStore(persist.DiskStoreConfig{
			Directory:   c.Persistence.Directory,
			Compression: c.Persistence.Compression,
			IndexFile:   c.Persistence.IndexFile,
		}, logger.Named("persist"))
		if err != nil {
			return nil, fmt.Errorf("failed to open disk store: %w", err)
		}
		rt.store = ds
		return ds, nil
	}

	s3s, err := persist.NewS3StoreFromConfig(ctx, c.Persistence.S3.Bucket, c.Persistence.S3.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to build S3 store: %w", err)
	}
	return s3s, nil
}

// Start launches the periodic background loops: the tiered TTL sweep and
// the streamer's scheduler.
func (r *Runtime) Start(ctx context.Context) {
	r.Cache.Start(ctx)
	if r.Streamer != nil {
		r.Streamer.Start(ctx)
	}
}

// Close stops background work and flushes the disk store index.
func (r *Runtime) Close() error {
	if r.Streamer != nil {
		r.Streamer.Stop()
	}
	r.Cache.Stop()
	r.exec.Stop()
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}
