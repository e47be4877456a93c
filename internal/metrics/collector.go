package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nerfedge/scenecache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Listen         string        `yaml:"listen"`
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// CacheSource exposes tiered cache statistics for scraping.
type CacheSource interface {
	Stats() types.TieredStats
}

// StreamerSource exposes streaming statistics for scraping.
type StreamerSource interface {
	Stats() types.StreamingStats
}

// Collector periodically converts cache and streamer stat snapshots into
// Prometheus metrics and serves them over HTTP. Cumulative snapshot
// counters are translated into Prometheus counters by delta since the
// previous poll.
type Collector struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	clock  types.Clock

	cacheSrc  CacheSource
	streamSrc StreamerSource

	registry *prometheus.Registry

	requestCounter *prometheus.CounterVec // result: hit|miss
	layerEvents    *prometheus.CounterVec // layer x event
	layerEntries   *prometheus.GaugeVec
	layerBytes     *prometheus.GaugeVec
	layerUtil      *prometheus.GaugeVec

	chunksCached    prometheus.Gauge
	chunkBytes      prometheus.Gauge
	inFlight        prometheus.Gauge
	downloadCounter *prometheus.CounterVec // result: ok|error
	bytesDownloaded prometheus.Counter
	chunksEvicted   prometheus.Counter

	lastTiered map[string]types.CacheStats
	lastHits   uint64
	lastMisses uint64
	lastStream types.StreamingStats

	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// CollectorOption customizes a collector at construction.
type CollectorOption func(*Collector)

// WithClock injects the time source driving the update loop.
func WithClock(c types.Clock) CollectorOption {
	return func(col *Collector) { col.clock = c }
}

// WithLogger injects the collector's logger.
func WithLogger(lg *zap.Logger) CollectorOption {
	return func(col *Collector) { col.logger = lg }
}

// NewCollector creates a collector over the given sources. Either source
// may be nil, in which case its metrics are not registered.
func NewCollector(cfg Config, cacheSrc CacheSource, streamSrc StreamerSource, opts ...CollectorOption) *Collector {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "scenecache"
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 15 * time.Second
	}

	c := &Collector{
		cfg:        cfg,
		logger:     zap.NewNop(),
		clock:      types.SystemClock(),
		cacheSrc:   cacheSrc,
		streamSrc:  streamSrc,
		registry:   prometheus.NewRegistry(),
		lastTiered: make(map[string]types.CacheStats),
	}
	for _, opt := range opts {
		opt(c)
	}

	ns := cfg.Namespace
	if cacheSrc != nil {
		c.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "requests_total",
			Help: "Client-visible cache requests by result.",
		}, []string{"result"})
		c.layerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "layer_events_total",
			Help: "Per-layer cache events.",
		}, []string{"layer", "event"})
		c.layerEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "layer_entries",
			Help: "Resident entries per layer.",
		}, []string{"layer"})
		c.layerBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "layer_bytes",
			Help: "Occupancy in bytes per layer.",
		}, []string{"layer"})
		c.layerUtil = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "layer_utilization",
			Help: "Occupancy as a fraction of capacity per layer.",
		}, []string{"layer"})
		c.registry.MustRegister(c.requestCounter, c.layerEvents,
			c.layerEntries, c.layerBytes, c.layerUtil)
	}

	if streamSrc != nil {
		c.chunksCached = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "stream", Name: "cached_chunks",
			Help: "Chunks resident in the streaming cache.",
		})
		c.chunkBytes = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "stream", Name: "cache_bytes",
			Help: "Streaming cache occupancy in bytes.",
		})
		c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "stream", Name: "downloads_in_flight",
			Help: "Downloads currently holding a pool slot.",
		})
		c.downloadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stream", Name: "downloads_total",
			Help: "Completed chunk downloads by result.",
		}, []string{"result"})
		c.bytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stream", Name: "downloaded_bytes_total",
			Help: "Total bytes fetched through the chunk transport.",
		})
		c.chunksEvicted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stream", Name: "evicted_chunks_total",
			Help: "Chunks removed by the distance sweep.",
		})
		c.registry.MustRegister(c.chunksCached, c.chunkBytes, c.inFlight,
			c.downloadCounter, c.bytesDownloaded, c.chunksEvicted)
	}

	return c
}

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start serves the metrics endpoint and begins the periodic update loop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, c.Handler())

	c.server = &http.Server{
		Addr:              c.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	tick := c.clock.Tick(c.cfg.UpdateInterval)
	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				c.Update()
			}
		}
	}()
	return nil
}

// Stop shuts down the update loop and the metrics server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Update polls both sources once and folds the snapshots into the
// registered metrics. Exposed for callers that drive their own cadence.
func (c *Collector) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cacheSrc != nil {
		s := c.cacheSrc.Stats()
		c.requestCounter.WithLabelValues("hit").Add(counterDelta(s.Hits, c.lastHits))
		c.requestCounter.WithLabelValues("miss").Add(counterDelta(s.Misses, c.lastMisses))
		c.lastHits, c.lastMisses = s.Hits, s.Misses

		for _, ls := range s.LayerStats {
			last := c.lastTiered[ls.Name]
			c.layerEvents.WithLabelValues(ls.Name, "hit").Add(counterDelta(ls.Hits, last.Hits))
			c.layerEvents.WithLabelValues(ls.Name, "miss").Add(counterDelta(ls.Misses, last.Misses))
			c.layerEvents.WithLabelValues(ls.Name, "eviction").Add(counterDelta(ls.Evictions, last.Evictions))
			c.layerEvents.WithLabelValues(ls.Name, "expiration").Add(counterDelta(ls.Expirations, last.Expirations))
			c.layerEntries.WithLabelValues(ls.Name).Set(float64(ls.Entries))
			c.layerBytes.WithLabelValues(ls.Name).Set(float64(ls.Size))
			c.layerUtil.WithLabelValues(ls.Name).Set(ls.Utilization)
			c.lastTiered[ls.Name] = ls
		}
	}

	if c.streamSrc != nil {
		s := c.streamSrc.Stats()
		c.chunksCached.Set(float64(s.CachedChunks))
		c.chunkBytes.Set(float64(s.CacheSizeBytes))
		c.inFlight.Set(float64(s.InFlight))
		c.downloadCounter.WithLabelValues("ok").Add(counterDelta(s.Downloads, c.lastStream.Downloads))
		c.downloadCounter.WithLabelValues("error").Add(counterDelta(s.DownloadErrors, c.lastStream.DownloadErrors))
		c.bytesDownloaded.Add(counterDelta(uint64(s.BytesDownloaded), uint64(c.lastStream.BytesDownloaded)))
		c.chunksEvicted.Add(counterDelta(s.ChunksEvicted, c.lastStream.ChunksEvicted))
		c.lastStream = s
	}
}

// counterDelta guards against snapshot resets; Prometheus counters must
// never go backwards.
func counterDelta(cur, last uint64) float64 {
	if cur < last {
		return 0
	}
	return float64(cur - last)
}
