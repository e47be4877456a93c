package stream

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nerfedge/scenecache/internal/cache"
	"github.com/nerfedge/scenecache/internal/geom"
	"github.com/nerfedge/scenecache/pkg/types"
)

// StreamerConfig configures the chunk streamer.
type StreamerConfig struct {
	BaseURL                string `yaml:"base_url"`
	CacheSizeMB            int    `yaml:"cache_size_mb"`
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`

	// PreloadDistance is the radius of the immediate prefetch sphere
	// around the viewer. PredictiveDistance is the smaller radius around
	// the extrapolated position; zero defaults to half of PreloadDistance.
	PreloadDistance           float64 `yaml:"preload_distance"`
	PredictiveDistance        float64 `yaml:"predictive_distance"`
	LookAheadSeconds          float64 `yaml:"look_ahead_seconds"`
	PredictivePrefetchEnabled bool    `yaml:"predictive_prefetch_enabled"`

	ChunkSize float64 `yaml:"chunk_size"`

	// DistanceDecay is the k in the distance term 1/(1+distance*k) of the
	// priority score. An empirical tunable, not a calibrated constant.
	DistanceDecay float64 `yaml:"distance_decay"`

	MaxLOD  int     `yaml:"max_lod"`
	LODStep float64 `yaml:"lod_step"`
	LODBias int     `yaml:"lod_bias"`

	// The sweep evicts by descending distance once occupancy crosses
	// SweepHighWater, stopping at SweepLowWater.
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SweepHighWater float64       `yaml:"sweep_high_water"`
	SweepLowWater  float64       `yaml:"sweep_low_water"`

	// RateLimitBytesPerSec paces downloads; zero disables pacing.
	RateLimitBytesPerSec int `yaml:"rate_limit_bytes_per_sec"`
}

func (c *StreamerConfig) applyDefaults() {
	if c.CacheSizeMB <= 0 {
		c.CacheSizeMB = 512
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = 4
	}
	if c.PreloadDistance <= 0 {
		c.PreloadDistance = 50
	}
	if c.PredictiveDistance <= 0 {
		c.PredictiveDistance = c.PreloadDistance / 2
	}
	if c.LookAheadSeconds <= 0 {
		c.LookAheadSeconds = 2
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.DistanceDecay <= 0 {
		c.DistanceDecay = 0.1
	}
	if c.MaxLOD <= 0 {
		c.MaxLOD = 3
	}
	if c.LODStep <= 0 {
		c.LODStep = 20
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.SweepHighWater <= 0 || c.SweepHighWater > 1 {
		c.SweepHighWater = 0.8
	}
	if c.SweepLowWater <= 0 || c.SweepLowWater >= c.SweepHighWater {
		c.SweepLowWater = 0.7
	}
}

// Streamer prefetches scene chunks around a moving viewpoint. Pose updates
// recompute the wanted chunk set; a bounded download pool claims chunks in
// priority order; payloads land in an internal cache layer swept by
// distance when occupancy crosses the high-water mark.
type Streamer struct {
	cfg       StreamerConfig
	transport types.ChunkTransport
	layer     *cache.Layer
	clock     types.Clock
	logger    *zap.Logger
	limiter   *rate.Limiter
	sem       *semaphore.Weighted

	mu       sync.Mutex
	chunks   map[string]*Chunk
	pose     Pose
	velocity geom.Vec3
	tracker  velocityTracker

	downloads       atomic.Uint64
	downloadErrors  atomic.Uint64
	bytesDownloaded atomic.Int64
	chunksEvicted   atomic.Uint64

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// StreamerOption customizes a streamer at construction.
type StreamerOption func(*Streamer)

// WithLogger injects the streamer's logger.
func WithLogger(lg *zap.Logger) StreamerOption {
	return func(s *Streamer) { s.logger = lg }
}

// WithClock injects the time source driving velocity measurement and the
// eviction sweep.
func WithClock(c types.Clock) StreamerOption {
	return func(s *Streamer) { s.clock = c }
}

// NewStreamer creates a streamer fetching chunks through the given
// transport. Zero config fields take documented defaults.
func NewStreamer(cfg StreamerConfig, transport types.ChunkTransport, opts ...StreamerOption) *Streamer {
	cfg.applyDefaults()

	s := &Streamer{
		cfg:       cfg,
		transport: transport,
		clock:     types.SystemClock(),
		logger:    zap.NewNop(),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		chunks:    make(map[string]*Chunk),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimitBytesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitBytesPerSec), cfg.RateLimitBytesPerSec)
	}
	s.layer = cache.NewLayer(cache.LayerConfig{
		Name:         "chunks",
		MaxSizeBytes: int64(cfg.CacheSizeMB) * 1024 * 1024,
	}, cache.WithClock(s.clock), cache.WithLogger(s.logger))
	return s
}

// UpdateViewerState records a new pose, refreshes the smoothed velocity,
// and recomputes the wanted chunk set: every chunk intersecting the
// preload sphere, plus (when predictive prefetch is on and the viewer is
// moving) chunks around the extrapolated position one look-ahead out.
// Chunks that left both sets stop counting as wanted; failed chunks that
// are still wanted become eligible for another attempt.
func (s *Streamer) UpdateViewerState(pose Pose) {
	now := s.clock.Now()
	if l := pose.Direction.Length(); l > 0 {
		pose.Direction = pose.Direction.Scale(1 / l)
	}

	s.mu.Lock()
	s.pose = pose
	s.velocity = s.tracker.Observe(pose.Position, now)

	wanted := make(map[string][3]int)
	for _, coord := range chunksInSphere(pose.Position, s.cfg.PreloadDistance, s.cfg.ChunkSize) {
		wanted[chunkID(coord)] = coord
	}
	if s.cfg.PredictivePrefetchEnabled && s.velocity.Length() > 0 {
		predicted := pose.Position.Add(s.velocity.Scale(s.cfg.LookAheadSeconds))
		for _, coord := range chunksInSphere(predicted, s.cfg.PredictiveDistance, s.cfg.ChunkSize) {
			wanted[chunkID(coord)] = coord
		}
	}

	for id, c := range s.chunks {
		if _, keep := wanted[id]; keep {
			continue
		}
		c.wanted = false
		if c.State == types.DownloadAbsent || c.State == types.DownloadFailed {
			delete(s.chunks, id)
		}
	}
	for id, coord := range wanted {
		c, ok := s.chunks[id]
		if !ok {
			c = &Chunk{ID: id, Coord: coord, Bounds: chunkBounds(coord, s.cfg.ChunkSize)}
			s.chunks[id] = c
		}
		c.wanted = true
		c.deferred = false
		if c.State == types.DownloadFailed {
			c.State = types.DownloadAbsent
		}
		s.scoreLocked(c)
	}
	s.mu.Unlock()

	s.signal()
}

// scoreLocked refreshes a chunk's distance, priority and LOD against the
// current pose.
func (s *Streamer) scoreLocked(c *Chunk) {
	center := c.Bounds.Center()
	to := center.Sub(s.pose.Position)
	d := to.Length()

	priority := 1 / (1 + d*s.cfg.DistanceDecay)
	if d > 0 {
		if align := to.Scale(1 / d).Dot(s.pose.Direction); align > 0 {
			priority += 2 * align
		}
	}

	lod := int(math.Floor(d/s.cfg.LODStep)) + s.cfg.LODBias
	if lod < 0 {
		lod = 0
	}
	if lod > s.cfg.MaxLOD {
		lod = s.cfg.MaxLOD
	}

	c.Distance = d
	c.Priority = priority
	c.LOD = lod
}

// VisibleChunks returns a snapshot of the wanted chunk set, most urgent
// first.
func (s *Streamer) VisibleChunks() []Chunk {
	s.mu.Lock()
	out := make([]Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if c.wanted {
			out = append(out, *c)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Chunk returns a snapshot of one chunk's metadata.
func (s *Streamer) Chunk(id string) (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, false
	}
	return *c, true
}

// Payload returns a cached chunk payload.
func (s *Streamer) Payload(id string) ([]byte, bool) {
	v, ok := s.layer.Get(id)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Stats returns a snapshot of streaming counters.
func (s *Streamer) Stats() types.StreamingStats {
	s.mu.Lock()
	inFlight := 0
	for _, c := range s.chunks {
		if c.State == types.DownloadInFlight {
			inFlight++
		}
	}
	s.mu.Unlock()

	return types.StreamingStats{
		CachedChunks:    s.layer.Len(),
		CacheSizeBytes:  s.layer.SizeBytes(),
		InFlight:        inFlight,
		Downloads:       s.downloads.Load(),
		DownloadErrors:  s.downloadErrors.Load(),
		BytesDownloaded: s.bytesDownloaded.Load(),
		ChunksEvicted:   s.chunksEvicted.Load(),
	}
}

// Start launches the scheduling loop and the periodic distance sweep.
func (s *Streamer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	tick := s.clock.Tick(s.cfg.SweepInterval)

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				s.schedule(ctx)
			case <-tick:
				s.sweep()
			}
		}
	}()
}

// Stop ends the scheduling loop. In-flight fetches finish on their own;
// their results are discarded if no longer wanted.
func (s *Streamer) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Streamer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type downloadClaim struct {
	id  string
	lod int
}

// schedule claims the highest-priority pending chunks up to the pool
// budget and launches one worker per claim.
func (s *Streamer) schedule(ctx context.Context) {
	s.mu.Lock()
	q := &downloadQueue{}
	for id, c := range s.chunks {
		if c.wanted && !c.deferred && c.State == types.DownloadAbsent {
			q.items = append(q.items, &queueItem{id: id, priority: c.Priority})
		}
	}
	heap.Init(q)

	var claims []downloadClaim
	for q.Len() > 0 && s.sem.TryAcquire(1) {
		item := heap.Pop(q).(*queueItem)
		c := s.chunks[item.id]
		c.State = types.DownloadInFlight
		claims = append(claims, downloadClaim{id: c.ID, lod: c.LOD})
	}
	s.mu.Unlock()

	for _, claim := range claims {
		go s.download(ctx, claim.id, claim.lod)
	}
}

// download fetches one chunk and admits it into the cache layer. A failed
// fetch marks the chunk failed and frees its slot without touching other
// downloads; a superseded or unadmittable payload is simply dropped and
// the chunk becomes eligible for re-request.
func (s *Streamer) download(ctx context.Context, id string, lod int) {
	defer func() {
		s.sem.Release(1)
		s.signal()
	}()

	data, err := s.transport.Fetch(ctx, id, lod)
	if err != nil {
		s.downloadErrors.Add(1)
		s.logger.Warn("chunk fetch failed",
			zap.String("chunk", id), zap.Int("lod", lod), zap.Error(err))
		s.mu.Lock()
		if c, ok := s.chunks[id]; ok {
			c.State = types.DownloadFailed
		}
		s.mu.Unlock()
		return
	}

	if s.limiter != nil {
		n := len(data)
		if burst := s.limiter.Burst(); n > burst {
			n = burst
		}
		if err := s.limiter.WaitN(ctx, n); err != nil {
			// Shutdown mid-pacing; the payload is discarded below if the
			// chunk is no longer wanted, kept otherwise.
			s.logger.Debug("download pacing interrupted", zap.String("chunk", id))
		}
	}
	s.downloads.Add(1)
	s.bytesDownloaded.Add(int64(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	switch {
	case !ok:
		// Superseded and dropped while in flight.
	case !c.wanted:
		delete(s.chunks, id)
	case !s.layer.CanAccommodate(int64(len(data))):
		// Best effort: no eviction on admit, the sweep makes room. The
		// chunk re-enters the queue on the next priority pass.
		c.State = types.DownloadAbsent
		c.deferred = true
	default:
		if err := s.layer.Set(id, data, types.SetOptions{Priority: c.Priority}); err != nil {
			s.logger.Debug("chunk admission failed", zap.String("chunk", id), zap.Error(err))
			c.State = types.DownloadAbsent
			c.deferred = true
			return
		}
		c.State = types.DownloadCached
	}
}

// sweep evicts cached chunks in descending distance order once occupancy
// exceeds the high-water fraction of the budget, stopping at the low-water
// fraction.
func (s *Streamer) sweep() {
	budget := s.layer.MaxSizeBytes()
	if float64(s.layer.SizeBytes()) <= s.cfg.SweepHighWater*float64(budget) {
		return
	}
	target := int64(s.cfg.SweepLowWater * float64(budget))

	s.mu.Lock()
	defer s.mu.Unlock()

	cached := make([]*Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if c.State == types.DownloadCached {
			c.Distance = c.Bounds.Center().Distance(s.pose.Position)
			cached = append(cached, c)
		}
	}
	sort.Slice(cached, func(i, j int) bool { return cached[i].Distance > cached[j].Distance })

	evicted := 0
	for _, c := range cached {
		if s.layer.SizeBytes() <= target {
			break
		}
		s.layer.Delete(c.ID)
		c.State = types.DownloadAbsent
		s.chunksEvicted.Add(1)
		evicted++
		if !c.wanted {
			delete(s.chunks, c.ID)
		}
	}
	if evicted > 0 {
		s.logger.Debug("distance sweep", zap.Int("evicted", evicted),
			zap.Int64("occupancy", s.layer.SizeBytes()))
	}
}
