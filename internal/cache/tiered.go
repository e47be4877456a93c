package cache

import (
	"context"
	"regexp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nerfedge/scenecache/pkg/errors"
	"github.com/nerfedge/scenecache/pkg/types"
)

// Tiered orchestrates an ordered list of layers, fastest first. Lookups
// fall back tier by tier; a hit in a slow tier is promoted best-effort into
// every faster tier. Writes are routed by payload size.
type Tiered struct {
	layers    []*Layer
	exec      types.BackgroundExecutor
	estimator types.SizeEstimator
	clock     types.Clock
	logger    *zap.Logger

	cleanupInterval time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// TieredOption customizes a tiered cache at construction.
type TieredOption func(*Tiered)

// WithTieredLogger injects the logger used for promotion and sweep events.
func WithTieredLogger(lg *zap.Logger) TieredOption {
	return func(t *Tiered) { t.logger = lg }
}

// WithTieredClock injects the time source driving the periodic TTL sweep.
func WithTieredClock(c types.Clock) TieredOption {
	return func(t *Tiered) { t.clock = c }
}

// WithTieredEstimator overrides the estimator used for write routing.
func WithTieredEstimator(est types.SizeEstimator) TieredOption {
	return func(t *Tiered) { t.estimator = est }
}

// WithCleanupInterval sets the cadence of the periodic TTL sweep started
// by Start. Zero disables the sweep.
func WithCleanupInterval(d time.Duration) TieredOption {
	return func(t *Tiered) { t.cleanupInterval = d }
}

// NewTiered creates a tiered cache over the given layers, ordered fastest
// first. The executor runs best-effort promotion copies; nil disables
// asynchronous promotion and copies run inline.
func NewTiered(layers []*Layer, exec types.BackgroundExecutor, opts ...TieredOption) *Tiered {
	t := &Tiered{
		layers:          layers,
		exec:            exec,
		estimator:       DefaultSizeEstimator,
		clock:           types.SystemClock(),
		logger:          zap.NewNop(),
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetOptions carries per-call options for tiered lookups.
type GetOptions struct {
	// LayerHint, when >= 0, names the layer expected to hold the key.
	// A hinted hit is served directly with no promotion.
	LayerHint int
}

// Get returns the value for key from the fastest layer that has it. A hit
// in a slower layer schedules a best-effort copy into all faster layers;
// promotion failures are logged and never affect this call's result.
func (t *Tiered) Get(key string) (any, bool) {
	return t.GetWithOptions(key, GetOptions{LayerHint: -1})
}

// GetWithOptions is Get with an optional layer hint.
func (t *Tiered) GetWithOptions(key string, opts GetOptions) (any, bool) {
	if opts.LayerHint >= 0 && opts.LayerHint < len(t.layers) {
		if value, ok := t.layers[opts.LayerHint].Get(key); ok {
			t.hits.Add(1)
			return value, true
		}
	}

	for i, layer := range t.layers {
		value, ok := layer.Get(key)
		if !ok {
			continue
		}
		t.hits.Add(1)
		if i > 0 {
			t.promote(key, value, i)
		}
		return value, true
	}

	t.misses.Add(1)
	return nil, false
}

// promote copies a value hit in layer hitIdx into every faster layer.
// Insertion failures there (for example oversized payloads for that tier)
// are swallowed and logged.
func (t *Tiered) promote(key string, value any, hitIdx int) {
	task := func() {
		for j := 0; j < hitIdx; j++ {
			if err := t.layers[j].Set(key, value, types.SetOptions{}); err != nil {
				t.logger.Debug("promotion skipped",
					zap.String("key", key),
					zap.String("layer", t.layers[j].Name()),
					zap.Error(err))
			}
		}
	}
	if t.exec == nil || !t.exec.Submit(task) {
		task()
	}
}

// TieredSetOptions carries per-call options for tiered writes.
type TieredSetOptions struct {
	types.SetOptions

	// LayerHint, when >= 0, requests a specific layer. It is honored only
	// if that layer can accommodate the payload; otherwise placement falls
	// back to size-based routing.
	LayerHint int
}

// Set stores the value in one tier selected by payload size: the fastest
// tier with free room, else the smallest tier whose capacity can hold the
// payload after eviction. Fails with a capacity error when no tier can
// ever accommodate it.
func (t *Tiered) Set(key string, value any, opts TieredSetOptions) error {
	size, err := t.estimator(value)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnsizedValue, "estimating payload size", err).
			WithComponent("tiered")
	}

	if opts.LayerHint >= 0 && opts.LayerHint < len(t.layers) {
		hinted := t.layers[opts.LayerHint]
		if hinted.CanAccommodate(size) {
			return hinted.Set(key, value, opts.SetOptions)
		}
	}

	// First pass: fastest tier with free room right now.
	for _, layer := range t.layers {
		if layer.CanAccommodate(size) {
			return layer.Set(key, value, opts.SetOptions)
		}
	}

	// Second pass: tiers are ordered fastest (smallest) first, so the
	// first one whose capacity covers the payload is the smallest tier
	// that can hold it after eviction.
	for _, layer := range t.layers {
		if size <= layer.MaxSizeBytes() {
			return layer.Set(key, value, opts.SetOptions)
		}
	}

	return errors.Newf(errors.ErrCodeCacheCapacity,
		"payload of %d bytes exceeds every tier's capacity", size).
		WithComponent("tiered").WithContext("key", key)
}

// Delete removes key from every layer and reports whether any held it.
func (t *Tiered) Delete(key string) bool {
	removed := false
	for _, layer := range t.layers {
		if layer.Delete(key) {
			removed = true
		}
	}
	return removed
}

// Invalidate removes all keys containing the substring from every layer
// and returns the total number of entries removed.
func (t *Tiered) Invalidate(substring string) int {
	total := 0
	for _, layer := range t.layers {
		total += layer.Invalidate(substring)
	}
	return total
}

// InvalidateRegex is Invalidate with a regular expression. A malformed
// expression removes nothing from any layer.
func (t *Tiered) InvalidateRegex(expr string) (int, error) {
	// Validate once up front so no layer is partially invalidated.
	if _, err := regexp.Compile(expr); err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidPattern, "compiling invalidation pattern", err).
			WithComponent("tiered").WithContext("pattern", expr)
	}
	total := 0
	for _, layer := range t.layers {
		n, err := layer.InvalidateRegex(expr)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Stats returns boundary hit/miss rates plus per-layer statistics.
// Promotion copies are internal writes and do not count here.
func (t *Tiered) Stats() types.TieredStats {
	s := types.TieredStats{
		Hits:   t.hits.Load(),
		Misses: t.misses.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
		s.MissRate = float64(s.Misses) / float64(total)
	}
	for _, layer := range t.layers {
		s.LayerStats = append(s.LayerStats, layer.Stats())
	}
	return s
}

// Layers returns the ordered layer list, fastest first.
func (t *Tiered) Layers() []*Layer { return t.layers }

// Start launches the periodic TTL sweep across all layers. It returns
// immediately; Stop ends the sweep.
func (t *Tiered) Start(ctx context.Context) {
	if t.cleanupInterval <= 0 {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	tick := t.clock.Tick(t.cleanupInterval)

	go func() {
		defer close(t.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				for _, layer := range t.layers {
					if n := layer.Cleanup(); n > 0 {
						t.logger.Debug("ttl sweep",
							zap.String("layer", layer.Name()), zap.Int("expired", n))
					}
				}
			}
		}
	}()
}

// Stop ends the periodic TTL sweep, if running.
func (t *Tiered) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
		t.cancel = nil
	}
}
