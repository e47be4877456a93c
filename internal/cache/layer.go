package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nerfedge/scenecache/pkg/errors"
	"github.com/nerfedge/scenecache/pkg/types"
)

// Entry is a single cached value with its bookkeeping metadata. SizeBytes
// is fixed at insertion; access metadata changes only on Get.
type Entry struct {
	Key            string
	Value          any
	SizeBytes      int64
	Priority       float64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time // zero means no expiry
	AccessCount    int64
}

// LayerConfig configures a single cache layer.
type LayerConfig struct {
	Name         string               `yaml:"name"`
	MaxSizeBytes int64                `yaml:"max_size_bytes"`
	MaxEntries   int                  `yaml:"max_entries"`
	TTL          time.Duration        `yaml:"ttl"` // zero means entries never expire
	Policy       types.EvictionPolicy `yaml:"eviction_policy"`

	// CompressionEnabled is advisory for the codec collaborator that
	// prepares payloads; the layer itself stores values verbatim.
	CompressionEnabled bool `yaml:"compression_enabled"`
}

// Layer is one bounded key/value store with size, entry-count and TTL
// limits, delegating eviction decisions to a pluggable policy.
//
// All operations are synchronous and non-blocking apart from the optional
// persistent-store fallback on a memory miss. One mutex serializes every
// operation, which makes get/set/evict linearizable within the layer.
type Layer struct {
	mu      sync.Mutex
	cfg     LayerConfig
	entries map[string]*Entry
	policy  Policy

	currentSize int64

	estimator types.SizeEstimator
	clock     types.Clock
	logger    *zap.Logger
	store     types.PersistentStore
	exec      types.BackgroundExecutor

	stats types.CacheStats
}

// LayerOption customizes a layer at construction.
type LayerOption func(*Layer)

// WithSizeEstimator overrides the default size estimator.
func WithSizeEstimator(est types.SizeEstimator) LayerOption {
	return func(l *Layer) { l.estimator = est }
}

// WithClock injects the time source.
func WithClock(c types.Clock) LayerOption {
	return func(l *Layer) { l.clock = c }
}

// WithLogger injects the layer's logger.
func WithLogger(lg *zap.Logger) LayerOption {
	return func(l *Layer) { l.logger = lg }
}

// WithPersistentStore configures write-through persistence. Writes are
// submitted to the executor; memory misses fall back to the store.
func WithPersistentStore(store types.PersistentStore, exec types.BackgroundExecutor) LayerOption {
	return func(l *Layer) {
		l.store = store
		l.exec = exec
	}
}

// DefaultSizeEstimator measures []byte and string payloads directly and
// defers to the Sized capability for everything else.
func DefaultSizeEstimator(value any) (int64, error) {
	switch v := value.(type) {
	case []byte:
		return int64(len(v)), nil
	case string:
		return int64(len(v)), nil
	case types.Sized:
		return v.ByteSize(), nil
	}
	return 0, errors.ErrUnsizedValue
}

// NewLayer creates a bounded cache layer. Zero limits are normalized:
// MaxSizeBytes <= 0 becomes 256 MiB, MaxEntries <= 0 becomes 100000.
func NewLayer(cfg LayerConfig, opts ...LayerOption) *Layer {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 256 * 1024 * 1024
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = types.EvictionLRU
	}

	l := &Layer{
		cfg:       cfg,
		entries:   make(map[string]*Entry),
		policy:    NewPolicy(cfg.Policy, cfg.MaxEntries),
		estimator: DefaultSizeEstimator,
		clock:     types.SystemClock(),
		logger:    zap.NewNop(),
		stats: types.CacheStats{
			Capacity: cfg.MaxSizeBytes,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the configured layer name.
func (l *Layer) Name() string { return l.cfg.Name }

// MaxSizeBytes returns the layer's byte capacity.
func (l *Layer) MaxSizeBytes() int64 { return l.cfg.MaxSizeBytes }

// Get returns the value for key, or ok=false on a miss. Expired entries
// are removed lazily here in addition to the periodic Cleanup sweep.
func (l *Layer) Get(key string) (any, bool) {
	l.mu.Lock()
	now := l.clock.Now()

	entry, ok := l.entries[key]
	if ok && l.expired(entry, now) {
		l.removeLocked(key, entry)
		l.stats.Expirations++
		l.stats.Misses++
		l.mu.Unlock()
		// The store copy must go too, or the fallback below would
		// resurrect a payload that is past its TTL.
		l.storeDelete(key)
		return nil, false
	}
	if !ok {
		l.mu.Unlock()
		value, found := l.storeFallback(key)
		l.mu.Lock()
		if found {
			l.stats.Hits++
		} else {
			l.stats.Misses++
		}
		l.mu.Unlock()
		return value, found
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	l.policy.OnGet(key)
	l.stats.Hits++
	value := entry.Value
	l.mu.Unlock()
	return value, true
}

// storeFallback tries the persistent store after a memory miss and, on
// success, re-admits the payload best-effort.
func (l *Layer) storeFallback(key string) (any, bool) {
	if l.store == nil {
		return nil, false
	}
	data, err := l.store.Get(context.Background(), key)
	if err != nil {
		if !errors.IsNotFound(err) {
			l.logger.Warn("persistent store read failed",
				zap.String("layer", l.cfg.Name), zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if err := l.setInternal(key, data, types.SetOptions{}, false); err != nil {
		l.logger.Debug("re-admission from persistent store skipped",
			zap.String("layer", l.cfg.Name), zap.String("key", key), zap.Error(err))
	}
	return data, true
}

// Set stores value under key, evicting as needed. A payload that cannot
// fit even in an empty layer fails with a capacity error and nothing is
// stored. Replacing an existing key subtracts the old size first; the
// entry is always either fully the previous value or fully the new one.
func (l *Layer) Set(key string, value any, opts types.SetOptions) error {
	return l.setInternal(key, value, opts, true)
}

func (l *Layer) setInternal(key string, value any, opts types.SetOptions, persist bool) error {
	size, err := l.estimator(value)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnsizedValue, "estimating payload size", err).
			WithComponent("cache").WithContext("key", key)
	}

	l.mu.Lock()

	if size > l.cfg.MaxSizeBytes {
		l.mu.Unlock()
		return errors.Newf(errors.ErrCodeCacheCapacity,
			"payload of %d bytes exceeds layer capacity of %d bytes", size, l.cfg.MaxSizeBytes).
			WithComponent("cache").WithContext("key", key)
	}

	now := l.clock.Now()

	// Old value out first so the capacity check sees the net occupancy.
	if old, ok := l.entries[key]; ok {
		l.currentSize -= old.SizeBytes
		delete(l.entries, key)
	}

	l.policy.Prepare(key)
	for !l.canAccommodateLocked(size) {
		if !l.evictOneLocked() {
			break
		}
	}
	if !l.canAccommodateLocked(size) {
		l.mu.Unlock()
		return errors.Newf(errors.ErrCodeCacheCapacity,
			"no room for payload of %d bytes", size).
			WithComponent("cache").WithContext("key", key)
	}

	entry := &Entry{
		Key:            key,
		Value:          value,
		SizeBytes:      size,
		Priority:       opts.Priority,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	ttl := l.cfg.TTL
	if opts.TTL != 0 {
		ttl = opts.TTL
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	l.entries[key] = entry
	l.currentSize += size
	l.policy.OnPut(key)
	l.mu.Unlock()

	if persist && l.store != nil {
		l.persistAsync(key, value)
	}
	return nil
}

func (l *Layer) persistAsync(key string, value any) {
	data, ok := value.([]byte)
	if !ok {
		// Only raw payloads are persisted; structured values stay in memory.
		return
	}
	task := func() {
		if err := l.store.Put(context.Background(), key, data); err != nil {
			l.logger.Warn("persistent write-through failed",
				zap.String("layer", l.cfg.Name), zap.String("key", key), zap.Error(err))
		}
	}
	if l.exec == nil || !l.exec.Submit(task) {
		task()
	}
}

// Delete removes key and reports whether it was present.
func (l *Layer) Delete(key string) bool {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if ok {
		l.removeLocked(key, entry)
	}
	l.mu.Unlock()

	l.storeDelete(key)
	return ok
}

// storeDelete mirrors an in-memory removal to the persistent store,
// best-effort.
func (l *Layer) storeDelete(key string) {
	if l.store == nil {
		return
	}
	if err := l.store.Delete(context.Background(), key); err != nil && !errors.IsNotFound(err) {
		l.logger.Warn("persistent delete failed",
			zap.String("layer", l.cfg.Name), zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes all keys containing the given literal substring and
// returns how many were removed.
func (l *Layer) Invalidate(substring string) int {
	return l.invalidateFunc(func(key string) bool {
		return strings.Contains(key, substring)
	})
}

// InvalidateRegex removes all keys matching the expression. A malformed
// expression is an input error; zero entries are removed.
func (l *Layer) InvalidateRegex(expr string) (int, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidPattern, "compiling invalidation pattern", err).
			WithComponent("cache").WithContext("pattern", expr)
	}
	return l.invalidateFunc(re.MatchString), nil
}

func (l *Layer) invalidateFunc(match func(string) bool) int {
	l.mu.Lock()
	var removed []string
	for key := range l.entries {
		if match(key) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		l.removeLocked(key, l.entries[key])
	}
	l.mu.Unlock()

	for _, key := range removed {
		l.storeDelete(key)
	}
	return len(removed)
}

// Cleanup sweeps out every expired entry and returns how many were removed.
// Intended to run periodically, independent of the lazy expiry on Get.
func (l *Layer) Cleanup() int {
	l.mu.Lock()
	now := l.clock.Now()
	var expired []string
	for key, entry := range l.entries {
		if l.expired(entry, now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		l.removeLocked(key, l.entries[key])
		l.stats.Expirations++
	}
	l.mu.Unlock()

	for _, key := range expired {
		l.storeDelete(key)
	}
	return len(expired)
}

// CanAccommodate reports whether a payload of the given size would fit
// right now, without eviction.
func (l *Layer) CanAccommodate(size int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canAccommodateLocked(size)
}

// Len returns the number of resident entries.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// SizeBytes returns the current occupancy in bytes.
func (l *Layer) SizeBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}

// Entry returns a copy of the entry's metadata without touching access
// state or the eviction policy.
func (l *Layer) Entry(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Stats returns a snapshot of the layer's counters.
func (l *Layer) Stats() types.CacheStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	s.Name = l.cfg.Name
	s.Entries = len(l.entries)
	s.Size = l.currentSize
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if s.Capacity > 0 {
		s.Utilization = float64(l.currentSize) / float64(s.Capacity)
	}
	return s
}

func (l *Layer) canAccommodateLocked(size int64) bool {
	return l.currentSize+size <= l.cfg.MaxSizeBytes && len(l.entries) < l.cfg.MaxEntries
}

// evictOneLocked asks the policy for a victim and removes it. Returns
// false when the layer has nothing left to evict.
func (l *Layer) evictOneLocked() bool {
	for {
		key, ok := l.policy.Victim()
		if !ok {
			return false
		}
		entry, present := l.entries[key]
		if !present {
			// Policy bookkeeping outlived the entry; keep going.
			continue
		}
		delete(l.entries, key)
		l.currentSize -= entry.SizeBytes
		l.stats.Evictions++
		return true
	}
}

// removeLocked drops an entry for explicit removal paths (delete, expiry,
// invalidation) and notifies the policy.
func (l *Layer) removeLocked(key string, entry *Entry) {
	delete(l.entries, key)
	l.currentSize -= entry.SizeBytes
	l.policy.OnRemove(key)
}

func (l *Layer) expired(entry *Entry, now time.Time) bool {
	return !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt)
}
