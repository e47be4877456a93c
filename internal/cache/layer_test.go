package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerfedge/scenecache/internal/testutil"
	"github.com/nerfedge/scenecache/pkg/errors"
	"github.com/nerfedge/scenecache/pkg/types"
)

func newTestLayer(t *testing.T, cfg LayerConfig, opts ...LayerOption) *Layer {
	t.Helper()
	if cfg.MaxSizeBytes == 0 {
		cfg.MaxSizeBytes = 1 << 20
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	return NewLayer(cfg, opts...)
}

func TestLayerSetGet(t *testing.T) {
	l := newTestLayer(t, LayerConfig{Name: "l1"})

	require.NoError(t, l.Set("weights/coarse", []byte("abc"), types.SetOptions{}))

	v, ok := l.Get("weights/coarse")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), v)

	// Last writer wins on overwrite.
	require.NoError(t, l.Set("weights/coarse", []byte("defg"), types.SetOptions{}))
	v, ok = l.Get("weights/coarse")
	require.True(t, ok)
	assert.Equal(t, []byte("defg"), v)
	assert.Equal(t, int64(4), l.SizeBytes())
	assert.Equal(t, 1, l.Len())

	_, ok = l.Get("missing")
	assert.False(t, ok)
}

func TestLayerGetIsIdempotent(t *testing.T) {
	l := newTestLayer(t, LayerConfig{})
	require.NoError(t, l.Set("k", []byte("payload"), types.SetOptions{}))

	v1, ok1 := l.Get("k")
	v2, ok2 := l.Get("k")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, v1, v2)
}

func TestLayerAccessMetadata(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1000, 0))
	l := newTestLayer(t, LayerConfig{}, WithClock(clock))

	require.NoError(t, l.Set("k", []byte("x"), types.SetOptions{Priority: 2.5}))
	clock.Advance(3 * time.Second)
	l.Get("k")
	l.Get("k")

	e, ok := l.Entry("k")
	require.True(t, ok)
	assert.Equal(t, int64(2), e.AccessCount)
	assert.Equal(t, 2.5, e.Priority)
	assert.Equal(t, time.Unix(1000, 0), e.CreatedAt)
	assert.Equal(t, time.Unix(1003, 0), e.LastAccessedAt)
	assert.Equal(t, int64(1), e.SizeBytes)
}

func TestLayerTTLExpiryOnAccess(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	l := newTestLayer(t, LayerConfig{TTL: time.Minute}, WithClock(clock))

	require.NoError(t, l.Set("k", []byte("x"), types.SetOptions{}))
	clock.Advance(59 * time.Second)
	_, ok := l.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = l.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len(), "expired entry must be deleted on access")
	assert.Equal(t, uint64(1), l.Stats().Expirations)
}

func TestLayerPerEntryTTLOverride(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	l := newTestLayer(t, LayerConfig{TTL: time.Minute}, WithClock(clock))

	require.NoError(t, l.Set("short", []byte("x"), types.SetOptions{TTL: time.Second}))
	require.NoError(t, l.Set("forever", []byte("x"), types.SetOptions{TTL: -1}))

	clock.Advance(2 * time.Second)
	_, ok := l.Get("short")
	assert.False(t, ok)

	clock.Advance(24 * time.Hour)
	_, ok = l.Get("forever")
	assert.True(t, ok)
}

func TestLayerCleanupSweep(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	l := newTestLayer(t, LayerConfig{TTL: time.Minute}, WithClock(clock))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Set(fmt.Sprintf("k%d", i), []byte("x"), types.SetOptions{}))
	}
	clock.Advance(30 * time.Second)
	require.NoError(t, l.Set("fresh", []byte("x"), types.SetOptions{}))

	clock.Advance(45 * time.Second)
	assert.Equal(t, 5, l.Cleanup())
	assert.Equal(t, 1, l.Len())
	_, ok := l.Get("fresh")
	assert.True(t, ok)
}

func TestLayerCapacityBoundsHold(t *testing.T) {
	l := newTestLayer(t, LayerConfig{MaxSizeBytes: 100, MaxEntries: 10})

	for i := 0; i < 50; i++ {
		payload := make([]byte, 1+i%30)
		require.NoError(t, l.Set(fmt.Sprintf("k%d", i), payload, types.SetOptions{}))

		s := l.Stats()
		assert.LessOrEqual(t, s.Size, int64(100))
		assert.LessOrEqual(t, s.Entries, 10)
	}
	assert.Greater(t, l.Stats().Evictions, uint64(0))
}

func TestLayerOversizedPayloadFails(t *testing.T) {
	l := newTestLayer(t, LayerConfig{MaxSizeBytes: 64})

	err := l.Set("big", make([]byte, 65), types.SetOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCapacity(err))
	assert.Equal(t, 0, l.Len(), "nothing may be stored on a capacity failure")

	// An oversized overwrite must not destroy the previous value.
	require.NoError(t, l.Set("k", []byte("keep"), types.SetOptions{}))
	err = l.Set("k", make([]byte, 65), types.SetOptions{})
	require.Error(t, err)
	v, ok := l.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("keep"), v)
}

func TestLayerFIFOEvictsInInsertionOrder(t *testing.T) {
	// FIFO layer with three slots: inserting A, B, C, D evicts A.
	l := newTestLayer(t, LayerConfig{MaxEntries: 3, Policy: types.EvictionFIFO})

	for _, key := range []string{"A", "B", "C"} {
		require.NoError(t, l.Set(key, []byte(key), types.SetOptions{}))
	}
	// Access A so only a true FIFO evicts it anyway.
	l.Get("A")
	require.NoError(t, l.Set("D", []byte("D"), types.SetOptions{}))

	_, ok := l.Get("A")
	assert.False(t, ok)
	v, ok := l.Get("D")
	require.True(t, ok)
	assert.Equal(t, []byte("D"), v)
}

func TestLayerUnsizedValueRejected(t *testing.T) {
	l := newTestLayer(t, LayerConfig{})
	err := l.Set("k", struct{ X int }{1}, types.SetOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsizedValue)
}

type sizedBlob struct{ n int64 }

func (b sizedBlob) ByteSize() int64 { return b.n }

func TestLayerSizedCapability(t *testing.T) {
	l := newTestLayer(t, LayerConfig{MaxSizeBytes: 100})

	require.NoError(t, l.Set("blob", sizedBlob{n: 60}, types.SetOptions{}))
	assert.Equal(t, int64(60), l.SizeBytes())

	err := l.Set("blob2", sizedBlob{n: 101}, types.SetOptions{})
	assert.True(t, errors.IsCapacity(err))
}

func TestLayerInvalidateSubstring(t *testing.T) {
	l := newTestLayer(t, LayerConfig{})
	for _, key := range []string{"chunk/0_0_0", "chunk/0_0_1", "weights/coarse"} {
		require.NoError(t, l.Set(key, []byte("x"), types.SetOptions{}))
	}

	assert.Equal(t, 2, l.Invalidate("chunk/"))
	assert.Equal(t, 1, l.Len())
	_, ok := l.Get("weights/coarse")
	assert.True(t, ok)
}

func TestLayerInvalidateRegex(t *testing.T) {
	l := newTestLayer(t, LayerConfig{})
	for _, key := range []string{"chunk/0_0_0", "chunk/1_0_0", "weights/fine"} {
		require.NoError(t, l.Set(key, []byte("x"), types.SetOptions{}))
	}

	n, err := l.InvalidateRegex(`^chunk/\d+_0_0$`)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Malformed pattern: input error, nothing removed.
	n, err = l.InvalidateRegex("chunk/(")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidPattern(err))
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, l.Len())
}

func TestLayerDelete(t *testing.T) {
	l := newTestLayer(t, LayerConfig{})
	require.NoError(t, l.Set("k", []byte("x"), types.SetOptions{}))

	assert.True(t, l.Delete("k"))
	assert.False(t, l.Delete("k"))
	assert.Equal(t, int64(0), l.SizeBytes())
}

func TestLayerStats(t *testing.T) {
	l := newTestLayer(t, LayerConfig{MaxSizeBytes: 1000})
	require.NoError(t, l.Set("k", []byte("xyz"), types.SetOptions{}))

	l.Get("k")
	l.Get("k")
	l.Get("missing")

	s := l.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.InDelta(t, 0.003, s.Utilization, 1e-9)
	assert.Equal(t, int64(1000), s.Capacity)
}

// fakeStore is an in-memory PersistentStore.
type fakeStore struct {
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string][]byte)} }

func (s *fakeStore) Put(_ context.Context, key string, data []byte) error {
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := s.data[key]
	if !ok {
		return nil, errors.ErrStoreNotFound
	}
	return d, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func TestLayerPersistentWriteThroughAndFallback(t *testing.T) {
	store := newFakeStore()
	l := newTestLayer(t, LayerConfig{Name: "disk"},
		WithPersistentStore(store, nil)) // nil executor: write-through runs inline

	require.NoError(t, l.Set("k", []byte("persisted"), types.SetOptions{}))
	assert.Equal(t, []byte("persisted"), store.data["k"])

	// Drop the in-memory copy; the layer must fall back to the store.
	l.Invalidate("k")
	store.data["k"] = []byte("persisted")
	v, ok := l.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), v)

	// And the fallback re-admits the payload into memory.
	e, ok := l.Entry("k")
	require.True(t, ok)
	assert.Equal(t, int64(len("persisted")), e.SizeBytes)

	l.Delete("k")
	_, hasKey := store.data["k"]
	assert.False(t, hasKey)
}

func TestLayerTTLExpiryRemovesStoreCopy(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	store := newFakeStore()
	l := newTestLayer(t, LayerConfig{Name: "disk", TTL: time.Minute},
		WithClock(clock), WithPersistentStore(store, nil))

	require.NoError(t, l.Set("k", []byte("stale"), types.SetOptions{}))
	require.Equal(t, []byte("stale"), store.data["k"])

	// Past the TTL the entry must be gone everywhere; the store copy may
	// not feed the fallback path and hand the payload back as a hit.
	clock.Advance(2 * time.Minute)
	_, ok := l.Get("k")
	assert.False(t, ok)
	_, hasKey := store.data["k"]
	assert.False(t, hasKey)

	_, ok = l.Get("k")
	assert.False(t, ok)

	s := l.Stats()
	assert.Equal(t, uint64(1), s.Expirations)
	assert.Equal(t, uint64(0), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
}

func TestLayerCleanupRemovesStoreCopies(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	store := newFakeStore()
	l := newTestLayer(t, LayerConfig{Name: "disk", TTL: time.Minute},
		WithClock(clock), WithPersistentStore(store, nil))

	require.NoError(t, l.Set("a", []byte("1"), types.SetOptions{}))
	require.NoError(t, l.Set("b", []byte("2"), types.SetOptions{}))
	clock.Advance(30 * time.Second)
	require.NoError(t, l.Set("c", []byte("3"), types.SetOptions{}))

	clock.Advance(45 * time.Second)
	assert.Equal(t, 2, l.Cleanup())

	_, hasA := store.data["a"]
	_, hasB := store.data["b"]
	_, hasC := store.data["c"]
	assert.False(t, hasA)
	assert.False(t, hasB)
	assert.True(t, hasC)

	// The survivor still serves from memory and from the store.
	v, ok := l.Get("c")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}
