package types

import (
	"context"
	"time"
)

// Sized is implemented by cached values that know their own in-memory
// footprint. The default size estimator consults it before anything else.
type Sized interface {
	ByteSize() int64
}

// SizeEstimator computes the size in bytes charged against a layer's
// capacity for a value. Estimators must be deterministic: the size recorded
// at insertion is what is released at eviction.
type SizeEstimator func(value any) (int64, error)

// Clock abstracts time for cache and streamer internals so tests can inject
// a deterministic source. Tick replaces direct use of time.Ticker for
// periodic work (TTL sweeps, occupancy sweeps).
type Clock interface {
	Now() time.Time
	Tick(d time.Duration) <-chan time.Time
}

// ChunkTransport fetches chunk payloads from a remote source. Fetch blocks
// until the payload is available or the context is canceled; it is the only
// suspending operation in the streaming path.
type ChunkTransport interface {
	Fetch(ctx context.Context, chunkID string, lod int) ([]byte, error)
}

// PersistentStore is an optional backing store for cache layers configured
// with disk persistence. Implementations must be safe for concurrent use.
type PersistentStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// BackgroundExecutor runs best-effort asynchronous work (tier promotion,
// persistent write-through) on a bounded queue. Submit returns false when
// the executor cannot accept more work; callers treat that as a dropped
// best-effort task, never an error.
type BackgroundExecutor interface {
	Submit(task func()) bool
	Stop()
}
