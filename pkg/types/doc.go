/*
Package types provides the core interfaces, data structures, and type
definitions shared across scenecache.

The package defines the contracts between the cache hierarchy, the chunk
streamer, and their collaborators, so that each side can be implemented and
tested in isolation:

Sized / SizeEstimator:
Cached values are opaque to the cache; their capacity charge is resolved by
the caller-supplied estimator, with the Sized interface as the default
capability for arbitrary values.

Clock / BackgroundExecutor:
Core logic never touches platform timers or spawns unbounded goroutines
directly. Periodic work (TTL sweeps, occupancy sweeps) is driven through
Clock.Tick, and best-effort asynchronous work (promotion, write-through)
goes through a BackgroundExecutor, both injectable in tests.

ChunkTransport / PersistentStore:
The streaming and persistence edges of the system. ChunkTransport is the
single suspending operation in the streaming path; PersistentStore backs
cache layers configured with disk persistence.

Statistics structs (CacheStats, TieredStats, StreamingStats) are plain
values with JSON tags, safe to copy and serialize.
*/
package types
