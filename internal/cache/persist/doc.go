// Package persist provides durable backing stores for cache layers: a
// local disk store with zstd compression and checksummed payloads, and an
// S3 store for sharing scene assets between edge nodes. Both satisfy
// types.PersistentStore and plug into a cache layer's write-through path.
package persist
