/*
Package cache implements the bounded cache layers and the tiered cache
hierarchy at the core of scenecache.

# Layers

A Layer is a single bounded key/value store with three limits: a byte
capacity, an entry budget, and an optional TTL. Values are opaque; their
capacity charge comes from an injected size estimator, and the charge
recorded at insertion is exactly what is released at eviction. Expiry is
lazy on Get and swept periodically by Cleanup.

Eviction decisions are delegated to a Policy chosen once at construction:

	lru       least recently used
	lfu       least frequently used, ties broken by oldest insertion
	fifo      insertion order, ignores access
	adaptive  Adaptive Replacement Cache (ARC)

The adaptive policy self-tunes between recency and frequency by tracking
ghost histories of evicted keys; see arc.go for the list invariants.

# Tiers

Tiered composes an ordered list of layers, fastest first. A Get scans the
layers in order; a hit in a slow layer is copied best-effort into every
faster layer through the background executor, so a subsequent Get finds it
fast. A Set is routed by payload size: the fastest tier with free room, or
the smallest tier whose capacity can hold the payload at all. A payload no
tier can hold fails with a capacity error and nothing is stored.

Basic usage:

	l1 := cache.NewLayer(cache.LayerConfig{
		Name:         "l1",
		MaxSizeBytes: 64 << 20,
		MaxEntries:   10000,
		Policy:       types.EvictionAdaptive,
	})
	l2 := cache.NewLayer(cache.LayerConfig{
		Name:         "l2",
		MaxSizeBytes: 1 << 30,
		MaxEntries:   100000,
		Policy:       types.EvictionLRU,
	})
	tc := cache.NewTiered([]*cache.Layer{l1, l2}, exec)

	if err := tc.Set("weights/coarse", payload, cache.TieredSetOptions{}); err != nil {
		return err
	}
	value, ok := tc.Get("weights/coarse")

Within one layer every operation runs under one mutex, so get/set/evict
are linearizable per layer. Across layers promotion is eventually
consistent: immediately after a hit in a slow layer the value may not yet
be resident in a faster one.
*/
package cache
