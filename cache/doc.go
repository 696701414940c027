// Package cache provides the owning containers of cached references:
// Map, a sharded key→reference association, and Set, an ordered,
// deduplicated collection of references.
//
// Design
//
//   - Ownership: a container creates a reference on insertion and owns it
//     until it is removed. Validators, algorithms and actions only listen
//     to it. The container itself listens for remove notifications, so an
//     eviction (or any direct ref.Remove) unlinks the entry.
//
//   - Ordering: an insertion is made visible in the index first and only
//     then handed to the configured controllers (Options.Controllers), so
//     an eviction pass can never race ahead of the insert. Removal unlinks
//     the index entry first and then moves the reference to REMOVED.
//
//   - Concurrency: Map splits its index into power-of-two shards, each
//     protected by an RWMutex. Locks are never held while calling into a
//     reference, so listener callbacks can re-enter the container freely.
//     Bulk operations (Clear, views) work on snapshots.
//
//   - Payloads: Options.NewSlot chooses where payloads live (memory, a
//     byte buffer, a file). Write failures surface from Put/Add.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight. If Loader is nil, GetOrLoad returns ErrNoLoader.
//
// Basic usage
//
//	ctl, _ := overflow.NewController(overflow.Options[string]{
//	    Validator: must(capacity.New[string](10_000, 0)),
//	    Algorithm: lru.New[string](nil),
//	    Action:    remove.New[string](nil),
//	})
//	_ = ctl.Start()
//	defer ctl.Stop()
//
//	m := cache.NewMap(cache.MapOptions[string, string]{
//	    Options: cache.Options[string]{Controllers: []overflow.Trigger[string]{ctl}},
//	})
//	m.Put("a", "1")
//	if v, ok := m.Get("a"); ok {
//	    _ = v // use value
//	}
//	m.Remove("a")
//
// Exporting metrics
//
//	m := cache.NewMap(cache.MapOptions[string, []byte]{
//	    Options: cache.Options[[]byte]{Metrics: prom.New(nil, "refcache", "demo", nil)},
//	})
package cache
