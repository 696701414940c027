package cache

import (
	"context"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/internal/singleflight"
	"github.com/IvanBrykalov/refcache/internal/util"
	"github.com/IvanBrykalov/refcache/ref"
)

// Map is a sharded key→reference container. Every value lives in a
// *ref.KeyEntry owned by the map; policies track those references.
// All methods are safe for concurrent use by multiple goroutines.
type Map[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	closed atomic.Bool
	size   atomic.Int64

	opt MapOptions[K, V]
	log *zap.Logger

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
}

// NewMap constructs a Map with the provided options.
// Defaults:
//   - nil Hash     -> util.Hash (xxhash / splitmix64)
//   - Shards <= 0  -> auto, rounded up to the next power of two
func NewMap[K comparable, V any](opt MapOptions[K, V]) *Map[K, V] {
	opt.defaults()
	if opt.Hash == nil {
		opt.Hash = util.Hash[K]
	}

	sh := util.ShardCount(opt.Shards)
	cs := make([]*shard[K, V], sh)
	for i := range cs {
		cs[i] = newShard[K, V]()
	}

	return &Map[K, V]{
		shards: cs,
		hash:   opt.Hash,
		opt:    opt,
		log:    opt.Logger.Named("map").With(zap.String("name", opt.Name)),
	}
}

// ---- insertion ----

// PutRef inserts or replaces k→v and returns the new reference. A replaced
// reference is removed. The error is the payload slot's write error.
func (c *Map[K, V]) PutRef(k K, v V) (ref.Ref[V], error) {
	r, old, err := c.link(k, v)
	if err != nil {
		return nil, err
	}
	if old != nil {
		old.Remove(c)
	}
	c.opt.control(r)
	return r, nil
}

// Put inserts or replaces k→v and returns the displaced payload, if any.
// A displaced payload that was relocated or demoted is not fetched back,
// so old is then the zero value.
func (c *Map[K, V]) Put(k K, v V) (old V, replaced bool, err error) {
	r, prev, err := c.link(k, v)
	if err != nil {
		return old, false, err
	}
	if prev != nil {
		old, _, _ = prev.Peek()
		replaced = true
		prev.Remove(c)
	}
	c.opt.control(r)
	return old, replaced, nil
}

// Add inserts k→v only if k is absent and reports whether it did.
func (c *Map[K, V]) Add(k K, v V) (bool, error) {
	if c.closed.Load() {
		return false, closedError("cache.Map.Add")
	}
	s := c.shardFor(k)
	if s.get(k) != nil {
		return false, nil
	}
	r, err := newKeyedRef(&c.opt.Options, k, v)
	if err != nil {
		return false, err
	}
	r.AddRemoveListener(c)
	if !s.insert(k, r) {
		// lost a race with another insert; the new payload was never visible
		r.Remove(c)
		return false, nil
	}
	c.grew()
	c.opt.control(r)
	return true, nil
}

// PutAll puts every pair of m. Failed pairs are skipped and reported together.
func (c *Map[K, V]) PutAll(m map[K]V) error {
	var err error
	for k, v := range m {
		_, _, e := c.Put(k, v)
		err = multierr.Append(err, e)
	}
	return err
}

func (c *Map[K, V]) link(k K, v V) (r, old *ref.KeyEntry[K, V], err error) {
	if c.closed.Load() {
		return nil, nil, closedError("cache.Map.Put")
	}
	r, err = newKeyedRef(&c.opt.Options, k, v)
	if err != nil {
		return nil, nil, err
	}
	r.AddRemoveListener(c)
	old = c.shardFor(k).swap(k, r)
	if old == nil {
		c.grew()
	}
	return r, old, nil
}

// ---- lookup ----

// Get returns the payload for k. A hit counts as an access for the
// policies tracking the reference.
func (c *Map[K, V]) Get(k K) (V, bool) {
	v, ok, _ := c.Load(k)
	return v, ok
}

// Load is Get that also reports payload read failures.
func (c *Map[K, V]) Load(k K) (V, bool, error) {
	s := c.shardFor(k)
	r := s.get(k)
	if r == nil {
		s.misses.Add(1)
		c.opt.Metrics.Miss()
		var zero V
		return zero, false, nil
	}
	v, ok, err := r.Load(c, true)
	if !ok {
		s.misses.Add(1)
		c.opt.Metrics.Miss()
		return v, false, err
	}
	s.hits.Add(1)
	c.opt.Metrics.Hit()
	return v, true, nil
}

// Ref returns the reference linked under k.
func (c *Map[K, V]) Ref(k K) (ref.Ref[V], bool) {
	if r := c.shardFor(k).get(k); r != nil {
		return r, true
	}
	return nil, false
}

// GetOrLoad returns the payload for k; on miss it loads via Loader,
// coalescing concurrent loads for the same key (singleflight).
// If no Loader is configured, returns ErrNoLoader.
func (c *Map[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	// fast path
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	// singleflight: exactly one real load for the key
	v, err, shared := c.sf.Do(ctx, k, func() (V, error) {
		// double-check after flight join
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err != nil {
			return v, err
		}
		if _, _, err := c.Put(k, v); err != nil {
			c.log.Warn("loaded value not cached", zap.Any("key", k), zap.Error(err))
		}
		return v, nil
	})
	if shared {
		c.log.Debug("load coalesced", zap.Any("key", k))
	}
	return v, err
}

// ContainsKey reports whether k is linked.
func (c *Map[K, V]) ContainsKey(k K) bool { return c.shardFor(k).get(k) != nil }

// ContainsRef reports whether r is the reference linked under its key.
func (c *Map[K, V]) ContainsRef(r ref.Ref[V]) bool {
	k, ok := ref.KeyOf[K](r)
	if !ok {
		return false
	}
	return c.shardFor(k).has(k, r)
}

// Len returns the number of linked keys.
func (c *Map[K, V]) Len() int { return int(c.size.Load()) }

// ---- removal ----

// Remove unlinks k and moves its reference to REMOVED.
func (c *Map[K, V]) Remove(k K) bool {
	// Callers after a Remove must not be handed a load that began before it.
	c.sf.Forget(k)
	r := c.shardFor(k).unlink(k)
	if r == nil {
		return false
	}
	c.shrank(1)
	r.Remove(c)
	return true
}

// RemoveRef unlinks r if it is still the reference linked under its key.
func (c *Map[K, V]) RemoveRef(r ref.Ref[V]) bool {
	k, ok := ref.KeyOf[K](r)
	if !ok || !c.shardFor(k).unlinkRef(k, r) {
		return false
	}
	c.shrank(1)
	r.Remove(c)
	return true
}

// OnRemove unlinks a reference removed by someone else, e.g. an eviction.
func (c *Map[K, V]) OnRemove(r ref.Ref[V]) {
	k, ok := ref.KeyOf[K](r)
	if !ok {
		return
	}
	s := c.shardFor(k)
	if s.unlinkRef(k, r) {
		s.evicts.Add(1)
		c.shrank(1)
		c.opt.Metrics.Evict()
	}
}

// Clear removes every entry. Entries inserted concurrently may survive.
func (c *Map[K, V]) Clear() {
	for _, s := range c.shards {
		rs := s.drain()
		c.shrank(len(rs))
		for _, r := range rs {
			r.Remove(c)
		}
	}
}

// Close clears the map; later insertions fail with ErrReferenceState.
func (c *Map[K, V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.Clear()
	c.log.Debug("map closed")
	return nil
}

// Stats returns the hit/miss/eviction counters summed over shards.
func (c *Map[K, V]) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
	}
	st.Entries = c.Len()
	return st
}

// ---- helpers ----

// shardFor picks a shard by hashing the key; len(c.shards) is a power of two.
func (c *Map[K, V]) shardFor(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash(k), len(c.shards))]
}

func (c *Map[K, V]) grew() {
	c.opt.Metrics.Size(int(c.size.Add(1)))
}

func (c *Map[K, V]) shrank(n int) {
	if n == 0 {
		return
	}
	c.opt.Metrics.Size(int(c.size.Add(-int64(n))))
}

// snapshot copies the linked references of all shards.
func (c *Map[K, V]) snapshot() []*ref.KeyEntry[K, V] {
	out := make([]*ref.KeyEntry[K, V], 0, c.Len())
	for _, s := range c.shards {
		out = append(out, s.snapshot()...)
	}
	return out
}

var (
	_ Container[int]          = (*Map[string, int])(nil)
	_ ref.RemoveListener[int] = (*Map[string, int])(nil)
)
