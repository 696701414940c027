package cache

import (
	"sync"

	"github.com/IvanBrykalov/refcache/internal/util"
	"github.com/IvanBrykalov/refcache/ref"
)

// shard is an independent partition of a Map's index with its own lock.
// It never calls into a reference while mu is held.
type shard[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu sync.RWMutex
	m  map[K]*ref.KeyEntry[K, V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

func newShard[K comparable, V any]() *shard[K, V] {
	return &shard[K, V]{m: make(map[K]*ref.KeyEntry[K, V])}
}

func (s *shard[K, V]) get(k K) *ref.KeyEntry[K, V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[k]
}

// swap links r under k and returns the reference it displaced.
func (s *shard[K, V]) swap(k K, r *ref.KeyEntry[K, V]) (old *ref.KeyEntry[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.m[k]
	s.m[k] = r
	return old
}

// insert links r under k only if k is absent.
func (s *shard[K, V]) insert(k K, r *ref.KeyEntry[K, V]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = r
	return true
}

// unlink removes k and returns the reference it held.
func (s *shard[K, V]) unlink(k K) *ref.KeyEntry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[k]
	if !ok {
		return nil
	}
	delete(s.m, k)
	return r
}

// unlinkRef removes k only if it still maps to r.
func (s *shard[K, V]) unlinkRef(k K, r ref.Ref[V]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[k]
	if !ok || cur != r {
		return false
	}
	delete(s.m, k)
	return true
}

func (s *shard[K, V]) has(k K, r ref.Ref[V]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.m[k]
	return ok && cur == r
}

// snapshot copies the shard's references.
func (s *shard[K, V]) snapshot() []*ref.KeyEntry[K, V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ref.KeyEntry[K, V], 0, len(s.m))
	for _, r := range s.m {
		out = append(out, r)
	}
	return out
}

// drain unlinks everything and returns what was linked.
func (s *shard[K, V]) drain() []*ref.KeyEntry[K, V] {
	s.mu.Lock()
	old := s.m
	s.m = make(map[K]*ref.KeyEntry[K, V])
	s.mu.Unlock()

	out := make([]*ref.KeyEntry[K, V], 0, len(old))
	for _, r := range old {
		out = append(out, r)
	}
	return out
}

func (s *shard[K, V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
