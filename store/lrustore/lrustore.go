// Package lrustore is a bounded in-memory secondary store. When it runs
// out of room its own LRU order evicts entries, and an evicted entry's
// reference is removed, which in turn lets relocating actions drop the
// victim whose copy was lost.
package lrustore

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
)

// Option configures a Store.
type Option func(*config)

type config struct {
	log *zap.Logger
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// Store holds at most size entries.
type Store[K comparable, V any] struct {
	log *zap.Logger

	// mu serializes every mutation of c, so the eviction callback can
	// collect into evicted without a lock of its own.
	mu      sync.Mutex
	c       *lru.Cache[K, *ref.KeyEntry[K, V]]
	evicted []*ref.KeyEntry[K, V]
}

// New returns a store bounded to size entries.
func New[K comparable, V any](size int, opts ...Option) (*Store[K, V], error) {
	if size <= 0 {
		return nil, cacheerr.Config("lrustore.New", "size %d must be > 0", size)
	}
	cfg := config{log: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Store[K, V]{log: cfg.log.Named("lrustore")}
	c, err := lru.NewWithEvict(size, func(_ K, r *ref.KeyEntry[K, V]) {
		s.evicted = append(s.evicted, r)
	})
	if err != nil {
		return nil, cacheerr.Config("lrustore.New", "%v", err)
	}
	s.c = c
	return s, nil
}

// Put stores v under key, replacing (and removing) any previous reference.
func (s *Store[K, V]) Put(key K, v V) (ref.Ref[V], error) {
	r := ref.StrongKeyed(key, v)
	r.AddRemoveListener(s)

	s.mu.Lock()
	old, replaced := s.c.Peek(key)
	s.c.Add(key, r)
	if replaced {
		s.evicted = append(s.evicted, old)
	}
	s.mu.Unlock()

	s.flush()
	return r, nil
}

// Get returns the payload under key and refreshes its recency.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
	r, ok := s.c.Get(key)
	if !ok {
		var zero V
		return zero, false, nil
	}
	return r.Load(s, false)
}

// Remove removes key and its reference.
func (s *Store[K, V]) Remove(key K) error {
	s.mu.Lock()
	s.c.Remove(key)
	s.mu.Unlock()
	s.flush()
	return nil
}

// Clear removes every entry.
func (s *Store[K, V]) Clear() error {
	s.mu.Lock()
	s.c.Purge()
	s.mu.Unlock()
	s.flush()
	return nil
}

// Len returns the number of entries.
func (s *Store[K, V]) Len() int { return s.c.Len() }

// OnRemove unlinks a reference removed by someone else, unless its key has
// since been given a new reference.
func (s *Store[K, V]) OnRemove(r ref.Ref[V]) {
	k, ok := ref.KeyOf[K](r)
	if !ok {
		return
	}
	s.mu.Lock()
	if cur, ok := s.c.Peek(k); ok && ref.Ref[V](cur) == r {
		s.c.Remove(k)
	}
	s.mu.Unlock()
	s.flush()
}

// flush removes the references evicted by the last mutations. It runs
// outside mu since removal notifies listeners.
func (s *Store[K, V]) flush() {
	s.mu.Lock()
	evicted := s.evicted
	s.evicted = nil
	s.mu.Unlock()

	for _, r := range evicted {
		if !r.Removed() {
			s.log.Debug("evicted", zap.Any("key", r.Key()))
		}
		r.Remove(s)
	}
}

var (
	_ store.Store[string, int] = (*Store[string, int])(nil)
	_ ref.RemoveListener[int]  = (*Store[string, int])(nil)
)
