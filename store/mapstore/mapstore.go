// Package mapstore exposes a cache.Map as a secondary store, so a second,
// independently controlled map (e.g. one with file-backed slots) can
// receive relocated payloads.
package mapstore

import (
	"github.com/IvanBrykalov/refcache/cache"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
)

// Store adapts a *cache.Map to store.Store.
type Store[K comparable, V any] struct {
	m *cache.Map[K, V]
}

// New wraps m.
func New[K comparable, V any](m *cache.Map[K, V]) *Store[K, V] { return &Store[K, V]{m: m} }

func (s *Store[K, V]) Put(key K, v V) (ref.Ref[V], error) { return s.m.PutRef(key, v) }
func (s *Store[K, V]) Get(key K) (V, bool, error)         { return s.m.Load(key) }
func (s *Store[K, V]) Len() int                           { return s.m.Len() }

func (s *Store[K, V]) Remove(key K) error {
	s.m.Remove(key)
	return nil
}

func (s *Store[K, V]) Clear() error {
	s.m.Clear()
	return nil
}

// Map returns the wrapped map.
func (s *Store[K, V]) Map() *cache.Map[K, V] { return s.m }

var _ store.Store[string, int] = (*Store[string, int])(nil)
