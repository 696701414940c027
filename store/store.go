// Package store defines the secondary store contract used by the relocating
// actions, plus adapters turning stores and containers into relocation
// targets. Implementations live in the subpackages.
package store

import (
	"errors"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/ref"
)

var errUnkeyed = errors.New("reference carries no key of the store's key type")

// Store is a keyed secondary store. Put returns the reference holding the
// stored copy; removing that reference removes the entry from the store.
// All methods are safe for concurrent use.
type Store[K comparable, V any] interface {
	Put(key K, v V) (ref.Ref[V], error)
	Get(key K) (V, bool, error)
	Remove(key K) error
	Clear() error
	Len() int
}

// KeySaver records keys whose payload lives elsewhere (e.g. with the
// authoritative node), so they can be fetched again later.
type KeySaver[K comparable] interface {
	SaveKey(key K) error
}

// Adder is an unkeyed container of references, such as *cache.Set.
type Adder[V any] interface {
	Add(v V) (ref.Ref[V], error)
}

// Target receives the payload of an evicted reference and returns the
// reference now holding the copy.
type Target[V any] interface {
	Put(victim ref.Ref[V], v V) (ref.Ref[V], error)
}

// Keyed relocates keyed victims into s under their key. Unkeyed victims
// fail with cacheerr.ErrReferenceState.
func Keyed[K comparable, V any](s Store[K, V]) Target[V] { return keyed[K, V]{s} }

type keyed[K comparable, V any] struct{ s Store[K, V] }

func (t keyed[K, V]) Put(victim ref.Ref[V], v V) (ref.Ref[V], error) {
	k, ok := ref.KeyOf[K](victim)
	if !ok {
		return nil, cacheerr.State("store.Keyed.Put", errUnkeyed)
	}
	return t.s.Put(k, v)
}

// Values relocates victims by value into an unkeyed container.
func Values[V any](a Adder[V]) Target[V] { return values[V]{a} }

type values[V any] struct{ a Adder[V] }

func (t values[V]) Put(_ ref.Ref[V], v V) (ref.Ref[V], error) { return t.a.Add(v) }
