package cache

import (
	"iter"

	"github.com/samber/lo"

	"github.com/IvanBrykalov/refcache/ref"
)

// Views are live: every call reads the map's current state. Iteration runs
// over a snapshot, so the map may be mutated (including through the view)
// while iterating. Removing through a view removes from the map.

// KeyView is the live key set of a Map.
type KeyView[K comparable, V any] struct{ m *Map[K, V] }

// Keys returns the live key view.
func (c *Map[K, V]) Keys() KeyView[K, V] { return KeyView[K, V]{c} }

func (v KeyView[K, V]) Len() int          { return v.m.Len() }
func (v KeyView[K, V]) Contains(k K) bool { return v.m.ContainsKey(k) }
func (v KeyView[K, V]) Remove(k K) bool   { return v.m.Remove(k) }
func (v KeyView[K, V]) Slice() []K        { return lo.Map(v.m.snapshot(), keyOf[K, V]) }
func (v KeyView[K, V]) All() iter.Seq[K]  { return seq(v.m.snapshot(), keyOf[K, V]) }

func keyOf[K comparable, V any](r *ref.KeyEntry[K, V], _ int) K { return r.Key() }

// ValueView is the live payload collection of a Map. Payloads that cannot
// be read (cleared, removed meanwhile) are skipped.
type ValueView[K comparable, V any] struct{ m *Map[K, V] }

// Values returns the live value view.
func (c *Map[K, V]) Values() ValueView[K, V] { return ValueView[K, V]{c} }

func (v ValueView[K, V]) Len() int { return v.m.Len() }

func (v ValueView[K, V]) Slice() []V {
	return lo.FilterMap(v.m.snapshot(), func(r *ref.KeyEntry[K, V], _ int) (V, bool) {
		return r.Get(v.m, false)
	})
}

func (v ValueView[K, V]) All() iter.Seq[V] {
	rs := v.m.snapshot()
	return func(yield func(V) bool) {
		for _, r := range rs {
			if x, ok := r.Get(v.m, false); ok && !yield(x) {
				return
			}
		}
	}
}

// RemoveFunc removes every entry whose payload matches pred and returns
// how many were removed.
func (v ValueView[K, V]) RemoveFunc(pred func(V) bool) int {
	n := 0
	for _, r := range v.m.snapshot() {
		if x, ok := r.Get(v.m, false); ok && pred(x) && v.m.RemoveRef(r) {
			n++
		}
	}
	return n
}

// EntryView is the live key/payload association of a Map.
type EntryView[K comparable, V any] struct{ m *Map[K, V] }

// Entries returns the live entry view.
func (c *Map[K, V]) Entries() EntryView[K, V] { return EntryView[K, V]{c} }

func (v EntryView[K, V]) Len() int          { return v.m.Len() }
func (v EntryView[K, V]) Contains(k K) bool { return v.m.ContainsKey(k) }
func (v EntryView[K, V]) Remove(k K) bool   { return v.m.Remove(k) }

func (v EntryView[K, V]) Slice() []lo.Entry[K, V] {
	return lo.FilterMap(v.m.snapshot(), func(r *ref.KeyEntry[K, V], _ int) (lo.Entry[K, V], bool) {
		x, ok := r.Get(v.m, false)
		return lo.Entry[K, V]{Key: r.Key(), Value: x}, ok
	})
}

func (v EntryView[K, V]) All() iter.Seq2[K, V] {
	rs := v.m.snapshot()
	return func(yield func(K, V) bool) {
		for _, r := range rs {
			if x, ok := r.Get(v.m, false); ok && !yield(r.Key(), x) {
				return
			}
		}
	}
}

func seq[T, U any](xs []T, f func(T, int) U) iter.Seq[U] {
	return func(yield func(U) bool) {
		for i, x := range xs {
			if !yield(f(x, i)) {
				return
			}
		}
	}
}
