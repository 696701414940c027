package cache

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/ref"
)

// Set is an insertion-ordered, deduplicated collection of references.
// Two references holding equal payloads are distinct members.
// All methods are safe for concurrent use.
type Set[V any] struct {
	opt    Options[V]
	log    *zap.Logger
	closed atomic.Bool

	mu  sync.RWMutex
	idx *track.Index[V, struct{}]
}

// NewSet constructs an empty Set.
func NewSet[V any](opt Options[V]) *Set[V] {
	opt.defaults()
	return &Set[V]{
		opt: opt,
		log: opt.Logger.Named("set").With(zap.String("name", opt.Name)),
		idx: track.New[V, struct{}](),
	}
}

// Add stores v in a new reference owned by the set and returns it.
func (s *Set[V]) Add(v V) (ref.Ref[V], error) {
	if s.closed.Load() {
		return nil, closedError("cache.Set.Add")
	}
	r, err := s.opt.newRef(v)
	if err != nil {
		return nil, err
	}
	if !s.AddRef(r) {
		r.Remove(s)
		return nil, closedError("cache.Set.Add")
	}
	return r, nil
}

// AddRef takes ownership of an existing live reference. False if r is
// already a member, removed, or the set is closed.
func (s *Set[V]) AddRef(r ref.Ref[V]) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	if s.idx.Has(r) || !r.AddRemoveListener(s) {
		s.mu.Unlock()
		return false
	}
	s.idx.PushBack(r, struct{}{})
	n := s.idx.Len()
	s.mu.Unlock()

	s.opt.Metrics.Size(n)
	s.opt.control(r)
	return true
}

// Contains reports whether r is a member.
func (s *Set[V]) Contains(r ref.Ref[V]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Has(r)
}

// ContainsRef is Contains; it satisfies Container.
func (s *Set[V]) ContainsRef(r ref.Ref[V]) bool { return s.Contains(r) }

// Remove unlinks r and moves it to REMOVED.
func (s *Set[V]) Remove(r ref.Ref[V]) bool {
	if !s.unlink(r) {
		return false
	}
	r.Remove(s)
	return true
}

// RemoveRef is Remove; it satisfies Container.
func (s *Set[V]) RemoveRef(r ref.Ref[V]) bool { return s.Remove(r) }

// OnRemove unlinks a member removed by someone else, e.g. an eviction.
func (s *Set[V]) OnRemove(r ref.Ref[V]) {
	if s.unlink(r) {
		s.opt.Metrics.Evict()
	}
}

func (s *Set[V]) unlink(r ref.Ref[V]) bool {
	s.mu.Lock()
	_, ok := s.idx.Remove(r)
	n := s.idx.Len()
	s.mu.Unlock()
	if ok {
		s.opt.Metrics.Size(n)
	}
	return ok
}

// Len returns the number of members.
func (s *Set[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Len()
}

// Refs returns a snapshot of the members, oldest first.
func (s *Set[V]) Refs() []ref.Ref[V] {
	s.mu.RLock()
	items := s.idx.Items()
	s.mu.RUnlock()
	return lo.Map(items, func(it *track.Item[V, struct{}], _ int) ref.Ref[V] { return it.Ref })
}

// All iterates a snapshot of the members, oldest first.
func (s *Set[V]) All() iter.Seq[ref.Ref[V]] {
	rs := s.Refs()
	return func(yield func(ref.Ref[V]) bool) {
		for _, r := range rs {
			if !yield(r) {
				return
			}
		}
	}
}

// SetValueView is the live payload collection of a Set. Like the Map
// views it reads the set's current state on every call, iterates a
// snapshot, and removes from the set when removing through the view.
type SetValueView[V any] struct{ s *Set[V] }

// Values returns the live value view.
func (s *Set[V]) Values() SetValueView[V] { return SetValueView[V]{s} }

func (v SetValueView[V]) Len() int { return v.s.Len() }

// Slice returns the readable payloads, oldest member first.
func (v SetValueView[V]) Slice() []V {
	return lo.FilterMap(v.s.Refs(), func(r ref.Ref[V], _ int) (V, bool) {
		return r.Get(v.s, false)
	})
}

func (v SetValueView[V]) All() iter.Seq[V] {
	rs := v.s.Refs()
	return func(yield func(V) bool) {
		for _, r := range rs {
			if x, ok := r.Get(v.s, false); ok && !yield(x) {
				return
			}
		}
	}
}

// RemoveFunc removes every member whose payload matches pred and returns
// how many were removed.
func (v SetValueView[V]) RemoveFunc(pred func(V) bool) int {
	n := 0
	for _, r := range v.s.Refs() {
		if x, ok := r.Get(v.s, false); ok && pred(x) && v.s.Remove(r) {
			n++
		}
	}
	return n
}

// Clear removes every member.
func (s *Set[V]) Clear() {
	s.mu.Lock()
	items := s.idx.Reset()
	s.mu.Unlock()
	s.opt.Metrics.Size(0)
	for _, it := range items {
		it.Ref.Remove(s)
	}
}

// Close clears the set; later insertions are refused.
func (s *Set[V]) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.Clear()
	s.log.Debug("set closed")
	return nil
}

var (
	_ Container[int]          = (*Set[int])(nil)
	_ ref.RemoveListener[int] = (*Set[int])(nil)
)
