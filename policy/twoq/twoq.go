// Package twoq implements the 2Q eviction algorithm over keyed references.
package twoq

import (
	"container/list"
	"sync"

	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Policy implements 2Q.
//
// Resident queues:
//   - A1in (probation) FIFO: admits first-time references
//   - Am   (main)      LRU: references read at least once while resident
//
// Ghost A1out: keys only, remembers references recently dropped from A1in
// so that on re-admission they bypass probation and go straight to Am.
// Ghosts need a key; unkeyed references never produce one.
//
// Victims come from A1in while it holds more than capIn references (or Am is
// empty), otherwise from the LRU end of Am.
type Policy[K comparable, V any] struct {
	capIn    int
	capGhost int

	mu sync.Mutex
	in *track.Index[V, struct{}] // front = oldest
	am *track.Index[V, struct{}] // front = least recently used

	// A1out: front = most recent
	ghostList *list.List
	ghostIdx  map[K]*list.Element // element.Value is K
}

// New constructs a 2Q policy.
// Common choices: capIn ≈ 25% of the cache capacity; capGhost ≈ 50–100%.
func New[K comparable, V any](capIn, capGhost int) *Policy[K, V] {
	if capIn < 1 {
		capIn = 1
	}
	if capGhost < 1 {
		capGhost = 1
	}
	return &Policy[K, V]{
		capIn:     capIn,
		capGhost:  capGhost,
		in:        track.New[V, struct{}](),
		am:        track.New[V, struct{}](),
		ghostList: list.New(),
		ghostIdx:  make(map[K]*list.Element),
	}
}

// Add admission rules:
//   - a key found in A1out skips probation and enters Am (the ghost is dropped)
//   - anything else enters A1in
func (q *Policy[K, V]) Add(r ref.Ref[V]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.in.Has(r) || q.am.Has(r) || !r.AddRemoveListener(q) {
		return
	}
	r.AddAccessListener(q)

	if k, ok := ref.KeyOf[K](r); ok {
		if ge, ok := q.ghostIdx[k]; ok {
			q.ghostList.Remove(ge)
			delete(q.ghostIdx, k)
			q.am.PushBack(r, struct{}{})
			return
		}
	}
	q.in.PushBack(r, struct{}{})
}

// OnAccess promotes a probation reference to Am, or refreshes it in Am.
func (q *Policy[K, V]) OnAccess(r ref.Ref[V]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.in.Remove(r); ok {
		q.am.PushBack(r, struct{}{})
		return
	}
	q.am.MoveToBack(r)
}

// Remove untracks r. Leaving A1in records a ghost.
func (q *Policy[K, V]) Remove(r ref.Ref[V]) {
	q.mu.Lock()
	ok := q.untrack(r)
	q.mu.Unlock()
	if ok {
		r.DropRemoveListener(q)
		r.DropAccessListener(q)
	}
}

func (q *Policy[K, V]) OnRemove(r ref.Ref[V]) {
	q.mu.Lock()
	q.untrack(r)
	q.mu.Unlock()
}

// untrack removes r from whichever queue holds it. Caller holds mu.
func (q *Policy[K, V]) untrack(r ref.Ref[V]) bool {
	if _, ok := q.am.Remove(r); ok {
		return true
	}
	if _, ok := q.in.Remove(r); !ok {
		return false
	}
	if k, ok := ref.KeyOf[K](r); ok {
		q.ghost(k)
	}
	return true
}

// ghost inserts k at the MRU end of A1out and trims it to capGhost.
func (q *Policy[K, V]) ghost(k K) {
	if old := q.ghostIdx[k]; old != nil {
		q.ghostList.Remove(old)
	}
	q.ghostIdx[k] = q.ghostList.PushFront(k)

	for q.ghostList.Len() > q.capGhost {
		tail := q.ghostList.Back()
		if tail == nil {
			break
		}
		delete(q.ghostIdx, tail.Value.(K))
		q.ghostList.Remove(tail)
	}
}

// Overflow returns the next victim without untracking it.
func (q *Policy[K, V]) Overflow() ref.Ref[V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v := q.victims(1); len(v) > 0 {
		return v[0]
	}
	return nil
}

func (q *Policy[K, V]) OverflowN(n int) []ref.Ref[V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.victims(n)
}

// victims drains A1in down to capIn first, then takes Am from its
// LRU end, then whatever is left in A1in. Caller holds mu.
func (q *Policy[K, V]) victims(n int) []ref.Ref[V] {
	out := make([]ref.Ref[V], 0, max(0, min(n, q.in.Len()+q.am.Len())))
	excess := q.in.Len() - q.capIn
	if q.am.Len() == 0 {
		excess = q.in.Len()
	}
	var rest []ref.Ref[V]
	q.in.Ascend(func(it *track.Item[V, struct{}]) bool {
		if excess > 0 && len(out) < n {
			out = append(out, it.Ref)
			excess--
		} else {
			rest = append(rest, it.Ref)
		}
		return true
	})
	q.am.Ascend(func(it *track.Item[V, struct{}]) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, it.Ref)
		return true
	})
	for _, r := range rest {
		if len(out) >= n {
			break
		}
		out = append(out, r)
	}
	return out
}

func (q *Policy[K, V]) Reset() {
	q.mu.Lock()
	items := append(q.in.Reset(), q.am.Reset()...)
	q.ghostList.Init()
	clear(q.ghostIdx)
	q.mu.Unlock()
	for _, it := range items {
		it.Ref.DropRemoveListener(q)
		it.Ref.DropAccessListener(q)
	}
}

// Len returns the resident counts of A1in and Am, and the ghost count.
func (q *Policy[K, V]) Len() (in, am, ghosts int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.in.Len(), q.am.Len(), q.ghostList.Len()
}

var (
	_ overflow.Algorithm[int] = (*Policy[string, int])(nil)
	_ ref.AccessListener[int] = (*Policy[string, int])(nil)
)
