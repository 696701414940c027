// Package policy holds the eviction algorithms (victim selection) used by the
// overflow controller. Each subpackage implements overflow.Algorithm:
//
//   - lifo: most recently tracked first
//   - lru:  least recently accessed first
//   - lfu:  least frequently accessed first, optionally decayed by idle time
//   - twoq: 2Q, with a probation FIFO in front of an LRU and ghost keys
//
// Algorithms track references in a private index and register as remove
// listeners so a reference removed elsewhere is untracked synchronously.
// Selecting a victim never untracks it; the action does that.
package policy

import (
	"slices"

	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/ref"
)

// Min returns the tracked reference with the lowest record according to cmp.
// Ties go to the reference tracked first. Nil if nothing is tracked.
func Min[V, R any](x *track.Index[V, R], cmp func(a, b R) int) ref.Ref[V] {
	var best *track.Item[V, R]
	x.Ascend(func(it *track.Item[V, R]) bool {
		if best == nil || cmp(it.Rec, best.Rec) < 0 {
			best = it
		}
		return true
	})
	if best == nil {
		return nil
	}
	return best.Ref
}

// Lowest returns up to n tracked references ordered by cmp ascending.
// The sort is stable, so ties keep tracking order.
func Lowest[V, R any](x *track.Index[V, R], n int, cmp func(a, b R) int) []ref.Ref[V] {
	if n <= 0 {
		return nil
	}
	items := x.Items()
	slices.SortStableFunc(items, func(a, b *track.Item[V, R]) int { return cmp(a.Rec, b.Rec) })
	return refs(items[:min(n, len(items))])
}

// Newest returns up to n references from the back of x, newest first.
func Newest[V, R any](x *track.Index[V, R], n int) []ref.Ref[V] {
	out := make([]ref.Ref[V], 0, max(0, min(n, x.Len())))
	x.Descend(func(it *track.Item[V, R]) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, it.Ref)
		return true
	})
	return out
}

// Oldest returns up to n references from the front of x, oldest first.
func Oldest[V, R any](x *track.Index[V, R], n int) []ref.Ref[V] {
	out := make([]ref.Ref[V], 0, max(0, min(n, x.Len())))
	x.Ascend(func(it *track.Item[V, R]) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, it.Ref)
		return true
	})
	return out
}

func refs[V, R any](items []*track.Item[V, R]) []ref.Ref[V] {
	out := make([]ref.Ref[V], len(items))
	for i, it := range items {
		out[i] = it.Ref
	}
	return out
}
