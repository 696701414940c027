// Package track provides the insertion-ordered reference index shared by
// validators and algorithms for their bookkeeping records.
package track

import (
	"container/list"

	"github.com/IvanBrykalov/refcache/ref"
)

// Item is a tracked reference and its policy record.
type Item[V any, R any] struct {
	Ref ref.Ref[V]
	Rec R
}

// Index is an insertion-ordered set of references, each with a record R.
// Front is the oldest entry, Back the newest. Not safe for concurrent use;
// callers guard it with their own lock.
type Index[V any, R any] struct {
	l *list.List // element.Value is *Item[V, R]
	m map[ref.Ref[V]]*list.Element
}

// New returns an empty index.
func New[V any, R any]() *Index[V, R] {
	return &Index[V, R]{l: list.New(), m: make(map[ref.Ref[V]]*list.Element)}
}

// Len returns the number of tracked references.
func (x *Index[V, R]) Len() int { return x.l.Len() }

// Has reports whether r is tracked.
func (x *Index[V, R]) Has(r ref.Ref[V]) bool {
	_, ok := x.m[r]
	return ok
}

// Get returns the item for r.
func (x *Index[V, R]) Get(r ref.Ref[V]) (*Item[V, R], bool) {
	el, ok := x.m[r]
	if !ok {
		return nil, false
	}
	return el.Value.(*Item[V, R]), true
}

// PushBack tracks r as the newest entry. It is a no-op returning the existing
// item if r is already tracked.
func (x *Index[V, R]) PushBack(r ref.Ref[V], rec R) *Item[V, R] {
	if el, ok := x.m[r]; ok {
		return el.Value.(*Item[V, R])
	}
	it := &Item[V, R]{Ref: r, Rec: rec}
	x.m[r] = x.l.PushBack(it)
	return it
}

// MoveToBack makes r the newest entry.
func (x *Index[V, R]) MoveToBack(r ref.Ref[V]) {
	if el, ok := x.m[r]; ok {
		x.l.MoveToBack(el)
	}
}

// Remove untracks r and returns its item.
func (x *Index[V, R]) Remove(r ref.Ref[V]) (*Item[V, R], bool) {
	el, ok := x.m[r]
	if !ok {
		return nil, false
	}
	delete(x.m, r)
	x.l.Remove(el)
	return el.Value.(*Item[V, R]), true
}

// Front returns the oldest item or nil.
func (x *Index[V, R]) Front() *Item[V, R] {
	if el := x.l.Front(); el != nil {
		return el.Value.(*Item[V, R])
	}
	return nil
}

// Back returns the newest item or nil.
func (x *Index[V, R]) Back() *Item[V, R] {
	if el := x.l.Back(); el != nil {
		return el.Value.(*Item[V, R])
	}
	return nil
}

// Ascend calls fn from oldest to newest until fn returns false.
func (x *Index[V, R]) Ascend(fn func(*Item[V, R]) bool) {
	for el := x.l.Front(); el != nil; el = el.Next() {
		if !fn(el.Value.(*Item[V, R])) {
			return
		}
	}
}

// Descend calls fn from newest to oldest until fn returns false.
func (x *Index[V, R]) Descend(fn func(*Item[V, R]) bool) {
	for el := x.l.Back(); el != nil; el = el.Prev() {
		if !fn(el.Value.(*Item[V, R])) {
			return
		}
	}
}

// Items returns the items from oldest to newest.
func (x *Index[V, R]) Items() []*Item[V, R] {
	out := make([]*Item[V, R], 0, x.l.Len())
	x.Ascend(func(it *Item[V, R]) bool {
		out = append(out, it)
		return true
	})
	return out
}

// Reset untracks everything and returns what was tracked, oldest first.
func (x *Index[V, R]) Reset() []*Item[V, R] {
	items := x.Items()
	x.l.Init()
	clear(x.m)
	return items
}
