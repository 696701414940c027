// Package lru evicts the least recently accessed reference first.
package lru

import (
	"cmp"
	"sync"

	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/policy"
	"github.com/IvanBrykalov/refcache/ref"
)

// Policy stamps every tracked reference with its last access time.
//
// Concurrency: access notifications arrive from any goroutine reading a
// tracked reference; all state is guarded by mu.
type Policy[V any] struct {
	clock overflow.Clock

	mu  sync.Mutex
	idx *track.Index[V, int64] // last access, UnixNano
}

// New returns an LRU policy. A nil clock means time.Now.
func New[V any](clock overflow.Clock) *Policy[V] {
	if clock == nil {
		clock = overflow.SystemClock{}
	}
	return &Policy[V]{clock: clock, idx: track.New[V, int64]()}
}

// Add tracks r as accessed now.
func (p *Policy[V]) Add(r ref.Ref[V]) {
	now := p.clock.NowUnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx.Has(r) || !r.AddRemoveListener(p) {
		return
	}
	r.AddAccessListener(p)
	p.idx.PushBack(r, now)
}

func (p *Policy[V]) Remove(r ref.Ref[V]) {
	p.mu.Lock()
	_, ok := p.idx.Remove(r)
	p.mu.Unlock()
	if ok {
		p.drop(r)
	}
}

func (p *Policy[V]) drop(r ref.Ref[V]) {
	r.DropRemoveListener(p)
	r.DropAccessListener(p)
}

func (p *Policy[V]) OnRemove(r ref.Ref[V]) {
	p.mu.Lock()
	p.idx.Remove(r)
	p.mu.Unlock()
}

// OnAccess refreshes the timestamp. The tracking order is left alone so
// equal timestamps keep their original order.
func (p *Policy[V]) OnAccess(r ref.Ref[V]) {
	now := p.clock.NowUnixNano()
	p.mu.Lock()
	if it, ok := p.idx.Get(r); ok && now > it.Rec {
		it.Rec = now
	}
	p.mu.Unlock()
}

// Overflow returns the least recently accessed reference.
func (p *Policy[V]) Overflow() ref.Ref[V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return policy.Min(p.idx, cmp.Compare[int64])
}

func (p *Policy[V]) OverflowN(n int) []ref.Ref[V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return policy.Lowest(p.idx, n, cmp.Compare[int64])
}

func (p *Policy[V]) Reset() {
	p.mu.Lock()
	items := p.idx.Reset()
	p.mu.Unlock()
	for _, it := range items {
		p.drop(it.Ref)
	}
}

// Len returns the number of tracked references.
func (p *Policy[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx.Len()
}

var (
	_ overflow.Algorithm[int] = (*Policy[int])(nil)
	_ ref.AccessListener[int] = (*Policy[int])(nil)
)
