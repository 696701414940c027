// Package lifo evicts the most recently tracked reference first.
package lifo

import (
	"sync"

	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/policy"
	"github.com/IvanBrykalov/refcache/ref"
)

// Policy is a stack of tracked references.
type Policy[V any] struct {
	mu  sync.Mutex
	idx *track.Index[V, struct{}]
}

// New returns an empty LIFO policy.
func New[V any]() *Policy[V] {
	return &Policy[V]{idx: track.New[V, struct{}]()}
}

func (p *Policy[V]) Add(r ref.Ref[V]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx.Has(r) || !r.AddRemoveListener(p) {
		return
	}
	p.idx.PushBack(r, struct{}{})
}

func (p *Policy[V]) Remove(r ref.Ref[V]) {
	p.mu.Lock()
	_, ok := p.idx.Remove(r)
	p.mu.Unlock()
	if ok {
		r.DropRemoveListener(p)
	}
}

func (p *Policy[V]) OnRemove(r ref.Ref[V]) {
	p.mu.Lock()
	p.idx.Remove(r)
	p.mu.Unlock()
}

// Overflow returns the newest tracked reference.
func (p *Policy[V]) Overflow() ref.Ref[V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it := p.idx.Back(); it != nil {
		return it.Ref
	}
	return nil
}

func (p *Policy[V]) OverflowN(n int) []ref.Ref[V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return policy.Newest(p.idx, n)
}

func (p *Policy[V]) Reset() {
	p.mu.Lock()
	items := p.idx.Reset()
	p.mu.Unlock()
	for _, it := range items {
		it.Ref.DropRemoveListener(p)
	}
}

// Len returns the number of tracked references.
func (p *Policy[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx.Len()
}

var _ overflow.Algorithm[int] = (*Policy[int])(nil)
