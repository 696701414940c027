// Package capacity implements the entry-count overflow validator.
package capacity

import (
	"sync"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Validator reports trackedCount - MaxSize entries as overflow.
type Validator[V any] struct {
	maxSize   int
	threshold int

	mu  sync.Mutex
	idx *track.Index[V, struct{}]
}

// New returns a validator allowing maxSize entries. A positive threshold
// caps a single overflow report at maxSize-threshold entries.
func New[V any](maxSize, threshold int) (*Validator[V], error) {
	if maxSize < 0 {
		return nil, cacheerr.Config("capacity.New", "max size %d must be >= 0", maxSize)
	}
	if threshold < 0 || (threshold > 0 && threshold >= maxSize) {
		return nil, cacheerr.Config("capacity.New", "threshold %d must be 0 or within (0, %d)", threshold, maxSize)
	}
	return &Validator[V]{
		maxSize:   maxSize,
		threshold: threshold,
		idx:       track.New[V, struct{}](),
	}, nil
}

// MaxSize returns the configured capacity.
func (p *Validator[V]) MaxSize() int { return p.maxSize }

// Add implements overflow.Validator.
func (p *Validator[V]) Add(r ref.Ref[V]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx.Has(r) || !r.AddRemoveListener(p) {
		return
	}
	p.idx.PushBack(r, struct{}{})
}

// Remove implements overflow.Validator.
func (p *Validator[V]) Remove(r ref.Ref[V]) {
	p.mu.Lock()
	_, ok := p.idx.Remove(r)
	p.mu.Unlock()
	if ok {
		r.DropRemoveListener(p)
	}
}

// OnRemove untracks references removed outside the pipeline.
func (p *Validator[V]) OnRemove(r ref.Ref[V]) {
	p.mu.Lock()
	p.idx.Remove(r)
	p.mu.Unlock()
}

// Validate implements overflow.Validator.
func (p *Validator[V]) Validate() int {
	p.mu.Lock()
	n := p.idx.Len() - p.maxSize
	p.mu.Unlock()

	if p.threshold > 0 && n > p.maxSize-p.threshold {
		n = p.maxSize - p.threshold
	}
	return max(n, 0)
}

// Len returns the number of tracked references.
func (p *Validator[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx.Len()
}

// Reset implements overflow.Validator.
func (p *Validator[V]) Reset() {
	p.mu.Lock()
	items := p.idx.Reset()
	p.mu.Unlock()
	for _, it := range items {
		it.Ref.DropRemoveListener(p)
	}
}

var (
	_ overflow.Validator[int] = (*Validator[int])(nil)
	_ ref.RemoveListener[int] = (*Validator[int])(nil)
)
