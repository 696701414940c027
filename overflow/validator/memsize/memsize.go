// Package memsize implements the precise memory overflow validator. It
// estimates the byte size of every tracked payload with a Model and reports
// how many average-sized entries must go to get back under the limit:
//
//	overflow = ceil((used - max) / (used / count))
package memsize

import (
	"math"
	"sync"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Options configures the validator.
type Options struct {
	// Max is the byte budget for all tracked payloads. Required.
	Max int64
	// CacheOnAdd sizes a payload once when it is enrolled (and again when it
	// changes) instead of re-sizing every payload on each Validate.
	CacheOnAdd bool
	// Model defaults to an empty Model (structural estimation only).
	Model *Model
}

// Validator sums payload sizes against a byte budget.
type Validator[V any] struct {
	opt Options

	mu  sync.Mutex
	idx *track.Index[V, int64] // cached size; unused unless CacheOnAdd
}

// New validates opt and returns a validator.
func New[V any](opt Options) (*Validator[V], error) {
	if opt.Max <= 0 {
		return nil, cacheerr.Config("memsize.New", "max %d must be > 0", opt.Max)
	}
	if opt.Model == nil {
		opt.Model = NewModel()
	}
	return &Validator[V]{opt: opt, idx: track.New[V, int64]()}, nil
}

// sizeOf measures the payload held in r's own slot. A relocated or demoted
// payload lives elsewhere and counts as 0; reading it through the fallbacks
// would migrate it back.
func (p *Validator[V]) sizeOf(r ref.Ref[V]) int64 {
	v, ok, err := r.Peek()
	if err != nil || !ok {
		return 0
	}
	return p.opt.Model.Sizeof(v)
}

// Add implements overflow.Validator.
func (p *Validator[V]) Add(r ref.Ref[V]) {
	var size int64
	if p.opt.CacheOnAdd {
		size = p.sizeOf(r)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx.Has(r) || !r.AddRemoveListener(p) {
		return
	}
	if p.opt.CacheOnAdd {
		r.AddChangeListener(p)
	}
	p.idx.PushBack(r, size)
}

// Remove implements overflow.Validator.
func (p *Validator[V]) Remove(r ref.Ref[V]) {
	p.mu.Lock()
	_, ok := p.idx.Remove(r)
	p.mu.Unlock()
	if ok {
		p.drop(r)
	}
}

func (p *Validator[V]) drop(r ref.Ref[V]) {
	r.DropRemoveListener(p)
	r.DropChangeListener(p)
}

// OnRemove untracks references removed outside the pipeline.
func (p *Validator[V]) OnRemove(r ref.Ref[V]) {
	p.mu.Lock()
	p.idx.Remove(r)
	p.mu.Unlock()
}

// OnChange re-sizes a payload that was replaced or cleared.
func (p *Validator[V]) OnChange(r ref.Ref[V]) {
	size := p.sizeOf(r)
	p.mu.Lock()
	if it, ok := p.idx.Get(r); ok {
		it.Rec = size
	}
	p.mu.Unlock()
}

// Used returns the current size estimate of all tracked payloads and their count.
func (p *Validator[V]) Used() (used int64, count int) {
	p.mu.Lock()
	if p.opt.CacheOnAdd {
		defer p.mu.Unlock()
		p.idx.Ascend(func(it *track.Item[V, int64]) bool {
			used += it.Rec
			return true
		})
		return used, p.idx.Len()
	}
	items := p.idx.Items()
	p.mu.Unlock()

	// payloads are read outside the lock
	for _, it := range items {
		used += p.sizeOf(it.Ref)
	}
	return used, len(items)
}

// Validate implements overflow.Validator.
func (p *Validator[V]) Validate() int {
	used, count := p.Used()
	if count == 0 || used <= p.opt.Max {
		return 0
	}
	avg := float64(used) / float64(count)
	n := int(math.Ceil(float64(used-p.opt.Max) / avg))
	return min(n, count)
}

// Reset implements overflow.Validator.
func (p *Validator[V]) Reset() {
	p.mu.Lock()
	items := p.idx.Reset()
	p.mu.Unlock()
	for _, it := range items {
		p.drop(it.Ref)
	}
}

var (
	_ overflow.Validator[int] = (*Validator[int])(nil)
	_ ref.ChangeListener[int] = (*Validator[int])(nil)
)
