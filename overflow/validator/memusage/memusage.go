// Package memusage implements the cheap memory overflow validator, driven by
// the process memory usage rather than by per-entry sizes.
//
// Between the high-water mark and the max, the share of tracked entries to
// evict grows linearly from 0 to all of them:
//
//	overflow = tracked × clamp((used-high)/(max-high), 0, 1)
package memusage

import (
	"math"
	"runtime/debug"
	"runtime/metrics"
	"sync"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Query reports the process memory usage in bytes. max is the memory
// available to the process; 0 means unknown.
type Query interface {
	Usage() (used, max uint64)
}

// RuntimeQuery reads the Go runtime: used is the memory mapped for the heap
// and runtime structures minus what was released to the OS; max is the
// runtime soft memory limit (GOMEMLIMIT), 0 when none is set.
type RuntimeQuery struct{}

var runtimeSamples = []string{
	"/memory/classes/total:bytes",
	"/memory/classes/heap/released:bytes",
}

// Usage implements Query.
func (RuntimeQuery) Usage() (used, max uint64) {
	s := make([]metrics.Sample, len(runtimeSamples))
	for i, name := range runtimeSamples {
		s[i].Name = name
	}
	metrics.Read(s)
	var total, released uint64
	if s[0].Value.Kind() == metrics.KindUint64 {
		total = s[0].Value.Uint64()
	}
	if s[1].Value.Kind() == metrics.KindUint64 {
		released = s[1].Value.Uint64()
	}
	if released < total {
		used = total - released
	}
	if lim := debug.SetMemoryLimit(-1); lim > 0 && lim != math.MaxInt64 {
		max = uint64(lim)
	}
	return used, max
}

// Options configures the validator.
type Options struct {
	// High is the usage in bytes at which eviction starts.
	High uint64
	// Max is the usage in bytes at which every tracked entry is evicted.
	// 0 takes the max reported by Query.
	Max uint64
	// Query defaults to RuntimeQuery.
	Query Query
}

// Validator evicts a share of tracked entries proportional to memory pressure.
type Validator[V any] struct {
	opt Options

	mu  sync.Mutex
	idx *track.Index[V, struct{}]
}

// New validates opt and returns a validator.
func New[V any](opt Options) (*Validator[V], error) {
	if opt.Query == nil {
		opt.Query = RuntimeQuery{}
	}
	limit := opt.Max
	if limit == 0 {
		_, limit = opt.Query.Usage()
	}
	if limit == 0 {
		return nil, cacheerr.Config("memusage.New", "max memory is unknown; set Max")
	}
	if limit <= opt.High {
		return nil, cacheerr.Config("memusage.New", "max %d must be greater than the high-water mark %d", limit, opt.High)
	}
	opt.Max = limit
	return &Validator[V]{opt: opt, idx: track.New[V, struct{}]()}, nil
}

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
	used, _ := p.opt.Query.Usage()
	if used <= p.opt.High {
		return 0
	}
	ratio := float64(used-p.opt.High) / float64(p.opt.Max-p.opt.High)
	ratio = min(ratio, 1)

	p.mu.Lock()
	n := p.idx.Len()
	p.mu.Unlock()
	return int(float64(n) * ratio)
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

var _ overflow.Validator[int] = (*Validator[int])(nil)
