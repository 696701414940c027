// Package lfu evicts the least frequently accessed reference first.
//
// Each reference carries an access counter starting at 1. When a counter
// would overflow, every counter in the policy is divided by Decay so the
// ranking survives without unbounded growth.
//
// In ratio mode the rank is count / max(1, idle/Unit), where idle is the time
// since the last access: an entry that was hot once but went cold sinks below
// one that is read steadily.
package lfu

import (
	"cmp"
	"math"
	"sync"
	"time"

	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/policy"
	"github.com/IvanBrykalov/refcache/ref"
)

// Decay divides all counters when one of them saturates.
const Decay = 1000

// Options configures the policy.
type Options struct {
	// Ratio ranks by count per idle Unit instead of raw count.
	Ratio bool
	// Unit is the idle-time unit in ratio mode. Default: 1s.
	Unit time.Duration
	// Clock overrides the time source (tests). Nil => time.Now().
	Clock overflow.Clock
}

type record struct {
	count int32
	first int64 // first cached, UnixNano
	last  int64 // last access, UnixNano
}

// Policy counts accesses per tracked reference.
type Policy[V any] struct {
	opt Options

	mu  sync.Mutex
	idx *track.Index[V, *record]
}

// New returns an LFU policy.
func New[V any](opt Options) *Policy[V] {
	if opt.Unit <= 0 {
		opt.Unit = time.Second
	}
	if opt.Clock == nil {
		opt.Clock = overflow.SystemClock{}
	}
	return &Policy[V]{opt: opt, idx: track.New[V, *record]()}
}

func (p *Policy[V]) Add(r ref.Ref[V]) {
	now := p.opt.Clock.NowUnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx.Has(r) || !r.AddRemoveListener(p) {
		return
	}
	r.AddAccessListener(p)
	p.idx.PushBack(r, &record{count: 1, first: now, last: now})
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

// OnAccess bumps the counter.
func (p *Policy[V]) OnAccess(r ref.Ref[V]) {
	now := p.opt.Clock.NowUnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.idx.Get(r)
	if !ok {
		return
	}
	if it.Rec.count == math.MaxInt32 {
		p.decay()
	}
	it.Rec.count++
	it.Rec.last = now
}

// decay scales every counter down. Caller holds mu.
func (p *Policy[V]) decay() {
	p.idx.Ascend(func(it *track.Item[V, *record]) bool {
		it.Rec.count = max(1, it.Rec.count/Decay)
		return true
	})
}

// Count returns the access counter of r, 0 if r is not tracked.
func (p *Policy[V]) Count(r ref.Ref[V]) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.idx.Get(r); ok {
		return it.Rec.count
	}
	return 0
}

func (p *Policy[V]) rank(now int64) func(a, b *record) int {
	if !p.opt.Ratio {
		return func(a, b *record) int { return cmp.Compare(a.count, b.count) }
	}
	unit := int64(p.opt.Unit)
	ratio := func(r *record) float64 {
		idle := max(1, (now-r.last)/unit)
		return float64(r.count) / float64(idle)
	}
	return func(a, b *record) int { return cmp.Compare(ratio(a), ratio(b)) }
}

// Overflow returns the lowest-ranked reference; ties go to the one tracked first.
func (p *Policy[V]) Overflow() ref.Ref[V] {
	now := p.opt.Clock.NowUnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	return policy.Min(p.idx, p.rank(now))
}

func (p *Policy[V]) OverflowN(n int) []ref.Ref[V] {
	now := p.opt.Clock.NowUnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	return policy.Lowest(p.idx, n, p.rank(now))
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
