// Package expiry implements the time-based overflow validator.
//
// Each reference is stamped when it is enrolled. An entry is expired when it
// has lived longer than the TTL, or when a periodic boundary
// (Offset + k*Interval since the Unix epoch) has passed since it was enrolled.
// Entries are assumed to be enrolled roughly in time order, so Validate
// counts the expired prefix and stops at the first live entry.
package expiry

import (
	"sync"
	"time"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/internal/track"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Options configures the validator. At least one of TTL and Interval must be set.
type Options struct {
	// TTL expires entries older than this.
	TTL time.Duration
	// Interval expires every entry enrolled before the latest boundary.
	Interval time.Duration
	// Offset shifts the boundaries, e.g. 3h with a 24h Interval expires
	// everything at 03:00 UTC.
	Offset time.Duration
	// Clock overrides the time source (tests). Nil => time.Now().
	Clock overflow.Clock
}

// Validator counts expired entries.
type Validator[V any] struct {
	opt Options

	mu  sync.Mutex
	idx *track.Index[V, int64] // enrollment time, UnixNano
}

// New validates opt and returns a validator.
func New[V any](opt Options) (*Validator[V], error) {
	if opt.TTL < 0 || opt.Interval < 0 {
		return nil, cacheerr.Config("expiry.New", "ttl %v and interval %v must be >= 0", opt.TTL, opt.Interval)
	}
	if opt.TTL == 0 && opt.Interval == 0 {
		return nil, cacheerr.Config("expiry.New", "one of ttl or interval is required")
	}
	if opt.Clock == nil {
		opt.Clock = overflow.SystemClock{}
	}
	return &Validator[V]{opt: opt, idx: track.New[V, int64]()}, nil
}

// Add implements overflow.Validator.
func (p *Validator[V]) Add(r ref.Ref[V]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx.Has(r) || !r.AddRemoveListener(p) {
		return
	}
	p.idx.PushBack(r, p.opt.Clock.NowUnixNano())
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
	now := p.opt.Clock.NowUnixNano()
	ttl := int64(p.opt.TTL)
	boundary, periodic := p.boundary(now)

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	p.idx.Ascend(func(it *track.Item[V, int64]) bool {
		enrolled := it.Rec
		if (ttl > 0 && now-enrolled > ttl) || (periodic && enrolled < boundary) {
			n++
			return true
		}
		return false
	})
	return n
}

// boundary returns the latest periodic boundary at or before now.
func (p *Validator[V]) boundary(now int64) (int64, bool) {
	iv := int64(p.opt.Interval)
	if iv <= 0 {
		return 0, false
	}
	off := int64(p.opt.Offset)
	return off + floorDiv(now-off, iv)*iv, true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
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

// Len returns the number of tracked references.
func (p *Validator[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx.Len()
}

var _ overflow.Validator[int] = (*Validator[int])(nil)
