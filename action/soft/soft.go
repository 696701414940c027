// Package soft implements reclaimable-tier demotion. A victim's payload is
// moved behind a weak pointer, optionally backed by a copy in a secondary
// store, and the victim keeps a link serving reads from either.
//
// The Go collector clears weak pointers at the first cycle after the last
// strong reference is dropped; it does not wait for memory pressure. A
// demoted payload therefore survives only until the next GC unless a
// secondary copy backs it. When the handle is reclaimed and no copy
// remains, a background worker removes the victim and asks the controller
// for a re-evaluation.
package soft

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/internal/queue"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
)

var errVictimRemoved = errors.New("victim removed during demotion")

// Options configures an Action. Zero values are safe:
//   - nil Target => payloads live only behind the weak pointer
//   - nil Logger => zap.NewNop()
type Options[V any] struct {
	// Target receives a backing copy of every demoted payload.
	Target store.Target[V]
	Logger *zap.Logger
}

// Action demotes victims to the reclaimable tier. It owns the reclamation
// worker, which the controller starts and stops with itself.
type Action[V any] struct {
	target store.Target[V]
	log    *zap.Logger

	reclaimed *queue.Queue[*link[V]]
	swept     atomic.Uint64

	mu      sync.Mutex
	trigger overflow.Trigger[V]
	links   map[*link[V]]struct{}

	lifeMu sync.Mutex
	cancel context.CancelFunc
	g      *errgroup.Group
}

// New returns a demotion action.
func New[V any](opt Options[V]) *Action[V] {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Action[V]{
		target:    opt.Target,
		log:       opt.Logger.Named("soft"),
		reclaimed: queue.New[*link[V]](),
		links:     make(map[*link[V]]struct{}),
	}
}

// Bind implements overflow.Binder.
func (p *Action[V]) Bind(t overflow.Trigger[V]) {
	p.mu.Lock()
	p.trigger = t
	p.mu.Unlock()
}

// Start implements overflow.Runner: it starts the reclamation worker.
func (p *Action[V]) Start() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.run(ctx)
		return nil
	})
	p.cancel, p.g = cancel, g
	return nil
}

// Stop implements overflow.Runner. Handles already reclaimed are processed
// before the worker exits.
func (p *Action[V]) Stop() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	err := p.g.Wait()
	p.cancel, p.g = nil, nil
	return err
}

// Action implements overflow.Action. A victim holding no in-process payload
// is only deregistered.
func (p *Action[V]) Action(v overflow.Validator[V], a overflow.Algorithm[V], r ref.Ref[V]) error {
	// Deregister first: the validator and the algorithm must not see the
	// victim while its payload moves, nor read it through the new fallback.
	v.Remove(r)
	a.Remove(r)

	val, ok, err := r.Peek()
	if err != nil {
		return fmt.Errorf("soft: read victim: %w", err)
	}
	if !ok {
		return nil
	}

	var cp ref.Ref[V]
	if p.target != nil {
		if cp, err = p.target.Put(r, val); err != nil {
			return fmt.Errorf("soft: %w", err)
		}
	}

	l := &link[V]{owner: p, origin: r, copy: cp}
	b := &box[V]{v: val, l: l}
	l.handle = weak.Make(b)
	runtime.AddCleanup(b, p.reclaimed.Push, l)

	if !r.AddFallback(l) || !r.AddRemoveListener(l) || (cp != nil && !cp.AddRemoveListener(l)) {
		l.release()
		return cacheerr.State("soft.Action", errVictimRemoved)
	}
	r.AddChangeListener(l)
	p.track(l)

	err = r.Clear(l)
	// b must outlive the slot's strong copy, or a cycle in between could
	// report the payload lost while the victim still holds it.
	runtime.KeepAlive(b)
	if err != nil {
		l.release()
		return err
	}
	p.log.Debug("demoted", zap.Bool("backed", cp != nil))
	return nil
}

// Reset implements overflow.Action. Existing links keep serving reads.
func (p *Action[V]) Reset() {
	p.mu.Lock()
	clear(p.links)
	p.mu.Unlock()
}

// Len returns the number of victims currently demoted.
func (p *Action[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

// Reclaimed returns how many collected handles the worker has processed.
func (p *Action[V]) Reclaimed() uint64 { return p.swept.Load() }

func (p *Action[V]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.sweep()
			return
		case <-p.reclaimed.Ready():
			p.sweep()
		}
	}
}

// sweep removes every victim whose handle was collected and whose backing
// copy is gone, then pokes the controller once.
func (p *Action[V]) sweep() {
	items := p.reclaimed.Drain()
	if len(items) == 0 {
		return
	}
	lost := 0
	for _, l := range items {
		if l.lost() {
			l.origin.Remove(l)
			l.release()
			lost++
		}
	}
	p.swept.Add(uint64(len(items)))
	p.log.Debug("reclaimed", zap.Int("handles", len(items)), zap.Int("removed", lost))
	p.control(nil)
}

func (p *Action[V]) track(l *link[V]) {
	p.mu.Lock()
	p.links[l] = struct{}{}
	p.mu.Unlock()
}

func (p *Action[V]) forget(l *link[V]) {
	p.mu.Lock()
	delete(p.links, l)
	p.mu.Unlock()
}

func (p *Action[V]) control(r ref.Ref[V]) {
	p.mu.Lock()
	t := p.trigger
	p.mu.Unlock()
	if t != nil {
		t.Control(r)
	}
}

// box is the weakly held payload. The pointer field keeps it out of the
// tiny allocator, whose blocks are freed together and may never be swept.
type box[V any] struct {
	v V
	l *link[V]
}

// link ties a demoted victim to its weak handle and optional copy.
type link[V any] struct {
	owner  *Action[V]
	origin ref.Ref[V]
	handle weak.Pointer[box[V]]

	mu       sync.Mutex
	copy     ref.Ref[V] // nil when unbacked or lost
	released bool
}

// Fetch serves a read of the victim and migrates the payload back.
func (l *link[V]) Fetch(caller ref.Ref[V]) (V, bool) {
	v, ok := l.value()
	if !ok {
		return v, false
	}
	if err := caller.Set(l, v); err != nil {
		l.owner.log.Warn("migrate back failed", zap.Error(err))
		return v, true
	}
	l.release()
	l.owner.control(caller)
	return v, true
}

func (l *link[V]) value() (V, bool) {
	if b := l.handle.Value(); b != nil {
		return b.v, true
	}
	l.mu.Lock()
	cp := l.copy
	l.mu.Unlock()
	if cp == nil {
		var zero V
		return zero, false
	}
	return cp.Get(l, false)
}

// lost reports whether the payload is unrecoverable: the handle was
// collected and no backing copy holds it.
func (l *link[V]) lost() bool {
	l.mu.Lock()
	released, cp := l.released, l.copy
	l.mu.Unlock()
	if released || l.handle.Value() != nil {
		return false
	}
	if cp == nil {
		return true
	}
	_, ok := cp.Get(l, false)
	return !ok
}

// OnRemove fires when the victim or its copy is removed. A lost copy only
// matters once the handle is gone too.
func (l *link[V]) OnRemove(r ref.Ref[V]) {
	l.mu.Lock()
	isCopy := l.copy != nil && r == l.copy
	if isCopy {
		l.copy = nil
	}
	l.mu.Unlock()

	if isCopy && l.handle.Value() != nil {
		return
	}
	if isCopy {
		l.origin.Remove(l)
	}
	l.release()
}

// OnChange fires when the victim is given a new payload.
func (l *link[V]) OnChange(ref.Ref[V]) { l.release() }

func (l *link[V]) release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	cp := l.copy
	l.copy = nil
	l.mu.Unlock()

	l.origin.DropFallback(l)
	l.origin.DropRemoveListener(l)
	l.origin.DropChangeListener(l)
	if cp != nil {
		cp.DropRemoveListener(l)
		cp.Remove(l)
	}
	l.owner.forget(l)
}

var (
	_ overflow.Action[int]    = (*Action[int])(nil)
	_ overflow.Binder[int]    = (*Action[int])(nil)
	_ overflow.Runner         = (*Action[int])(nil)
	_ ref.Fallback[int]       = (*link[int])(nil)
	_ ref.RemoveListener[int] = (*link[int])(nil)
	_ ref.ChangeListener[int] = (*link[int])(nil)
)
