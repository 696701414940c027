// Package relocate implements the relocation action: the victim's payload
// moves to a secondary store and the victim keeps only a link to it.
//
// A later read of the victim is served through the link, which migrates the
// payload back in-process, releases the secondary copy and re-enrolls the
// victim with the controller. Removing or explicitly setting the victim
// releases the secondary copy as well.
package relocate

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
)

var errVictimRemoved = errors.New("victim removed during relocation")

// Action relocates victims into a store.Target.
type Action[V any] struct {
	target store.Target[V]
	log    *zap.Logger

	mu      sync.Mutex
	trigger overflow.Trigger[V]
	links   map[*link[V]]struct{}
}

// New returns a relocation action writing to target. A nil logger disables
// logging.
func New[V any](target store.Target[V], log *zap.Logger) (*Action[V], error) {
	if target == nil {
		return nil, cacheerr.Config("relocate.New", "target is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Action[V]{
		target: target,
		log:    log.Named("relocate"),
		links:  make(map[*link[V]]struct{}),
	}, nil
}

// Bind implements overflow.Binder.
func (p *Action[V]) Bind(t overflow.Trigger[V]) {
	p.mu.Lock()
	p.trigger = t
	p.mu.Unlock()
}

// Action implements overflow.Action. A victim holding no in-process
// payload is only deregistered.
func (p *Action[V]) Action(v overflow.Validator[V], a overflow.Algorithm[V], r ref.Ref[V]) error {
	// Deregister first: the validator and the algorithm must not see the
	// victim while its payload moves, nor read it through the new fallback.
	v.Remove(r)
	a.Remove(r)

	val, ok, err := r.Peek()
	if err != nil {
		return fmt.Errorf("relocate: read victim: %w", err)
	}
	if !ok {
		return nil
	}
	cp, err := p.target.Put(r, val)
	if err != nil {
		return fmt.Errorf("relocate: %w", err)
	}

	l := &link[V]{owner: p, origin: r, copy: cp}
	if !r.AddFallback(l) || !r.AddRemoveListener(l) || !cp.AddRemoveListener(l) {
		l.release()
		return cacheerr.State("relocate.Action", errVictimRemoved)
	}
	r.AddChangeListener(l)
	p.track(l)

	if err := r.Clear(l); err != nil {
		l.release()
		return err
	}
	p.log.Debug("relocated")
	return nil
}

// Reset implements overflow.Action. Existing links keep serving reads.
func (p *Action[V]) Reset() {
	p.mu.Lock()
	clear(p.links)
	p.mu.Unlock()
}

// Len returns the number of victims currently relocated.
func (p *Action[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
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

// link ties a relocated victim to its secondary copy. It is the victim's
// fallback, listens for the victim's removal and changes, and for the
// copy's removal.
type link[V any] struct {
	owner  *Action[V]
	origin ref.Ref[V]
	copy   ref.Ref[V]
	once   sync.Once
}

// Fetch serves a read of the victim from the copy and migrates it back.
func (l *link[V]) Fetch(caller ref.Ref[V]) (V, bool) {
	v, ok := l.copy.Get(l, false)
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

// OnRemove fires when either side is removed. Losing the copy loses the
// payload, so the victim goes too.
func (l *link[V]) OnRemove(r ref.Ref[V]) {
	if r == l.copy {
		l.origin.Remove(l)
	}
	l.release()
}

// OnChange fires when the victim is given a new payload; the copy is stale.
func (l *link[V]) OnChange(ref.Ref[V]) { l.release() }

func (l *link[V]) release() {
	l.once.Do(func() {
		l.origin.DropFallback(l)
		l.origin.DropRemoveListener(l)
		l.origin.DropChangeListener(l)
		l.copy.DropRemoveListener(l)
		l.copy.Remove(l)
		l.owner.forget(l)
	})
}

var (
	_ overflow.Action[int]    = (*Action[int])(nil)
	_ overflow.Binder[int]    = (*Action[int])(nil)
	_ ref.Fallback[int]       = (*link[int])(nil)
	_ ref.RemoveListener[int] = (*link[int])(nil)
	_ ref.ChangeListener[int] = (*link[int])(nil)
)
