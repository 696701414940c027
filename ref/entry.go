package ref

import (
	"errors"
	"slices"
	"sync"

	"github.com/IvanBrykalov/refcache/cacheerr"
)

var errRemoved = errors.New("reference is removed")

// Entry is the standard Ref implementation. Its payload lives in a Slot,
// which decides whether the value is held in memory or persisted.
type Entry[V any] struct {
	// self is the outermost handle (e.g. a *KeyEntry) passed to listeners.
	self Ref[V]

	mu        sync.RWMutex
	slot      Slot[V]
	removed   bool
	removeLs  []RemoveListener[V]
	accessLs  []AccessListener[V]
	changeLs  []ChangeListener[V]
	fallbacks []Fallback[V]
}

// Strong returns a live reference holding v in memory.
func Strong[V any](v V) *Entry[V] {
	e := &Entry[V]{slot: &strongSlot[V]{v: v, ok: true}}
	e.self = e
	return e
}

// New returns a live reference storing v in slot (nil means in-memory).
// The error is the slot's write error, if any.
func New[V any](slot Slot[V], v V) (*Entry[V], error) {
	e := &Entry[V]{}
	if err := e.init(e, slot, v); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entry[V]) init(self Ref[V], slot Slot[V], v V) error {
	if slot == nil {
		slot = NewStrongSlot[V]()
	}
	if err := slot.Store(v); err != nil {
		return err
	}
	e.self = self
	e.slot = slot
	return nil
}

// Get implements Ref. Slot read failures are reported as a miss; use Load
// to observe them.
func (e *Entry[V]) Get(source any, notify bool) (V, bool) {
	v, ok, _ := e.Load(source, notify)
	return v, ok
}

// Load implements Ref.
func (e *Entry[V]) Load(source any, notify bool) (V, bool, error) {
	var zero V

	e.mu.RLock()
	if e.removed {
		e.mu.RUnlock()
		return zero, false, nil
	}
	v, ok, err := e.slot.Load()
	var (
		ls  []AccessListener[V]
		fbs []Fallback[V]
	)
	if notify {
		ls = slices.Clone(e.accessLs)
	}
	if !ok && err == nil {
		fbs = slices.Clone(e.fallbacks)
	}
	e.mu.RUnlock()

	if err != nil {
		return zero, false, err
	}
	if !ok {
		for _, fb := range fbs {
			if v, ok = fb.Fetch(e.self); ok {
				break
			}
		}
		if !ok {
			return zero, false, nil
		}
	}
	for _, l := range ls {
		if !same(l, source) {
			l.OnAccess(e.self)
		}
	}
	return v, true, nil
}

// Peek implements Ref.
func (e *Entry[V]) Peek() (V, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		var zero V
		return zero, false, nil
	}
	return e.slot.Load()
}

// Set implements Ref.
func (e *Entry[V]) Set(source any, v V) error {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return cacheerr.State("ref.Set", errRemoved)
	}
	if err := e.slot.Store(v); err != nil {
		e.mu.Unlock()
		return err
	}
	ls := slices.Clone(e.changeLs)
	e.mu.Unlock()

	e.notifyChange(ls, source)
	return nil
}

// Clear implements Ref.
func (e *Entry[V]) Clear(source any) error {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil
	}
	if err := e.slot.Clear(); err != nil {
		e.mu.Unlock()
		return err
	}
	ls := slices.Clone(e.changeLs)
	e.mu.Unlock()

	e.notifyChange(ls, source)
	return nil
}

func (e *Entry[V]) notifyChange(ls []ChangeListener[V], source any) {
	for _, l := range ls {
		if !same(l, source) {
			l.OnChange(e.self)
		}
	}
}

// Remove implements Ref.
func (e *Entry[V]) Remove(source any) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	e.removed = true
	ls := e.removeLs
	// A slot that fails to clear (e.g. a vanished spill file) holds nothing
	// reachable anymore, so the error is dropped.
	_ = e.slot.Clear()
	e.removeLs, e.accessLs, e.changeLs, e.fallbacks = nil, nil, nil, nil
	e.mu.Unlock()

	for _, l := range ls {
		if !same(l, source) {
			l.OnRemove(e.self)
		}
	}
}

// Removed implements Ref.
func (e *Entry[V]) Removed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.removed
}

// ---- registration ----

func (e *Entry[V]) AddRemoveListener(l RemoveListener[V]) bool { return add(e, &e.removeLs, l) }
func (e *Entry[V]) DropRemoveListener(l RemoveListener[V])     { drop(e, &e.removeLs, l) }
func (e *Entry[V]) AddAccessListener(l AccessListener[V]) bool { return add(e, &e.accessLs, l) }
func (e *Entry[V]) DropAccessListener(l AccessListener[V])     { drop(e, &e.accessLs, l) }
func (e *Entry[V]) AddChangeListener(l ChangeListener[V]) bool { return add(e, &e.changeLs, l) }
func (e *Entry[V]) DropChangeListener(l ChangeListener[V])     { drop(e, &e.changeLs, l) }
func (e *Entry[V]) AddFallback(f Fallback[V]) bool             { return add(e, &e.fallbacks, f) }
func (e *Entry[V]) DropFallback(f Fallback[V])                 { drop(e, &e.fallbacks, f) }

// add appends x to the list unless already present. Lists are replaced on
// write, never mutated in place, so clones taken by dispatch stay valid.
func add[V any, T comparable](e *Entry[V], list *[]T, x T) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	if !slices.Contains(*list, x) {
		*list = append(slices.Clip(*list), x)
	}
	return true
}

func drop[V any, T comparable](e *Entry[V], list *[]T, x T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := slices.Index(*list, x); i >= 0 {
		*list = slices.Delete(slices.Clone(*list), i, i+1)
	}
}

// same reports whether listener l is the mutation source.
func same(l, source any) bool {
	return source != nil && l == source
}

// ---- keyed ----

// KeyEntry is an Entry carrying an immutable key.
type KeyEntry[K comparable, V any] struct {
	Entry[V]
	key K
}

// StrongKeyed returns a live keyed reference holding v in memory.
func StrongKeyed[K comparable, V any](k K, v V) *KeyEntry[K, V] {
	e := &KeyEntry[K, V]{key: k}
	e.slot = &strongSlot[V]{v: v, ok: true}
	e.self = e
	return e
}

// NewKeyed returns a live keyed reference storing v in slot (nil means in-memory).
func NewKeyed[K comparable, V any](k K, slot Slot[V], v V) (*KeyEntry[K, V], error) {
	e := &KeyEntry[K, V]{key: k}
	if err := e.init(e, slot, v); err != nil {
		return nil, err
	}
	return e, nil
}

// Key implements Keyed.
func (e *KeyEntry[K, V]) Key() K { return e.key }

// Compile-time checks.
var (
	_ Ref[int]      = (*Entry[int])(nil)
	_ Ref[int]      = (*KeyEntry[string, int])(nil)
	_ Keyed[string] = (*KeyEntry[string, int])(nil)
)
