// Package ref implements cached references: listenable handles that own (or
// delegate to) a cached payload.
//
// A reference starts LIVE and moves to REMOVED exactly once. A removed
// reference has an empty payload, no fallbacks and no listeners, and can
// never be populated again.
//
// Every mutating call takes a source argument. A listener whose identity
// equals source is not notified of that mutation, which lets a component
// mutate a reference it also listens to without looping on itself.
// Listeners are compared by identity, so they must be pointer types.
package ref

// Ref is the cached reference contract shared by containers and policies.
// All methods are safe for concurrent use.
type Ref[V any] interface {
	// Get returns the payload. If the slot is empty the fallbacks are asked in
	// registration order and the first hit wins. notify fires access listeners.
	Get(source any, notify bool) (V, bool)
	// Load is Get that also reports payload read failures.
	Load(source any, notify bool) (V, bool, error)
	// Peek reads the reference's own slot only. It never consults the
	// fallbacks and fires no listeners, so it cannot migrate a payload back.
	Peek() (V, bool, error)
	// Set replaces the payload and fires change listeners.
	// It fails with cacheerr.ErrReferenceState on a removed reference and with
	// cacheerr.ErrPersistence when the slot cannot be written.
	Set(source any, v V) error
	// Clear empties the payload without removing the reference and fires
	// change listeners.
	Clear(source any) error
	// Remove clears the payload and fallbacks, fires remove listeners and
	// moves the reference to REMOVED. Later calls are no-ops.
	Remove(source any)
	// Removed reports whether Remove has been called.
	Removed() bool

	// The Add* methods return false when the reference is already removed;
	// the listener is then not registered and will never be notified.
	AddRemoveListener(l RemoveListener[V]) bool
	DropRemoveListener(l RemoveListener[V])
	AddAccessListener(l AccessListener[V]) bool
	DropAccessListener(l AccessListener[V])
	AddChangeListener(l ChangeListener[V]) bool
	DropChangeListener(l ChangeListener[V])
	AddFallback(f Fallback[V]) bool
	DropFallback(f Fallback[V])
}

// Keyed is implemented by references that carry an immutable key.
type Keyed[K comparable] interface {
	Key() K
}

// RemoveListener is notified after a reference moved to REMOVED.
type RemoveListener[V any] interface {
	OnRemove(r Ref[V])
}

// AccessListener is notified when a payload is read with notify=true.
type AccessListener[V any] interface {
	OnAccess(r Ref[V])
}

// ChangeListener is notified after Set or Clear.
type ChangeListener[V any] interface {
	OnChange(r Ref[V])
}

// Fallback is a secondary source consulted when a reference's own slot is empty.
// caller is the reference performing the lookup.
type Fallback[V any] interface {
	Fetch(caller Ref[V]) (V, bool)
}

// KeyOf returns the key of r if r is a Keyed[K].
func KeyOf[K comparable, V any](r Ref[V]) (K, bool) {
	if k, ok := r.(Keyed[K]); ok {
		return k.Key(), true
	}
	var zero K
	return zero, false
}
