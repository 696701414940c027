package cache

import (
	"errors"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/ref"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
var ErrNoLoader = errors.New("cache: no Loader provided")

var errClosed = errors.New("container is closed")

func closedError(op string) error { return cacheerr.State(op, errClosed) }

// Container is the surface shared by Map and Set: a thread-safe owner of
// references. All methods are safe for concurrent use.
type Container[V any] interface {
	// ContainsRef reports whether r is currently owned by the container.
	ContainsRef(r ref.Ref[V]) bool
	// RemoveRef unlinks r and moves it to REMOVED. False if r is not owned.
	RemoveRef(r ref.Ref[V]) bool
	Len() int
	// Clear removes every reference, iterating a snapshot.
	Clear()
	// Close clears the container and refuses further insertions.
	Close() error
}
