// Package external implements the external-context save action: the key of
// a victim this node is authoritative for is recorded in a shared store, and
// the local reference is deleted.
package external

import (
	"errors"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
)

var errUnkeyed = errors.New("victim carries no key")

// Partitioner answers whether the local node is authoritative for a key.
type Partitioner[K comparable] interface {
	Owns(key K) bool
}

// Owner is a Partitioner backed by a function.
type Owner[K comparable] func(K) bool

func (f Owner[K]) Owns(key K) bool { return f(key) }

// Options configures an Action. Zero values are safe except for Saver:
//   - nil Partitioner => the local node owns every key
//   - nil Logger      => zap.NewNop()
type Options[K comparable] struct {
	Saver       store.KeySaver[K]
	Partitioner Partitioner[K]
	Logger      *zap.Logger
}

// Action saves victim keys and deletes the victims.
type Action[K comparable, V any] struct {
	saver store.KeySaver[K]
	part  Partitioner[K]
	log   *zap.Logger
}

// New returns an external-context save action.
func New[K comparable, V any](opt Options[K]) (*Action[K, V], error) {
	if opt.Saver == nil {
		return nil, cacheerr.Config("external.New", "saver is required")
	}
	if opt.Partitioner == nil {
		opt.Partitioner = Owner[K](func(K) bool { return true })
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Action[K, V]{saver: opt.Saver, part: opt.Partitioner, log: opt.Logger.Named("external")}, nil
}

// Action implements overflow.Action. Unkeyed victims and failed saves are
// reported and left in place; the victim is deregistered either way.
// Victims owned by another node are deleted without saving.
func (p *Action[K, V]) Action(v overflow.Validator[V], a overflow.Algorithm[V], r ref.Ref[V]) error {
	defer func() {
		v.Remove(r)
		a.Remove(r)
	}()

	k, ok := ref.KeyOf[K](r)
	if !ok {
		return cacheerr.State("external.Action", errUnkeyed)
	}
	if p.part.Owns(k) {
		if err := p.saver.SaveKey(k); err != nil {
			return cacheerr.Persistence("external.Action", err)
		}
		p.log.Debug("key saved", zap.Any("key", k))
	}
	r.Remove(p)
	return nil
}

// Reset implements overflow.Action; the action keeps no state.
func (p *Action[K, V]) Reset() {}

var _ overflow.Action[int] = (*Action[string, int])(nil)
