// Package remove implements the delete action: the victim is moved to
// REMOVED, which unlinks it from its container.
package remove

import (
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Action deletes victims.
type Action[V any] struct {
	log *zap.Logger
}

// New returns a delete action. A nil logger disables logging.
func New[V any](log *zap.Logger) *Action[V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Action[V]{log: log.Named("remove")}
}

// Action implements overflow.Action.
func (p *Action[V]) Action(v overflow.Validator[V], a overflow.Algorithm[V], r ref.Ref[V]) error {
	defer func() {
		v.Remove(r)
		a.Remove(r)
	}()
	r.Remove(p)
	p.log.Debug("evicted")
	return nil
}

// Reset implements overflow.Action; the delete action keeps no state.
func (p *Action[V]) Reset() {}

var _ overflow.Action[int] = (*Action[int])(nil)
