// Package overflow coordinates eviction. A Controller feeds newly cached
// references through a Validator (whether and how many entries must go), an
// Algorithm (which ones) and an Action (how they are disposed of).
package overflow

import (
	"time"

	"github.com/IvanBrykalov/refcache/ref"
)

// Validator decides whether, and how many, tracked entries must be evicted.
// Implementations register as remove listeners on tracked references so an
// external removal untracks them. All methods are safe for concurrent use.
type Validator[V any] interface {
	// Add starts tracking r. Idempotent.
	Add(r ref.Ref[V])
	// Remove stops tracking r. Unknown references are ignored.
	Remove(r ref.Ref[V])
	// Validate returns the number of entries to evict now; 0 means none.
	Validate() int
	// Reset drops all bookkeeping.
	Reset()
}

// Algorithm selects eviction victims. Selecting a victim does not untrack it;
// the Action deregisters victims once disposal is final.
type Algorithm[V any] interface {
	Add(r ref.Ref[V])
	Remove(r ref.Ref[V])
	// Overflow returns the next victim, or nil when nothing is tracked.
	Overflow() ref.Ref[V]
	// OverflowN returns up to n victims in eviction order.
	OverflowN(n int) []ref.Ref[V]
	Reset()
}

// Action disposes of a victim and then deregisters it from v and a.
// It must deregister the victim even when disposal fails.
type Action[V any] interface {
	Action(v Validator[V], a Algorithm[V], r ref.Ref[V]) error
	Reset()
}

// Trigger asks for a re-evaluation. A nil reference means "no new entry".
type Trigger[V any] interface {
	Control(r ref.Ref[V])
}

// Binder is implemented by actions that need to poke their controller,
// e.g. to re-enroll a reference whose payload migrated back in-process.
type Binder[V any] interface {
	Bind(t Trigger[V])
}

// Runner is implemented by actions owning background workers. The controller
// starts and stops them with itself.
type Runner interface {
	Start() error
	Stop() error
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Metrics exposes controller-level observability hooks.
type Metrics interface {
	// Pass is called after every consume pass with the number of victims acted on.
	Pass(victims int, d time.Duration)
	// ActionFailed is called when an Action returns an error.
	ActionFailed()
	// Queue reports the async work queue depth after an enqueue.
	Queue(depth int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Pass(int, time.Duration) {}
func (NoopMetrics) ActionFailed()           {}
func (NoopMetrics) Queue(int)               {}

var _ Metrics = NoopMetrics{}
