package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/ref"
)

// Metrics exposes container-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Evict is called when an entry leaves the container through its
	// reference (eviction or a direct ref.Remove), not through the container.
	Evict()
	Size(entries int)
}

// Options configures both containers. Zero values are safe:
//   - nil Controllers => nothing is ever evicted
//   - nil NewSlot     => payloads are held in memory
//   - nil Metrics     => NoopMetrics
//   - nil Logger      => zap.NewNop()
type Options[V any] struct {
	// Controllers receive every inserted reference, after it is visible.
	// The container does not start or stop them.
	Controllers []overflow.Trigger[V]

	// NewSlot returns the payload storage for a new reference, e.g.
	// ref.FileSlots(dir, codec.Gob[V]()) to keep payloads on disk.
	NewSlot func() ref.Slot[V]

	Name    string
	Metrics Metrics
	Logger  *zap.Logger
}

// MapOptions configures a Map. Defaults on top of Options:
//   - Shards <= 0 => auto (≈ 2*GOMAXPROCS, rounded up to a power of two)
//   - nil Hash    => xxhash for strings and byte arrays, a bit mixer for integers
type MapOptions[K comparable, V any] struct {
	Options[V]

	// Shards defines the number of index partitions.
	Shards int

	// Hash maps a key to its shard; required for other key types.
	Hash func(K) uint64

	// Loader fetches a value on miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)
}

func (o *Options[V]) defaults() {
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o *Options[V]) newRef(v V) (*ref.Entry[V], error) {
	if o.NewSlot == nil {
		return ref.Strong(v), nil
	}
	return ref.New(o.NewSlot(), v)
}

func newKeyedRef[K comparable, V any](o *Options[V], k K, v V) (*ref.KeyEntry[K, V], error) {
	if o.NewSlot == nil {
		return ref.StrongKeyed(k, v), nil
	}
	return ref.NewKeyed(k, o.NewSlot(), v)
}

func (o *Options[V]) control(r ref.Ref[V]) {
	for _, t := range o.Controllers {
		t.Control(r)
	}
}
