package config

import (
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/action/external"
	"github.com/IvanBrykalov/refcache/action/relocate"
	"github.com/IvanBrykalov/refcache/action/remove"
	"github.com/IvanBrykalov/refcache/action/soft"
	"github.com/IvanBrykalov/refcache/cache"
	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/codec"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/overflow/validator/capacity"
	"github.com/IvanBrykalov/refcache/overflow/validator/expiry"
	"github.com/IvanBrykalov/refcache/overflow/validator/memsize"
	"github.com/IvanBrykalov/refcache/overflow/validator/memusage"
	"github.com/IvanBrykalov/refcache/policy/lfu"
	"github.com/IvanBrykalov/refcache/policy/lifo"
	"github.com/IvanBrykalov/refcache/policy/lru"
	"github.com/IvanBrykalov/refcache/policy/twoq"
	"github.com/IvanBrykalov/refcache/store"
	"github.com/IvanBrykalov/refcache/store/boltstore"
	"github.com/IvanBrykalov/refcache/store/lrustore"
	"github.com/IvanBrykalov/refcache/store/mapstore"
)

// Deps carries what a YAML document cannot describe. Zero values are safe.
type Deps[K comparable] struct {
	Logger  *zap.Logger
	Metrics overflow.Metrics
	Clock   overflow.Clock
	// Format renders keys for hash partitioning; nil => fmt.Sprint.
	Format func(K) string
}

// Pipeline is a built controller plus the secondary store it writes to.
type Pipeline[K comparable, V any] struct {
	Controller *overflow.Controller[V]
	// Secondary is nil unless the action was given a store.
	Secondary store.Store[K, V]

	closers []io.Closer
}

// Close stops the controller and releases the secondary store.
func (p *Pipeline[K, V]) Close() error {
	err := p.Controller.Stop()
	for i := len(p.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, p.closers[i].Close())
	}
	return err
}

// Build constructs the pipeline c describes. The controller is not
// started. On error every resource opened so far is released.
func Build[K comparable, V any](c *Config, deps Deps[K]) (_ *Pipeline[K, V], err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline[K, V]{}
	defer func() {
		if err != nil {
			for i := len(p.closers) - 1; i >= 0; i-- {
				err = multierr.Append(err, p.closers[i].Close())
			}
		}
	}()

	val, err := buildValidator[V](c.Validator, deps.Clock)
	if err != nil {
		return nil, err
	}
	alg := buildAlgorithm[K, V](c.Algorithm, deps.Clock)

	if c.Action.Store.Kind != "" {
		s, closer, err := buildStore[K, V](c.Name, c.Action.Store, log)
		if err != nil {
			return nil, err
		}
		p.Secondary = s
		if closer != nil {
			p.closers = append(p.closers, closer)
		}
	}

	act, err := buildAction(c.Action, p.Secondary, deps, log)
	if err != nil {
		return nil, err
	}

	ctl, err := overflow.NewController(overflow.Options[V]{
		Validator:  val,
		Algorithm:  alg,
		Action:     act,
		Async:      c.Async,
		Interval:   c.Interval,
		TrackOnAdd: c.TrackOnAdd,
		Batch:      c.Batch,
		Name:       c.Name,
		Logger:     log,
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	p.Controller = ctl
	log.Info("pipeline built",
		zap.String("name", c.Name),
		zap.String("validator", c.Validator.Kind),
		zap.String("algorithm", c.Algorithm.Kind),
		zap.String("action", c.Action.Kind),
		zap.String("store", c.Action.Store.Kind),
	)
	return p, nil
}

func buildValidator[V any](v Validator, clock overflow.Clock) (overflow.Validator[V], error) {
	switch v.Kind {
	case Capacity:
		return capacity.New[V](v.MaxSize, v.Threshold)
	case Expiry:
		return expiry.New[V](expiry.Options{TTL: v.TTL, Interval: v.Every, Offset: v.Offset, Clock: clock})
	case MemUsage:
		return memusage.New[V](memusage.Options{High: uint64(v.High), Max: uint64(v.Max)})
	case MemSize:
		return memsize.New[V](memsize.Options{Max: int64(v.Max), CacheOnAdd: v.CacheOnAdd})
	}
	return nil, cacheerr.Config("config.Build", "unknown validator kind %q", v.Kind)
}

func buildAlgorithm[K comparable, V any](a Algorithm, clock overflow.Clock) overflow.Algorithm[V] {
	switch a.Kind {
	case LFU:
		return lfu.New[V](lfu.Options{Ratio: a.Ratio, Unit: a.Unit, Clock: clock})
	case LIFO:
		return lifo.New[V]()
	case TwoQ:
		return twoq.New[K, V](a.In, a.Ghosts)
	default:
		return lru.New[V](clock)
	}
}

func buildStore[K comparable, V any](name string, s Store, log *zap.Logger) (store.Store[K, V], io.Closer, error) {
	switch s.Kind {
	case LRUStore:
		st, err := lrustore.New[K, V](s.Size, lrustore.WithLogger(log))
		return st, nil, err
	case BoltStore:
		opt := boltstore.Options[K, V]{Bucket: s.Bucket, Compress: s.Compress, Logger: log}
		if s.JSON {
			opt.Values = codec.JSON[V]()
		}
		st, err := boltstore.Open(s.Path, opt)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		m := cache.NewMap(cache.MapOptions[K, V]{
			Options: cache.Options[V]{Name: name + ".secondary", Logger: log},
		})
		return mapstore.New(m), m, nil
	}
}

func buildAction[K comparable, V any](a Action, secondary store.Store[K, V], deps Deps[K], log *zap.Logger) (overflow.Action[V], error) {
	var target store.Target[V]
	if secondary != nil {
		target = store.Keyed(secondary)
	}
	switch a.Kind {
	case Relocate:
		return relocate.New(target, log)
	case Soft:
		return soft.New(soft.Options[V]{Target: target, Logger: log}), nil
	case External:
		saver, ok := secondary.(store.KeySaver[K])
		if !ok {
			return nil, cacheerr.Config("config.Build", "store %T cannot save keys", secondary)
		}
		opt := external.Options[K]{Saver: saver, Logger: log}
		if a.Nodes > 0 {
			hp, err := external.NewHashPartitioner(a.Self, a.Nodes, deps.Format)
			if err != nil {
				return nil, err
			}
			opt.Partitioner = hp
		}
		return external.New[K, V](opt)
	default:
		return remove.New[V](log), nil
	}
}
