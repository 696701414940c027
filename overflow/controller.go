package overflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/internal/queue"
	"github.com/IvanBrykalov/refcache/ref"
)

// Options configures a Controller. Zero values are safe except for the
// pipeline members, which are required:
//   - Async false    => Control runs the pass on the caller's goroutine
//   - Interval 0     => no periodic re-evaluation
//   - Batch false    => incremental eviction, revalidating after every victim
//   - nil Logger     => zap.NewNop()
//   - nil Metrics    => NoopMetrics
type Options[V any] struct {
	Validator Validator[V]
	Algorithm Algorithm[V]
	Action    Action[V]

	// Async hands references to a single background worker through an
	// unbounded queue instead of processing them inline.
	Async bool
	// Interval triggers a pass without a new entry every Interval.
	Interval time.Duration
	// TrackOnAdd enrolls new entries in the Algorithm before eviction runs,
	// making a brand-new entry a candidate of the pass it triggered.
	TrackOnAdd bool
	// Batch selects all victims with one OverflowN call after revalidating
	// once, instead of the default one-victim-at-a-time loop.
	Batch bool

	// Name labels log lines.
	Name    string
	Logger  *zap.Logger
	Metrics Metrics
}

// Controller runs the Validator → Algorithm → Action pipeline for the
// references handed to Control. It moves STOPPED → STARTED → STOPPED;
// Control on a stopped controller is ignored.
type Controller[V any] struct {
	opt Options[V]
	log *zap.Logger

	// mu guards running; Control holds it shared while enqueueing so Stop
	// cannot miss a reference pushed concurrently.
	mu      sync.RWMutex
	running bool

	// lifeMu serializes Start/Stop.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	g      *errgroup.Group

	// evictMu is the eviction critical section: revalidate, select, act.
	evictMu sync.Mutex

	queue *queue.Queue[ref.Ref[V]]
}

// NewController validates opt and returns a stopped controller.
func NewController[V any](opt Options[V]) (*Controller[V], error) {
	switch {
	case opt.Validator == nil:
		return nil, cacheerr.Config("overflow.NewController", "validator is required")
	case opt.Algorithm == nil:
		return nil, cacheerr.Config("overflow.NewController", "algorithm is required")
	case opt.Action == nil:
		return nil, cacheerr.Config("overflow.NewController", "action is required")
	case opt.Interval < 0:
		return nil, cacheerr.Config("overflow.NewController", "interval %v must be >= 0", opt.Interval)
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	c := &Controller[V]{
		opt:   opt,
		log:   opt.Logger.Named("overflow").With(zap.String("controller", opt.Name)),
		queue: queue.New[ref.Ref[V]](),
	}
	if b, ok := opt.Action.(Binder[V]); ok {
		b.Bind(c)
	}
	return c, nil
}

// Validator returns the configured validator.
func (c *Controller[V]) Validator() Validator[V] { return c.opt.Validator }

// Algorithm returns the configured algorithm.
func (c *Controller[V]) Algorithm() Algorithm[V] { return c.opt.Algorithm }

// Running reports whether the controller is STARTED.
func (c *Controller[V]) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Start moves the controller to STARTED, starting the action's workers and,
// in async or periodic mode, the controller's own worker.
func (c *Controller[V]) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.Running() {
		return nil
	}
	if r, ok := c.opt.Action.(Runner); ok {
		if err := r.Start(); err != nil {
			return err
		}
	}
	if c.opt.Async || c.opt.Interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			c.run(ctx)
			return nil
		})
		c.cancel, c.g = cancel, g
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	c.log.Debug("controller started",
		zap.Bool("async", c.opt.Async),
		zap.Duration("interval", c.opt.Interval),
		zap.Bool("batch", c.opt.Batch),
	)
	return nil
}

// Stop moves the controller to STOPPED. References already queued are
// processed before the worker exits.
func (c *Controller[V]) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	var err error
	if c.cancel != nil {
		c.cancel()
		err = multierr.Append(err, c.g.Wait())
		c.cancel, c.g = nil, nil
	}
	// Inline controllers never queue; async ones drained in run. Anything
	// left is from a worker that never started.
	c.drain()

	if r, ok := c.opt.Action.(Runner); ok {
		err = multierr.Append(err, r.Stop())
	}
	c.log.Debug("controller stopped")
	return err
}

// Control hands r to the pipeline: inline, or through the work queue in
// async mode. A nil r asks for a re-evaluation without a new entry.
func (c *Controller[V]) Control(r ref.Ref[V]) {
	c.mu.RLock()
	if !c.running {
		c.mu.RUnlock()
		c.log.Debug("control on stopped controller ignored")
		return
	}
	if c.opt.Async {
		c.queue.Push(r)
		c.mu.RUnlock()
		c.opt.Metrics.Queue(c.queue.Len())
		return
	}
	c.mu.RUnlock()

	c.consume(r)
}

// Reset clears the bookkeeping of all three pipeline members.
func (c *Controller[V]) Reset() {
	c.opt.Validator.Reset()
	c.opt.Algorithm.Reset()
	c.opt.Action.Reset()
}

// ---- worker ----

func (c *Controller[V]) run(ctx context.Context) {
	var tick <-chan time.Time
	if c.opt.Interval > 0 {
		t := time.NewTicker(c.opt.Interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case <-c.queue.Ready():
			c.drain()
		case <-tick:
			c.consume(nil)
		}
	}
}

func (c *Controller[V]) drain() {
	for {
		items := c.queue.Drain()
		if len(items) == 0 {
			return
		}
		for _, r := range items {
			c.consume(r)
		}
	}
}

// ---- consume pass ----

func (c *Controller[V]) consume(r ref.Ref[V]) {
	start := time.Now()
	v, a := c.opt.Validator, c.opt.Algorithm

	if r != nil && !r.Removed() {
		v.Add(r)
		if c.opt.TrackOnAdd {
			a.Add(r)
		}
	}

	victims := 0
	if v.Validate() > 0 {
		if c.opt.Batch {
			victims = c.evictBatch()
		} else {
			victims = c.evictIncremental()
		}
	}

	// Enrolled after eviction: a new entry is a candidate from the next pass on.
	if r != nil && !c.opt.TrackOnAdd && !r.Removed() {
		a.Add(r)
	}
	c.opt.Metrics.Pass(victims, time.Since(start))
}

func (c *Controller[V]) evictBatch() int {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	n := c.opt.Validator.Validate()
	if n <= 0 {
		return 0
	}
	acted := 0
	for _, victim := range c.opt.Algorithm.OverflowN(n) {
		if victim.Removed() {
			continue
		}
		c.dispose(victim)
		acted++
	}
	return acted
}

// evictIncremental evicts one victim at a time until the validator is
// satisfied. The overflow is measured again under evictMu, so a pass that
// waited for a concurrent one only evicts what is still over. It stops
// early when the algorithm runs dry or returns the same victim twice in a
// row (an action that cannot evict). Longer cycles (X, Y, X, ...) are not
// detected.
func (c *Controller[V]) evictIncremental() int {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var last ref.Ref[V]
	acted := 0
	for n := c.opt.Validator.Validate(); n > 0; n = c.opt.Validator.Validate() {
		victim := c.opt.Algorithm.Overflow()
		if victim == nil || victim == last {
			break
		}
		last = victim
		c.dispose(victim)
		acted++
	}
	return acted
}

func (c *Controller[V]) dispose(victim ref.Ref[V]) {
	if err := c.opt.Action.Action(c.opt.Validator, c.opt.Algorithm, victim); err != nil {
		c.log.Warn("overflow action failed", zap.Error(err))
		c.opt.Metrics.ActionFailed()
		// Never leave a stuck victim tracked: it would be selected forever.
		c.opt.Validator.Remove(victim)
		c.opt.Algorithm.Remove(victim)
	}
}

var _ Trigger[int] = (*Controller[int])(nil)
