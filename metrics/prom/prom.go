// Package prom exports container and controller metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/refcache/cache"
	"github.com/IvanBrykalov/refcache/overflow"
)

// Adapter implements cache.Metrics and overflow.Metrics, so one value can be
// handed to a container and to its controllers.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	evicts  prometheus.Counter
	entries prometheus.Gauge

	passes   prometheus.Histogram
	victims  prometheus.Counter
	failures prometheus.Counter
	queue    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:    counter("hits_total", "Cache hits"),
		misses:  counter("misses_total", "Cache misses"),
		evicts:  counter("evictions_total", "Entries that left a container through their reference"),
		entries: gauge("size_entries", "Number of resident entries"),

		passes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "overflow_pass_seconds",
			Help:        "Duration of overflow consume passes",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		victims:  counter("overflow_victims_total", "Victims handed to the overflow action"),
		failures: counter("overflow_action_failures_total", "Overflow actions that returned an error"),
		queue:    gauge("overflow_queue_depth", "Async overflow work queue depth"),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.entries, a.passes, a.victims, a.failures, a.queue)
	return a
}

func (a *Adapter) Hit()            { a.hits.Inc() }
func (a *Adapter) Miss()           { a.misses.Inc() }
func (a *Adapter) Evict()          { a.evicts.Inc() }
func (a *Adapter) Size(n int)      { a.entries.Set(float64(n)) }
func (a *Adapter) ActionFailed()   { a.failures.Inc() }
func (a *Adapter) Queue(depth int) { a.queue.Set(float64(depth)) }

// Pass records one consume pass.
func (a *Adapter) Pass(victims int, d time.Duration) {
	a.passes.Observe(d.Seconds())
	a.victims.Add(float64(victims))
}

var (
	_ cache.Metrics    = (*Adapter)(nil)
	_ overflow.Metrics = (*Adapter)(nil)
)
