package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/cache"
	"github.com/IvanBrykalov/refcache/config"
	"github.com/IvanBrykalov/refcache/metrics/prom"
	"github.com/IvanBrykalov/refcache/overflow"
)

type benchFlags struct {
	config   string
	capacity int
	policy   string
	async    bool

	workers  int
	duration time.Duration
	readPct  int

	keys    int
	zipfS   float64
	zipfV   float64
	seed    int64
	preload int

	pprofAddr   string
	metricsAddr string
}

func newBenchCommand() *cobra.Command {
	f := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic Zipf workload against a Map",
		RunE: func(c *cobra.Command, _ []string) error {
			return runBench(c, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "pipeline YAML; overrides --cap, --policy and --async")
	fl.IntVar(&f.capacity, "cap", 100_000, "capacity validator limit (entries)")
	fl.StringVar(&f.policy, "policy", config.LRU, "eviction policy: lru | lfu | lifo | twoq")
	fl.BoolVar(&f.async, "async", false, "run the controller on a background worker")

	fl.IntVar(&f.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	fl.DurationVar(&f.duration, "duration", 10*time.Second, "benchmark duration")
	fl.IntVar(&f.readPct, "reads", 80, "read percentage [0..100]")

	fl.IntVar(&f.keys, "keys", 1_000_000, "keyspace size")
	fl.Float64Var(&f.zipfS, "zipf-s", 1.1, "Zipf s > 1 (skew)")
	fl.Float64Var(&f.zipfV, "zipf-v", 1.0, "Zipf v")
	fl.Int64Var(&f.seed, "seed", time.Now().UnixNano(), "random seed")
	fl.IntVar(&f.preload, "preload", 0, "preload entries (0 = cap/2)")

	fl.StringVar(&f.pprofAddr, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	fl.StringVar(&f.metricsAddr, "http", "", "serve Prometheus metrics at addr; empty = disabled")
	return cmd
}

func (f *benchFlags) pipeline() (*config.Config, error) {
	if f.config != "" {
		return config.Load(f.config)
	}
	cfg := &config.Config{
		Name:      "bench",
		Async:     f.async,
		Log:       config.Log{Level: "info"},
		Validator: config.Validator{Kind: config.Capacity, MaxSize: f.capacity},
		Algorithm: config.Algorithm{Kind: f.policy},
		Action:    config.Action{Kind: config.Remove},
	}
	if f.policy == config.TwoQ {
		cfg.Algorithm.In = max(1, f.capacity/4)
		cfg.Algorithm.Ghosts = max(1, f.capacity/2)
	}
	return cfg, cfg.Validate()
}

func runBench(c *cobra.Command, f *benchFlags) error {
	if f.keys < 1 || f.zipfS <= 1 || f.zipfV < 1 {
		return errors.New("bench: need keys >= 1, zipf-s > 1 and zipf-v >= 1")
	}
	cfg, err := f.pipeline()
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if f.pprofAddr != "" {
		go func() {
			log.Info("pprof: serving", zap.String("addr", f.pprofAddr))
			log.Warn("pprof: stopped", zap.Error(http.ListenAndServe(f.pprofAddr, nil)))
		}()
	}

	reg := prometheus.NewRegistry()
	metrics := prom.New(reg, "refcache", "bench", nil)
	if f.metricsAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Info("metrics: serving", zap.String("addr", f.metricsAddr))
			log.Warn("metrics: stopped", zap.Error(http.ListenAndServe(f.metricsAddr, nil)))
		}()
	}

	pl, err := config.Build[string, string](cfg, config.Deps[string]{Logger: log, Metrics: metrics})
	if err != nil {
		return err
	}
	if err := pl.Controller.Start(); err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	m := cache.NewMap(cache.MapOptions[string, string]{
		Options: cache.Options[string]{
			Controllers: []overflow.Trigger[string]{pl.Controller},
			Name:        cfg.Name,
			Metrics:     metrics,
			Logger:      log,
		},
	})
	defer func() { _ = m.Close() }()

	// Preload to get a realistic hit-rate.
	preload := f.preload
	if preload == 0 {
		preload = f.capacity / 2
	}
	for i := 0; i < preload; i++ {
		if _, _, err := m.Put("k:"+strconv.Itoa(i), "v"+strconv.Itoa(i)); err != nil {
			return err
		}
	}

	workers := max(1, f.workers)
	keysMax := uint64(f.keys - 1)

	var reads, writes, hits, total atomic.Uint64
	ctx, cancel := context.WithTimeout(c.Context(), f.duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()

			// rand.Rand is not goroutine-safe; one per worker.
			r := rand.New(rand.NewSource(f.seed + int64(id)*9973))
			zipf := rand.NewZipf(r, f.zipfS, f.zipfV, keysMax)
			key := func() string { return "k:" + strconv.FormatUint(zipf.Uint64(), 10) }

			for ctx.Err() == nil {
				total.Add(1)
				if int(r.Int31n(100)) < f.readPct {
					reads.Add(1)
					if _, ok := m.Get(key()); ok {
						hits.Add(1)
					}
					continue
				}
				writes.Add(1)
				_, _, _ = m.Put(key(), "v"+strconv.Itoa(r.Int()))
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops, rd := total.Load(), reads.Load()
	hitRate := 0.0
	if rd > 0 {
		hitRate = float64(hits.Load()) / float64(rd) * 100
	}
	st := m.Stats()

	out := c.OutOrStdout()
	fmt.Fprintf(out, "pipeline=%s/%s/%s async=%v workers=%d keys=%s dur=%v seed=%d\n",
		cfg.Validator.Kind, cfg.Algorithm.Kind, cfg.Action.Kind, cfg.Async, workers,
		humanize.Comma(int64(f.keys)), elapsed.Round(time.Millisecond), f.seed)
	fmt.Fprintf(out, "ops=%s (%s ops/s)  reads=%s  writes=%s\n",
		humanize.Comma(int64(ops)), humanize.Comma(int64(float64(ops)/elapsed.Seconds())),
		humanize.Comma(int64(rd)), humanize.Comma(int64(writes.Load())))
	fmt.Fprintf(out, "hits=%s  misses=%s  hit-rate=%.2f%%\n",
		humanize.Comma(int64(hits.Load())), humanize.Comma(int64(rd-hits.Load())), hitRate)
	fmt.Fprintf(out, "Len()=%s  evictions=%s\n", humanize.Comma(int64(m.Len())), humanize.Comma(int64(st.Evictions)))
	return nil
}
