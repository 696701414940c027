// Package refcachefx provides an fx module for a byte-slice cache whose
// overflow pipeline is described by a config.Config.
package refcachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/cache"
	"github.com/IvanBrykalov/refcache/config"
	"github.com/IvanBrykalov/refcache/metrics/prom"
	"github.com/IvanBrykalov/refcache/overflow"
)

// Module provides a *cache.Map[string, []byte] and its pipeline.
// Requires a *config.Config and a *zap.Logger to be provided; a
// *prom.Adapter is used when present.
var Module = fx.Module("refcache",
	fx.Provide(newCache),
)

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *prom.Adapter `optional:"true"`
	Lifecycle fx.Lifecycle
}

// Result holds the provided cache and pipeline.
type Result struct {
	fx.Out

	Cache    *cache.Map[string, []byte]
	Pipeline *config.Pipeline[string, []byte]
}

func newCache(p Params) (Result, error) {
	log := p.Logger.Named(p.Config.Name)
	deps := config.Deps[string]{Logger: log}
	opt := cache.Options[[]byte]{Name: p.Config.Name, Logger: log}
	if p.Metrics != nil {
		deps.Metrics = p.Metrics
		opt.Metrics = p.Metrics
	}

	pl, err := config.Build[string, []byte](p.Config, deps)
	if err != nil {
		return Result{}, err
	}
	opt.Controllers = []overflow.Trigger[[]byte]{pl.Controller}
	m := cache.NewMap(cache.MapOptions[string, []byte]{Options: opt})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pl.Controller.Start()
		},
		OnStop: func(ctx context.Context) error {
			// Stop the pipeline first so no pass runs against a closed map.
			err := pl.Close()
			if cerr := m.Close(); err == nil {
				err = cerr
			}
			return err
		},
	})

	return Result{Cache: m, Pipeline: pl}, nil
}
