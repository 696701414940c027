package prom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refcache/cache"
)

func TestAdapter_CountsMapTraffic(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a := New(reg, "refcache", "test", nil)

	c := cache.NewMap(cache.MapOptions[string, int]{Options: cache.Options[int]{Metrics: a}})
	r, err := c.PutRef("a", 1)
	require.NoError(t, err)
	_, _, _ = c.Put("b", 2)
	c.Get("a")
	c.Get("zz")
	r.Remove(nil)

	require.Equal(t, 1.0, testutil.ToFloat64(a.hits))
	require.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	require.Equal(t, 1.0, testutil.ToFloat64(a.evicts))
	require.Equal(t, 1.0, testutil.ToFloat64(a.entries))
}

func TestAdapter_ControllerHooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a := New(reg, "refcache", "test", prometheus.Labels{"cache": "x"})
	a.Pass(3, time.Millisecond)
	a.Pass(0, time.Microsecond)
	a.ActionFailed()
	a.Queue(7)

	require.Equal(t, 3.0, testutil.ToFloat64(a.victims))
	require.Equal(t, 1.0, testutil.ToFloat64(a.failures))
	require.Equal(t, 7.0, testutil.ToFloat64(a.queue))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 8, n)
}
