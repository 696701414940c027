package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/refcache/action/remove"
	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/codec"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/overflow/validator/capacity"
	"github.com/IvanBrykalov/refcache/policy/lru"
	"github.com/IvanBrykalov/refcache/ref"
)

// tickClock advances by one nanosecond per reading, so every access gets a
// distinct timestamp.
type tickClock struct{ t atomic.Int64 }

func (c *tickClock) NowUnixNano() int64 { return c.t.Add(1) }

// capped returns a started controller evicting (deleting) the least
// recently used entry beyond max. async runs eviction on its worker.
func capped[V any](t *testing.T, max int, async bool) *overflow.Controller[V] {
	t.Helper()
	val, err := capacity.New[V](max, 0)
	require.NoError(t, err)
	ctl, err := overflow.NewController(overflow.Options[V]{
		Validator: val,
		Algorithm: lru.New[V](&tickClock{}),
		Action:    remove.New[V](nil),
		Async:     async,
	})
	require.NoError(t, err)
	require.NoError(t, ctl.Start())
	t.Cleanup(func() { _ = ctl.Stop() })
	return ctl
}

type countingMetrics struct {
	hits, misses, evicts atomic.Int64
	size                 atomic.Int64
}

func (m *countingMetrics) Hit()       { m.hits.Add(1) }
func (m *countingMetrics) Miss()      { m.misses.Add(1) }
func (m *countingMetrics) Evict()     { m.evicts.Add(1) }
func (m *countingMetrics) Size(n int) { m.size.Store(int64(n)) }

// Put/Get/Remove semantics; Put on an existing key replaces the reference.
func TestMap_PutGetRemove(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	if _, replaced, err := c.Put("a", 1); err != nil || replaced {
		t.Fatalf("first Put: replaced=%v err=%v", replaced, err)
	}
	r1, _ := c.Ref("a")

	old, replaced, err := c.Put("a", 11)
	if err != nil || !replaced || old != 1 {
		t.Fatalf("replace: old=%v replaced=%v err=%v", old, replaced, err)
	}
	if !r1.Removed() {
		t.Fatal("replaced reference must be removed")
	}
	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("Get a want 11, got %v ok=%v", v, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("Len want 1, got %d", c.Len())
	}

	if !c.Remove("a") {
		t.Fatal("Remove a must be true")
	}
	if c.Remove("a") {
		t.Fatal("second Remove must be false")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be absent after Remove")
	}
}

func TestMap_Add(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[string, int]{})
	ok, err := c.Add("a", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Add("a", 2)
	require.NoError(t, err)
	require.False(t, ok, "Add must not overwrite")
	v, _ := c.Get("a")
	require.Equal(t, 1, v)
}

func TestMap_ExternalRemoveUnlinks(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	c := NewMap(MapOptions[string, int]{Options: Options[int]{Metrics: m}})
	r, err := c.PutRef("a", 1)
	require.NoError(t, err)
	require.True(t, c.ContainsRef(r))

	r.Remove(nil)
	require.False(t, c.ContainsKey("a"))
	require.Zero(t, c.Len())
	require.Equal(t, int64(1), m.evicts.Load())
	require.Equal(t, uint64(1), c.Stats().Evictions)
}

// Deterministic LRU eviction: single shard, capacity 2.
// Accessing "a" makes it recent; inserting "c" evicts "b".
func TestMap_EvictionLRU(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[string, int]{
		Shards:  1,
		Options: Options[int]{Controllers: []overflow.Trigger[int]{capped[int](t, 2, false)}},
	})
	t.Cleanup(func() { _ = c.Close() })

	_, _, _ = c.Put("a", 1)
	_, _, _ = c.Put("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expect hit for a")
	}
	_, _, _ = c.Put("c", 3)

	if c.ContainsKey("b") {
		t.Fatal("b must be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a must survive (recently used)")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatal("c must be present")
	}
	if c.Len() != 2 {
		t.Fatalf("Len want 2, got %d", c.Len())
	}
}

func TestMap_PutAll(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[int, string]{})
	require.NoError(t, c.PutAll(map[int]string{1: "a", 2: "b", 3: "c"}))
	require.Equal(t, 3, c.Len())
	v, _ := c.Get(2)
	require.Equal(t, "b", v)
}

func TestMap_Views(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[string, int]{})
	require.NoError(t, c.PutAll(map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}))

	keys := c.Keys().Slice()
	slices.Sort(keys)
	require.Equal(t, []string{"a", "b", "c", "d"}, keys)

	// removal through a view cascades into the map
	require.True(t, c.Keys().Remove("a"))
	require.False(t, c.ContainsKey("a"))
	require.Equal(t, 1, c.Values().RemoveFunc(func(v int) bool { return v == 2 }))
	require.Equal(t, 2, c.Entries().Len())

	got := map[string]int{}
	for k, v := range c.Entries().All() {
		got[k] = v
	}
	require.Equal(t, map[string]int{"c": 3, "d": 4}, got)

	// views are live
	_, _, _ = c.Put("e", 5)
	require.True(t, c.Entries().Contains("e"))
	vals := c.Values().Slice()
	slices.Sort(vals)
	require.Equal(t, []int{3, 4, 5}, vals)
}

func TestMap_StatsAndMetrics(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	c := NewMap(MapOptions[string, int]{Options: Options[int]{Metrics: m}})
	_, _, _ = c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("zz")

	st := c.Stats()
	require.Equal(t, int64(2), st.Hits)
	require.Equal(t, int64(1), st.Misses)
	require.Equal(t, 1, st.Entries)
	require.Equal(t, int64(2), m.hits.Load())
	require.Equal(t, int64(1), m.misses.Load())
	require.Equal(t, int64(1), m.size.Load())
}

func TestMap_Closed(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[string, int]{})
	r, _ := c.PutRef("a", 1)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.True(t, r.Removed())
	require.Zero(t, c.Len())
	_, _, err := c.Put("b", 2)
	require.ErrorIs(t, err, cacheerr.ErrReferenceState)
	_, err = c.Add("b", 2)
	require.ErrorIs(t, err, cacheerr.ErrReferenceState)
}

func TestMap_FileSlots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewMap(MapOptions[string, string]{
		Options: Options[string]{NewSlot: ref.FileSlots(dir, codec.Gob[string]())},
	})
	_, _, err := c.Put("a", "payload")
	require.NoError(t, err)

	files, _ := os.ReadDir(dir)
	require.Len(t, files, 1)
	v, ok, err := c.Load("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", v)

	require.True(t, c.Remove("a"))
	files, _ = os.ReadDir(dir)
	require.Empty(t, files, "removing the reference deletes its file")
}

func TestMap_WriteErrorSurfaces(t *testing.T) {
	t.Parallel()

	missing := t.TempDir() + "/missing"
	c := NewMap(MapOptions[string, string]{
		Options: Options[string]{NewSlot: ref.FileSlots(missing, codec.Gob[string]())},
	})
	_, _, err := c.Put("a", "x")
	require.ErrorIs(t, err, cacheerr.ErrPersistence)
	require.Zero(t, c.Len())
}

// Concurrent GetOrLoad calls for the same key run the Loader once;
// subsequent calls are cache hits.
func TestMap_GetOrLoad_Singleflight(t *testing.T) {
	var calls int64

	c := NewMap(MapOptions[string, string]{
		Loader: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}
	if v, err := c.GetOrLoad(context.Background(), "k"); err != nil || v != "v:k" {
		t.Fatalf("second GetOrLoad failed: v=%q err=%v", v, err)
	}
}

func TestMap_GetOrLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewMap(MapOptions[string, int]{}).GetOrLoad(context.Background(), "k")
	require.ErrorIs(t, err, ErrNoLoader)

	boom := errors.New("boom")
	c := NewMap(MapOptions[string, int]{
		Loader: func(context.Context, string) (int, error) { return 0, boom },
	})
	_, err = c.GetOrLoad(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	require.False(t, c.ContainsKey("k"), "failed loads are not cached")
}

func TestSet_Basics(t *testing.T) {
	t.Parallel()

	s := NewSet(Options[string]{})
	a, err := s.Add("x")
	require.NoError(t, err)
	b, err := s.Add("x")
	require.NoError(t, err)
	require.NotSame(t, a, b, "equal payloads are distinct members")
	require.Equal(t, 2, s.Len())
	require.Equal(t, []ref.Ref[string]{a, b}, s.Refs())

	require.False(t, s.AddRef(a), "members are deduplicated")
	require.True(t, s.Remove(a))
	require.False(t, s.Remove(a))
	require.True(t, a.Removed())

	b.Remove(nil)
	require.Zero(t, s.Len(), "external removal unlinks")

	loose := ref.Strong("y")
	require.True(t, s.AddRef(loose))
	require.Equal(t, []string{"y"}, slices.Collect(s.Values().All()))

	require.NoError(t, s.Close())
	require.True(t, loose.Removed())
	_, err = s.Add("z")
	require.ErrorIs(t, err, cacheerr.ErrReferenceState)
	require.False(t, s.AddRef(ref.Strong("z")))
}

// Removing through the value view removes the members from the set.
func TestSet_ValueViewRemoveFunc(t *testing.T) {
	t.Parallel()

	s := NewSet(Options[int]{})
	rs := make([]ref.Ref[int], 0, 5)
	for i := 0; i < 5; i++ {
		r, err := s.Add(i)
		require.NoError(t, err)
		rs = append(rs, r)
	}
	vals := s.Values()
	require.Equal(t, 3, vals.RemoveFunc(func(v int) bool { return v%2 == 0 }))

	require.Equal(t, 2, s.Len())
	require.Equal(t, 2, vals.Len(), "the view is live")
	require.Equal(t, []int{1, 3}, vals.Slice())
	require.True(t, rs[0].Removed())
	require.False(t, rs[1].Removed())
	require.Zero(t, vals.RemoveFunc(func(v int) bool { return v > 10 }))
}

// Replacing an entry whose payload lives behind a fallback does not fetch
// it back through that fallback.
func TestMap_PutReplacingRelocatedSkipsFallback(t *testing.T) {
	t.Parallel()

	c := NewMap(MapOptions[string, int]{})
	r, err := c.PutRef("a", 1)
	require.NoError(t, err)
	fb := &countingFallback{v: 1}
	r.AddFallback(fb)
	require.NoError(t, r.Clear(nil))

	old, replaced, err := c.Put("a", 2)
	require.NoError(t, err)
	require.True(t, replaced)
	require.Zero(t, old)
	require.Zero(t, fb.n.Load())
	require.True(t, r.Removed())

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

type countingFallback struct {
	v int
	n atomic.Int32
}

func (f *countingFallback) Fetch(ref.Ref[int]) (int, bool) {
	f.n.Add(1)
	return f.v, true
}

func TestSet_EvictionThroughController(t *testing.T) {
	t.Parallel()

	s := NewSet(Options[int]{Controllers: []overflow.Trigger[int]{capped[int](t, 3, false)}})
	for i := 0; i < 10; i++ {
		_, err := s.Add(i)
		require.NoError(t, err)
	}
	require.Equal(t, 3, s.Len())
	require.Equal(t, []int{7, 8, 9}, s.Values().Slice())
}
