package relocate_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refcache/action/relocate"
	"github.com/IvanBrykalov/refcache/cache"
	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/overflow"
	"github.com/IvanBrykalov/refcache/overflow/validator/capacity"
	"github.com/IvanBrykalov/refcache/overflow/validator/memsize"
	"github.com/IvanBrykalov/refcache/policy/lifo"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
	"github.com/IvanBrykalov/refcache/store/mapstore"
)

type fixture struct {
	primary   *cache.Map[string, string]
	secondary *cache.Map[string, string]
	action    *relocate.Action[string]
}

// newFixture caps the primary map at max entries; victims (LIFO) move to
// the secondary map.
func newFixture(t *testing.T, max int) *fixture {
	t.Helper()

	secondary := cache.NewMap(cache.MapOptions[string, string]{Shards: 1})
	act, err := relocate.New(store.Keyed[string, string](mapstore.New(secondary)), nil)
	require.NoError(t, err)
	val, err := capacity.New[string](max, 0)
	require.NoError(t, err)
	ctl, err := overflow.NewController(overflow.Options[string]{
		Validator: val,
		Algorithm: lifo.New[string](),
		Action:    act,
	})
	require.NoError(t, err)
	require.NoError(t, ctl.Start())
	t.Cleanup(func() { require.NoError(t, ctl.Stop()) })

	primary := cache.NewMap(cache.MapOptions[string, string]{
		Shards:  1,
		Options: cache.Options[string]{Controllers: []overflow.Trigger[string]{ctl}},
	})
	return &fixture{primary: primary, secondary: secondary, action: act}
}

func (f *fixture) put(t *testing.T, kv ...string) {
	t.Helper()
	for i := 0; i < len(kv); i += 2 {
		_, _, err := f.primary.Put(kv[i], kv[i+1])
		require.NoError(t, err)
	}
}

func TestRelocate_RoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.put(t, "a", "A", "b", "B", "c", "C")

	// c is not yet tracked by the algorithm when its insert overflows, so
	// the newest tracked entry (b) is relocated.
	require.Equal(t, 3, f.primary.Len(), "relocated entries stay in the primary map")
	require.True(t, f.secondary.ContainsKey("b"))
	require.Equal(t, 1, f.action.Len())

	v, ok := f.primary.Get("b")
	require.True(t, ok)
	require.Equal(t, "B", v)
	require.False(t, f.secondary.ContainsKey("b"), "migrating back releases the copy")

	// b re-enrolled and pushed the newest tracked entry (c) out instead.
	require.True(t, f.secondary.ContainsKey("c"))
	v, ok = f.primary.Get("c")
	require.True(t, ok)
	require.Equal(t, "C", v)
}

func TestRelocate_RemoveReleasesCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.put(t, "a", "A", "b", "B")
	require.True(t, f.secondary.ContainsKey("a"))

	require.True(t, f.primary.Remove("a"))
	require.Zero(t, f.secondary.Len())
	require.Zero(t, f.action.Len())
}

func TestRelocate_SetReleasesStaleCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.put(t, "a", "A", "b", "B")
	r, ok := f.primary.Ref("a")
	require.True(t, ok)

	require.NoError(t, r.Set(nil, "A2"))
	require.False(t, f.secondary.ContainsKey("a"))
	v, _ := f.primary.Get("a")
	require.Equal(t, "A2", v)
}

func TestRelocate_LosingCopyRemovesVictim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.put(t, "a", "A", "b", "B")
	require.True(t, f.secondary.Remove("a"))

	require.False(t, f.primary.ContainsKey("a"))
	require.Equal(t, 1, f.primary.Len())
}

func TestRelocate_UnkeyedVictimIntoKeyedStore(t *testing.T) {
	t.Parallel()

	secondary := cache.NewMap(cache.MapOptions[string, string]{})
	act, err := relocate.New(store.Keyed[string, string](mapstore.New(secondary)), nil)
	require.NoError(t, err)
	val, _ := capacity.New[string](0, 0)
	alg := lifo.New[string]()

	r := ref.Strong("x")
	val.Add(r)
	alg.Add(r)
	err = act.Action(val, alg, r)
	require.ErrorIs(t, err, cacheerr.ErrReferenceState)

	// still deregistered, still holding its payload
	require.Zero(t, val.Len())
	require.Zero(t, alg.Len())
	v, ok := r.Get(nil, false)
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestRelocate_ByValueIntoSet(t *testing.T) {
	t.Parallel()

	set := cache.NewSet(cache.Options[int]{})
	act, err := relocate.New(store.Values[int](set), nil)
	require.NoError(t, err)
	val, _ := capacity.New[int](0, 0)
	alg := lifo.New[int]()

	r := ref.Strong(7)
	require.NoError(t, act.Action(val, alg, r))
	require.Equal(t, 1, set.Len())

	v, ok := r.Get(nil, false)
	require.True(t, ok)
	require.Equal(t, 7, v)
	require.Zero(t, set.Len())
}

func TestNew_RequiresTarget(t *testing.T) {
	t.Parallel()

	_, err := relocate.New[int](nil, nil)
	require.ErrorIs(t, err, cacheerr.ErrConfiguration)
}

// A memsize validator that caches sizes listens for payload changes. The
// victim's Clear must not be sized through the new link, which would pull
// the payload straight back (and, inline, re-enter the running pass).
func TestRelocate_MemsizeCacheOnAdd(t *testing.T) {
	t.Parallel()

	for _, async := range []bool{false, true} {
		secondary := cache.NewMap(cache.MapOptions[string, string]{Shards: 1})
		act, err := relocate.New(store.Keyed[string, string](mapstore.New(secondary)), nil)
		require.NoError(t, err)
		// every 40-byte string alone is over budget
		val, err := memsize.New[string](memsize.Options{Max: 40, CacheOnAdd: true})
		require.NoError(t, err)
		ctl, err := overflow.NewController(overflow.Options[string]{
			Validator: val,
			Algorithm: lifo.New[string](),
			Action:    act,
			Async:     async,
		})
		require.NoError(t, err)
		require.NoError(t, ctl.Start())
		primary := cache.NewMap(cache.MapOptions[string, string]{
			Shards:  1,
			Options: cache.Options[string]{Controllers: []overflow.Trigger[string]{ctl}},
		})

		done := make(chan error, 1)
		go func() {
			var err error
			for _, k := range []string{"a", "b", "c", "d"} {
				if _, _, err = primary.Put(k, strings.Repeat(k, 40)); err != nil {
					break
				}
			}
			done <- err
		}()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("async=%v: puts blocked", async)
		}
		require.NoError(t, ctl.Stop())

		require.Equal(t, 4, primary.Len(), "async=%v", async)
		require.Equal(t, 3, secondary.Len(), "async=%v", async)
		require.Equal(t, 3, act.Len(), "async=%v", async)
		_, tracked := val.Used()
		require.Equal(t, 1, tracked, "async=%v: only the newest entry is still tracked", async)

		v, ok := primary.Get("a")
		require.True(t, ok)
		require.Equal(t, strings.Repeat("a", 40), v)
	}
}
