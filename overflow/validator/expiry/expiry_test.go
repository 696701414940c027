package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/ref"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t += int64(d) }

// TTL of 1000ms: an entry aged 1100ms is reported, and after it is removed
// the validator is satisfied again.
func TestValidate_TTL(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: int64(time.Hour)}
	p, err := New[string](Options{TTL: 1000 * time.Millisecond, Clock: clk})
	require.NoError(t, err)

	r := ref.Strong("x")
	p.Add(r)
	require.Zero(t, p.Validate())

	clk.add(1100 * time.Millisecond)
	require.Equal(t, 1, p.Validate())

	r.Remove(nil) // what an eviction pass does
	require.Zero(t, p.Validate())
}

// Validate counts only the expired prefix.
func TestValidate_PrefixStopsAtLiveEntry(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	p, err := New[int](Options{TTL: time.Second, Clock: clk})
	require.NoError(t, err)

	p.Add(ref.Strong(1))
	clk.add(500 * time.Millisecond)
	p.Add(ref.Strong(2))
	clk.add(600 * time.Millisecond) // 1 is 1.1s old, 2 is 0.6s old
	p.Add(ref.Strong(3))

	require.Equal(t, 1, p.Validate())
	clk.add(500 * time.Millisecond)
	require.Equal(t, 2, p.Validate())
}

func TestValidate_PeriodicBoundary(t *testing.T) {
	t.Parallel()

	// Boundaries every 10s, shifted by 3s: ..., 3s, 13s, 23s, ...
	clk := &fakeClock{t: int64(5 * time.Second)}
	p, err := New[int](Options{Interval: 10 * time.Second, Offset: 3 * time.Second, Clock: clk})
	require.NoError(t, err)

	p.Add(ref.Strong(1))
	clk.add(7 * time.Second) // 12s: still before 13s
	p.Add(ref.Strong(2))
	require.Zero(t, p.Validate())

	clk.add(time.Second) // 13s: boundary passed for both
	require.Equal(t, 2, p.Validate())
}

func TestFloorDiv(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(2), floorDiv(5, 2))
	require.Equal(t, int64(-3), floorDiv(-5, 2))
	require.Equal(t, int64(-2), floorDiv(-4, 2))
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New[int](Options{})
	require.ErrorIs(t, err, cacheerr.ErrConfiguration)
	_, err = New[int](Options{TTL: -time.Second})
	require.ErrorIs(t, err, cacheerr.ErrConfiguration)
}

func TestReset_DropsTracking(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	p, err := New[int](Options{TTL: time.Millisecond, Clock: clk})
	require.NoError(t, err)
	p.Add(ref.Strong(1))
	clk.add(time.Second)
	p.Reset()
	require.Zero(t, p.Validate())
	require.Zero(t, p.Len())
}
