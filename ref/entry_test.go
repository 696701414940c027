package ref

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/codec"
)

// --- test doubles ---

type recorder struct {
	mu      sync.Mutex
	removed int
	access  int
	changed int
}

func (r *recorder) OnRemove(Ref[string]) { r.mu.Lock(); r.removed++; r.mu.Unlock() }
func (r *recorder) OnAccess(Ref[string]) { r.mu.Lock(); r.access++; r.mu.Unlock() }
func (r *recorder) OnChange(Ref[string]) { r.mu.Lock(); r.changed++; r.mu.Unlock() }

type staticFallback struct {
	v  string
	ok bool
	n  int
}

func (f *staticFallback) Fetch(Ref[string]) (string, bool) {
	f.n++
	return f.v, f.ok
}

// --- tests ---

func TestEntry_GetSetClear(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	v, ok := r.Get(nil, false)
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.NoError(t, r.Set(nil, "b"))
	v, _ = r.Get(nil, false)
	require.Equal(t, "b", v)

	require.NoError(t, r.Clear(nil))
	_, ok = r.Get(nil, false)
	require.False(t, ok)
	require.False(t, r.Removed())
}

// A second Remove is a no-op: no duplicate notifications.
func TestEntry_RemoveIdempotent(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	rec := &recorder{}
	require.True(t, r.AddRemoveListener(rec))

	r.Remove(nil)
	r.Remove(nil)

	assert.Equal(t, 1, rec.removed)
	assert.True(t, r.Removed())
	_, ok := r.Get(nil, false)
	assert.False(t, ok)
}

func TestEntry_RemovedNeverRepopulates(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	r.Remove(nil)

	err := r.Set(nil, "b")
	require.ErrorIs(t, err, cacheerr.ErrReferenceState)
	_, ok := r.Get(nil, false)
	require.False(t, ok)
	require.False(t, r.AddRemoveListener(&recorder{}), "registration on a removed ref must be refused")
	require.False(t, r.AddFallback(&staticFallback{v: "x", ok: true}))
}

// The source of a mutation is never notified of it, for all three kinds.
func TestEntry_SelfSuppression(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	self, other := &recorder{}, &recorder{}
	for _, l := range []*recorder{self, other} {
		r.AddAccessListener(l)
		r.AddChangeListener(l)
		r.AddRemoveListener(l)
	}

	r.Get(self, true)
	require.NoError(t, r.Set(self, "b"))
	r.Remove(self)

	assert.Equal(t, 0, self.access)
	assert.Equal(t, 0, self.changed)
	assert.Equal(t, 0, self.removed)
	assert.Equal(t, 1, other.access)
	assert.Equal(t, 1, other.changed)
	assert.Equal(t, 1, other.removed)
}

func TestEntry_AccessOnlyWhenNotify(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	rec := &recorder{}
	r.AddAccessListener(rec)

	r.Get(nil, false)
	assert.Equal(t, 0, rec.access)
	r.Get(nil, true)
	assert.Equal(t, 1, rec.access)

	r.DropAccessListener(rec)
	r.Get(nil, true)
	assert.Equal(t, 1, rec.access)
}

type selfDropper struct{ n int }

func (s *selfDropper) OnChange(r Ref[string]) {
	s.n++
	r.DropChangeListener(s)
	r.AddChangeListener(&recorder{})
}

// Listeners that (de)register during dispatch neither crash nor get called twice.
func TestEntry_DispatchSnapshot(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	d := &selfDropper{}
	r.AddChangeListener(d)
	r.AddChangeListener(d) // duplicate registration is ignored

	require.NoError(t, r.Set(nil, "b"))
	require.NoError(t, r.Set(nil, "c"))
	assert.Equal(t, 1, d.n)
}

func TestEntry_FallbackOrder(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	miss := &staticFallback{}
	hit1 := &staticFallback{v: "one", ok: true}
	hit2 := &staticFallback{v: "two", ok: true}
	r.AddFallback(miss)
	r.AddFallback(hit1)
	r.AddFallback(hit2)

	// payload present: fallbacks untouched
	v, _ := r.Get(nil, false)
	require.Equal(t, "a", v)
	require.Zero(t, miss.n)

	require.NoError(t, r.Clear(nil))
	v, ok := r.Get(nil, false)
	require.True(t, ok)
	require.Equal(t, "one", v)
	require.Equal(t, 1, miss.n)
	require.Equal(t, 0, hit2.n)

	// lookup through a fallback does not populate the slot
	r.DropFallback(hit1)
	r.DropFallback(hit2)
	_, ok = r.Get(nil, false)
	require.False(t, ok)

	r.Remove(nil)
	_, ok = r.Get(nil, false)
	require.False(t, ok)
	require.Equal(t, 2, miss.n, "fallbacks are dropped on remove")
}

// Peek sees only the slot: no fallback lookups, no access notifications.
func TestEntry_PeekSkipsFallbacks(t *testing.T) {
	t.Parallel()

	r := Strong("a")
	fb := &staticFallback{v: "far", ok: true}
	rec := &recorder{}
	r.AddFallback(fb)
	r.AddAccessListener(rec)

	v, ok, err := r.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.NoError(t, r.Clear(nil))
	_, ok, err = r.Peek()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, fb.n)
	assert.Zero(t, rec.access)

	r.Remove(nil)
	_, ok, _ = r.Peek()
	assert.False(t, ok)
}

func TestKeyEntry_ListenersSeeOuterHandle(t *testing.T) {
	t.Parallel()

	r := StrongKeyed("k", "v")
	var got Ref[string]
	r.AddRemoveListener(removeFunc(func(x Ref[string]) { got = x }))
	r.Remove(nil)

	require.Same(t, r, got.(*KeyEntry[string, string]))
	k, ok := KeyOf[string](got)
	require.True(t, ok)
	require.Equal(t, "k", k)

	_, ok = KeyOf[string, string](Strong("x"))
	require.False(t, ok)
}

type removeFuncT struct{ fn func(Ref[string]) }

func (f *removeFuncT) OnRemove(r Ref[string]) { f.fn(r) }

func removeFunc(fn func(Ref[string])) *removeFuncT { return &removeFuncT{fn: fn} }

// --- persisted slots ---

func TestBytesSlot_DecodesCopies(t *testing.T) {
	t.Parallel()

	r, err := New[[]int](NewBytesSlot(codec.Gob[[]int]()), []int{1, 2, 3})
	require.NoError(t, err)

	a, _ := r.Get(nil, false)
	a[0] = 99
	b, _ := r.Get(nil, false)
	require.Equal(t, []int{1, 2, 3}, b, "each get deserializes a fresh value")
}

func TestFileSlot_PersistAndDeleteOnRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	slot := NewFileSlot(filepath.Join(dir, "a.ref"), codec.Zstd(codec.JSON[string]()))
	r, err := NewKeyed[string, string]("a", slot, "payload")
	require.NoError(t, err)

	_, err = os.Stat(slot.Path())
	require.NoError(t, err)

	v, ok, err := r.Load(nil, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", v)

	r.Remove(nil)
	_, err = os.Stat(slot.Path())
	require.True(t, os.IsNotExist(err), "file must be deleted on remove")
}

func TestFileSlot_WriteFailureSurfaces(t *testing.T) {
	t.Parallel()

	slot := NewFileSlot(filepath.Join(t.TempDir(), "missing", "a.ref"), codec.Gob[string]())
	_, err := New[string](slot, "x")
	require.ErrorIs(t, err, cacheerr.ErrPersistence)
}

func TestFileSlot_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.ref")
	r, err := New[string](NewFileSlot(path, codec.Gob[string]()), "x")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, ok, err := r.Load(nil, false)
	require.False(t, ok)
	require.ErrorIs(t, err, cacheerr.ErrPersistence)

	_, ok = r.Get(nil, false)
	require.False(t, ok)
}

func TestFileSlots_UniqueNames(t *testing.T) {
	t.Parallel()

	mk := FileSlots(t.TempDir(), codec.Gob[int]())
	a := mk().(*FileSlot[int])
	b := mk().(*FileSlot[int])
	require.NotEqual(t, a.Path(), b.Path())
}
