package external

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/overflow/validator/capacity"
	"github.com/IvanBrykalov/refcache/policy/lifo"
	"github.com/IvanBrykalov/refcache/ref"
)

type memSaver struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *memSaver) SaveKey(k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, k)
	return nil
}

func tracked(t *testing.T, r ref.Ref[int]) (*capacity.Validator[int], *lifo.Policy[int]) {
	t.Helper()
	v, err := capacity.New[int](0, 0)
	require.NoError(t, err)
	a := lifo.New[int]()
	v.Add(r)
	a.Add(r)
	return v, a
}

func TestAction_SavesOwnedKey(t *testing.T) {
	t.Parallel()

	s := &memSaver{}
	act, err := New[string, int](Options[string]{Saver: s})
	require.NoError(t, err)

	r := ref.StrongKeyed("k1", 1)
	v, a := tracked(t, r)
	require.NoError(t, act.Action(v, a, r))

	assert.Equal(t, []string{"k1"}, s.keys)
	assert.True(t, r.Removed())
	assert.Zero(t, v.Len())
	assert.Zero(t, a.Len())
}

func TestAction_ForeignKeyNotSaved(t *testing.T) {
	t.Parallel()

	s := &memSaver{}
	act, err := New[string, int](Options[string]{
		Saver:       s,
		Partitioner: Owner[string](func(string) bool { return false }),
	})
	require.NoError(t, err)

	r := ref.StrongKeyed("k1", 1)
	v, a := tracked(t, r)
	require.NoError(t, act.Action(v, a, r))
	assert.Empty(t, s.keys)
	assert.True(t, r.Removed())
}

func TestAction_SaveFailureKeepsVictim(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	act, err := New[string, int](Options[string]{Saver: &memSaver{err: boom}})
	require.NoError(t, err)

	r := ref.StrongKeyed("k1", 1)
	v, a := tracked(t, r)
	err = act.Action(v, a, r)
	require.ErrorIs(t, err, cacheerr.ErrPersistence)
	require.ErrorIs(t, err, boom)

	assert.False(t, r.Removed())
	assert.Zero(t, v.Len(), "deregistered even on failure")
	assert.Zero(t, a.Len())
}

func TestAction_UnkeyedVictim(t *testing.T) {
	t.Parallel()

	act, err := New[string, int](Options[string]{Saver: &memSaver{}})
	require.NoError(t, err)

	r := ref.Strong(1)
	v, a := tracked(t, r)
	require.ErrorIs(t, act.Action(v, a, r), cacheerr.ErrReferenceState)
	assert.Zero(t, v.Len())
	assert.Zero(t, a.Len())
}

func TestNew_RequiresSaver(t *testing.T) {
	t.Parallel()

	_, err := New[string, int](Options[string]{})
	require.ErrorIs(t, err, cacheerr.ErrConfiguration)
}

func TestHashPartitioner(t *testing.T) {
	t.Parallel()

	const nodes = 4
	parts := make([]*HashPartitioner[int], nodes)
	for i := range parts {
		p, err := NewHashPartitioner[int](i, nodes, nil)
		require.NoError(t, err)
		parts[i] = p
	}
	for k := 0; k < 1000; k++ {
		owners := 0
		for _, p := range parts {
			if p.Owns(k) {
				owners++
			}
		}
		require.Equal(t, 1, owners, "key %d", k)
		require.Equal(t, parts[0].Node(k), parts[3].Node(k))
	}

	_, err := NewHashPartitioner[int](4, nodes, nil)
	require.ErrorIs(t, err, cacheerr.ErrConfiguration)
	_, err = NewHashPartitioner[int](0, 0, nil)
	require.ErrorIs(t, err, cacheerr.ErrConfiguration)
}
