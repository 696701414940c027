package remove

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/refcache/overflow/validator/capacity"
	"github.com/IvanBrykalov/refcache/policy/lru"
	"github.com/IvanBrykalov/refcache/ref"
)

type removeCounter struct{ n int }

func (c *removeCounter) OnRemove(ref.Ref[int]) { c.n++ }

func TestAction_RemovesAndDeregisters(t *testing.T) {
	t.Parallel()

	val, err := capacity.New[int](0, 0)
	require.NoError(t, err)
	alg := lru.New[int](nil)
	r := ref.Strong(1)
	val.Add(r)
	alg.Add(r)
	lis := &removeCounter{}
	require.True(t, r.AddRemoveListener(lis))

	act := New[int](nil)
	require.NoError(t, act.Action(val, alg, r))

	assert.True(t, r.Removed())
	assert.Equal(t, 1, lis.n)
	assert.Zero(t, val.Len())
	assert.Zero(t, alg.Len())

	// A second pass over the same victim is harmless.
	require.NoError(t, act.Action(val, alg, r))
	assert.Equal(t, 1, lis.n)
}
