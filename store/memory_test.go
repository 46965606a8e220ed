package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreKV(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key should not be visible")
}

func TestMemStoreSortedSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.ZAdd(ctx, "q", "c", 3))
	require.NoError(t, s.ZAdd(ctx, "q", "a", 1))
	require.NoError(t, s.ZAdd(ctx, "q", "b", 2))

	members, err := s.ZRangeByRank(ctx, "q", 0, -1)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{members[0].Member, members[1].Member, members[2].Member})

	rank, ok, err := s.ZRank(ctx, "q", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, rank)

	min, ok, err := s.ZPopMin(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", min.Member)

	card, err := s.ZCard(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 2, card)
}

func TestMemStoreSetIntersection(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.SAdd(ctx, "s1", "x", "y", "z"))
	require.NoError(t, s.SAdd(ctx, "s2", "y", "z", "w"))

	inter, err := s.SInter(ctx, "s1", "s2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"y", "z"}, inter)
}

func TestMemStoreListBothEnds(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.RPush(ctx, "l", "1", "2", "3"))
	require.NoError(t, s.LPush(ctx, "l", "0"))

	all, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3"}, all)

	v, ok, err := s.RPop(ctx, "l")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	v, ok, err = s.LPop(ctx, "l")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestMemStoreIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	v, err := s.Incr(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = s.Incr(ctx, "counter", 4, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
}

func TestMemStoreScanPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Set(ctx, "process:1", "a", 0))
	require.NoError(t, s.Set(ctx, "process:2", "b", 0))
	require.NoError(t, s.Set(ctx, "workflow:1", "c", 0))

	keys, err := s.ScanPrefix(ctx, "process:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"process:1", "process:2"}, keys)
}
