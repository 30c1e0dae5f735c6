package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the KVStore contract against the in-process fake;
// PostgresStore satisfies the same interface and is covered by the schema
// and query shapes in store.go, not by integration tests requiring a live
// database.

func TestIncr_MonotonicPerCounter(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	v1, err := s.Incr(ctx, "next_game")
	require.NoError(t, err)
	v2, err := s.Incr(ctx, "next_game")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v1)
	assert.EqualValues(t, 2, v2)

	v3, err := s.Incr(ctx, "next_user")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v3, "separate counters do not share state")
}

func TestHashRoundTrip(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "user-1", "name", "alice"))
	require.NoError(t, s.HSet(ctx, "user-1", "id", "1"))

	v, ok, err := s.HGet(ctx, "user-1", "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", v)

	_, ok, err = s.HGet(ctx, "user-1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.HGetAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "alice", "id": "1"}, all)
}

func TestLPush_NewestFirstAndCapped(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, s.LPush(ctx, "user-1-games", id, 2))
	}

	got, err := s.LRange(ctx, "user-1-games", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"g3", "g2"}, got, "capped at 2, newest first")
}

func TestBytesAppend(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	require.NoError(t, s.SetBytes(ctx, "game-1-m", []byte{0x01}))
	require.NoError(t, s.AppendBytes(ctx, "game-1-m", []byte{0x02}))
	require.NoError(t, s.AppendBytes(ctx, "game-1-m", []byte{0x83}))

	got, err := s.GetBytes(ctx, "game-1-m")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x83}, got)
}

func TestReset_ClearsEverything(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	_, _ = s.Incr(ctx, "next_game")
	_ = s.HSet(ctx, "user-1", "name", "alice")
	_ = s.SetBytes(ctx, "game-1-m", []byte{1})

	require.NoError(t, s.Reset(ctx))

	v, err := s.Incr(ctx, "next_game")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	_, ok, err := s.HGet(ctx, "user-1", "name")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetBytes(ctx, "game-1-m")
	require.NoError(t, err)
	assert.Nil(t, got)
}
