package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, Key{"a"})
	require.NoError(t, err)
	assert.False(t, ok, "unset key must report ok=false")

	require.NoError(t, s.Set(ctx, Key{"a"}, []byte("v1"), -1))
	v, ok, err := s.Get(ctx, Key{"a"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestMemoryStoreZeroTTLIsAlreadyExpired(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Key{"a"}, []byte("v1"), 0))
	_, ok, err := s.Get(ctx, Key{"a"})
	require.NoError(t, err)
	assert.False(t, ok, "a zero TTL set must be a no-op per the Store contract")
}

func TestMemoryStorePositiveTTLExpires(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Key{"a"}, []byte("v1"), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, ok, err := s.Get(ctx, Key{"a"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSetIfAbsent(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	inserted, err := s.SetIfAbsent(ctx, Key{"dedup", "1"}, []byte("first"), -1)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SetIfAbsent(ctx, Key{"dedup", "1"}, []byte("second"), -1)
	require.NoError(t, err)
	assert.False(t, inserted, "a second SetIfAbsent on a live key must not overwrite it")

	v, _, _ := s.Get(ctx, Key{"dedup", "1"})
	assert.Equal(t, []byte("first"), v)
}

func TestMemoryStoreSetIfAbsentWinsOverExpiredEntry(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Key{"a"}, []byte("stale"), 1*time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	inserted, err := s.SetIfAbsent(ctx, Key{"a"}, []byte("fresh"), -1)
	require.NoError(t, err)
	assert.True(t, inserted, "an expired entry must not block a new SetIfAbsent insert")

	v, _, _ := s.Get(ctx, Key{"a"})
	assert.Equal(t, []byte("fresh"), v)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Key{"a"}, []byte("v1"), -1))
	require.NoError(t, s.Delete(ctx, Key{"a"}))
	_, ok, _ := s.Get(ctx, Key{"a"})
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx, Key{"never-set"}), "deleting an absent key must not error")
}

func TestKeyStringOrderMatters(t *testing.T) {
	assert.NotEqual(t, Key{"a", "b"}.String(), Key{"b", "a"}.String())
}
