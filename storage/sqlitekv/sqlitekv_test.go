package sqlitekv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/fedcore/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreGetSetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, kv.Key{"a"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, kv.Key{"a"}, []byte("v1"), -1))
	v, ok, err := s.Get(ctx, kv.Key{"a"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestStoreSetOverwritesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, kv.Key{"a"}, []byte("v1"), -1))
	require.NoError(t, s.Set(ctx, kv.Key{"a"}, []byte("v2"), -1))
	v, _, err := s.Get(ctx, kv.Key{"a"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestStoreSetIfAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.SetIfAbsent(ctx, kv.Key{"dedup", "1"}, []byte("first"), -1)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SetIfAbsent(ctx, kv.Key{"dedup", "1"}, []byte("second"), -1)
	require.NoError(t, err)
	assert.False(t, inserted)

	v, _, _ := s.Get(ctx, kv.Key{"dedup", "1"})
	assert.Equal(t, []byte("first"), v)
}

func TestStoreZeroTTLIsAlreadyExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, kv.Key{"a"}, []byte("v1"), 0))
	_, ok, err := s.Get(ctx, kv.Key{"a"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreSweepRemovesExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, kv.Key{"expiring"}, []byte("v"), time.Millisecond))
	require.NoError(t, s.Set(ctx, kv.Key{"persistent"}, []byte("v"), -1))
	time.Sleep(10 * time.Millisecond)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, _ := s.Get(ctx, kv.Key{"persistent"})
	assert.True(t, ok)
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, kv.Key{"a"}, []byte("v1"), -1))
	require.NoError(t, s.Delete(ctx, kv.Key{"a"}))
	_, ok, _ := s.Get(ctx, kv.Key{"a"})
	assert.False(t, ok)
}

func TestDetectDriver(t *testing.T) {
	driver, dsn := detectDriver("postgres://user@host/db")
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgres://user@host/db", dsn)

	driver, dsn = detectDriver("sqlite:///tmp/app.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/tmp/app.db", dsn)

	driver, dsn = detectDriver("app.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "app.db", dsn)
}
