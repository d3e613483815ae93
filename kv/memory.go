package kv

import (
	"context"
	"sync"
	"time"
)

// memEntry mirrors the cacheEntry/expires pattern klistr's client.go uses for
// its object and WebFinger caches.
type memEntry struct {
	value   []byte
	expires time.Time // zero means "never expires"
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemoryStore is an in-memory reference implementation of Store, backed by a
// sync.Map plus a background sweeper goroutine — the same shape as klistr's
// objectCache/wfCache in internal/ap/client.go. Suitable for tests and
// single-process deployments; state is lost on restart.
type MemoryStore struct {
	entries sync.Map // Key.String() → memEntry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts its background sweeper,
// which evicts expired entries every sweepInterval so the map doesn't grow
// unboundedly over a long-running process. sweepInterval <= 0 disables the
// sweeper (entries are still treated as expired on read, just never evicted
// proactively).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{stop: make(chan struct{})}
	if sweepInterval > 0 {
		go s.sweep(sweepInterval)
	}
	return s
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.entries.Range(func(k, v any) bool {
				if v.(memEntry).expired(now) {
					s.entries.Delete(k)
				}
				return true
			})
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func expiry(ttl time.Duration) time.Time {
	switch {
	case ttl < 0:
		return time.Time{}
	case ttl == 0:
		return time.Now().Add(-time.Nanosecond) // already expired
	default:
		return time.Now().Add(ttl)
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) ([]byte, bool, error) {
	v, ok := s.entries.Load(key.String())
	if !ok {
		return nil, false, nil
	}
	entry := v.(memEntry)
	if entry.expired(time.Now()) {
		s.entries.Delete(key.String())
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	s.entries.Store(key.String(), memEntry{value: value, expires: expiry(ttl)})
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key Key, value []byte, ttl time.Duration) (bool, error) {
	k := key.String()
	entry := memEntry{value: value, expires: expiry(ttl)}

	actual, loaded := s.entries.LoadOrStore(k, entry)
	if !loaded {
		return true, nil
	}
	// Key already present — but it might be a stale, expired entry left over
	// from a previous TTL, in which case this insert should still win.
	if actual.(memEntry).expired(time.Now()) {
		s.entries.Store(k, entry)
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.entries.Delete(key.String())
	return nil
}
