package httpsig

import (
	"context"
	"sync"
	"time"
)

// KeyFetcher retrieves the PEM-encoded public key for a keyId, e.g. by
// dereferencing the owning actor's document. Implementations typically wrap
// a vocab.DocumentLoader.
type KeyFetcher func(ctx context.Context, keyID string) (string, error)

type keyCacheEntry struct {
	pem     string
	err     error
	expires time.Time
}

// KeyCache coalesces concurrent lookups of the same keyId into a single
// KeyFetcher call and caches the result for a TTL. It is the generalized
// form of klistr's client.go object/actor caches (objectCache, a sync.Map of
// cacheEntry{obj, expires}), extended with a per-key lock so N simultaneous
// inbox deliveries signed by the same actor trigger one fetch rather than N.
// The pack has no golang.org/x/sync/singleflight dependency to reach for, so
// this coalescing is hand-rolled the same way klistr hand-rolls its cache
// sweep rather than importing a cache library.
type KeyCache struct {
	fetch KeyFetcher
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*keyCacheEntry
	inFlight map[string]*sync.WaitGroup
}

// NewKeyCache creates a KeyCache. ttl <= 0 keeps successful lookups with no
// expiry. Failed lookups are never retained, and concurrent lookups of one
// keyId are coalesced either way.
func NewKeyCache(fetch KeyFetcher, ttl time.Duration) *KeyCache {
	return &KeyCache{
		fetch:    fetch,
		ttl:      ttl,
		entries:  make(map[string]*keyCacheEntry),
		inFlight: make(map[string]*sync.WaitGroup),
	}
}

// ResolveKey implements KeyResolver.
func (c *KeyCache) ResolveKey(ctx context.Context, keyID string) (string, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[keyID]; ok && (e.expires.IsZero() || e.expires.After(time.Now())) {
			c.mu.Unlock()
			return e.pem, e.err
		}
		if wg, ok := c.inFlight[keyID]; ok {
			c.mu.Unlock()
			wg.Wait()
			continue
		}

		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.inFlight[keyID] = wg
		c.mu.Unlock()

		pem, err := c.fetch(ctx, keyID)

		c.mu.Lock()
		entry := &keyCacheEntry{pem: pem, err: err}
		if c.ttl > 0 {
			entry.expires = time.Now().Add(c.ttl)
		}
		if err == nil {
			c.entries[keyID] = entry
		}
		delete(c.inFlight, keyID)
		c.mu.Unlock()
		wg.Done()

		return pem, err
	}
}

// Invalidate drops any cached entry for keyID, forcing the next
// ResolveKey to re-fetch. Used when a signature fails verification against a
// cached (possibly rotated) key.
func (c *KeyCache) Invalidate(keyID string) {
	c.mu.Lock()
	delete(c.entries, keyID)
	c.mu.Unlock()
}
