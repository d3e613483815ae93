package inbox

import (
	"encoding/json"
	"net"
	"net/url"
	"sync"
)

// Default concurrency caps, matching klistr's maxConcurrentActivities /
// maxPerOriginConcurrency (internal/server/server.go).
const (
	DefaultMaxConcurrentActivities = 50
	DefaultMaxPerOriginConcurrency = 5
)

// Limiter bounds how many activities are processed concurrently, both
// globally and per origin, so one noisy remote instance can't starve the
// global pool — the same two-tier gate klistr applies in handleInbox before
// ever parsing the body.
type Limiter struct {
	global chan struct{}

	perOrigin int
	mu        sync.Mutex
	counts    map[string]int
}

// NewLimiter builds a Limiter with the given caps. A non-positive value
// falls back to the klistr-derived default.
func NewLimiter(maxGlobal, maxPerOrigin int) *Limiter {
	if maxGlobal <= 0 {
		maxGlobal = DefaultMaxConcurrentActivities
	}
	if maxPerOrigin <= 0 {
		maxPerOrigin = DefaultMaxPerOriginConcurrency
	}
	return &Limiter{
		global:    make(chan struct{}, maxGlobal),
		perOrigin: maxPerOrigin,
		counts:    make(map[string]int),
	}
}

// Acquire reserves one slot for origin, checking the per-origin cap before
// the global one (same order as klistr, so a saturated origin never even
// touches the shared semaphore). ok=false means the caller should reject the
// request (429 per-origin, 503 global) without calling Release; global is
// true only when the global cap was the one reached.
func (l *Limiter) Acquire(origin string) (ok bool, global bool) {
	l.mu.Lock()
	if l.counts[origin] >= l.perOrigin {
		l.mu.Unlock()
		return false, false
	}
	l.counts[origin]++
	l.mu.Unlock()

	select {
	case l.global <- struct{}{}:
		return true, false
	default:
		l.releaseOrigin(origin)
		return false, true
	}
}

// Release frees the slots Acquire reserved for origin.
func (l *Limiter) Release(origin string) {
	<-l.global
	l.releaseOrigin(origin)
}

func (l *Limiter) releaseOrigin(origin string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[origin] > 0 {
		l.counts[origin]--
	}
	if l.counts[origin] == 0 {
		delete(l.counts, origin)
	}
}

// Origin derives the rate-limiting key for an inbound activity: the host of
// its "actor" IRI when present, falling back to the connecting address —
// the same fallback klistr's actorOrigin helper uses.
func Origin(body []byte, remoteAddr string) string {
	var a struct {
		Actor string `json:"actor"`
	}
	if json.Unmarshal(body, &a) == nil && a.Actor != "" {
		if u, err := url.Parse(a.Actor); err == nil && u.Host != "" {
			return u.Host
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
