// Package inbox implements the POST-to-inbox pipeline: signature
// verification, parsing, deduplication, actor authentication, and
// most-specific-listener dispatch, per spec.md §4.5. Grounded in klistr's
// handleInbox (internal/server/server.go, concurrency gating) and
// APHandler.HandleActivity (internal/ap/handler.go, type-switch dispatch) —
// generalized from klistr's single-type-switch handler into a listener
// registry keyed by vocabulary class ancestry.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klppl/fedcore/kv"
	"github.com/klppl/fedcore/vocab"
)

// DefaultDedupTTL is how long a delivered activity's id is remembered to
// absorb retried/duplicate deliveries — spec.md §3 requires "default >= 1
// week".
const DefaultDedupTTL = 7 * 24 * time.Hour

// MaxBodyBytes caps how much of a request body is read before giving up,
// matching klistr's handleInbox 1MB io.LimitReader guard.
const MaxBodyBytes = 1 << 20

var (
	ErrDuplicateListener = errors.New("inbox: listener already registered for this class")
	ErrUnauthorized      = errors.New("inbox: signature verification failed")
	ErrMalformedInput    = errors.New("inbox: malformed input")
)

// Listener handles one dispatched activity. c is the application-defined
// context payload threaded through from the federation handle.
type Listener[C any] func(ctx context.Context, c C, activity *vocab.Object) error

// Registry maps activity classes to listeners, resolving dispatch by
// walking class ancestry most-specific-first (spec.md §4.5 step 6).
// Registration is append-only and rejects a second listener for a class
// already claimed, at registration time rather than dispatch time.
type Registry[C any] struct {
	mu        sync.RWMutex
	listeners map[vocab.Kind]Listener[C]
}

func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{listeners: make(map[vocab.Kind]Listener[C])}
}

// Register attaches fn to kind. Returns ErrDuplicateListener if kind already
// has one.
func (r *Registry[C]) Register(kind vocab.Kind, fn Listener[C]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.listeners[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateListener, kind)
	}
	r.listeners[kind] = fn
	return nil
}

// resolve walks kind's ancestry (most specific first) and returns the first
// registered listener found.
func (r *Registry[C]) resolve(kind vocab.Kind) (Listener[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ancestor := range vocab.Ancestry(kind) {
		if fn, ok := r.listeners[ancestor]; ok {
			return fn, true
		}
	}
	return nil, false
}

// Verifier authenticates an inbound request and reports the keyId that
// signed it. The federation engine supplies this backed by httpsig.Verifier.
type Verifier interface {
	Verify(ctx context.Context, req *http.Request, body []byte) (keyID string, err error)
}

// KeyOwnerResolver resolves the actor IRI that owns a signing key, used for
// the "signing key owner == activity.actorId" check in spec.md §4.5 step 5.
type KeyOwnerResolver interface {
	OwnerOf(ctx context.Context, keyID string) (actorIRI string, err error)
}

// ErrorHandler observes a listener failure. activityID/actorID/listenerKind
// are passed for structured logging per spec.md §7's propagation policy.
type ErrorHandler[C any] func(ctx context.Context, c C, activity *vocab.Object, listenerKind vocab.Kind, err error)

// Pipeline is the assembled inbox pipeline for one federation handle.
type Pipeline[C any] struct {
	Store    kv.Store
	DedupTTL time.Duration

	Verifier  Verifier
	KeyOwners KeyOwnerResolver

	Registry *Registry[C]
	OnError  ErrorHandler[C]

	// Limiter bounds concurrent activity processing, global and per-origin.
	// Nil disables limiting (unbounded concurrency).
	Limiter *Limiter
}

func (p *Pipeline[C]) dedupTTL() time.Duration {
	if p.DedupTTL > 0 {
		return p.DedupTTL
	}
	return DefaultDedupTTL
}

// Result describes how the pipeline concluded, for the caller (typically the
// federation engine's http.Handler) to turn into a status code.
type Result struct {
	Status int
	Err    error
}

// Handle runs the full pipeline against one inbox POST. body has already
// been read from req.Body by the caller (so MaxBodyBytes can be enforced
// uniformly at the transport layer).
func (p *Pipeline[C]) Handle(ctx context.Context, c C, req *http.Request, body []byte) Result {
	if p.Limiter != nil {
		origin := Origin(body, req.RemoteAddr)
		ok, global := p.Limiter.Acquire(origin)
		if !ok {
			status := http.StatusTooManyRequests
			if global {
				status = http.StatusServiceUnavailable
			}
			return Result{Status: status, Err: fmt.Errorf("inbox: concurrency limit exceeded for %q", origin)}
		}
		defer p.Limiter.Release(origin)
	}

	keyID, err := p.Verifier.Verify(ctx, req, body)
	if err != nil {
		return Result{Status: http.StatusUnauthorized, Err: fmt.Errorf("%w: %v", ErrUnauthorized, err)}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{Status: http.StatusBadRequest, Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
	}
	activity, err := vocab.FromJSONLD(doc)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
	}

	actorIRI, hasActor := activity.GetIRI("actor")
	if activity.ID == "" || !hasActor {
		return Result{Status: http.StatusBadRequest, Err: fmt.Errorf("%w: missing id or actor", ErrMalformedInput)}
	}

	dedupKey := kv.Key{"inbox-dedup", activity.ID}
	inserted, err := p.Store.SetIfAbsent(ctx, dedupKey, []byte(time.Now().UTC().Format(time.RFC3339)), p.dedupTTL())
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Err: err}
	}
	if !inserted {
		// Already seen: acknowledge without redispatching (spec.md §4.5 step 4).
		return Result{Status: http.StatusAccepted}
	}

	ownerIRI, err := p.KeyOwners.OwnerOf(ctx, keyID)
	if err != nil || ownerIRI != actorIRI {
		return Result{Status: http.StatusUnauthorized, Err: fmt.Errorf("%w: signer %q does not own actor %q", ErrUnauthorized, keyID, actorIRI)}
	}

	listener, ok := p.Registry.resolve(activity.Type)
	if !ok {
		// No listener registered for this class or any ancestor: accept
		// silently, same as an application that simply ignores unknown
		// activity types.
		return Result{Status: http.StatusAccepted}
	}

	if err := listener(ctx, c, activity); err != nil {
		if p.OnError != nil {
			p.OnError(ctx, c, activity, activity.Type, err)
		}
		slog.Error("inbox: listener failed", "activityId", activity.ID, "actorId", actorIRI, "listener", activity.Type, "error", err)
		return Result{Status: http.StatusInternalServerError, Err: err}
	}

	return Result{Status: http.StatusAccepted}
}

// ReadBody reads req.Body up to MaxBodyBytes, mirroring klistr's
// handleInbox guard against unbounded inbox payloads.
func ReadBody(req *http.Request) ([]byte, error) {
	defer req.Body.Close()
	return io.ReadAll(io.LimitReader(req.Body, MaxBodyBytes))
}
