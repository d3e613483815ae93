package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/fedcore/kv"
	"github.com/klppl/fedcore/vocab"
)

type demoCtx struct{ label string }

type fakeVerifier struct {
	keyID string
	err   error
}

func (f fakeVerifier) Verify(_ context.Context, _ *http.Request, _ []byte) (string, error) {
	return f.keyID, f.err
}

type fakeOwners map[string]string

func (f fakeOwners) OwnerOf(_ context.Context, keyID string) (string, error) {
	return f[keyID], nil
}

func newFollowActivity(id string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"id":     id,
		"type":   "Follow",
		"actor":  "https://example.org/users/alice",
		"object": "https://example.org/users/bob",
	})
	return b
}

func TestHandleDispatchesMostSpecificListener(t *testing.T) {
	reg := NewRegistry[demoCtx]()
	var activityCalls, acceptCalls int
	require.NoError(t, reg.Register(vocab.KindAccept, func(_ context.Context, _ demoCtx, _ *vocab.Object) error {
		acceptCalls++
		return nil
	}))
	require.NoError(t, reg.Register(vocab.KindActivity, func(_ context.Context, _ demoCtx, _ *vocab.Object) error {
		activityCalls++
		return nil
	}))

	pipeline := &Pipeline[demoCtx]{
		Store:     kv.NewMemoryStore(0),
		Verifier:  fakeVerifier{keyID: "https://example.org/users/alice#main-key"},
		KeyOwners: fakeOwners{"https://example.org/users/alice#main-key": "https://example.org/users/alice"},
		Registry:  reg,
	}

	body := newFollowActivity("https://example.org/activities/1")
	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/bob/inbox", nil)
	res := pipeline.Handle(context.Background(), demoCtx{}, req, body)

	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, 1, activityCalls, "Follow<:Activity should fall through to the Activity listener")
	assert.Equal(t, 0, acceptCalls)
}

func TestHandleDedupsSecondDelivery(t *testing.T) {
	reg := NewRegistry[demoCtx]()
	var calls int
	require.NoError(t, reg.Register(vocab.KindFollow, func(_ context.Context, _ demoCtx, _ *vocab.Object) error {
		calls++
		return nil
	}))

	pipeline := &Pipeline[demoCtx]{
		Store:     kv.NewMemoryStore(0),
		Verifier:  fakeVerifier{keyID: "https://example.org/users/alice#main-key"},
		KeyOwners: fakeOwners{"https://example.org/users/alice#main-key": "https://example.org/users/alice"},
		Registry:  reg,
	}

	body := newFollowActivity("https://example.org/activities/2")
	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/bob/inbox", nil)

	first := pipeline.Handle(context.Background(), demoCtx{}, req, body)
	second := pipeline.Handle(context.Background(), demoCtx{}, req, body)

	assert.Equal(t, http.StatusAccepted, first.Status)
	assert.Equal(t, http.StatusAccepted, second.Status)
	assert.Equal(t, 1, calls, "listener must be invoked exactly once across duplicate deliveries")
}

func TestHandleRejectsSignatureFailure(t *testing.T) {
	pipeline := &Pipeline[demoCtx]{
		Store:    kv.NewMemoryStore(0),
		Verifier: fakeVerifier{err: assertErr{}},
		Registry: NewRegistry[demoCtx](),
	}
	body := newFollowActivity("https://example.org/activities/3")
	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/bob/inbox", nil)
	res := pipeline.Handle(context.Background(), demoCtx{}, req, body)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestHandleRejectsActorOwnerMismatch(t *testing.T) {
	pipeline := &Pipeline[demoCtx]{
		Store:     kv.NewMemoryStore(0),
		Verifier:  fakeVerifier{keyID: "https://example.org/users/mallory#main-key"},
		KeyOwners: fakeOwners{"https://example.org/users/mallory#main-key": "https://example.org/users/mallory"},
		Registry:  NewRegistry[demoCtx](),
	}
	body := newFollowActivity("https://example.org/activities/4")
	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/bob/inbox", nil)
	res := pipeline.Handle(context.Background(), demoCtx{}, req, body)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestHandleRejectsMissingActor(t *testing.T) {
	pipeline := &Pipeline[demoCtx]{
		Store:    kv.NewMemoryStore(0),
		Verifier: fakeVerifier{keyID: "k"},
		Registry: NewRegistry[demoCtx](),
	}
	body, _ := json.Marshal(map[string]interface{}{"id": "https://example.org/activities/5", "type": "Follow"})
	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/bob/inbox", nil)
	res := pipeline.Handle(context.Background(), demoCtx{}, req, body)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestRegistryRejectsDuplicateListener(t *testing.T) {
	reg := NewRegistry[demoCtx]()
	noop := func(_ context.Context, _ demoCtx, _ *vocab.Object) error { return nil }
	require.NoError(t, reg.Register(vocab.KindFollow, noop))
	err := reg.Register(vocab.KindFollow, noop)
	assert.ErrorIs(t, err, ErrDuplicateListener)
}

type assertErr struct{}

func (assertErr) Error() string { return "signature invalid" }

func TestLimiterEnforcesPerOriginCap(t *testing.T) {
	l := NewLimiter(10, 1)
	ok1, _ := l.Acquire("example.org")
	require.True(t, ok1)
	ok2, _ := l.Acquire("example.org")
	assert.False(t, ok2, "second acquire for the same origin must be rejected once the per-origin cap is reached")

	l.Release("example.org")
	ok3, _ := l.Acquire("example.org")
	assert.True(t, ok3, "releasing must free the slot for a subsequent acquire")
}

func TestLimiterEnforcesGlobalCap(t *testing.T) {
	l := NewLimiter(1, 10)
	ok1, _ := l.Acquire("a.example")
	require.True(t, ok1)
	ok2, _ := l.Acquire("b.example")
	assert.False(t, ok2, "global cap must reject even a distinct origin once exhausted")
}

func TestOriginPrefersActorHost(t *testing.T) {
	body := newFollowActivity("https://example.org/activities/9")
	assert.Equal(t, "example.org", Origin(body, "203.0.113.5:1234"))
	assert.Equal(t, "203.0.113.5", Origin([]byte("not json"), "203.0.113.5:1234"))
}

func TestHandleRejectsOverCapacity(t *testing.T) {
	reg := NewRegistry[demoCtx]()
	pipeline := &Pipeline[demoCtx]{
		Store:     kv.NewMemoryStore(0),
		Verifier:  fakeVerifier{keyID: "https://example.org/users/alice#main-key"},
		KeyOwners: fakeOwners{"https://example.org/users/alice#main-key": "https://example.org/users/alice"},
		Registry:  reg,
		Limiter:   NewLimiter(10, 1),
	}

	reqA := httptest.NewRequest(http.MethodPost, "https://example.org/users/bob/inbox", nil)
	bodyA := newFollowActivity("https://example.org/activities/10")

	// Hold a slot by acquiring it directly, simulating a concurrent in-flight
	// request from the same origin.
	ok, _ := pipeline.Limiter.Acquire("example.org")
	require.True(t, ok)
	defer pipeline.Limiter.Release("example.org")

	res := pipeline.Handle(context.Background(), demoCtx{}, reqA, bodyA)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
}
