// Package federation is the top-level engine: the dispatch table, request
// router, and HTTP handler described in spec.md §4.4. The handler answers
// every document request as application/activity+json without examining
// the Accept header. It composes router, vocab, httpsig, inbox, outbox, collection, webfinger,
// and nodeinfo into the object an application builds once at startup and
// serves requests through — grounded in klistr's internal/server/server.go
// (route table, middleware, concurrency gating) generalized from one
// hardcoded bridge actor to dispatcher-registered, multi-actor behavior.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/klppl/fedcore/collection"
	"github.com/klppl/fedcore/httpsig"
	"github.com/klppl/fedcore/inbox"
	"github.com/klppl/fedcore/kv"
	"github.com/klppl/fedcore/mq"
	"github.com/klppl/fedcore/nodeinfo"
	"github.com/klppl/fedcore/outbox"
	"github.com/klppl/fedcore/router"
	"github.com/klppl/fedcore/vocab"
	"github.com/klppl/fedcore/webfinger"
)

// Kind enumerates the endpoint kinds the engine can route to, per spec.md §3.
type Kind string

const (
	KindActor        Kind = "actor"
	KindObject       Kind = "object"
	KindInbox        Kind = "inbox"
	KindSharedInbox  Kind = "shared-inbox"
	KindOutbox       Kind = "outbox"
	KindFollowing    Kind = "following"
	KindFollowers    Kind = "followers"
	KindLiked        Kind = "liked"
	KindFeatured     Kind = "featured"
	KindFeaturedTags Kind = "featured-tags"
	KindWebFinger    Kind = "webfinger"
	KindNodeInfo     Kind = "nodeinfo"
	KindHostMeta     Kind = "host-meta"
)

const (
	ActivityJSONType = "application/activity+json"
	LDJSONType       = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	JRDJSONType      = "application/jrd+json"
)

// ActorDispatcher resolves an actor by identifier (the "identifier"
// placeholder value, typically a username). ok=false means not found.
type ActorDispatcher[C any] func(ctx context.Context, c C, identifier string) (actor *vocab.Object, ok bool, err error)

// KeyPairDispatcher returns the signing key pairs for an actor, in priority
// order; the first is advertised as the actor's publicKey.
type KeyPairDispatcher[C any] func(ctx context.Context, c C, identifier string) ([]httpsig.KeyPair, error)

// ObjectDispatcher resolves a named object endpoint (e.g. "objects/{id}").
type ObjectDispatcher[C any] struct {
	Resolve   func(ctx context.Context, c C, values map[string]string) (obj *vocab.Object, ok bool, err error)
	Authorize func(ctx context.Context, c C, values map[string]string, keyID string) bool
}

// CollectionBinding pairs a collection.Dispatcher with the route it's
// served from.
type CollectionBinding[C any] struct {
	RouteName string
	Ordered   bool
	Dispatch  func(ctx context.Context, c C, identifier string) collection.Dispatcher
}

// Handle is the process-wide federation engine object, parameterized over C
// — the application-defined context payload spec.md §3 describes. It is
// built once via New and frozen (no further registration permitted) after
// the first ServeHTTP or SendActivity call.
type Handle[C any] struct {
	AppContext C

	Router *router.Router

	LocalHost string // used to validate WebFinger acct: host and build absolute URLs

	Store kv.Store
	Queue mq.Queue

	DocumentLoader vocab.DocumentLoader
	KeyCache       *httpsig.KeyCache
	Verifier       *httpsig.Verifier

	Actors      ActorDispatcher[C]
	KeyPairs    KeyPairDispatcher[C]
	Objects     map[string]ObjectDispatcher[C]
	Collections map[Kind]CollectionBinding[C]
	NodeInfo    nodeinfo.Dispatcher

	InboxRegistry *inbox.Registry[C]
	InboxOnError  inbox.ErrorHandler[C]
	InboxLimiter  *inbox.Limiter // nil disables concurrency gating

	Outbox *outbox.Sender

	frozen atomic.Bool
}

// New builds an empty Handle. Callers populate its fields (dispatchers,
// router templates, storage bindings) before the first request; Freeze (or
// the first ServeHTTP call) locks registration.
func New[C any](appContext C) *Handle[C] {
	return &Handle[C]{
		AppContext:  appContext,
		Router:      router.New(),
		Objects:     make(map[string]ObjectDispatcher[C]),
		Collections: make(map[Kind]CollectionBinding[C]),
	}
}

// Freeze marks the handle as no-longer-registerable. Safe to call multiple
// times; idempotent.
func (h *Handle[C]) Freeze() {
	h.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (h *Handle[C]) Frozen() bool {
	return h.frozen.Load()
}

// RegisterInboxListener attaches a listener for kind, failing with
// inbox.ErrDuplicateListener if one is already registered, or an error if
// the handle is frozen.
func (h *Handle[C]) RegisterInboxListener(kind vocab.Kind, fn inbox.Listener[C]) error {
	if h.Frozen() {
		return fmt.Errorf("federation: handle is frozen, cannot register listener for %s", kind)
	}
	if h.InboxRegistry == nil {
		h.InboxRegistry = inbox.NewRegistry[C]()
	}
	return h.InboxRegistry.Register(kind, fn)
}

// RegisterObject attaches an ObjectDispatcher under a router endpoint name.
func (h *Handle[C]) RegisterObject(routeName string, d ObjectDispatcher[C]) error {
	if h.Frozen() {
		return fmt.Errorf("federation: handle is frozen, cannot register object dispatcher %q", routeName)
	}
	h.Objects[routeName] = d
	return nil
}

// RegisterCollection attaches a CollectionBinding to one of the collection
// endpoint kinds (KindFollowing, KindFollowers, KindLiked, KindFeatured,
// KindFeaturedTags, or KindOutbox when served as a paged collection).
func (h *Handle[C]) RegisterCollection(kind Kind, b CollectionBinding[C]) error {
	if h.Frozen() {
		return fmt.Errorf("federation: handle is frozen, cannot register collection %s", kind)
	}
	h.Collections[kind] = b
	return nil
}

// inboxVerifier adapts the handle's httpsig.Verifier + key resolution into
// the inbox.Verifier interface.
type inboxVerifier[C any] struct {
	h *Handle[C]
}

func (v inboxVerifier[C]) Verify(ctx context.Context, req *http.Request, body []byte) (string, error) {
	return v.h.Verifier.Verify(ctx, req, body, v.h.KeyCache)
}

// inboxKeyOwners resolves a keyId's owning actor by convention: the part of
// the keyId before "#" is the actor IRI, the same rule klistr's
// VerifySignature applies. A keyId without "#" is taken as the actor IRI
// itself. The pipeline always uses this rule; no other key-owner resolver
// can be configured on Handle.
type inboxKeyOwners[C any] struct {
	h *Handle[C]
}

func (o inboxKeyOwners[C]) OwnerOf(_ context.Context, keyID string) (string, error) {
	for i := len(keyID) - 1; i >= 0; i-- {
		if keyID[i] == '#' {
			return keyID[:i], nil
		}
	}
	return keyID, nil
}

// pipeline lazily builds the inbox.Pipeline the first time it's needed,
// wiring the handle's verifier/store/registry together.
func (h *Handle[C]) pipeline() *inbox.Pipeline[C] {
	if h.InboxRegistry == nil {
		h.InboxRegistry = inbox.NewRegistry[C]()
	}
	return &inbox.Pipeline[C]{
		Store:     h.Store,
		Verifier:  inboxVerifier[C]{h},
		KeyOwners: inboxKeyOwners[C]{h},
		Registry:  h.InboxRegistry,
		OnError:   h.InboxOnError,
		Limiter:   h.InboxLimiter,
	}
}

// ServeHTTP implements the inbound request flow of spec.md §4.4: route,
// authorize, dispatch, emit. Documents are always written as
// application/activity+json; the Accept header is not examined and there
// is no HTML fallback.
func (h *Handle[C]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Freeze()
	ctx := r.Context()

	switch {
	case r.URL.Path == "/.well-known/webfinger":
		h.serveWebFinger(w, r)
		return
	case r.URL.Path == "/.well-known/nodeinfo":
		h.serveNodeInfoPointer(w, r)
		return
	case r.URL.Path == "/nodeinfo/2.1":
		h.serveNodeInfoDocument(w, r)
		return
	}

	match, ok := h.Router.Route(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch Kind(match.Name) {
	case KindActor:
		h.serveActor(w, r, match.Values)
	case KindInbox, KindSharedInbox:
		h.serveInbox(ctx, w, r, match.Values)
	case KindFollowing, KindFollowers, KindLiked, KindFeatured, KindFeaturedTags, KindOutbox:
		h.serveCollection(ctx, w, r, Kind(match.Name), match.Values)
	default:
		h.serveObject(ctx, w, r, match.Name, match.Values)
	}
}

func (h *Handle[C]) serveActor(w http.ResponseWriter, r *http.Request, values map[string]string) {
	ctx := r.Context()
	identifier := values["identifier"]
	if h.Actors == nil {
		http.NotFound(w, r)
		return
	}
	actor, ok, err := h.Actors(ctx, h.AppContext, identifier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok || actor == nil {
		http.NotFound(w, r)
		return
	}
	writeJSONLD(w, vocab.ToJSONLD(actor))
}

func (h *Handle[C]) serveObject(ctx context.Context, w http.ResponseWriter, r *http.Request, routeName string, values map[string]string) {
	d, ok := h.Objects[routeName]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if d.Authorize != nil {
		keyID, _ := h.Verifier.Verify(ctx, r, nil, h.KeyCache)
		if !d.Authorize(ctx, h.AppContext, values, keyID) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	obj, found, err := d.Resolve(ctx, h.AppContext, values)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found || obj == nil {
		http.NotFound(w, r)
		return
	}
	writeJSONLD(w, vocab.ToJSONLD(obj))
}

func (h *Handle[C]) serveInbox(ctx context.Context, w http.ResponseWriter, r *http.Request, values map[string]string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := inbox.ReadBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := h.pipeline().Handle(ctx, h.AppContext, r, body)
	_ = values // identifier not currently needed beyond routing
	if res.Status == 0 {
		res.Status = http.StatusInternalServerError
	}
	w.WriteHeader(res.Status)
}

func (h *Handle[C]) serveCollection(ctx context.Context, w http.ResponseWriter, r *http.Request, kind Kind, values map[string]string) {
	binding, ok := h.Collections[kind]
	if !ok {
		http.NotFound(w, r)
		return
	}
	identifier := values["identifier"]
	dispatcher := binding.Dispatch(ctx, h.AppContext, identifier)

	opts := collection.BuildOptions{
		CollectionIRI: r.URL.Path,
		RouteName:     binding.RouteName,
		Router:        h.Router,
		RouteValues:   values,
		Ordered:       binding.Ordered,
	}

	cursor := r.URL.Query().Get("cursor")
	if cursor == "" {
		summary, err := dispatcher.Summarize(ctx, identifier, "")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		container, err := collection.BuildContainer(summary, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSONLD(w, vocab.ToJSONLD(container))
		return
	}

	page, err := dispatcher.Page(ctx, identifier, cursor, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pageObj, err := collection.BuildPage(page, cursor, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if baseURL := r.URL.Query().Get("base-url"); baseURL != "" {
		iris := make([]string, 0, len(page.Items))
		for _, item := range page.Items {
			if item.IRI != "" {
				iris = append(iris, item.IRI)
			}
		}
		w.Header().Set("Collection-Synchronization", collection.SyncHeader(opts.CollectionIRI, r.URL.String(), iris))
	}

	writeJSONLD(w, vocab.ToJSONLD(pageObj))
}

func (h *Handle[C]) serveWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	lookup := func(ctx context.Context, identifier, uri string) (webfinger.ActorResult, error) {
		var actor *vocab.Object
		var ok bool
		var err error
		if identifier != "" {
			actor, ok, err = h.Actors(ctx, h.AppContext, identifier)
		}
		if err != nil {
			return webfinger.ActorResult{}, err
		}
		if !ok || actor == nil {
			return webfinger.ActorResult{}, webfinger.ErrNotFound
		}
		return webfinger.ActorResult{IRI: actor.ID}, nil
	}

	resp, err := webfinger.Resolve(r.Context(), resource, h.LocalHost, lookup)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", JRDJSONType)
	json.NewEncoder(w).Encode(webfinger.ToJSON(resp))
}

func (h *Handle[C]) serveNodeInfoPointer(w http.ResponseWriter, r *http.Request) {
	pointerURL := fmt.Sprintf("https://%s/nodeinfo/2.1", h.LocalHost)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(nodeinfo.PointerDocument(pointerURL))
}

func (h *Handle[C]) serveNodeInfoDocument(w http.ResponseWriter, r *http.Request) {
	if h.NodeInfo == nil {
		http.NotFound(w, r)
		return
	}
	doc, err := h.NodeInfo(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, err := nodeinfo.ToJSON(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func writeJSONLD(w http.ResponseWriter, doc map[string]interface{}) {
	w.Header().Set("Content-Type", ActivityJSONType)
	json.NewEncoder(w).Encode(doc)
}

// SendActivity freezes the handle (if not already) and delegates to the
// outbox sender.
func (h *Handle[C]) SendActivity(ctx context.Context, sender outbox.SenderKeyPair, recipients []outbox.RecipientInput, activity *vocab.Object, opts outbox.SendOptions) error {
	h.Freeze()
	expandFollowers := func(ctx context.Context, senderActorIRI string) ([]string, error) {
		binding, ok := h.Collections[KindFollowers]
		if !ok {
			return nil, nil
		}
		identifier := actorIdentifierFromIRI(senderActorIRI)
		dispatcher := binding.Dispatch(ctx, h.AppContext, identifier)
		summary, err := dispatcher.Summarize(ctx, identifier, "")
		if err != nil {
			return nil, err
		}
		var out []string
		cursor := summary.First
		for cursor != "" {
			page, err := dispatcher.Page(ctx, identifier, cursor, "")
			if err != nil {
				return nil, err
			}
			for _, v := range page.Items {
				if v.IRI != "" {
					out = append(out, v.IRI)
				}
			}
			cursor = page.NextCursor
		}
		return out, nil
	}

	fetchActor := func(ctx context.Context, iri string) (outbox.Recipient, error) {
		if h.DocumentLoader == nil {
			return outbox.Recipient{}, fmt.Errorf("federation: no document loader configured")
		}
		doc, err := h.DocumentLoader.Load(ctx, iri)
		if err != nil {
			return outbox.Recipient{}, err
		}
		obj, err := vocab.FromJSONLD(doc)
		if err != nil {
			return outbox.Recipient{}, err
		}
		r := outbox.Recipient{ActorIRI: obj.ID}
		if inboxIRI, ok := obj.GetIRI("inbox"); ok {
			r.InboxIRI = inboxIRI
		}
		if endpoints, ok := obj.Get("endpoints"); ok && !endpoints.IsScalar() {
			if ep, resolveErr := endpoints.Resolve(ctx, h.DocumentLoader); resolveErr == nil {
				if shared, ok := ep.GetIRI("sharedInbox"); ok {
					r.SharedInboxIRI = shared
				}
			}
		}
		return r, nil
	}

	return h.Outbox.SendActivity(ctx, sender, recipients, activity, expandFollowers, fetchActor, opts)
}

func actorIdentifierFromIRI(iri string) string {
	rest := iri
	if i := strings.Index(iri, "://"); i >= 0 {
		rest = iri[i+3:]
	}
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return iri
}

// DocumentLoaderFunc is the functional adapter for vocab.DocumentLoader.
type DocumentLoaderFunc func(ctx context.Context, iri string) (map[string]interface{}, error)

func (f DocumentLoaderFunc) Load(ctx context.Context, iri string) (map[string]interface{}, error) {
	return f(ctx, iri)
}

// HTTPDocumentLoader fetches a JSON-LD document over HTTPS with the
// ActivityStreams Accept header, the generalized form of klistr's
// client.go FetchObject/FetchActor (minus the hardcoded single-purpose
// cache — callers that want caching wrap this in their own memoizing
// DocumentLoader).
func HTTPDocumentLoader(client *http.Client, userAgent string) vocab.DocumentLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return DocumentLoaderFunc(func(ctx context.Context, iri string) (map[string]interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", ActivityJSONType+", "+LDJSONType)
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("federation: fetch %s: HTTP %d", iri, resp.StatusCode)
		}
		var doc map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// KeyPairToPrincipal converts the first registered key pair into the
// CryptographicKey an actor document advertises as "publicKey".
func KeyPairToPrincipal(actorIRI string, kp httpsig.KeyPair, pubPEM string) map[string]interface{} {
	return map[string]interface{}{
		"id":           kp.KeyID,
		"owner":        actorIRI,
		"publicKeyPem": pubPEM,
	}
}
