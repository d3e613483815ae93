package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sort"
	"sync"

	"github.com/klppl/fedcore/collection"
	"github.com/klppl/fedcore/federation"
	"github.com/klppl/fedcore/httpsig"
	"github.com/klppl/fedcore/outbox"
	"github.com/klppl/fedcore/vocab"
)

// appContext is the application-defined payload threaded through every
// dispatcher call (spec.md §3's "application-defined context payload").
// This demo only ever serves one actor, so it just carries the config and
// key material; a multi-tenant application would carry a request-scoped
// tenant lookup here instead.
type appContext struct {
	cfg *config
	key *rsa.PrivateKey
	pub string // PKIX PEM
}

// followerStore is a tiny in-memory follower set, grounded in klistr's
// AddFollow/GetFollowers (internal/db/db.go) but kept in-memory rather than
// SQL-backed — spec.md's Non-goals put application data (followers) outside
// the core's job, and a demo proving the wiring works has no need for the
// durability klistr's SQL table provides.
type followerStore struct {
	mu        sync.RWMutex
	followers map[string]bool // follower actor IRI -> present
}

func newFollowerStore() *followerStore {
	return &followerStore{followers: make(map[string]bool)}
}

func (s *followerStore) add(actorIRI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followers[actorIRI] = true
}

func (s *followerStore) remove(actorIRI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.followers, actorIRI)
}

func (s *followerStore) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.followers))
	for iri := range s.followers {
		out = append(out, iri)
	}
	sort.Strings(out)
	return out
}

const followersPageSize = 20

// buildActor constructs the single demo actor document: a Person with the
// registered RSA key advertised as its principal publicKey, the same shape
// klistr's handleActor assembles by hand in internal/server/server.go.
func buildActor(c *config, pub string) *vocab.Object {
	actor := vocab.NewObject(vocab.KindPerson)
	actor.ID = c.actorURL()
	actor.SetString("preferredUsername", c.Username)
	actor.SetString("name", c.Username)
	actor.Set("inbox", vocab.ValueFromIRI(c.inboxURL()))
	actor.Set("outbox", vocab.ValueFromIRI(c.BaseURL("/users/"+c.Username+"/outbox")))
	actor.Set("followers", vocab.ValueFromIRI(c.BaseURL("/users/"+c.Username+"/followers")))
	actor.Set("following", vocab.ValueFromIRI(c.BaseURL("/users/"+c.Username+"/following")))

	endpoints := vocab.NewObject("")
	endpoints.Set("sharedInbox", vocab.ValueFromIRI(c.sharedInboxURL()))
	actor.Set("endpoints", vocab.ValueFromObject(endpoints))

	key := vocab.NewObject("Key")
	key.ID = c.actorURL() + "#main-key"
	key.Set("owner", vocab.ValueFromIRI(c.actorURL()))
	key.SetString("publicKeyPem", pub)
	actor.Set("publicKey", vocab.ValueFromObject(key))

	return actor
}

// actorDispatcher implements federation.ActorDispatcher for the demo's one
// identifier.
func actorDispatcher(app *appContext) federation.ActorDispatcher[*appContext] {
	return func(_ context.Context, c *appContext, identifier string) (*vocab.Object, bool, error) {
		if identifier != c.cfg.Username {
			return nil, false, nil
		}
		return buildActor(c.cfg, c.pub), true, nil
	}
}

// keyPairDispatcher implements federation.KeyPairDispatcher: the demo has
// exactly one principal signing key, no secondary assertionMethods.
func keyPairDispatcher(app *appContext) federation.KeyPairDispatcher[*appContext] {
	return func(_ context.Context, c *appContext, identifier string) ([]httpsig.KeyPair, error) {
		if identifier != c.cfg.Username {
			return nil, fmt.Errorf("fedcore-demo: unknown actor %q", identifier)
		}
		return []httpsig.KeyPair{{KeyID: c.cfg.actorURL() + "#main-key", PrivateKey: app.key}}, nil
	}
}

// followersCollection adapts followerStore into a collection.Dispatcher. It
// pages the follower list followersPageSize entries at a time, using the
// decimal start offset as the cursor ("0" for the first page).
type followersCollection struct {
	store *followerStore
}

func (f followersCollection) Summarize(_ context.Context, _ string, _ string) (collection.Summary, error) {
	n := len(f.store.list())
	summary := collection.Summary{TotalItems: n}
	if n > 0 {
		summary.First = "0"
	}
	return summary, nil
}

func (f followersCollection) Page(_ context.Context, _ string, cursor string, _ string) (collection.Page, error) {
	all := f.store.list()
	start := parseInt(cursor, 0)
	if start < 0 || start >= len(all) {
		return collection.Page{}, nil
	}
	end := start + followersPageSize
	if end > len(all) {
		end = len(all)
	}
	page := collection.Page{}
	for _, iri := range all[start:end] {
		page.Items = append(page.Items, vocab.ValueFromIRI(iri))
	}
	if end < len(all) {
		page.NextCursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

// registerInboxListeners wires the activities this demo understands: Follow
// (auto-accept, per klistr's handleFollow behavior of never requiring manual
// approval) and Undo<Follow> (remove the follower), resolving the
// Undo<Follow> keying per spec.md §9's open question — DESIGN.md records the
// decision this mirrors.
func registerInboxListeners(h *federation.Handle[*appContext], store *followerStore, sender func(ctx context.Context, activity *vocab.Object, recipients []outbox.RecipientInput) error) {
	must(h.RegisterInboxListener(vocab.KindFollow, func(ctx context.Context, c *appContext, activity *vocab.Object) error {
		followerIRI, ok := activity.GetIRI("actor")
		if !ok {
			return fmt.Errorf("fedcore-demo: Follow activity missing actor")
		}
		store.add(followerIRI)

		accept := vocab.NewObject(vocab.KindAccept)
		accept.Set("actor", vocab.ValueFromIRI(c.cfg.actorURL()))
		accept.Set("object", vocab.ValueFromObject(activity))
		return sender(ctx, accept, []outbox.RecipientInput{{IRI: followerIRI}})
	}))

	must(h.RegisterInboxListener(vocab.KindUndo, func(ctx context.Context, c *appContext, activity *vocab.Object) error {
		inner, ok := activity.Get("object")
		if !ok {
			return nil
		}
		undone, err := inner.Resolve(ctx, h.DocumentLoader)
		if err != nil || undone.Type != vocab.KindFollow {
			return nil
		}
		followerIRI, ok := activity.GetIRI("actor")
		if !ok {
			followerIRI, _ = undone.GetIRI("actor")
		}
		if followerIRI != "" {
			store.remove(followerIRI)
		}
		return nil
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
