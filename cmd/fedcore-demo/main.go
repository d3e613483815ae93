// Command fedcore-demo is a minimal, single-actor ActivityPub server built
// on the fedcore engine — the reference application spec.md's Purpose &
// Scope calls out as a thin proof that the wiring works, adapted from
// klistr's cmd/klistr/main.go (config load, key pair, graceful shutdown)
// and internal/server/server.go (chi mount, route list), stripped of all
// Nostr/Bluesky bridging since fedcore is a generic federation engine, not
// a bridge.
//
// Usage:
//
//	export LOCAL_DOMAIN=https://demo.example.org
//	export FEDCORE_USERNAME=alice
//	./fedcore-demo
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klppl/fedcore/collection"
	"github.com/klppl/fedcore/federation"
	"github.com/klppl/fedcore/httpsig"
	"github.com/klppl/fedcore/inbox"
	"github.com/klppl/fedcore/kv"
	"github.com/klppl/fedcore/mq"
	"github.com/klppl/fedcore/nodeinfo"
	"github.com/klppl/fedcore/outbox"
	"github.com/klppl/fedcore/storage/sqlitekv"
	"github.com/klppl/fedcore/storage/sqlitemq"
	"github.com/klppl/fedcore/vocab"
)

const version = "0.1.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	slog.Info("starting fedcore-demo", "version", version)

	cfg := loadConfig()
	slog.Info("config loaded", "domain", cfg.LocalDomain, "username", cfg.Username, "database", cfg.DatabaseURL)

	keyPair, pubPEM, err := loadOrGenerateKeyPair(cfg.RSAPrivateKeyPath, cfg.RSAPublicKeyPath)
	if err != nil {
		slog.Error("failed to load/generate RSA key pair", "error", err)
		os.Exit(1)
	}

	store, queue, closeStorage := openStorage(cfg)
	defer closeStorage()

	app := &appContext{cfg: cfg, key: keyPair, pub: pubPEM}
	followers := newFollowerStore()

	h := federation.New(app)
	h.LocalHost = mustHost(cfg.LocalDomain)
	h.Store = store
	h.Queue = queue
	h.DocumentLoader = federation.HTTPDocumentLoader(http.DefaultClient, "fedcore-demo/"+version)
	h.KeyCache = httpsig.NewKeyCache(keyFetcher(h), cfg.InboxCacheTTL)
	h.Verifier = &httpsig.Verifier{}
	h.InboxLimiter = inbox.NewLimiter(cfg.MaxConcurrentActivities, cfg.MaxPerOriginConcurrency)

	mustRoute(h.Router.Add("/users/{identifier}", string(federation.KindActor)))
	mustRoute(h.Router.Add("/users/{identifier}/inbox", string(federation.KindInbox)))
	mustRoute(h.Router.Add("/inbox", string(federation.KindSharedInbox)))
	mustRoute(h.Router.Add("/users/{identifier}/outbox", string(federation.KindOutbox)))
	mustRoute(h.Router.Add("/users/{identifier}/followers", string(federation.KindFollowers)))
	mustRoute(h.Router.Add("/users/{identifier}/following", string(federation.KindFollowing)))

	h.Actors = actorDispatcher(app)
	h.KeyPairs = keyPairDispatcher(app)

	must(h.RegisterCollection(federation.KindFollowers, federation.CollectionBinding[*appContext]{
		RouteName: string(federation.KindFollowers),
		Ordered:   true,
		Dispatch: func(_ context.Context, _ *appContext, _ string) collection.Dispatcher {
			return followersCollection{store: followers}
		},
	}))
	must(h.RegisterCollection(federation.KindFollowing, federation.CollectionBinding[*appContext]{
		RouteName: string(federation.KindFollowing),
		Ordered:   true,
		Dispatch: func(_ context.Context, _ *appContext, _ string) collection.Dispatcher {
			return emptyCollection{}
		},
	}))
	must(h.RegisterCollection(federation.KindOutbox, federation.CollectionBinding[*appContext]{
		RouteName: string(federation.KindOutbox),
		Ordered:   true,
		Dispatch: func(_ context.Context, _ *appContext, _ string) collection.Dispatcher {
			return emptyCollection{}
		},
	}))

	h.Outbox = &outbox.Sender{
		Queue:             queue,
		RetrySchedule:     outbox.DefaultRetrySchedule,
		PreferSharedInbox: true,
		OnError: func(_ context.Context, err error, activity *vocab.Object, inboxIRI string) {
			slog.Warn("outbox: delivery failed permanently", "activityId", activity.ID, "inbox", inboxIRI, "error", err)
		},
	}

	sendActivity := func(ctx context.Context, activity *vocab.Object, recipients []outbox.RecipientInput) error {
		sender := outbox.SenderKeyPair{KeyID: cfg.actorURL() + "#main-key", PrivateKey: keyPair}
		return h.SendActivity(ctx, sender, recipients, activity, outbox.SendOptions{})
	}
	registerInboxListeners(h, followers, sendActivity)
	h.InboxOnError = func(_ context.Context, _ *appContext, activity *vocab.Object, listenerKind vocab.Kind, err error) {
		slog.Error("inbox: listener failed", "activityId", activity.ID, "listener", listenerKind, "error", err)
	}

	h.NodeInfo = func(_ context.Context) (nodeinfo.Document, error) {
		return nodeinfo.Document{
			Version:   "2.1",
			Software:  nodeinfo.Software{Name: "fedcore-demo", Version: version, Repository: "https://github.com/klppl/fedcore"},
			Protocols: []string{"activitypub"},
			Usage:     nodeinfo.Usage{Users: nodeinfo.Users{Total: 1, ActiveMonth: 1, ActiveHalfyear: 1}},
		}, nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := h.Outbox.Listen(ctx); err != nil && ctx.Err() == nil {
			slog.Error("outbox: listener stopped", "error", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Handle("/*", h)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("fedcore-demo stopped")
}

// emptyCollection is a collection.Dispatcher for endpoints this demo
// advertises but doesn't populate (following, outbox) — always reports zero
// items, the same placeholder shape klistr's handleFollowing returns for a
// bridge actor with no locally-tracked following list of its own.
type emptyCollection struct{}

func (emptyCollection) Summarize(context.Context, string, string) (collection.Summary, error) {
	return collection.Summary{}, nil
}

func (emptyCollection) Page(context.Context, string, string, string) (collection.Page, error) {
	return collection.Page{}, nil
}

// keyFetcher resolves a keyId to its owner's PEM public key by dereferencing
// the owning actor (or bare key) document through the handle's document
// loader — the generalized form of klistr's VerifySignature key-fetch path.
func keyFetcher(h *federation.Handle[*appContext]) httpsig.KeyFetcher {
	return func(ctx context.Context, keyID string) (string, error) {
		doc, err := h.DocumentLoader.Load(ctx, keyID)
		if err != nil {
			return "", fmt.Errorf("fedcore-demo: fetch key %q: %w", keyID, err)
		}
		if pem, ok := doc["publicKeyPem"].(string); ok {
			return pem, nil
		}
		obj, err := vocab.FromJSONLD(doc)
		if err != nil {
			return "", fmt.Errorf("fedcore-demo: parse key document %q: %w", keyID, err)
		}
		keyVal, ok := obj.Get("publicKey")
		if !ok {
			return "", fmt.Errorf("fedcore-demo: %q has no publicKey", keyID)
		}
		keyObj, err := keyVal.Resolve(ctx, h.DocumentLoader)
		if err != nil {
			return "", err
		}
		if keyObj.ID != keyID {
			return "", fmt.Errorf("fedcore-demo: publicKey id %q does not match keyId %q", keyObj.ID, keyID)
		}
		pemStr, ok := keyObj.GetString("publicKeyPem")
		if !ok {
			return "", fmt.Errorf("fedcore-demo: key %q has no publicKeyPem", keyID)
		}
		return pemStr, nil
	}
}

// openStorage opens the SQL-backed kv.Store/mq.Queue per cfg.DatabaseURL. A
// demo deployment always wants persistence across restarts for inbox dedup
// state, so unlike a test harness this never falls back to the in-memory
// reference implementations.
func openStorage(cfg *config) (kv.Store, mq.Queue, func()) {
	store, err := sqlitekv.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open kv store", "error", err)
		os.Exit(1)
	}
	queue, err := sqlitemq.Open(cfg.DatabaseURL, cfg.RetryPollInterval, 10)
	if err != nil {
		slog.Error("failed to open mq queue", "error", err)
		os.Exit(1)
	}
	return store, queue, func() {
		_ = store.Close()
		_ = queue.Close()
	}
}

func loadOrGenerateKeyPair(privatePath, publicPath string) (*rsa.PrivateKey, string, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("read private key: %w", err)
		}
		slog.Info("RSA key pair not found, generating new one", "private", privatePath, "public", publicPath)
		return generateAndSaveKeyPair(privatePath, publicPath)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, "", fmt.Errorf("read public key: %w", err)
	}
	return parseKeyPair(privPEM, pubPEM)
}

func generateAndSaveKeyPair(privatePath, publicPath string) (*rsa.PrivateKey, string, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", fmt.Errorf("generate RSA key: %w", err)
	}
	privBytes := x509.MarshalPKCS1PrivateKey(privKey)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	if err := os.WriteFile(privatePath, privPEM, 0o600); err != nil {
		return nil, "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pubPEM, 0o644); err != nil {
		return nil, "", fmt.Errorf("write public key: %w", err)
	}
	return parseKeyPair(privPEM, pubPEM)
}

func parseKeyPair(privPEM, pubPEM []byte) (*rsa.PrivateKey, string, error) {
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, "", fmt.Errorf("decode private key PEM")
	}
	privKey, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse private key: %w", err)
	}
	if pem.Decode(pubPEM) == nil {
		return nil, "", fmt.Errorf("decode public key PEM")
	}
	return privKey, string(pubPEM), nil
}

func mustRoute(_ map[string]struct{}, err error) {
	if err != nil {
		panic(err)
	}
}

func mustHost(domain string) string {
	host := domain
	for _, prefix := range []string{"https://", "http://"} {
		if len(host) > len(prefix) && host[:len(prefix)] == prefix {
			host = host[len(prefix):]
			break
		}
	}
	return host
}
