// Package outbox implements the outbound delivery pipeline: the transformer
// chain, recipient expansion, shared-inbox coalescing, queue-backed retry
// with exponential backoff, and signed delivery, per spec.md §4.6. Grounded
// in klistr's internal/ap/federation.go (Federator.Federate: recipient
// collection, concurrency-bounded delivery) and internal/ap/client.go
// (DeliverActivity), generalized from one federated-to-followers bridge
// actor into a per-sender, per-activity delivery pipeline with persistent
// retry via mq.Queue instead of klistr's fire-and-forget goroutines.
package outbox

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/klppl/fedcore/httpsig"
	"github.com/klppl/fedcore/mq"
	"github.com/klppl/fedcore/vocab"
)

// Transformer mutates an outgoing activity before recipient expansion.
// Transformers run in registration order; the default chain is
// AutoID followed by DehydrateActor (spec.md §4.6 step 1).
type Transformer func(activity *vocab.Object) *vocab.Object

// AutoID assigns a urn:uuid: id to activity if it doesn't already have one.
func AutoID(activity *vocab.Object) *vocab.Object {
	if activity.ID != "" {
		return activity
	}
	out := vocab.Clone(activity)
	out.ID = "urn:uuid:" + uuid.NewString()
	slog.Warn("outbox: activity had no id, assigned one", "id", out.ID)
	return out
}

// DehydrateActor replaces an inline "actor" object with its bare IRI —
// klistr doesn't need this (it never inlines its bridge actor), but several
// fediverse implementations reject inline actors on activities, so it's
// kept as the second default-chain transformer per spec.md §4.6 step 1(b).
func DehydrateActor(activity *vocab.Object) *vocab.Object {
	v, ok := activity.Get("actor")
	if !ok || v.IsIRI() || v.IsScalar() {
		return activity
	}
	out := vocab.Clone(activity)
	out.Set("actor", vocab.ValueFromIRI(v.IRI))
	return out
}

// DefaultTransformers is the chain applied when SendOptions.Transformers is
// nil.
var DefaultTransformers = []Transformer{AutoID, DehydrateActor}

// Recipient is an expanded delivery target.
type Recipient struct {
	ActorIRI       string
	InboxIRI       string
	SharedInboxIRI string
}

// RecipientInput is one entry accepted by SendActivity's recipients
// argument: either an already-known Recipient, a bare actor/object IRI that
// must be fetched to discover its inbox, or the literal token "followers".
type RecipientInput struct {
	Recipient *Recipient
	IRI       string
	Followers bool
}

// FollowersExpander resolves the sender's followers collection to a list of
// actor IRIs — backed by the federation engine's collection dispatcher.
type FollowersExpander func(ctx context.Context, senderActorIRI string) ([]string, error)

// ActorFetcher resolves a bare actor/object IRI to a Recipient by
// dereferencing it and reading inbox / endpoints.sharedInbox.
type ActorFetcher func(ctx context.Context, iri string) (Recipient, error)

// SenderKeyPair signs outbound deliveries.
type SenderKeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// RetrySchedule computes the delay before the next attempt, given the
// number of attempts made so far (0-based). A negative or zero duration
// means "do not retry" (attempts are exhausted).
type RetrySchedule func(attempt int) time.Duration

// DefaultRetrySchedule implements spec.md §4.6 step 6: exponential backoff,
// base 1 minute, factor 2, jitter ±20%, capped at 8 attempts.
func DefaultRetrySchedule(attempt int) time.Duration {
	const (
		base       = time.Minute
		factor     = 2.0
		maxAttempt = 8
	)
	if attempt >= maxAttempt {
		return -1
	}
	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= factor
	}
	jitter := (rand.Float64()*0.4 - 0.2) * delay // ±20%
	return time.Duration(delay + jitter)
}

// ErrorHandler observes a permanently failed or exhausted delivery.
type ErrorHandler func(ctx context.Context, err error, activity *vocab.Object, inboxIRI string)

// message is the MQ payload for one pending delivery.
type message struct {
	ActivityDoc map[string]interface{} `json:"activityDoc"`
	SenderKeyID string                 `json:"senderKeyId"`
	// SenderPrivateKeyPEM is PKCS1-encoded; carried in the queue payload so a
	// retry doesn't need the original sender's key material re-supplied.
	SenderPrivateKeyPEM string `json:"senderPrivateKeyPem"`
	InboxURL            string `json:"inboxUrl"`
	Attempt             int    `json:"attempt"`
}

// Sender assembles and runs the outbox pipeline for one federation handle.
type Sender struct {
	Queue         mq.Queue
	Client        *http.Client
	RetrySchedule RetrySchedule
	OnError       ErrorHandler

	// PreferSharedInbox coalesces recipients onto shared inboxes when true.
	// The zero value is false, which delivers to each personal inbox;
	// SendOptions.PreferSharedInbox overrides it per call.
	PreferSharedInbox bool
}

// SendOptions controls one SendActivity call.
type SendOptions struct {
	Transformers      []Transformer
	PreferSharedInbox *bool // nil defers to Sender.PreferSharedInbox
	Immediate         bool  // deliver synchronously, bypassing the queue
}

var ErrNoQueue = errors.New("outbox: no queue configured and immediate=false")

// SendActivity runs the full pipeline: transform, expand recipients,
// coalesce by shared inbox, and enqueue (or deliver inline) one message per
// final delivery inbox.
func (s *Sender) SendActivity(
	ctx context.Context,
	sender SenderKeyPair,
	recipients []RecipientInput,
	activity *vocab.Object,
	expandFollowers FollowersExpander,
	fetchActor ActorFetcher,
	opts SendOptions,
) error {
	transformers := opts.Transformers
	if transformers == nil {
		transformers = DefaultTransformers
	}
	for _, t := range transformers {
		activity = t(activity)
	}

	preferShared := s.PreferSharedInbox
	if opts.PreferSharedInbox != nil {
		preferShared = *opts.PreferSharedInbox
	}

	expanded, err := expandRecipients(ctx, recipients, activity, expandFollowers, fetchActor)
	if err != nil {
		return fmt.Errorf("outbox: expand recipients: %w", err)
	}
	inboxes := coalesce(expanded, preferShared)

	doc := vocab.ToJSONLD(activity)
	privPEM, err := marshalPrivateKey(sender.PrivateKey)
	if err != nil {
		return fmt.Errorf("outbox: marshal sender key: %w", err)
	}

	for _, inboxURL := range inboxes {
		msg := message{
			ActivityDoc:         doc,
			SenderKeyID:         sender.KeyID,
			SenderPrivateKeyPEM: privPEM,
			InboxURL:            inboxURL,
			Attempt:             0,
		}
		if opts.Immediate || s.Queue == nil {
			if s.Queue == nil && !opts.Immediate {
				return ErrNoQueue
			}
			if err := s.deliverMessage(ctx, msg); err != nil {
				if s.OnError != nil {
					s.OnError(ctx, err, activity, inboxURL)
				}
			}
			continue
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("outbox: marshal message: %w", err)
		}
		if err := s.Queue.Enqueue(ctx, payload, 0); err != nil {
			return fmt.Errorf("outbox: enqueue: %w", err)
		}
	}
	return nil
}

// expandRecipients resolves every RecipientInput to a concrete Recipient,
// expanding the "followers" token via expandFollowers and fetching bare IRIs
// via fetchActor.
func expandRecipients(ctx context.Context, inputs []RecipientInput, activity *vocab.Object, expandFollowers FollowersExpander, fetchActor ActorFetcher) ([]Recipient, error) {
	senderIRI, _ := activity.GetIRI("actor")

	var out []Recipient
	for _, in := range inputs {
		switch {
		case in.Recipient != nil:
			out = append(out, *in.Recipient)
		case in.Followers:
			if expandFollowers == nil {
				continue
			}
			iris, err := expandFollowers(ctx, senderIRI)
			if err != nil {
				return nil, err
			}
			for _, iri := range iris {
				r, err := fetchActor(ctx, iri)
				if err != nil {
					slog.Warn("outbox: failed to resolve follower inbox", "actor", iri, "error", err)
					continue
				}
				out = append(out, r)
			}
		case in.IRI != "":
			r, err := fetchActor(ctx, in.IRI)
			if err != nil {
				slog.Warn("outbox: failed to resolve recipient inbox", "actor", in.IRI, "error", err)
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// coalesce groups recipients by shared inbox (when preferShared) and
// deduplicates by final delivery-inbox IRI, per spec.md §4.6 step 3.
func coalesce(recipients []Recipient, preferShared bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recipients {
		inbox := r.InboxIRI
		if preferShared && r.SharedInboxIRI != "" {
			inbox = r.SharedInboxIRI
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		out = append(out, inbox)
	}
	return out
}

// Listen drains the queue, delivering each message and re-enqueueing on
// transient failure with RetrySchedule-computed delay. It blocks until ctx
// is cancelled.
func (s *Sender) Listen(ctx context.Context) error {
	return s.Queue.Listen(ctx, func(ctx context.Context, m mq.Message) error {
		var msg message
		if err := json.Unmarshal(m.Payload, &msg); err != nil {
			return fmt.Errorf("outbox: unmarshal message: %w", err)
		}
		err := s.deliverMessage(ctx, msg)
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			s.reportFailure(ctx, err, msg)
			return nil
		}

		schedule := s.RetrySchedule
		if schedule == nil {
			schedule = DefaultRetrySchedule
		}
		delay := schedule(msg.Attempt)
		if delay <= 0 {
			s.reportFailure(ctx, fmt.Errorf("outbox: retries exhausted: %w", err), msg)
			return nil
		}

		msg.Attempt++
		payload, marshalErr := json.Marshal(msg)
		if marshalErr != nil {
			return marshalErr
		}
		if enqueueErr := s.Queue.Enqueue(ctx, payload, delay); enqueueErr != nil {
			return enqueueErr
		}
		slog.Debug("outbox: scheduled retry", "inbox", msg.InboxURL, "attempt", msg.Attempt, "delay", delay)
		return nil
	})
}

func (s *Sender) reportFailure(ctx context.Context, err error, msg message) {
	if s.OnError == nil {
		return
	}
	activity, parseErr := vocab.FromJSONLD(msg.ActivityDoc)
	if parseErr != nil {
		activity = vocab.NewObject("")
	}
	s.OnError(ctx, err, activity, msg.InboxURL)
}

// transientError wraps delivery failures spec.md §4.6 step 5/6 classifies
// as retryable: network errors, 5xx, 408, 429.
type transientError struct{ err error }

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// deliverMessage performs one signed delivery attempt.
func (s *Sender) deliverMessage(ctx context.Context, msg message) error {
	body, err := json.Marshal(msg.ActivityDoc)
	if err != nil {
		return fmt.Errorf("outbox: marshal activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.InboxURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("outbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	digest, err := httpsig.ComputeDigest(body, "SHA-256")
	if err != nil {
		return fmt.Errorf("outbox: compute digest: %w", err)
	}
	req.Header.Set("Digest", digest)

	priv, err := parsePrivateKey(msg.SenderPrivateKeyPEM)
	if err != nil {
		return fmt.Errorf("outbox: parse sender key: %w", err)
	}
	if err := httpsig.Sign(req, httpsig.KeyPair{KeyID: msg.SenderKeyID, PrivateKey: priv}, body); err != nil {
		return fmt.Errorf("outbox: sign request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return transientError{fmt.Errorf("outbox: deliver to %s: %w", msg.InboxURL, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == 408 || resp.StatusCode == 429 || resp.StatusCode >= 500:
		return transientError{fmt.Errorf("outbox: deliver to %s: HTTP %d", msg.InboxURL, resp.StatusCode)}
	default:
		return fmt.Errorf("outbox: deliver to %s: HTTP %d (permanent)", msg.InboxURL, resp.StatusCode)
	}
}
