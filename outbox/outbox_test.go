package outbox

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/fedcore/mq"
	"github.com/klppl/fedcore/vocab"
)

func TestAutoIDAssignsWhenMissing(t *testing.T) {
	activity := vocab.NewObject(vocab.KindCreate)
	out := AutoID(activity)
	assert.NotEmpty(t, out.ID)
	assert.Contains(t, out.ID, "urn:uuid:")
	assert.Empty(t, activity.ID, "original activity must not be mutated")
}

func TestAutoIDKeepsExisting(t *testing.T) {
	activity := vocab.NewObject(vocab.KindCreate)
	activity.ID = "https://example.org/activities/1"
	out := AutoID(activity)
	assert.Equal(t, activity.ID, out.ID)
}

func TestDehydrateActorReplacesInlineActor(t *testing.T) {
	inline := vocab.NewObject(vocab.KindPerson)
	inline.ID = "https://example.org/users/alice"

	activity := vocab.NewObject(vocab.KindCreate)
	activity.Set("actor", vocab.ValueFromObject(inline))

	out := DehydrateActor(activity)
	v, ok := out.Get("actor")
	require.True(t, ok)
	assert.True(t, v.IsIRI())
	assert.Equal(t, inline.ID, v.IRI)
}

func TestCoalescePrefersSharedInbox(t *testing.T) {
	recipients := []Recipient{
		{ActorIRI: "a1", InboxIRI: "https://example.org/users/a1/inbox", SharedInboxIRI: "https://example.org/inbox"},
		{ActorIRI: "a2", InboxIRI: "https://example.org/users/a2/inbox", SharedInboxIRI: "https://example.org/inbox"},
	}
	inboxes := coalesce(recipients, true)
	assert.Equal(t, []string{"https://example.org/inbox"}, inboxes)
}

func TestCoalesceFallsBackToPersonalInbox(t *testing.T) {
	recipients := []Recipient{
		{ActorIRI: "a1", InboxIRI: "https://example.org/users/a1/inbox"},
	}
	inboxes := coalesce(recipients, true)
	assert.Equal(t, []string{"https://example.org/users/a1/inbox"}, inboxes)
}

func TestDefaultRetryScheduleExhaustsAfter8Attempts(t *testing.T) {
	assert.Greater(t, DefaultRetrySchedule(0), time.Duration(0))
	assert.Less(t, DefaultRetrySchedule(8), time.Duration(0))
}

func TestSendActivitySharedInboxCoalesce(t *testing.T) {
	var delivered []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered = append(delivered, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	queue := mq.NewMemoryQueue(10*time.Millisecond, 4)
	defer queue.Close()

	sender := &Sender{Queue: queue, PreferSharedInbox: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Listen(ctx)

	activity := vocab.NewObject(vocab.KindCreate)
	activity.Set("actor", vocab.ValueFromIRI("https://example.org/users/alice"))

	recipients := []RecipientInput{
		{Recipient: &Recipient{ActorIRI: "r1", InboxIRI: srv.URL + "/inbox/r1", SharedInboxIRI: srv.URL + "/shared"}},
		{Recipient: &Recipient{ActorIRI: "r2", InboxIRI: srv.URL + "/inbox/r2", SharedInboxIRI: srv.URL + "/shared"}},
	}

	err = sender.SendActivity(ctx, SenderKeyPair{KeyID: "https://example.org/users/alice#main-key", PrivateKey: priv}, recipients, activity, nil, nil, SendOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(delivered) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "/shared", delivered[0])
}

func TestMessageRoundTripsJSON(t *testing.T) {
	msg := message{InboxURL: "https://example.org/inbox", Attempt: 2}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	var back message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, msg.InboxURL, back.InboxURL)
	assert.Equal(t, msg.Attempt, back.Attempt)
}
