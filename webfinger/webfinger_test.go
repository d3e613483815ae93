package webfinger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAcctURI(t *testing.T) {
	lookup := func(_ context.Context, identifier, uri string) (ActorResult, error) {
		assert.Equal(t, "alice", identifier)
		assert.Empty(t, uri)
		return ActorResult{IRI: "https://example.org/users/alice", Profile: "https://example.org/@alice"}, nil
	}

	resp, err := Resolve(context.Background(), "acct:alice@example.org", "example.org", lookup)
	require.NoError(t, err)
	assert.Equal(t, "acct:alice@example.org", resp.Subject)
	assert.Equal(t, []string{"https://example.org/users/alice"}, resp.Aliases)
	require.Len(t, resp.Links, 2)
	assert.Equal(t, "self", resp.Links[0].Rel)
	assert.Equal(t, "https://example.org/users/alice", resp.Links[0].Href)
}

func TestResolveRejectsForeignHost(t *testing.T) {
	lookup := func(_ context.Context, _, _ string) (ActorResult, error) {
		t.Fatal("lookup should not be called for a foreign host")
		return ActorResult{}, nil
	}
	_, err := Resolve(context.Background(), "acct:alice@other.example", "example.org", lookup)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveRawURI(t *testing.T) {
	lookup := func(_ context.Context, identifier, uri string) (ActorResult, error) {
		assert.Empty(t, identifier)
		assert.Equal(t, "https://example.org/users/alice", uri)
		return ActorResult{IRI: uri}, nil
	}
	resp, err := Resolve(context.Background(), "https://example.org/users/alice", "example.org", lookup)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/users/alice"}, resp.Aliases)
}

func TestResolveMalformedAcct(t *testing.T) {
	_, err := Resolve(context.Background(), "acct:noatsign", "example.org", nil)
	assert.Error(t, err)
}
