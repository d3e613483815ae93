package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsMalformedTemplate(t *testing.T) {
	r := New()
	_, err := r.Add("users/{id}", "actor")
	assert.ErrorIs(t, err, ErrMalformedTemplate)

	_, err = r.Add("/users/{id", "actor")
	assert.ErrorIs(t, err, ErrMalformedTemplate)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	r := New()
	_, err := r.Add("/users/{id}", "actor")
	require.NoError(t, err)

	_, err = r.Add("/other/{id}", "actor")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestBuildMissingValue(t *testing.T) {
	r := New()
	_, err := r.Add("/users/{id}/inbox", "inbox")
	require.NoError(t, err)

	_, err = r.Build("inbox", map[string]string{})
	assert.ErrorIs(t, err, ErrMissingValue)
}

// TestRoundTrip exercises property 1 from spec.md §8: for every registered
// (name, template) and well-formed values, route(build(name, values)) ==
// (name, values).
func TestRoundTrip(t *testing.T) {
	r := New()
	placeholders, err := r.Add("/users/{identifier}/inbox", "inbox")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"identifier": {}}, placeholders)

	_, err = r.Add("/users/{identifier}", "actor")
	require.NoError(t, err)
	_, err = r.Add("/objects/{id}", "object")
	require.NoError(t, err)

	cases := []struct {
		name   string
		values map[string]string
	}{
		{"inbox", map[string]string{"identifier": "alice"}},
		{"actor", map[string]string{"identifier": "bob smith"}}, // needs URL-escaping
		{"object", map[string]string{"id": "01HXYZ"}},
	}

	for _, c := range cases {
		path, err := r.Build(c.name, c.values)
		require.NoError(t, err)

		match, ok := r.Route(path)
		require.True(t, ok, "path %q should route", path)
		assert.Equal(t, c.name, match.Name)
		assert.Equal(t, c.values, match.Values)
	}
}

func TestRouteLongestPrefixWins(t *testing.T) {
	r := New()
	_, err := r.Add("/users/{identifier}", "actor")
	require.NoError(t, err)
	_, err = r.Add("/users/{identifier}/inbox", "inbox")
	require.NoError(t, err)

	match, ok := r.Route("/users/alice/inbox")
	require.True(t, ok)
	assert.Equal(t, "inbox", match.Name)
	assert.Equal(t, "alice", match.Values["identifier"])
}

func TestRouteNoMatch(t *testing.T) {
	r := New()
	_, err := r.Add("/users/{identifier}", "actor")
	require.NoError(t, err)

	_, ok := r.Route("/nothing/here")
	assert.False(t, ok)
}

func TestRouteTieBrokenByRegistrationOrder(t *testing.T) {
	r := New()
	_, err := r.Add("/{a}/{b}", "first")
	require.NoError(t, err)
	_, err = r.Add("/{x}/{y}", "second")
	require.NoError(t, err)

	match, ok := r.Route("/foo/bar")
	require.True(t, ok)
	assert.Equal(t, "first", match.Name)
}
