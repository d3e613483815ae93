package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/fedcore/router"
)

func TestDigestVector(t *testing.T) {
	iris := []string{
		"https://testing.example.org/users/1",
		"https://testing.example.org/users/2",
		"https://testing.example.org/users/2",
	}
	assert.Equal(t, "c33f48cd341ef046a206b8a72ec97af65079f9a3a9b90eef79c5920dce45c61f", Digest(iris))
}

func TestDigestOrderAndDuplicateInsensitive(t *testing.T) {
	a := Digest([]string{"x", "y", "y"})
	b := Digest([]string{"y", "x"})
	assert.Equal(t, a, b)
}

func TestSyncHeaderVector(t *testing.T) {
	iris := []string{
		"https://testing.example.org/users/1",
		"https://testing.example.org/users/2",
		"https://testing.example.org/users/2",
	}
	header := SyncHeader(
		"https://testing.example.org/users/1/followers",
		"https://testing.example.org/users/1/followers?base-url=https%3A%2F%2Ftesting.example.org%2F",
		iris,
	)
	assert.Equal(t,
		`collectionId="https://testing.example.org/users/1/followers", url="https://testing.example.org/users/1/followers?base-url=https%3A%2F%2Ftesting.example.org%2F", digest="c33f48cd341ef046a206b8a72ec97af65079f9a3a9b90eef79c5920dce45c61f"`,
		header)
}

func TestBuildContainerAndPage(t *testing.T) {
	r := router.New()
	_, err := r.Add("/users/{identifier}/followers", "followers")
	require.NoError(t, err)

	opts := BuildOptions{
		CollectionIRI: "https://example.org/users/alice/followers",
		RouteName:     "followers",
		Router:        r,
		RouteValues:   map[string]string{"identifier": "alice"},
		Ordered:       true,
	}

	container, err := BuildContainer(Summary{TotalItems: 2, First: "c1"}, opts)
	require.NoError(t, err)
	total, ok := container.Get("totalItems")
	require.True(t, ok)
	assert.Equal(t, float64(2), total.Scalar)
	first, ok := container.GetIRI("first")
	require.True(t, ok)
	assert.Equal(t, "/users/alice/followers?cursor=c1", first)

	page, err := BuildPage(Page{NextCursor: "c2"}, "c1", opts)
	require.NoError(t, err)
	assert.Equal(t, "/users/alice/followers?cursor=c1", page.ID)
	next, ok := page.GetIRI("next")
	require.True(t, ok)
	assert.Equal(t, "/users/alice/followers?cursor=c2", next)
	partOf, ok := page.GetIRI("partOf")
	require.True(t, ok)
	assert.Equal(t, opts.CollectionIRI, partOf)
}
