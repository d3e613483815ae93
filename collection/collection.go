// Package collection implements cursor-based paging for ActivityPub
// collections (followers, following, outbox, …) and the FEP-8fcf
// Collection-Synchronization digest header, grounded in klistr's
// handleOutbox/handleFollowers paging (internal/server/server.go) and
// generalized from that single hardcoded page size into a dispatcher-driven
// model per spec.md §4.7.
package collection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/klppl/fedcore/router"
	"github.com/klppl/fedcore/vocab"
)

// Page is what a collection dispatcher returns for one cursor.
type Page struct {
	Items       []vocab.Value
	PrevCursor  string
	NextCursor  string
}

// Summary describes the uncursored container view of a collection.
type Summary struct {
	TotalItems int
	First      string // cursor, not yet built into a URL
	Last       string
}

// Dispatcher produces pages for one named collection kind. cursor == "" asks
// for the container summary (first/last/totalItems); a non-empty cursor asks
// for that page's items. filter is an optional application-defined string
// (e.g. a visibility scope) passed through unexamined by this package.
type Dispatcher interface {
	Summarize(ctx context.Context, identifier string, filter string) (Summary, error)
	Page(ctx context.Context, identifier, cursor, filter string) (Page, error)
}

// Ordered is true for OrderedCollection/OrderedCollectionPage, false for
// Collection/CollectionPage — the only shape difference being whether items
// live under "items" or "orderedItems".
type BuildOptions struct {
	CollectionIRI string
	RouteName     string // router name used to build page URLs
	Router        *router.Router
	RouteValues   map[string]string // base placeholder values (e.g. identifier); the cursor goes in a "?cursor=" query parameter, not in these values
	Ordered       bool
}

// BuildContainer renders the uncursored container document: an
// (Ordered)Collection naming first/last/totalItems but no items.
func BuildContainer(summary Summary, opts BuildOptions) (*vocab.Object, error) {
	kind := vocab.KindCollection
	if opts.Ordered {
		kind = vocab.KindOrderedCollection
	}
	obj := vocab.NewObject(kind)
	obj.ID = opts.CollectionIRI
	obj.Set("totalItems", vocab.ValueFromScalar(float64(summary.TotalItems)))

	if summary.First != "" {
		iri, err := buildPageURL(opts, summary.First)
		if err != nil {
			return nil, err
		}
		obj.Set("first", vocab.ValueFromIRI(iri))
	}
	if summary.Last != "" {
		iri, err := buildPageURL(opts, summary.Last)
		if err != nil {
			return nil, err
		}
		obj.Set("last", vocab.ValueFromIRI(iri))
	}
	return obj, nil
}

// BuildPage renders one (Ordered)CollectionPage: its items plus prev/next
// links and partOf pointing back at the container.
func BuildPage(page Page, cursor string, opts BuildOptions) (*vocab.Object, error) {
	kind := vocab.KindCollectionPage
	itemsKey := "items"
	if opts.Ordered {
		kind = vocab.KindOrderedCollectionPage
		itemsKey = "orderedItems"
	}

	obj := vocab.NewObject(kind)
	iri, err := buildPageURL(opts, cursor)
	if err != nil {
		return nil, err
	}
	obj.ID = iri
	obj.Set("partOf", vocab.ValueFromIRI(opts.CollectionIRI))

	for _, item := range page.Items {
		obj.Add(itemsKey, item)
	}

	if page.PrevCursor != "" {
		prevIRI, err := buildPageURL(opts, page.PrevCursor)
		if err != nil {
			return nil, err
		}
		obj.Set("prev", vocab.ValueFromIRI(prevIRI))
	}
	if page.NextCursor != "" {
		nextIRI, err := buildPageURL(opts, page.NextCursor)
		if err != nil {
			return nil, err
		}
		obj.Set("next", vocab.ValueFromIRI(nextIRI))
	}

	return obj, nil
}

func buildPageURL(opts BuildOptions, cursor string) (string, error) {
	values := make(map[string]string, len(opts.RouteValues)+1)
	for k, v := range opts.RouteValues {
		values[k] = v
	}
	path, err := opts.Router.Build(opts.RouteName, values)
	if err != nil {
		return "", fmt.Errorf("collection: build page url: %w", err)
	}
	if cursor == "" {
		return path, nil
	}
	return path + "?cursor=" + url.QueryEscape(cursor), nil
}

// Digest computes the FEP-8fcf Collection-Synchronization digest: the
// XOR-fold of SHA-256(iri) over every distinct IRI in iris, hex-encoded.
// Order and duplicates don't affect the result — see spec.md §4.7, test
// vector §8.A.
func Digest(iris []string) string {
	seen := make(map[string]bool, len(iris))
	var fold [sha256.Size]byte

	for _, iri := range iris {
		if seen[iri] {
			continue
		}
		seen[iri] = true
		sum := sha256.Sum256([]byte(iri))
		for i := range fold {
			fold[i] ^= sum[i]
		}
	}
	return hex.EncodeToString(fold[:])
}

// SyncHeader builds the Collection-Synchronization header value per
// spec.md §4.7/§8.B: collectionId, the peer-supplied url echoed back, and
// the digest over distinct item IRIs.
func SyncHeader(collectionIRI, requestURL string, iris []string) string {
	return fmt.Sprintf(`collectionId=%q, url=%q, digest=%q`, collectionIRI, requestURL, Digest(iris))
}
