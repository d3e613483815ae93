// Package nodeinfo implements the /.well-known/nodeinfo pointer document and
// the NodeInfo 2.1 document it points to, grounded in klistr's
// handleNodeInfo/handleNodeInfoSchema (internal/server/server.go) and its
// NodeInfo/NodeInfoSoftware/NodeInfoUsage/NodeInfoUsers structs
// (internal/ap/types.go), generalized from a hardcoded self-description to
// one produced by an application-supplied Dispatcher.
package nodeinfo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Document is the NodeInfo 2.1 payload. Field names mirror the spec
// (http://nodeinfo.diaspora.software/ns/schema/2.1).
type Document struct {
	Version           string
	Software          Software
	Protocols         []string
	Usage             Usage
	OpenRegistrations bool
	Metadata          map[string]interface{}
}

type Software struct {
	Name       string
	Version    string
	Repository string
}

type Usage struct {
	Users         Users
	LocalPosts    int
	LocalComments int
}

type Users struct {
	Total          int
	ActiveMonth    int
	ActiveHalfyear int
}

// Dispatcher supplies the NodeInfo document for this server.
type Dispatcher func(ctx context.Context) (Document, error)

// ErrInvalidNodeInfo is returned by Validate (and thus by anything that
// serializes a Document) when the document fails the schema's own
// constraints. The message names the specific failing field, matching
// spec.md §4.8/§8.C's InvalidNodeInfo("Invalid software name") shape.
var ErrInvalidNodeInfo = errors.New("nodeinfo: invalid document")

var softwareNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// Validate enforces spec.md §4.8's NodeInfo constraints: software.name
// matches ^[a-z0-9-]+$, protocols is non-empty, every count is non-negative,
// and version is a serialized SemVer.
func Validate(d Document) error {
	if !softwareNamePattern.MatchString(d.Software.Name) {
		return fmt.Errorf("%w: Invalid software name", ErrInvalidNodeInfo)
	}
	if len(d.Protocols) == 0 {
		return fmt.Errorf("%w: protocols must be non-empty", ErrInvalidNodeInfo)
	}
	if d.Usage.Users.Total < 0 || d.Usage.Users.ActiveMonth < 0 || d.Usage.Users.ActiveHalfyear < 0 {
		return fmt.Errorf("%w: user counts must be non-negative", ErrInvalidNodeInfo)
	}
	if d.Usage.LocalPosts < 0 || d.Usage.LocalComments < 0 {
		return fmt.Errorf("%w: post/comment counts must be non-negative", ErrInvalidNodeInfo)
	}
	if !semverPattern.MatchString(d.Software.Version) {
		return fmt.Errorf("%w: version must be a serialized SemVer", ErrInvalidNodeInfo)
	}
	return nil
}

// ToJSON renders a validated Document into the generic map NodeInfo 2.1
// serializes as.
func ToJSON(d Document) (map[string]interface{}, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"version": d.Version,
		"software": map[string]interface{}{
			"name":       d.Software.Name,
			"version":    d.Software.Version,
			"repository": d.Software.Repository,
		},
		"protocols": d.Protocols,
		"usage": map[string]interface{}{
			"users": map[string]interface{}{
				"total":          d.Usage.Users.Total,
				"activeMonth":    d.Usage.Users.ActiveMonth,
				"activeHalfyear": d.Usage.Users.ActiveHalfyear,
			},
			"localPosts":    d.Usage.LocalPosts,
			"localComments": d.Usage.LocalComments,
		},
		"openRegistrations": d.OpenRegistrations,
		"metadata":          d.Metadata,
	}, nil
}

// PointerDocument renders the /.well-known/nodeinfo discovery document:
// a single link to the server's NodeInfo 2.1 document.
func PointerDocument(nodeInfoURL string) map[string]interface{} {
	return map[string]interface{}{
		"links": []interface{}{
			map[string]interface{}{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": nodeInfoURL,
			},
		},
	}
}
