// Package webfinger implements RFC 7033 resource discovery, grounded in
// klistr's handleWebFinger (internal/server/server.go) and
// WebFingerResponse/WebFingerLink (internal/ap/types.go), generalized from a
// single local actor lookup to an application-supplied ActorLookup.
package webfinger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by ActorLookup when no actor matches the request.
var ErrNotFound = errors.New("webfinger: actor not found")

// ActorResult is what an ActorLookup needs to return to build a WebFinger
// response: the actor's canonical IRI and, optionally, a human-facing
// profile URL.
type ActorResult struct {
	IRI     string
	Profile string // optional; omitted from links if empty
}

// ActorLookup resolves a WebFinger request to an actor. identifier is the
// local-part of an acct: URI (without the "@host"), or "" if resource was a
// raw URI (in which case uri carries the full value for reverse lookup).
type ActorLookup func(ctx context.Context, identifier, uri string) (ActorResult, error)

// Response is the application/jrd+json document.
type Response struct {
	Subject string
	Aliases []string
	Links   []Link
}

type Link struct {
	Rel  string
	Type string
	Href string
}

// Resolve handles one WebFinger query. resource is the raw "resource" query
// parameter value; localHost is this server's own host, used to reject
// acct: lookups for a different domain.
func Resolve(ctx context.Context, resource, localHost string, lookup ActorLookup) (Response, error) {
	identifier, host, uri, err := parseResource(resource)
	if err != nil {
		return Response{}, err
	}
	if host != "" && !strings.EqualFold(host, localHost) {
		return Response{}, ErrNotFound
	}

	actor, err := lookup(ctx, identifier, uri)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		Subject: resource,
		Aliases: []string{actor.IRI},
		Links: []Link{
			{Rel: "self", Type: "application/activity+json", Href: actor.IRI},
		},
	}
	if actor.Profile != "" {
		resp.Links = append(resp.Links, Link{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor.Profile})
	}
	return resp, nil
}

// parseResource splits a "resource" query value. "acct:user@host" yields
// (identifier="user", host="host", uri=""); any other form is treated as a
// raw URI for reverse lookup (identifier="", host="", uri=resource).
func parseResource(resource string) (identifier, host, uri string, err error) {
	if resource == "" {
		return "", "", "", fmt.Errorf("webfinger: empty resource")
	}
	if !strings.HasPrefix(resource, "acct:") {
		return "", "", resource, nil
	}
	acct := strings.TrimPrefix(resource, "acct:")
	at := strings.LastIndex(acct, "@")
	if at < 0 {
		return "", "", "", fmt.Errorf("webfinger: malformed acct URI %q", resource)
	}
	identifier = strings.TrimPrefix(acct[:at], "@")
	host = acct[at+1:]
	return identifier, host, "", nil
}

// ToJSON renders Response into application/jrd+json's generic map shape.
func ToJSON(r Response) map[string]interface{} {
	links := make([]interface{}, len(r.Links))
	for i, l := range r.Links {
		m := map[string]interface{}{"rel": l.Rel, "href": l.Href}
		if l.Type != "" {
			m["type"] = l.Type
		}
		links[i] = m
	}
	aliases := make([]interface{}, len(r.Aliases))
	for i, a := range r.Aliases {
		aliases[i] = a
	}
	return map[string]interface{}{
		"subject": r.Subject,
		"aliases": aliases,
		"links":   links,
	}
}
