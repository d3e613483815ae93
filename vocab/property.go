package vocab

import "context"

// Value is one entry of a Property: a bare IRI reference, an inline object
// node, or a scalar literal. An inline node also carries its own "id" in
// IRI when it has one.
//
// Per spec.md §4.2 ("lazy polymorphic properties"), an inline value is not
// parsed into a full *Object until something asks for it — Value stores the
// raw JSON-LD node and only calls FromJSONLD the first time Value.Resolve
// is invoked for it, then memoizes the result.
type Value struct {
	IRI     string
	Scalar  interface{} // non-nil for plain JSON literals: string, float64, bool
	isScalar bool

	raw    map[string]interface{} // set when this Value was an inline node
	parsed *Object                // memoized result of resolving raw or IRI
}

// IsIRI reports whether this Value is a bare reference rather than an inline
// node or scalar literal.
func (v Value) IsIRI() bool {
	return v.IRI != "" && v.raw == nil && v.parsed == nil && !v.isScalar
}

// IsScalar reports whether this Value is a plain JSON literal (string,
// number, bool) rather than an IRI or object node.
func (v Value) IsScalar() bool {
	return v.isScalar
}

// ValueFromIRI builds a reference-only Value.
func ValueFromIRI(iri string) Value {
	return Value{IRI: iri}
}

// ValueFromScalar builds a literal Value, e.g. for "content" or "published".
func ValueFromScalar(s interface{}) Value {
	return Value{Scalar: s, isScalar: true}
}

// ValueFromObject builds an inline Value directly from an already-parsed
// Object (used when constructing activities programmatically rather than
// from the wire).
func ValueFromObject(o *Object) Value {
	return Value{IRI: o.ID, parsed: o}
}

// Property is one named slot on an Object: either functional (at most one
// Value, e.g. "actor") or a list (zero or more, e.g. "to"). The functional
// flag is fixed per property name by the schema table in schema.go, not
// inferred from the wire shape, since single-item JSON-LD arrays and bare
// scalars are interchangeable on the wire.
type Property struct {
	Functional bool
	Values     []Value
}

// First returns the first value, or the zero Value and false if the
// property is empty. Functional properties should only ever use this.
func (p *Property) First() (Value, bool) {
	if p == nil || len(p.Values) == 0 {
		return Value{}, false
	}
	return p.Values[0], true
}

// DocumentLoader fetches a remote JSON-LD document by IRI. Value.Resolve
// uses it to materialize id-only Values on first access. Implementations
// typically wrap an httpsig-aware HTTP client so dereferences go out signed,
// per spec.md §4.6; the federation engine supplies one via federation.Handle.
type DocumentLoader interface {
	Load(ctx context.Context, iri string) (map[string]interface{}, error)
}

// Resolve returns the parsed *Object for v, fetching and memoizing it via
// loader if v was an id-only reference and has not been resolved yet. A nil
// loader is only valid when v already carries an inline node or has already
// been resolved.
func (v *Value) Resolve(ctx context.Context, loader DocumentLoader) (*Object, error) {
	if v.parsed != nil {
		return v.parsed, nil
	}
	var doc map[string]interface{}
	switch {
	case v.raw != nil:
		doc = v.raw
	case v.IRI != "":
		if loader == nil {
			return nil, ErrNoDocumentLoader
		}
		d, err := loader.Load(ctx, v.IRI)
		if err != nil {
			return nil, err
		}
		doc = d
	default:
		return nil, ErrEmptyValue
	}

	obj, err := FromJSONLD(doc)
	if err != nil {
		return nil, err
	}
	v.parsed = obj
	if v.IRI == "" {
		v.IRI = obj.ID
	}
	return obj, nil
}
