package vocab

// Clone returns a deep-enough copy of o suitable for the outbox transformer
// chain (spec.md §6.1), which must mutate a per-delivery copy (stamping an
// id, dehydrating the actor) without affecting the caller's original.
// Inline node values are copied structurally but left unparsed; already
// memoized (Value.parsed) sub-objects are cloned recursively.
func Clone(o *Object) *Object {
	if o == nil {
		return nil
	}
	out := &Object{
		ID:    o.ID,
		Type:  o.Type,
		Props: make(map[string]*Property, len(o.Props)),
	}
	for name, p := range o.Props {
		if p == nil {
			continue
		}
		values := make([]Value, len(p.Values))
		for i, v := range p.Values {
			values[i] = cloneValue(v)
		}
		out.Props[name] = &Property{Functional: p.Functional, Values: values}
	}
	return out
}

func cloneValue(v Value) Value {
	nv := Value{IRI: v.IRI, Scalar: v.Scalar, isScalar: v.isScalar}
	if v.raw != nil {
		raw := make(map[string]interface{}, len(v.raw))
		for k, val := range v.raw {
			raw[k] = val
		}
		nv.raw = raw
	}
	if v.parsed != nil {
		nv.parsed = Clone(v.parsed)
	}
	return nv
}

// WithID returns a clone of o with id set; o itself is left unchanged.
func WithID(o *Object, id string) *Object {
	c := Clone(o)
	c.ID = id
	return c
}
