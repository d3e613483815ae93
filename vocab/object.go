package vocab

import "fmt"

// Object is the runtime representation of any Activity Vocabulary node —
// objects, actors, activities, and collections all share this shape, the
// same way the teacher's internal/ap types.go structs overload one Go
// struct per concrete AS2 type. Here there is exactly one Go type; Kind
// plus the Props table stand in for what would otherwise be a struct per
// vocabulary class.
type Object struct {
	ID   string
	Type Kind

	// Props holds every property other than id/type, keyed by its compact
	// JSON-LD term exactly as it appears on the wire (no expansion is done —
	// see jsonld.go). A functional property always has len(Values) <= 1.
	Props map[string]*Property
}

// NewObject creates an empty Object of the given kind.
func NewObject(kind Kind) *Object {
	return &Object{Type: kind, Props: make(map[string]*Property)}
}

// Ancestry returns o's Type and every ancestor kind, most specific first.
func (o *Object) Ancestry() []Kind {
	if o == nil {
		return nil
	}
	return Ancestry(o.Type)
}

// IsA reports whether o's type is or descends from ancestor.
func (o *Object) IsA(ancestor Kind) bool {
	return o != nil && IsA(o.Type, ancestor)
}

// prop returns the Property for name, creating it (with the correct
// functional flag) if absent.
func (o *Object) prop(name string) *Property {
	if p, ok := o.Props[name]; ok {
		return p
	}
	p := &Property{Functional: isFunctional(name)}
	o.Props[name] = p
	return p
}

// Get returns the first value of a (functional or list) property.
func (o *Object) Get(name string) (Value, bool) {
	p, ok := o.Props[name]
	if !ok {
		return Value{}, false
	}
	return p.First()
}

// GetAll returns every value of a property, in wire order.
func (o *Object) GetAll(name string) []Value {
	p, ok := o.Props[name]
	if !ok {
		return nil
	}
	return p.Values
}

// GetString returns the string form of a functional scalar property, e.g.
// "content" or "preferredUsername".
func (o *Object) GetString(name string) (string, bool) {
	v, ok := o.Get(name)
	if !ok || !v.IsScalar() {
		return "", false
	}
	s, ok := v.Scalar.(string)
	return s, ok
}

// GetIRI returns the IRI of a functional reference property, whether it was
// carried as a bare IRI or an inline node (in which case its own "id" is
// used).
func (o *Object) GetIRI(name string) (string, bool) {
	v, ok := o.Get(name)
	if !ok {
		return "", false
	}
	if v.IRI != "" {
		return v.IRI, true
	}
	return "", false
}

// Set replaces a functional property with a single value.
func (o *Object) Set(name string, v Value) {
	o.Props[name] = &Property{Functional: true, Values: []Value{v}}
}

// SetString is a convenience wrapper around Set for scalar string properties.
func (o *Object) SetString(name, s string) {
	o.Set(name, ValueFromScalar(s))
}

// Add appends a value to a list property (or to a functional property that
// is still empty — adding a second value to an already-populated functional
// property silently replaces it, since the vocabulary doesn't define
// ordering for that case).
func (o *Object) Add(name string, v Value) {
	p := o.prop(name)
	if p.Functional {
		p.Values = []Value{v}
		return
	}
	p.Values = append(p.Values, v)
}

// Recipients gathers the audience-targeting properties (to, cc, bto, bcc,
// audience) as a flattened list of Values, in the order spec.md §6.2 defines
// for recipient expansion: to, cc, bto, bcc, audience.
func (o *Object) Recipients() []Value {
	var out []Value
	for _, name := range []string{"to", "cc", "bto", "bcc", "audience"} {
		out = append(out, o.GetAll(name)...)
	}
	return out
}

func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", o.Type, o.ID)
}
