package vocab

// Context is the JSON-LD @context this package emits. Expansion here is
// compact-form only — like the teacher's ap.DefaultContext, terms are taken
// at face value rather than run through a full JSON-LD processor (none of
// the example repos import one), so property names on the wire must already
// match the Activity Vocabulary / security-vocabulary compact term they
// represent.
var Context = []interface{}{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
	map[string]interface{}{
		"Hashtag":   "as:Hashtag",
		"sensitive": "as:sensitive",
		"schema":    "http://schema.org#",
		"toot":      "http://joinmastodon.org/ns#",
		"EmojiReact": "toot:EmojiReact",
	},
}

// reservedKeys are never turned into Props entries; they have dedicated
// Object fields or are metadata.
var reservedKeys = map[string]bool{
	"@context": true,
	"id":       true,
	"@id":      true,
	"type":     true,
	"@type":    true,
}

// FromJSONLD parses a JSON-LD node (already decoded into a generic
// map[string]interface{}, e.g. via encoding/json) into an Object. Properties
// whose value is an object literal are kept lazily — see Value.Resolve —
// rather than recursively parsed up front, per spec.md §4.2.
func FromJSONLD(doc map[string]interface{}) (*Object, error) {
	if doc == nil {
		return nil, ErrEmptyValue
	}

	o := NewObject("")
	if id, ok := stringField(doc, "id", "@id"); ok {
		o.ID = id
	}
	if t, ok := firstType(doc); ok {
		o.Type = Kind(t)
	}

	for key, raw := range doc {
		if reservedKeys[key] {
			continue
		}
		values, err := toValues(key, raw)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}
		p := &Property{Functional: isFunctional(key), Values: values}
		if p.Functional && len(p.Values) > 1 {
			p.Values = p.Values[:1]
		}
		o.Props[key] = p
	}

	return o, nil
}

func firstType(doc map[string]interface{}) (string, bool) {
	raw, ok := doc["type"]
	if !ok {
		raw, ok = doc["@type"]
	}
	if !ok {
		return "", false
	}
	switch t := raw.(type) {
	case string:
		return t, true
	case []interface{}:
		if len(t) == 0 {
			return "", false
		}
		s, ok := t[0].(string)
		return s, ok
	}
	return "", false
}

func stringField(doc map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// toValues normalizes a raw JSON-LD property value (scalar, object, or
// array of either) into a slice of Values. key is the property's term name,
// used to decide whether a bare string is a literal or an IRI reference
// (see referenceProperties in schema.go) — spec.md §4.2 requires this
// because inbound activities overwhelmingly carry actor/object/target/etc.
// as plain string IRIs rather than inline nodes.
func toValues(key string, raw interface{}) ([]Value, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		var out []Value
		for _, item := range v {
			vals, err := toValues(key, item)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	case map[string]interface{}:
		id, ok := stringField(v, "id", "@id")
		if ok && isIDOnly(v) {
			return []Value{ValueFromIRI(id)}, nil
		}
		return []Value{{IRI: id, raw: v}}, nil
	case string:
		if isReference(key) {
			return []Value{ValueFromIRI(v)}, nil
		}
		return []Value{ValueFromScalar(v)}, nil
	case float64, bool:
		return []Value{ValueFromScalar(v)}, nil
	default:
		return []Value{ValueFromScalar(v)}, nil
	}
}

// isIDOnly reports whether a node is a bare reference — just an id (and
// optionally a type) and nothing else worth keeping inline.
func isIDOnly(node map[string]interface{}) bool {
	for k := range node {
		if k != "id" && k != "@id" && k != "type" && k != "@type" {
			return false
		}
	}
	return true
}

// ToJSONLD serializes o back into a generic map suitable for
// encoding/json.Marshal, including the @context.
func ToJSONLD(o *Object) map[string]interface{} {
	doc := make(map[string]interface{}, len(o.Props)+3)
	doc["@context"] = Context
	if o.ID != "" {
		doc["id"] = o.ID
	}
	if o.Type != "" {
		doc["type"] = string(o.Type)
	}

	for name, p := range o.Props {
		if p == nil || len(p.Values) == 0 {
			continue
		}
		if p.Functional {
			doc[name] = valueToJSON(p.Values[0])
			continue
		}
		arr := make([]interface{}, len(p.Values))
		for i, v := range p.Values {
			arr[i] = valueToJSON(v)
		}
		doc[name] = arr
	}

	return doc
}

func valueToJSON(v Value) interface{} {
	switch {
	case v.isScalar:
		return v.Scalar
	case v.parsed != nil:
		return ToJSONLD(v.parsed)
	case v.raw != nil:
		return v.raw
	default:
		return v.IRI
	}
}
