package vocab

// functionalProperties lists the Activity Vocabulary properties that carry
// at most one value. Everything else defaults to list-valued. This mirrors
// the property cardinality table the original TypeScript runtime generates
// from the AS2/security-vocabulary schema files; here it's hand-declared
// since there is no schema-compiler step in this port.
var functionalProperties = map[string]bool{
	"id":   true,
	"type": true,

	"actor":        true,
	"object":       true,
	"target":       true,
	"origin":       true,
	"result":       true,
	"instrument":   true,
	"inReplyTo":    true,
	"published":    true,
	"updated":      true,
	"startTime":    true,
	"endTime":      true,
	"name":         true,
	"content":      true,
	"summary":      true,
	"url":          true,
	"icon":         true,
	"image":        true,
	"sensitive":    true,
	"preferredUsername": true,

	"inbox":             true,
	"outbox":             true,
	"following":          true,
	"followers":          true,
	"liked":              true,
	"featured":           true,
	"featuredTags":       true,
	"endpoints":          true,
	"publicKey":          true,

	"totalItems": true,
	"first":      true,
	"last":       true,
	"next":       true,
	"prev":       true,
	"partOf":     true,
	"current":    true,

	"closed":      true,
	"votersCount": true,
}

// isFunctional reports whether name is a functional (single-valued)
// property. Unknown properties default to list-valued, which is the safer
// default for forward-compatibility with extension vocabularies.
func isFunctional(name string) bool {
	return functionalProperties[name]
}

// referenceProperties lists the Activity Vocabulary properties whose range
// is always another object — an actor, activity, or object — rather than a
// literal. Real inbound documents carry these as bare string IRIs (e.g.
// `"actor":"https://example.org/users/alice"`) just as often as inline
// nodes, so a bare string in one of these slots must parse to a reference
// (Value.IRI set), not a literal scalar, or the inbox pipeline's
// GetIRI-based actor/object checks never succeed.
var referenceProperties = map[string]bool{
	"actor":        true,
	"object":       true,
	"target":       true,
	"origin":       true,
	"result":       true,
	"instrument":   true,
	"inReplyTo":    true,
	"attributedTo": true,
	"attachment":   true,
	"tag":          true,
	"to":           true,
	"cc":           true,
	"bto":          true,
	"bcc":          true,
	"audience":     true,
	"generator":    true,
	"inbox":        true,
	"outbox":       true,
	"following":    true,
	"followers":    true,
	"liked":        true,
	"featured":     true,
	"featuredTags": true,
	"partOf":       true,
	"first":        true,
	"last":         true,
	"next":         true,
	"prev":         true,
	"current":      true,
	"items":        true,
	"orderedItems": true,
	"url":          true,
	"icon":         true,
	"image":        true,
	"publicKey":    true,
	"owner":        true,
}

// isReference reports whether name's range is always another object, so a
// bare JSON string in that slot should be treated as an IRI reference.
func isReference(name string) bool {
	return referenceProperties[name]
}
