package vocab

import "errors"

var (
	// ErrTypeMismatch names a node whose @type does not fit the shape a
	// caller expects. FromJSONLD does not return it: a node without @type
	// parses with an empty Type, and any @type string is accepted as is.
	ErrTypeMismatch = errors.New("vocab: type mismatch")

	// ErrNoDocumentLoader is returned by Value.Resolve when an id-only
	// reference needs dereferencing but no DocumentLoader was supplied.
	ErrNoDocumentLoader = errors.New("vocab: no document loader configured")

	// ErrEmptyValue is returned by Value.Resolve on the zero Value.
	ErrEmptyValue = errors.New("vocab: empty value")

	// ErrMissingID names an object that lacks a required "id". No function
	// in this module returns it; the inbox pipeline rejects activities
	// without id/actor with its own error.
	ErrMissingID = errors.New("vocab: object has no id")
)
