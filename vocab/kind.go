package vocab

// Kind is the class tag for a vocabulary object or activity — the JSON-LD
// @type value. Per spec.md §9 ("Listener class hierarchy"), ancestry is
// resolved through a static parent table rather than reflection over a
// generated class hierarchy: this is the ported form of the original
// generated-per-schema-class runtime.
type Kind string

// Core Activity Vocabulary kinds. Only the kinds the federation engine and
// its listeners need to reason about are enumerated; applications are free
// to carry additional, unrecognized @type values in an Object's Type field —
// dispatch simply treats them as direct children of Object, with no other
// registered ancestor.
const (
	KindObject       Kind = "Object"
	KindLink         Kind = "Link"
	KindActivity     Kind = "Activity"
	KindIntransitive Kind = "IntransitiveActivity"

	// Actor types.
	KindPerson       Kind = "Person"
	KindService      Kind = "Service"
	KindApplication  Kind = "Application"
	KindGroup        Kind = "Group"
	KindOrganization Kind = "Organization"

	// Object types.
	KindNote      Kind = "Note"
	KindArticle   Kind = "Article"
	KindPage      Kind = "Page"
	KindQuestion  Kind = "Question"
	KindImage     Kind = "Image"
	KindTombstone Kind = "Tombstone"
	KindEvent     Kind = "Event"
	KindPlace     Kind = "Place"
	KindProfile   Kind = "Profile"

	// Collection types.
	KindCollection           Kind = "Collection"
	KindOrderedCollection    Kind = "OrderedCollection"
	KindCollectionPage       Kind = "CollectionPage"
	KindOrderedCollectionPage Kind = "OrderedCollectionPage"

	// Activity types (transitive).
	KindCreate          Kind = "Create"
	KindUpdate          Kind = "Update"
	KindDelete          Kind = "Delete"
	KindFollow          Kind = "Follow"
	KindAccept          Kind = "Accept"
	KindTentativeAccept Kind = "TentativeAccept"
	KindReject          Kind = "Reject"
	KindTentativeReject Kind = "TentativeReject"
	KindUndo            Kind = "Undo"
	KindLike            Kind = "Like"
	KindAnnounce        Kind = "Announce"
	KindAdd             Kind = "Add"
	KindRemove          Kind = "Remove"
	KindBlock           Kind = "Block"
	KindFlag            Kind = "Flag"
	KindIgnore          Kind = "Ignore"
	KindInvite          Kind = "Invite"
	KindJoin            Kind = "Join"
	KindLeave           Kind = "Leave"
	KindOffer           Kind = "Offer"
	KindMove            Kind = "Move"
	KindView            Kind = "View"
	KindListen          Kind = "Listen"
	KindRead            Kind = "Read"
	KindDislike         Kind = "Dislike"

	// KindEmojiReact is a Mastodon extension (http://joinmastodon.org/ns#EmojiReact),
	// kept because it appears verbatim in the teacher repo's inbox dispatch.
	KindEmojiReact Kind = "EmojiReact"
)

// parents is the static ancestry table: child → immediate parent. Walking it
// repeatedly yields the full ancestor chain, terminating at KindObject.
var parents = map[Kind]Kind{
	KindLink:         KindObject,
	KindActivity:     KindObject,
	KindIntransitive: KindActivity,

	KindPerson:       KindObject,
	KindService:      KindObject,
	KindApplication:  KindObject,
	KindGroup:        KindObject,
	KindOrganization: KindObject,

	KindNote:      KindObject,
	KindArticle:   KindObject,
	KindPage:      KindObject,
	KindQuestion:  KindIntransitive,
	KindImage:     KindObject,
	KindTombstone: KindObject,
	KindEvent:     KindObject,
	KindPlace:     KindObject,
	KindProfile:   KindObject,

	KindCollection:            KindObject,
	KindOrderedCollection:     KindCollection,
	KindCollectionPage:        KindCollection,
	KindOrderedCollectionPage: KindOrderedCollection,

	KindCreate:          KindActivity,
	KindUpdate:          KindActivity,
	KindDelete:          KindActivity,
	KindFollow:          KindActivity,
	KindAccept:          KindActivity,
	KindTentativeAccept: KindAccept,
	KindReject:          KindActivity,
	KindTentativeReject: KindReject,
	KindUndo:            KindActivity,
	KindLike:            KindActivity,
	KindAnnounce:        KindActivity,
	KindAdd:             KindActivity,
	KindRemove:          KindActivity,
	KindBlock:           KindIgnore,
	KindFlag:            KindActivity,
	KindIgnore:          KindActivity,
	KindInvite:          KindOffer,
	KindJoin:            KindActivity,
	KindLeave:           KindActivity,
	KindOffer:           KindActivity,
	KindMove:            KindActivity,
	KindView:            KindActivity,
	KindListen:          KindActivity,
	KindRead:            KindActivity,
	KindDislike:         KindLike,
	KindEmojiReact:      KindActivity,
}

// Parent returns the immediate parent of k and true, or ("", false) if k is
// KindObject (the root) or otherwise unknown. Unknown kinds are treated as
// direct children of KindObject so third-party extension types still
// participate in "most specific ancestor" dispatch (spec.md §4.5 step 6).
func Parent(k Kind) (Kind, bool) {
	if k == KindObject || k == "" {
		return "", false
	}
	if p, ok := parents[k]; ok {
		return p, true
	}
	return KindObject, true
}

// Ancestry returns k and every ancestor of k, in order from most to least
// specific, ending at KindObject.
func Ancestry(k Kind) []Kind {
	if k == "" {
		return nil
	}
	chain := []Kind{k}
	for {
		p, ok := Parent(chain[len(chain)-1])
		if !ok {
			return chain
		}
		chain = append(chain, p)
	}
}

// IsA reports whether k is child, equal to ancestor, or a descendant of it.
func IsA(k, ancestor Kind) bool {
	for _, a := range Ancestry(k) {
		if a == ancestor {
			return true
		}
	}
	return false
}
