// Package sync implements the per-collection Sync protocol state
// machine and reconciliation engine: it drives one request/response
// exchange against an EAS collection, applies the server's Add/
// Change/Delete/Fetch commands to a local Store, and resolves any
// locally pending edits into an outgoing ChangeBatch — all on top of
// the internal/wbxml codec, never touching transport or the device
// data model directly.
//
// Grounded on other_examples/...wesm-msgvault.../sync.go for the
// overall "drive one exchange, checkpoint, advance cursor only on
// success" shape and its Syncer/Options/logger-injection builder
// style, adapted from a multi-page Gmail history sync to a single
// request/response EAS Sync exchange.
package sync

import "github.com/google/uuid"

// Collection identifies one EAS folder being synchronized and carries
// the state a Driver needs to build the next request.
type Collection struct {
	// ServerID is the folder id assigned by FolderSync (spec.md §6
	// treats folder hierarchy sync as an external collaborator; this
	// value is simply handed in).
	ServerID string

	// Class is the EAS collection class: "Email", "Contacts", or
	// "Calendar".
	Class string

	// SyncKey is the key returned by the most recent successful
	// exchange, or "0" to start an initial sync.
	SyncKey string

	// WindowSize bounds how many commands the server may return in one
	// response (spec.md's Commands/MaxItems field).
	WindowSize int

	// GetChanges, when true, asks the server to report changes; a
	// collection's very first exchange (SyncKey "0") never sets this —
	// it establishes a baseline instead.
	GetChanges bool

	// BodyPreference mirrors the AirSyncBase body preference the
	// collection should request (0 means "not requested").
	BodyPreference BodyPreference
}

// BodyPreference is the AirSyncBase <BodyPreference> the Email
// collection uses to ask for MIME bodies (Type 4) at a given
// truncation size; Contacts and Calendar send none.
type BodyPreference struct {
	Type           int
	TruncationSize int
}

// ChangeOp identifies which EAS command produced or will carry a
// record.
type ChangeOp int

const (
	OpAdd ChangeOp = iota
	OpChange
	OpDelete
	OpFetch
)

func (op ChangeOp) String() string {
	switch op {
	case OpAdd:
		return "Add"
	case OpChange:
		return "Change"
	case OpDelete:
		return "Delete"
	case OpFetch:
		return "Fetch"
	default:
		return "Unknown"
	}
}

// ChangeEntry is one command inside a ChangeBatch. ServerID is empty
// for a not-yet-acknowledged local Add (ClientID stands in until the
// server assigns a ServerID); Data is the collection-specific record
// (an *email.Message, *contacts.Record, *calendar.Event, ...),
// opaque to this package by design — the Driver never inspects it,
// only the CollectionCodec that produced or will consume it does.
type ChangeEntry struct {
	Op       ChangeOp
	ServerID string
	ClientID string
	Data     any
}

// NewClientID returns a fresh client-assigned id for an Add awaiting
// server acknowledgement, per spec.md's back-reference resolution
// requirement: the Driver must be able to match the server's <Add>
// response (keyed by ClientId) back to the entry that produced it.
func NewClientID() string {
	return uuid.NewString()
}

// ChangeBatch is the result of decoding one server response (inbound)
// or the set of local edits to upsync (outbound). Both directions
// share the same shape: a flat, ordered list of commands plus the
// sync-key bookkeeping the Driver needs to commit them atomically.
type ChangeBatch struct {
	Collection    Collection
	MoreAvailable bool
	Entries       []ChangeEntry
}

// ByOp returns the entries matching op, preserving order. Used by a
// Store implementation that wants to apply Deletes before Adds, or any
// other op-ordered commit strategy.
func (b *ChangeBatch) ByOp(op ChangeOp) []ChangeEntry {
	var out []ChangeEntry
	for _, e := range b.Entries {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}
