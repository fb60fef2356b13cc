package sync

import (
	"context"
	"io"
)

// Transport sends one WBXML request body to the server's Sync command
// endpoint and returns the response body. It is an external
// collaborator per spec.md §6 — this package never opens a connection,
// handles authentication, or retries; internal/transport supplies a
// concrete net/http-based implementation for the example host binary,
// and tests supply fakes.
type Transport interface {
	PostSync(ctx context.Context, collectionClass string, body io.Reader) (io.ReadCloser, error)
}

// Store is the device-side data persistence collaborator. It is
// intentionally coarse-grained: one call commits an entire decoded
// ChangeBatch atomically, and one call collects everything locally
// dirty and awaiting upsync. Per spec.md §6 the device data store is
// external to this engine's responsibility; internal/store supplies a
// concrete SQLite-backed reference implementation.
type Store interface {
	// ApplyBatch commits every entry in batch — Adds, Changes, Deletes,
	// and Fetch results — as a single atomic unit. Implementations must
	// resolve ChangeEntry.ClientID back-references (an Add's
	// server-assigned id arriving in the same or a later batch) before
	// returning.
	ApplyBatch(ctx context.Context, batch *ChangeBatch) error

	// PendingChanges returns everything locally modified since the
	// last successful exchange for a collection, ready to be encoded as
	// an outgoing ChangeBatch.
	PendingChanges(ctx context.Context, collection Collection) (*ChangeBatch, error)

	// MarkSynced clears the dirty flag on everything in batch after the
	// server has acknowledged it.
	MarkSynced(ctx context.Context, batch *ChangeBatch) error

	// Wipe deletes every locally-owned row for collection. Called when
	// the server reports Status=3 (invalid sync key): per spec.md §4.H
	// the only valid recovery is to discard local state for that
	// collection and restart the sync key from "0".
	Wipe(ctx context.Context, collection Collection) error
}

// RecordLookup is an optional Store capability: a Store that can
// return a previously committed record by server id lets a codec's
// InboundEffects diff an incoming change against prior state (removed
// attendees, a deleted organizer-owned event) instead of treating
// every decoded record as first-seen. internal/store.Store implements
// this; a Store that doesn't is still a valid, if less capable,
// collaborator.
type RecordLookup interface {
	LookupRecord(ctx context.Context, class, serverID string) (any, error)
}

// KeyStore persists the sync-key protocol state for a collection —
// the value that must advance exactly once per successful exchange.
// internal/opstate.Store.WithLock satisfies this directly.
type KeyStore interface {
	WithLock(namespace, key string, fn func(current string) (string, error)) error
}

// MailOut is the outgoing-mail/meeting-invite-response collaborator:
// external to this engine per spec.md §6 ("outgoing mail composition"
// is not the Sync engine's job), but the Calendar reconciliation core
// still needs somewhere to hand off the side effects of organizing or
// responding to a meeting. The core never composes the ICS/email body
// itself — these are enqueue calls, naming who a downstream composer
// needs to reach and why.
type MailOut interface {
	// SendMeetingResponse enqueues the local user's ACCEPT/TENTATIVE/
	// DECLINE reply to an invite's organizer, triggered by a local
	// self-status change.
	SendMeetingResponse(ctx context.Context, uid string, response MeetingResponseKind) error

	// SendInvite enqueues an outgoing invite for uid to attendees,
	// triggered when the organizer dirties an event they own.
	SendInvite(ctx context.Context, uid string, attendees []string) error

	// SendCancellation enqueues a cancellation for uid to attendees —
	// either the single address removed from an organizer-owned event,
	// or every remaining attendee when the organizer deletes it.
	SendCancellation(ctx context.Context, uid string, attendees []string) error
}

// MeetingResponseKind is the attendee response a Calendar
// reconciliation pass can trigger as a side effect.
type MeetingResponseKind int

const (
	MeetingAccept MeetingResponseKind = iota
	MeetingTentative
	MeetingDecline
)

// CollectionCodec is the per-collection plugin a Driver delegates to
// for everything class-specific: decoding one <Add>/<Change>/<Delete>/
// <Fetch> command's <ApplicationData> into a Store-ready record, and
// encoding a pending local change back out. internal/email,
// internal/contacts, and internal/calendar each implement one.
type CollectionCodec interface {
	// Class is the EAS collection class this codec handles ("Email",
	// "Contacts", "Calendar").
	Class() string

	// DecodeApplicationData reads one element's <ApplicationData>
	// subtree (the decoder is positioned just after its START_TAG) and
	// returns the class-specific record to store.
	DecodeApplicationData(dec *Decoder) (any, error)

	// EncodeApplicationData writes a pending local record's
	// <ApplicationData> subtree for an outgoing Add/Change command.
	EncodeApplicationData(enc *Encoder, record any) error
}

// BatchRewriter is an optional CollectionCodec capability: a codec
// whose collection needs its decoded ChangeBatch transformed before
// Store sees it implements this. Contacts uses it to split a Change
// into a Delete+Add per spec.md §4.F's change-as-recreate rule — EAS
// always resends a full record on Change, so applying one in place
// would silently keep locally-added fields the server didn't re-send.
type BatchRewriter interface {
	RewriteBatch(batch *ChangeBatch) *ChangeBatch
}

// UpsyncEncoder is an optional CollectionCodec capability for
// collections whose outgoing Add/Change encoding needs the whole
// pending batch, not just the one entry being encoded. Calendar
// implements this to group dirty exceptions onto their parent event's
// <ApplicationData>/<Exceptions> pair per spec.md §4.G's two-pass
// upsync ordering. When a codec implements this, the Driver calls
// EncodeUpsyncEntry instead of the default ApplicationData-only
// encoding for every outgoing Add/Change entry.
type UpsyncEncoder interface {
	EncodeUpsyncEntry(enc *Encoder, entry ChangeEntry, outgoing *ChangeBatch) error
}

// InboundEffects is an optional CollectionCodec capability for
// collections whose decoded batch has side effects beyond what Store
// persists. Calendar implements this to enqueue the meeting-invite/
// response/cancellation side effects spec.md §4.G names, once the
// server has actually reported the change; previous is keyed by
// ServerID and built from an optional RecordLookup Store (nil entries
// when the Store doesn't support lookups, or for a server id seen for
// the first time).
type InboundEffects interface {
	OnInboundBatch(ctx context.Context, mailOut MailOut, batch *ChangeBatch, previous map[string]any) error
}
