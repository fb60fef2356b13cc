package sync

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a Driver's cooperative cancellation
// signal (the context passed to RunOnce) fires mid-exchange. It is a
// sentinel rather than a wrapped context error so callers can
// errors.Is(err, ErrCancelled) without caring whether the cancellation
// came from context.Canceled or context.DeadlineExceeded.
var ErrCancelled = errors.New("sync: cancelled")

// DecodeError wraps an internal/wbxml decode failure encountered while
// reading a Sync response, identifying which collection it happened
// on so a multi-collection caller can log which folder misbehaved.
type DecodeError struct {
	Collection string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sync: decode error on collection %s: %v", e.Collection, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError reports a response whose shape doesn't match what the
// state machine expects at that point — an element appearing out of
// order, a required child missing — as distinct from a malformed byte
// stream (DecodeError) or a server-reported failure (ServerStatusError).
type ProtocolError struct {
	Collection string
	Expected   string
	Got        string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sync: protocol error on collection %s: expected %s, got %s",
		e.Collection, e.Expected, e.Got)
}

// ServerStatusError reports a non-success <Status> code the server
// returned for an element. Status 1 (success) never produces one; the
// disposition for the rest is documented where RunOnce interprets this
// error — see DESIGN.md's Open Question (b) for status codes outside
// the {1, 3, 8} set this module gives special handling to.
type ServerStatusError struct {
	Collection string
	Element    string
	Status     int
}

func (e *ServerStatusError) Error() string {
	return fmt.Sprintf("sync: collection %s: %s status %d", e.Collection, e.Element, e.Status)
}

// Well-known EAS Sync status codes this package branches on directly.
const (
	StatusSuccess        = 1
	StatusInvalidSyncKey = 3
	StatusStaleFolderID  = 8
)

// StoreError wraps a failure applying a decoded ChangeBatch to the
// local Store — the record survived decode but couldn't be persisted.
type StoreError struct {
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("sync: store error on collection %s: %v", e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
