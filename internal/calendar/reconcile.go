package calendar

import (
	"context"
	"fmt"

	"github.com/nugget/easync/internal/sync"
	"github.com/nugget/easync/internal/wbxml"
)

// decodeExceptions reads an <Exceptions> subtree positioned just
// after its START_TAG.
func decodeExceptions(dec *wbxml.Decoder) ([]Exception, error) {
	excsTag := dec.Tag
	var result []Exception

	for {
		if err := dec.NextTag(excsTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		if wbxml.NameOf(dec.Tag) != "Exception" {
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
			continue
		}
		exc, err := decodeException(dec)
		if err != nil {
			return nil, err
		}
		result = append(result, exc)
	}

	return result, nil
}

func decodeException(dec *wbxml.Decoder) (Exception, error) {
	excTag := dec.Tag
	var exc Exception

	for {
		if err := dec.NextTag(excTag); err != nil {
			return Exception{}, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "Exception_StartTime":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Exception{}, err
			}
			if t, parseErr := parseEASDateTime(v); parseErr == nil {
				exc.RecurrenceID = t
			}
		case "Exception_Deleted":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Exception{}, err
			}
			exc.Deleted = n != 0
		case "Subject":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Exception{}, err
			}
			exc.Subject = v
		case "Location":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Exception{}, err
			}
			exc.Location = v
		case "Sensitivity":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Exception{}, err
			}
			exc.Visibility = n
		case "StartTime":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Exception{}, err
			}
			if t, parseErr := parseEASDateTime(v); parseErr == nil {
				exc.StartTime = t
			}
		case "EndTime":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Exception{}, err
			}
			if t, parseErr := parseEASDateTime(v); parseErr == nil {
				exc.EndTime = t
			}
		case "AllDayEvent":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Exception{}, err
			}
			allDay := n != 0
			exc.AllDay = &allDay
		case "TimeZone":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Exception{}, err
			}
			exc.TimeZone = v
		default:
			if err := dec.SkipTag(); err != nil {
				return Exception{}, err
			}
		}
	}

	if exc.Deleted {
		exc.Status = "CANCELED"
	}
	return exc, nil
}

// DirtyEvent pairs an Event with the dirty state of its exceptions,
// the unit spec.md §4.G's two-pass upsync scan operates on.
type DirtyEvent struct {
	UID         string
	Parent      *Event // nil if the parent itself was never decoded (orphaned)
	ParentDirty bool
	Exceptions  []DirtyException
}

// DirtyException is one dirty exception considered during the upsync
// scan's first pass.
type DirtyException struct {
	Exception
	ParentUID string
}

// MarkParentsForDirtyExceptions implements pass one of spec.md §4.G's
// two-pass upsync ordering: every dirty exception marks its parent
// with a secondary-dirty bit (ParentDirty), since EAS only ever sends
// exceptions as children of their parent <Add>/<Change>. An exception
// whose parent isn't in events (the parent was deleted locally) is
// reported separately so the caller can delete the orphan instead of
// upsyncing it.
func MarkParentsForDirtyExceptions(events map[string]*Event, dirtyExceptions []DirtyException) (toUpsync map[string]*DirtyEvent, orphaned []DirtyException) {
	toUpsync = make(map[string]*DirtyEvent)
	for _, de := range dirtyExceptions {
		parent, ok := events[de.ParentUID]
		if !ok {
			orphaned = append(orphaned, de)
			continue
		}
		entry, ok := toUpsync[de.ParentUID]
		if !ok {
			entry = &DirtyEvent{UID: de.ParentUID, Parent: parent, ParentDirty: true}
			toUpsync[de.ParentUID] = entry
		}
		entry.Exceptions = append(entry.Exceptions, de)
	}
	return toUpsync, orphaned
}

// EncodeUpsyncEvent implements pass two of spec.md §4.G's upsync
// ordering: emit ev's <ApplicationData>, followed by an <Exceptions>
// sibling containing every dirty exception as an <Exception> carrying
// its <Exception_StartTime> plus either <Exception_Deleted>1 (deleted)
// or whichever of Subject, StartTime and EndTime it sets; no other
// exception fields are emitted. Callers only
// need to wrap this in the enclosing <Add>/<Change><ServerId>.../...
// structure; ApplicationData's start/end tags are this function's
// responsibility, unlike the bare sync.CollectionCodec contract.
func EncodeUpsyncEvent(enc *wbxml.Encoder, codec *Codec, ev *Event, dirtyExceptions []DirtyException) error {
	if err := enc.StartTag("ApplicationData"); err != nil {
		return err
	}
	if err := codec.EncodeApplicationData(enc, ev); err != nil {
		return err
	}
	if err := enc.EndTag(); err != nil {
		return err
	}
	if len(dirtyExceptions) == 0 {
		return nil
	}
	if err := enc.StartTag("Exceptions"); err != nil {
		return err
	}
	for _, de := range dirtyExceptions {
		if err := enc.StartTag("Exception"); err != nil {
			return err
		}
		if err := enc.Element("Exception_StartTime", formatEASDateTime(de.RecurrenceID)); err != nil {
			return err
		}
		if de.Deleted {
			if err := enc.IntElement("Exception_Deleted", 1); err != nil {
				return err
			}
		} else {
			if de.Subject != "" {
				if err := enc.Element("Subject", de.Subject); err != nil {
					return err
				}
			}
			if !de.StartTime.IsZero() {
				if err := enc.Element("StartTime", formatEASDateTime(de.StartTime)); err != nil {
					return err
				}
			}
			if !de.EndTime.IsZero() {
				if err := enc.Element("EndTime", formatEASDateTime(de.EndTime)); err != nil {
					return err
				}
			}
		}
		if err := enc.EndTag(); err != nil {
			return err
		}
	}
	return enc.EndTag()
}

// ReconcileMeetingInvites inspects a decoded ChangeBatch's Calendar
// events and enqueues the meeting-invite side effects spec.md §4.G
// names onto mailOut: an invite when the organizer dirties an event,
// a response when the local user's self-status changed, and
// cancellations for removed attendees or a deleted organizer-owned
// event. previous supplies the prior stored state for each UID still
// present, so removed-attendee and status-change detection has
// something to diff against; it may be nil entries for events seen
// for the first time.
func ReconcileMeetingInvites(ctx context.Context, mailOut sync.MailOut, batch *sync.ChangeBatch, previous map[string]*Event) error {
	if mailOut == nil {
		return nil
	}

	for _, entry := range batch.Entries {
		ev, ok := entry.Data.(*Event)
		if !ok {
			continue
		}
		prior := previous[ev.UID]
		isOrganizer := ev.MeetingStatus == 1

		switch entry.Op {
		case sync.OpDelete:
			if prior != nil && prior.MeetingStatus == 1 {
				if err := mailOut.SendCancellation(ctx, ev.UID, attendeeEmails(prior.Attendees)); err != nil {
					return fmt.Errorf("calendar: send cancellation for %s: %w", ev.UID, err)
				}
			}
		case sync.OpAdd, sync.OpChange:
			if isOrganizer {
				if err := mailOut.SendInvite(ctx, ev.UID, attendeeEmails(ev.Attendees)); err != nil {
					return fmt.Errorf("calendar: send invite for %s: %w", ev.UID, err)
				}
				if prior != nil {
					if removed := removedAttendees(prior.Attendees, ev.Attendees); len(removed) > 0 {
						if err := mailOut.SendCancellation(ctx, ev.UID, removed); err != nil {
							return fmt.Errorf("calendar: send cancellation for %s: %w", ev.UID, err)
						}
					}
				}
			} else if prior == nil || prior.SelfAttendeeStatus != ev.SelfAttendeeStatus {
				if err := mailOut.SendMeetingResponse(ctx, ev.UID, selfStatusToResponseKind(ev.SelfAttendeeStatus)); err != nil {
					return fmt.Errorf("calendar: send meeting response for %s: %w", ev.UID, err)
				}
			}
		}
	}

	return nil
}

// EncodeUpsyncEntry implements sync.UpsyncEncoder: it runs the
// two-pass scan (MarkParentsForDirtyExceptions) over every Event in
// outgoing, then emits entry through EncodeUpsyncEvent with whatever
// dirty exceptions that scan grouped onto it. Store stages a whole
// Event per row, so every Change/Add entry's current Exceptions are
// the dirty set for that exchange — there is no narrower per-exception
// staging in this Store, so nothing here is ever reported orphaned;
// MarkParentsForDirtyExceptions' orphan path exists for the general
// case of exceptions staged independently of their parent.
func (c *Codec) EncodeUpsyncEntry(enc *sync.Encoder, entry sync.ChangeEntry, outgoing *sync.ChangeBatch) error {
	ev, ok := entry.Data.(*Event)
	if !ok {
		return fmt.Errorf("calendar: cannot encode upsync entry for %T", entry.Data)
	}

	events := make(map[string]*Event)
	var dirty []DirtyException
	for _, e := range outgoing.Entries {
		other, ok := e.Data.(*Event)
		if !ok {
			continue
		}
		events[other.UID] = other
		for _, exc := range other.Exceptions {
			dirty = append(dirty, DirtyException{Exception: exc, ParentUID: other.UID})
		}
	}
	toUpsync, _ := MarkParentsForDirtyExceptions(events, dirty)

	var dirtyExceptions []DirtyException
	if de, ok := toUpsync[ev.UID]; ok {
		dirtyExceptions = de.Exceptions
	}
	return EncodeUpsyncEvent(enc, c, ev, dirtyExceptions)
}

// OnInboundBatch implements sync.InboundEffects: it runs
// ReconcileMeetingInvites against the just-decoded batch. previous is
// keyed by ServerID (the Driver's RecordLookup granularity); this
// re-keys it by UID for ReconcileMeetingInvites and, since EAS Delete
// commands carry no ApplicationData of their own, borrows the prior
// record onto a Delete entry's Data so the organizer-cancels-all path
// can still identify who organized the event being removed.
func (c *Codec) OnInboundBatch(ctx context.Context, mailOut sync.MailOut, batch *sync.ChangeBatch, previousByServerID map[string]any) error {
	previous := make(map[string]*Event, len(previousByServerID))
	for i := range batch.Entries {
		entry := &batch.Entries[i]
		prior, _ := previousByServerID[entry.ServerID].(*Event)
		if prior == nil {
			continue
		}
		if entry.Op == sync.OpDelete && entry.Data == nil {
			entry.Data = prior
		}
		if ev, ok := entry.Data.(*Event); ok {
			previous[ev.UID] = prior
		}
	}
	return ReconcileMeetingInvites(ctx, mailOut, batch, previous)
}

func selfStatusToResponseKind(status int) sync.MeetingResponseKind {
	switch status {
	case StatusBusy:
		return sync.MeetingAccept
	case StatusTentative:
		return sync.MeetingTentative
	default:
		return sync.MeetingDecline
	}
}
