// Package calendar implements the EAS Calendar collection's
// Parser/Serializer: it decodes an <ApplicationData> subtree into an
// Event (with its recurrence rule, exceptions, and attendee list) and
// encodes a locally dirtied Event back into outgoing ApplicationData.
// It implements internal/sync.CollectionCodec; the Sync driver never
// inspects an Event directly.
//
// This is the densest of the three collections: recurrence translation
// (recurrence.go), all-day/timezone handling (time.go), attendee
// reconciliation and redaction (attendees.go), and the two-pass
// exception/parent dirty-marking upsync order (reconcile.go) each get
// their own file.
package calendar

import (
	"fmt"
	"time"

	"github.com/nugget/easync/internal/wbxml"
)

// Event is the canonical decoding of one Calendar entry, inclusive of
// its non-deleted exceptions.
type Event struct {
	UID         string
	Subject     string
	Location    string
	Description string

	OrganizerName  string
	OrganizerEmail string

	AllDay    bool
	StartTime time.Time
	EndTime   time.Time
	TimeZone  string // opaque wire TimeZone blob, preserved verbatim

	BusyStatus  int
	Sensitivity int
	Reminder    int // minutes before start; -1 if unset

	RecurrenceRule string // RFC-5545 RRULE, empty for a non-recurring event
	Duration       string // ISO-8601 DURATION, required alongside RecurrenceRule

	Attendees          []Attendee
	AttendeesRedacted  bool
	UpsyncProhibited   bool
	SelfAttendeeStatus int
	MeetingStatus      int

	// Status mirrors spec.md §4.G's cancellation model: a cancelled
	// exception is marked Status="CANCELED" rather than deleted.
	Status string

	Exceptions []Exception
}

// Exception is one recurrence override. Fields left zero-valued
// inherit from the parent Event via ResolveException; RecurrenceID
// identifies which occurrence this overrides.
type Exception struct {
	RecurrenceID time.Time
	Deleted      bool

	Subject     string
	Location    string
	Description string
	Visibility  int
	TimeZone    string
	AllDay      *bool // nil means "inherit from parent"

	StartTime time.Time
	EndTime   time.Time
	Status    string
}

// ResolveException returns the effective Event an exception renders
// as, by filling every zero-valued overridable field from parent. Per
// spec.md §4.G: organizer, title, description, visibility, timezone,
// all-day, and event-location are inherited unless overridden.
func ResolveException(parent *Event, exc *Exception) *Event {
	resolved := *parent
	resolved.Exceptions = nil

	if exc.Subject != "" {
		resolved.Subject = exc.Subject
	}
	if exc.Location != "" {
		resolved.Location = exc.Location
	}
	if exc.Description != "" {
		resolved.Description = exc.Description
	}
	if exc.Visibility != 0 {
		resolved.Sensitivity = exc.Visibility
	}
	if exc.TimeZone != "" {
		resolved.TimeZone = exc.TimeZone
	}
	if exc.AllDay != nil {
		resolved.AllDay = *exc.AllDay
	}
	if !exc.StartTime.IsZero() {
		resolved.StartTime = exc.StartTime
	}
	if !exc.EndTime.IsZero() {
		resolved.EndTime = exc.EndTime
	}
	if exc.Status != "" {
		resolved.Status = exc.Status
	}
	resolved.RecurrenceRule = ""
	resolved.Duration = ""
	return &resolved
}

// Codec implements internal/sync.CollectionCodec for the Calendar
// collection class.
type Codec struct{}

// NewCodec returns a Calendar CollectionCodec.
func NewCodec() *Codec { return &Codec{} }

// Class implements sync.CollectionCodec.
func (c *Codec) Class() string { return "Calendar" }

// DecodeApplicationData implements sync.CollectionCodec. dec must be
// positioned just after ApplicationData's START_TAG.
func (c *Codec) DecodeApplicationData(dec *wbxml.Decoder) (any, error) {
	appTag := dec.Tag
	ev := &Event{Reminder: -1}
	var rec Recurrence
	var haveRecurrence bool
	var organizerName, organizerEmail string
	var attendees []Attendee
	var wireAllDay bool

	for {
		if err := dec.NextTag(appTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}

		switch wbxml.NameOf(dec.Tag) {
		case "UID":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			ev.UID = v
		case "Subject":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			ev.Subject = v
		case "Location":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			ev.Location = v
		case "Compressed_RTF":
			// The wire value is actually LZ-compressed RTF (MS-OXRTFCP);
			// decompressing it is out of scope, so the opaque payload
			// rides along as-is and is only ever round-tripped, never
			// rendered.
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			ev.Description = v
		case "Organizer_Name":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			organizerName = v
		case "Organizer_Email":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			organizerEmail = v
		case "AllDayEvent":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			wireAllDay = n != 0
		case "StartTime":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			t, parseErr := parseEASDateTime(v)
			if parseErr == nil {
				ev.StartTime = t
			}
		case "EndTime":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			t, parseErr := parseEASDateTime(v)
			if parseErr == nil {
				ev.EndTime = t
			}
		case "TimeZone":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			ev.TimeZone = v
		case "BusyStatus":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			ev.BusyStatus = n
		case "Sensitivity":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			ev.Sensitivity = n
		case "Reminder":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			ev.Reminder = n
		case "MeetingStatus":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			ev.MeetingStatus = n
		case "Attendee_Status":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			ev.SelfAttendeeStatus = wireToSelfStatus(n)
		case "Attendees":
			atts, err := decodeAttendees(dec)
			if err != nil {
				return nil, err
			}
			attendees = atts
		case "Recurrence":
			r, err := decodeRecurrence(dec)
			if err != nil {
				return nil, err
			}
			rec = r
			haveRecurrence = true
		case "Exceptions":
			excs, err := decodeExceptions(dec)
			if err != nil {
				return nil, err
			}
			ev.Exceptions = excs
		default:
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		}
	}

	// The timezone blob itself is opaque (see Compressed_RTF above), so
	// the quirk check runs against UTC rather than the event's actual
	// local zone; this still catches the common case of a server
	// sending a non-midnight "all-day" start.
	ev.AllDay = resolveAllDay(ev.StartTime, wireAllDay, time.UTC)

	if organizer, ok := synthesizeOrganizer(organizerName, organizerEmail); ok {
		ev.OrganizerName, ev.OrganizerEmail = organizerName, organizerEmail
		attendees = append([]Attendee{organizer}, attendees...)
	}

	// MeetingStatus==1 is MS-ASCAL's "meeting, local user is organizer".
	isLocalOrganizer := ev.MeetingStatus == 1
	kept, redacted, prohibited, sentinelEmail := reconcileAttendees(attendees, organizerEmail, isLocalOrganizer)
	ev.Attendees = kept
	ev.AttendeesRedacted = redacted
	ev.UpsyncProhibited = prohibited
	if redacted && prohibited {
		ev.OrganizerEmail = sentinelEmail
	}

	if haveRecurrence {
		rrule, err := rec.ToRRULE()
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		ev.RecurrenceRule = rrule
		ev.Duration = durationISO8601(ev.EndTime.Sub(ev.StartTime), ev.AllDay)
	}

	return ev, nil
}

// EncodeApplicationData implements sync.CollectionCodec.
func (c *Codec) EncodeApplicationData(enc *wbxml.Encoder, record any) error {
	ev, ok := record.(*Event)
	if !ok {
		return fmt.Errorf("calendar: cannot encode application data for %T", record)
	}

	if err := enc.Element("UID", ev.UID); err != nil {
		return err
	}
	if err := enc.Element("Subject", ev.Subject); err != nil {
		return err
	}
	if ev.Location != "" {
		if err := enc.Element("Location", ev.Location); err != nil {
			return err
		}
	}
	if err := enc.IntElement("AllDayEvent", boolToInt(ev.AllDay)); err != nil {
		return err
	}
	if err := enc.Element("StartTime", formatEASDateTime(ev.StartTime)); err != nil {
		return err
	}
	if err := enc.Element("EndTime", formatEASDateTime(ev.EndTime)); err != nil {
		return err
	}
	if err := enc.IntElement("BusyStatus", ev.BusyStatus); err != nil {
		return err
	}
	if ev.UpsyncProhibited {
		return fmt.Errorf("calendar: upsync prohibited for redacted event %s", ev.UID)
	}
	if ev.OrganizerName != "" || ev.OrganizerEmail != "" {
		if err := enc.Element("Organizer_Name", ev.OrganizerName); err != nil {
			return err
		}
		if err := enc.Element("Organizer_Email", ev.OrganizerEmail); err != nil {
			return err
		}
	}
	if err := encodeAttendees(enc, ev.Attendees); err != nil {
		return err
	}
	if ev.RecurrenceRule != "" {
		rec, err := ParseRRULE(ev.RecurrenceRule)
		if err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
		if err := encodeRecurrence(enc, rec); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
