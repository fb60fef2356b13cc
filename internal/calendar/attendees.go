package calendar

import "github.com/nugget/easync/internal/wbxml"

// Attendee is one event participant. The organizer is never present
// in the wire <Attendees> list (EAS carries it separately as
// Organizer_Name/Organizer_Email) but is synthesized into this slice
// locally, per spec.md §4.G, so the caller never has to special-case
// "who's the organizer" across two different fields.
type Attendee struct {
	Email        string
	Name         string
	Relationship string // "ORGANIZER" or "ATTENDEE"
	Type         int    // wire Attendee_Type (required/optional/resource)
}

const (
	RelationshipOrganizer = "ORGANIZER"
	RelationshipAttendee  = "ATTENDEE"
)

// maxStoredAttendees bounds the memory and upsync cost of one event's
// attendee list per spec.md §4.G's redaction rule.
const maxStoredAttendees = 50

// Self-attendee/local busy-status values, matching the wire BusyStatus
// enum (0=Free, 1=Tentative, 2=Busy, 3=OutOfOffice).
const (
	StatusFree        = 0
	StatusTentative   = 1
	StatusBusy        = 2
	StatusOutOfOffice = 3
)

// Wire Attendee_Status values (MS-ASCAL): the spec's ACCEPTED/DECLINED/
// OTHER labels are reused here as constant names for readability.
const (
	wireAttendeeStatusTentative = 2
	wireAttendeeStatusAccepted  = 3
	wireAttendeeStatusDeclined  = 4
	wireAttendeeStatusOther     = 5
)

// selfStatusToWire translates a local self-attendee status into the
// wire Attendee_Status value EAS expects on upsync, per spec.md
// §4.G's TENTATIVE↔2, BUSY↔ACCEPTED, FREE↔DECLINED,
// OUT_OF_OFFICE↔OTHER table.
func selfStatusToWire(status int) int {
	switch status {
	case StatusTentative:
		return wireAttendeeStatusTentative
	case StatusBusy:
		return wireAttendeeStatusAccepted
	case StatusFree:
		return wireAttendeeStatusDeclined
	case StatusOutOfOffice:
		return wireAttendeeStatusOther
	default:
		return wireAttendeeStatusOther
	}
}

// wireToSelfStatus is the inverse of selfStatusToWire, used when
// decoding the server's authoritative busy-status channel back into
// the local self-attendee status.
func wireToSelfStatus(wire int) int {
	switch wire {
	case wireAttendeeStatusTentative:
		return StatusTentative
	case wireAttendeeStatusAccepted:
		return StatusBusy
	case wireAttendeeStatusDeclined:
		return StatusFree
	case wireAttendeeStatusOther:
		return StatusOutOfOffice
	default:
		return StatusOutOfOffice
	}
}

// synthesizeOrganizer builds the organizer's Attendee row from the
// wire Organizer_Name/Organizer_Email fields. Returns false if neither
// is present (no organizer to synthesize).
func synthesizeOrganizer(name, email string) (Attendee, bool) {
	if name == "" && email == "" {
		return Attendee{}, false
	}
	return Attendee{Name: name, Email: email, Relationship: RelationshipOrganizer}, true
}

// reconcileAttendees applies spec.md §4.G's redaction rule: if more
// than maxStoredAttendees were sent, none are stored, attendeesRedacted
// is set, and — only when the local user organizes the event — upsync
// is prohibited and the organizer email is replaced with a sentinel so
// an in-app edit can't silently target the wrong mailbox.
func reconcileAttendees(attendees []Attendee, organizerEmail string, isLocalUserOrganizer bool) (kept []Attendee, redacted bool, upsyncProhibited bool, sentinelOrganizerEmail string) {
	if len(attendees) <= maxStoredAttendees {
		return attendees, false, false, organizerEmail
	}
	if isLocalUserOrganizer {
		return nil, true, true, redactedOrganizerSentinel
	}
	return nil, true, false, organizerEmail
}

// redactedOrganizerSentinel replaces a redacted event's organizer
// email so that an accidental in-app edit (the usual way upsync gets
// triggered) can't resolve to a real mailbox once the real attendee
// list has been discarded.
const redactedOrganizerSentinel = "upload_disallowed@uploadisdisallowed.aaa"

// removedAttendees returns the attendees present in before but absent
// from after, matched by email, for the cancellation-to-removed-
// attendee side effect.
func removedAttendees(before, after []Attendee) []string {
	afterSet := make(map[string]bool, len(after))
	for _, a := range after {
		afterSet[a.Email] = true
	}
	var removed []string
	for _, a := range before {
		if a.Relationship == RelationshipOrganizer {
			continue
		}
		if !afterSet[a.Email] {
			removed = append(removed, a.Email)
		}
	}
	return removed
}

// attendeeEmails extracts every non-organizer attendee's email, for
// the invite/cancel-to-all side effects.
func attendeeEmails(attendees []Attendee) []string {
	var emails []string
	for _, a := range attendees {
		if a.Relationship == RelationshipOrganizer {
			continue
		}
		emails = append(emails, a.Email)
	}
	return emails
}

// decodeAttendees reads an <Attendees> subtree positioned just after
// its START_TAG.
func decodeAttendees(dec *wbxml.Decoder) ([]Attendee, error) {
	attsTag := dec.Tag
	var result []Attendee

	for {
		if err := dec.NextTag(attsTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		if wbxml.NameOf(dec.Tag) != "Attendee" {
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
			continue
		}
		att, err := decodeAttendee(dec)
		if err != nil {
			return nil, err
		}
		result = append(result, att)
	}

	return result, nil
}

func decodeAttendee(dec *wbxml.Decoder) (Attendee, error) {
	attTag := dec.Tag
	att := Attendee{Relationship: RelationshipAttendee}

	for {
		if err := dec.NextTag(attTag); err != nil {
			return Attendee{}, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "Attendee_Email":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Attendee{}, err
			}
			att.Email = v
		case "Attendee_Name":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Attendee{}, err
			}
			att.Name = v
		case "Attendee_Type":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Attendee{}, err
			}
			att.Type = n
		default:
			if err := dec.SkipTag(); err != nil {
				return Attendee{}, err
			}
		}
	}

	return att, nil
}

// encodeAttendees emits every non-organizer attendee; per spec.md
// §4.G the organizer is never written into <Attendees>, only via
// Organizer_Name/Organizer_Email.
func encodeAttendees(enc *wbxml.Encoder, attendees []Attendee) error {
	if len(attendeeEmails(attendees)) == 0 {
		return nil
	}
	if err := enc.StartTag("Attendees"); err != nil {
		return err
	}
	for _, a := range attendees {
		if a.Relationship == RelationshipOrganizer {
			continue
		}
		if err := enc.StartTag("Attendee"); err != nil {
			return err
		}
		if err := enc.Element("Attendee_Email", a.Email); err != nil {
			return err
		}
		if err := enc.Element("Attendee_Name", a.Name); err != nil {
			return err
		}
		if err := enc.EndTag(); err != nil {
			return err
		}
	}
	return enc.EndTag()
}
