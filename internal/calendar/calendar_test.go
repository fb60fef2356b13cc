package calendar

import (
	"bytes"
	"testing"
	"time"

	"github.com/nugget/easync/internal/wbxml"
)

func encodeApplicationData(t *testing.T, build func(enc *wbxml.Encoder)) *wbxml.Decoder {
	t.Helper()
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	if err := enc.StartTag("ApplicationData"); err != nil {
		t.Fatalf("StartTag() error = %v", err)
	}
	build(enc)
	if err := enc.EndTag(); err != nil {
		t.Fatalf("EndTag() error = %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	dec, err := wbxml.NewDecoder(&buf, nil)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	if err := dec.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "ApplicationData" {
		t.Fatalf("expected ApplicationData START_TAG, got %v %v", dec.Event, wbxml.NameOf(dec.Tag))
	}
	return dec
}

func mustEnc(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
}

func TestDecodeApplicationDataBasicFields(t *testing.T) {
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		mustEnc(t, enc.Element("UID", "event-1"))
		mustEnc(t, enc.Element("Subject", "Standup"))
		mustEnc(t, enc.Element("Location", "Room 4"))
		mustEnc(t, enc.IntElement("AllDayEvent", 0))
		mustEnc(t, enc.Element("StartTime", "20260801T090000Z"))
		mustEnc(t, enc.Element("EndTime", "20260801T093000Z"))
		mustEnc(t, enc.IntElement("BusyStatus", 2))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	ev, ok := data.(*Event)
	if !ok {
		t.Fatalf("data type = %T, want *Event", data)
	}

	if ev.UID != "event-1" || ev.Subject != "Standup" || ev.Location != "Room 4" {
		t.Errorf("basic fields = %+v", ev)
	}
	if ev.AllDay {
		t.Error("AllDay = true, want false")
	}
	if ev.BusyStatus != 2 {
		t.Errorf("BusyStatus = %d, want 2", ev.BusyStatus)
	}
	wantStart, _ := time.Parse(easDateTimeLayout, "20260801T090000Z")
	if !ev.StartTime.Equal(wantStart) {
		t.Errorf("StartTime = %v, want %v", ev.StartTime, wantStart)
	}
}

func TestDecodeApplicationDataAllDayMidnightQuirk(t *testing.T) {
	// Server claims all-day but the start isn't actually midnight UTC,
	// so the quirk check should downgrade it to a timed event.
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		mustEnc(t, enc.Element("UID", "event-2"))
		mustEnc(t, enc.Element("Subject", "Not really all day"))
		mustEnc(t, enc.IntElement("AllDayEvent", 1))
		mustEnc(t, enc.Element("StartTime", "20260801T150000Z"))
		mustEnc(t, enc.Element("EndTime", "20260801T160000Z"))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	ev := data.(*Event)
	if ev.AllDay {
		t.Error("AllDay = true, want false (server start wasn't midnight)")
	}
}

func TestDecodeApplicationDataAllDayGenuine(t *testing.T) {
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		mustEnc(t, enc.Element("UID", "event-3"))
		mustEnc(t, enc.Element("Subject", "Holiday"))
		mustEnc(t, enc.IntElement("AllDayEvent", 1))
		mustEnc(t, enc.Element("StartTime", "20260801T000000Z"))
		mustEnc(t, enc.Element("EndTime", "20260802T000000Z"))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	ev := data.(*Event)
	if !ev.AllDay {
		t.Error("AllDay = false, want true (start genuinely is midnight UTC)")
	}
}

func TestDecodeApplicationDataOrganizerSynthesizedAsAttendee(t *testing.T) {
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		mustEnc(t, enc.Element("UID", "event-4"))
		mustEnc(t, enc.Element("Subject", "Planning"))
		mustEnc(t, enc.Element("Organizer_Name", "Ada Lovelace"))
		mustEnc(t, enc.Element("Organizer_Email", "ada@example.com"))
		mustEnc(t, enc.IntElement("MeetingStatus", 1))
		mustEnc(t, enc.StartTag("Attendees"))
		mustEnc(t, enc.StartTag("Attendee"))
		mustEnc(t, enc.Element("Attendee_Email", "grace@example.com"))
		mustEnc(t, enc.Element("Attendee_Name", "Grace Hopper"))
		mustEnc(t, enc.EndTag())
		mustEnc(t, enc.EndTag())
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	ev := data.(*Event)

	if len(ev.Attendees) != 2 {
		t.Fatalf("got %d attendees, want 2 (synthesized organizer + one real attendee)", len(ev.Attendees))
	}
	if ev.Attendees[0].Relationship != RelationshipOrganizer || ev.Attendees[0].Email != "ada@example.com" {
		t.Errorf("attendees[0] = %+v, want synthesized organizer", ev.Attendees[0])
	}
	if ev.Attendees[1].Email != "grace@example.com" {
		t.Errorf("attendees[1] = %+v, want grace@example.com", ev.Attendees[1])
	}
}

func TestDecodeApplicationDataRedactsLargeAttendeeListAndProhibitsUpsync(t *testing.T) {
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		mustEnc(t, enc.Element("UID", "event-5"))
		mustEnc(t, enc.Element("Subject", "All hands"))
		mustEnc(t, enc.Element("Organizer_Name", "Ada Lovelace"))
		mustEnc(t, enc.Element("Organizer_Email", "ada@example.com"))
		mustEnc(t, enc.IntElement("MeetingStatus", 1))
		mustEnc(t, enc.StartTag("Attendees"))
		for i := 0; i < 60; i++ {
			mustEnc(t, enc.StartTag("Attendee"))
			mustEnc(t, enc.Element("Attendee_Email", "person@example.com"))
			mustEnc(t, enc.EndTag())
		}
		mustEnc(t, enc.EndTag())
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	ev := data.(*Event)

	if !ev.AttendeesRedacted {
		t.Error("AttendeesRedacted = false, want true")
	}
	if len(ev.Attendees) != 0 {
		t.Errorf("got %d attendees, want 0 after redaction", len(ev.Attendees))
	}
	if !ev.UpsyncProhibited {
		t.Error("UpsyncProhibited = false, want true (local user is organizer)")
	}
	if ev.OrganizerEmail != redactedOrganizerSentinel {
		t.Errorf("OrganizerEmail = %q, want sentinel", ev.OrganizerEmail)
	}
}

func TestDecodeApplicationDataRecurrenceRoundTrip(t *testing.T) {
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		mustEnc(t, enc.Element("UID", "event-6"))
		mustEnc(t, enc.Element("Subject", "Weekly sync"))
		mustEnc(t, enc.Element("StartTime", "20260803T090000Z"))
		mustEnc(t, enc.Element("EndTime", "20260803T093000Z"))
		mustEnc(t, enc.StartTag("Recurrence"))
		mustEnc(t, enc.IntElement("Recurrence_Type", recurrenceWeekly))
		mustEnc(t, enc.IntElement("Recurrence_Interval", 1))
		mustEnc(t, enc.IntElement("Recurrence_DayOfWeek", 1<<1))
		mustEnc(t, enc.EndTag())
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	ev := data.(*Event)

	if ev.RecurrenceRule != "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO" {
		t.Errorf("RecurrenceRule = %q", ev.RecurrenceRule)
	}
	if ev.Duration != "P30M" {
		t.Errorf("Duration = %q, want P30M", ev.Duration)
	}

	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	if err := codec.EncodeApplicationData(enc, ev); err != nil {
		t.Fatalf("EncodeApplicationData() error = %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	redec, err := wbxml.NewDecoder(&buf, nil)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	var sawRecurrenceType bool
	for {
		if err := redec.Next(); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if redec.Event == wbxml.EventStartTag && wbxml.NameOf(redec.Tag) == "Recurrence_Type" {
			n, err := redec.ReadLeafInt()
			if err != nil {
				t.Fatalf("ReadLeafInt() error = %v", err)
			}
			if n != recurrenceWeekly {
				t.Errorf("re-encoded Recurrence_Type = %d, want %d", n, recurrenceWeekly)
			}
			sawRecurrenceType = true
			break
		}
	}
	if !sawRecurrenceType {
		t.Fatal("expected re-encoded stream to contain Recurrence_Type")
	}
}

func TestEncodeApplicationDataRejectsUnknownRecordType(t *testing.T) {
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	codec := NewCodec()
	if err := codec.EncodeApplicationData(enc, "not an event"); err == nil {
		t.Fatal("expected error encoding a non-*Event value")
	}
}

func TestEncodeApplicationDataRejectsUpsyncProhibited(t *testing.T) {
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	codec := NewCodec()
	ev := &Event{UID: "event-7", Subject: "Redacted", UpsyncProhibited: true}
	if err := codec.EncodeApplicationData(enc, ev); err == nil {
		t.Fatal("expected error encoding an UpsyncProhibited event")
	}
}

func TestResolveExceptionInheritsFromParent(t *testing.T) {
	parent := &Event{
		UID:            "event-8",
		Subject:        "Weekly sync",
		Location:       "Room 4",
		OrganizerEmail: "ada@example.com",
		Sensitivity:    0,
		AllDay:         false,
	}
	exc := &Exception{
		RecurrenceID: time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC),
		Subject:      "Weekly sync (moved)",
	}

	resolved := ResolveException(parent, exc)
	if resolved.Subject != "Weekly sync (moved)" {
		t.Errorf("Subject = %q, want override", resolved.Subject)
	}
	if resolved.Location != "Room 4" {
		t.Errorf("Location = %q, want inherited", resolved.Location)
	}
	if resolved.OrganizerEmail != "ada@example.com" {
		t.Errorf("OrganizerEmail = %q, want inherited", resolved.OrganizerEmail)
	}
}

func TestResolveExceptionCancellation(t *testing.T) {
	parent := &Event{UID: "event-9", Subject: "Standup"}
	exc := &Exception{RecurrenceID: time.Now().UTC(), Deleted: true, Status: "CANCELED"}

	resolved := ResolveException(parent, exc)
	if resolved.Status != "CANCELED" {
		t.Errorf("Status = %q, want CANCELED", resolved.Status)
	}
	if resolved.Subject != "Standup" {
		t.Errorf("Subject = %q, want inherited from parent even when cancelled", resolved.Subject)
	}
}
