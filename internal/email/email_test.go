package email

import (
	"bytes"
	"testing"

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

func TestDecodeApplicationDataBasicFields(t *testing.T) {
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		must(enc.Element("From", "alice@example.com"))
		must(enc.Element("To", "bob@example.com; carol@example.com"))
		must(enc.Element("Subject", "Status update"))
		must(enc.Element("DateReceived", "2014-03-25T11:22:02.000Z"))
		must(enc.IntElement("Read", 1))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	msg, ok := data.(*Message)
	if !ok {
		t.Fatalf("data type = %T, want *Message", data)
	}

	if msg.From != "alice@example.com" {
		t.Errorf("From = %q", msg.From)
	}
	if len(msg.To) != 2 || msg.To[0] != "bob@example.com" || msg.To[1] != "carol@example.com" {
		t.Errorf("To = %v", msg.To)
	}
	if msg.Subject != "Status update" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !msg.Read {
		t.Error("Read = false, want true")
	}
	if msg.DateReceived.IsZero() {
		t.Error("DateReceived should not be zero")
	}
}

func TestDecodeApplicationDataDropsIncompleteAttachment(t *testing.T) {
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		must(enc.Element("Subject", "Has attachments"))
		must(enc.StartTag("Attachments"))

		// Complete attachment: kept.
		must(enc.StartTag("Attachment"))
		must(enc.Element("DisplayName", "report.pdf"))
		must(enc.Element("FileReference", "ref:1"))
		must(enc.IntElement("EstimatedDataSize", 4096))
		must(enc.EndTag())

		// Missing FileReference: dropped.
		must(enc.StartTag("Attachment"))
		must(enc.Element("DisplayName", "incomplete.pdf"))
		must(enc.IntElement("EstimatedDataSize", 10))
		must(enc.EndTag())

		must(enc.EndTag()) // Attachments
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	msg := data.(*Message)

	if len(msg.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(msg.Attachments))
	}
	if msg.Attachments[0].DisplayName != "report.pdf" {
		t.Errorf("DisplayName = %q", msg.Attachments[0].DisplayName)
	}
	if msg.Attachments[0].Size != 4096 {
		t.Errorf("Size = %d, want 4096", msg.Attachments[0].Size)
	}
}

func TestDecodeApplicationDataPlainTextBody(t *testing.T) {
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		must(enc.StartTag("Body"))
		must(enc.IntElement("Type", int(BodyTypePlainText)))
		must(enc.IntElement("Truncated", 0))
		must(enc.Element("Data", "hello there"))
		must(enc.EndTag())
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	msg := data.(*Message)

	if msg.Body != "hello there" {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.BodyType != BodyTypePlainText {
		t.Errorf("BodyType = %v, want BodyTypePlainText", msg.BodyType)
	}
	if msg.BodyTruncated {
		t.Error("BodyTruncated = true, want false")
	}
}

func TestEncodeApplicationDataReadStatus(t *testing.T) {
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}

	codec := NewCodec()
	if err := codec.EncodeApplicationData(enc, &ReadStatus{Read: true}); err != nil {
		t.Fatalf("EncodeApplicationData() error = %v", err)
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
	if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "Read" {
		t.Fatalf("expected Read START_TAG, got %v %v", dec.Event, wbxml.NameOf(dec.Tag))
	}
	v, err := dec.ReadLeafText()
	if err != nil {
		t.Fatalf("ReadLeafText() error = %v", err)
	}
	if v != "1" {
		t.Errorf("encoded Read value = %q, want %q", v, "1")
	}
}

func TestEncodeApplicationDataRejectsUnknownRecordType(t *testing.T) {
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}

	codec := NewCodec()
	if err := codec.EncodeApplicationData(enc, &Message{}); err == nil {
		t.Fatal("expected error encoding a *Message (only *ReadStatus is upsynced)")
	}
}
