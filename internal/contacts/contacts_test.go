package contacts

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nugget/easync/internal/sync"
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

func TestDecodeApplicationDataCanonicalFields(t *testing.T) {
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		must(enc.Element("FirstName", "Ada"))
		must(enc.Element("LastName", "Lovelace"))
		must(enc.Element("CompanyName", "Analytical Engines Ltd"))
		must(enc.Element("Email1Address", "ada@example.com"))
		must(enc.Element("NickName", "Countess"))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	rec, ok := data.(*Record)
	if !ok {
		t.Fatalf("data type = %T, want *Record", data)
	}

	if rec.FirstName != "Ada" || rec.LastName != "Lovelace" {
		t.Errorf("name = %q %q", rec.FirstName, rec.LastName)
	}
	if rec.CompanyName != "Analytical Engines Ltd" {
		t.Errorf("CompanyName = %q", rec.CompanyName)
	}
	if rec.Email1Address != "ada@example.com" {
		t.Errorf("Email1Address = %q", rec.Email1Address)
	}
	if !strings.Contains(rec.Extras, "NickName~Countess") {
		t.Errorf("Extras = %q, want to contain NickName~Countess", rec.Extras)
	}
}

func TestDecodeApplicationDataRequiresName(t *testing.T) {
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		must(enc.Element("Email1Address", "noname@example.com"))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data for a record with no first/last/company name, got %#v", data)
	}
}

func TestDecodeApplicationDataSkipsCategories(t *testing.T) {
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	dec := encodeApplicationData(t, func(enc *wbxml.Encoder) {
		must(enc.Element("FirstName", "Grace"))
		must(enc.StartTag("Categories"))
		must(enc.StartTag("Category"))
		must(enc.Text("VIP"))
		must(enc.EndTag()) // Category
		must(enc.EndTag()) // Categories
		must(enc.Element("LastName", "Hopper"))
	})

	codec := NewCodec()
	data, err := codec.DecodeApplicationData(dec)
	if err != nil {
		t.Fatalf("DecodeApplicationData() error = %v", err)
	}
	rec := data.(*Record)
	if rec.LastName != "Hopper" {
		t.Errorf("decode should continue past Categories; LastName = %q", rec.LastName)
	}
	if strings.Contains(rec.Extras, "VIP") {
		t.Errorf("Categories should not be preserved in Extras, got %q", rec.Extras)
	}
}

func TestEncodeApplicationDataRoundTripsExtras(t *testing.T) {
	rec := &Record{
		FirstName: "Margaret",
		LastName:  "Hamilton",
		Extras:    "NickName~Margie~IMAddress~margie@example.com",
	}

	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	codec := NewCodec()
	if err := codec.EncodeApplicationData(enc, rec); err != nil {
		t.Fatalf("EncodeApplicationData() error = %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	dec, err := wbxml.NewDecoder(&buf, nil)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	var sawNickName bool
	for {
		if err := dec.Next(); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if dec.Event == wbxml.EventStartTag && wbxml.NameOf(dec.Tag) == "NickName" {
			v, err := dec.ReadLeafText()
			if err != nil {
				t.Fatalf("ReadLeafText() error = %v", err)
			}
			if v != "Margie" {
				t.Errorf("NickName = %q, want Margie", v)
			}
			sawNickName = true
			break
		}
	}
	if !sawNickName {
		t.Fatal("expected encoded stream to contain NickName from Extras")
	}
}

func TestEncodeApplicationDataRejectsUnknownRecordType(t *testing.T) {
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	codec := NewCodec()
	if err := codec.EncodeApplicationData(enc, "not a record"); err == nil {
		t.Fatal("expected error encoding a non-*Record value")
	}
}

func TestRewriteChangesAsRecreate(t *testing.T) {
	batch := &sync.ChangeBatch{
		Collection: sync.Collection{Class: "Contacts"},
		Entries: []sync.ChangeEntry{
			{Op: sync.OpChange, ServerID: "5:1", Data: &Record{FirstName: "New"}},
			{Op: sync.OpDelete, ServerID: "5:2"},
		},
	}

	out := RewriteChangesAsRecreate(batch)
	if len(out.Entries) != 3 {
		t.Fatalf("got %d entries, want 3 (delete+add for the Change, plus the original Delete)", len(out.Entries))
	}
	if out.Entries[0].Op != sync.OpDelete || out.Entries[0].ServerID != "5:1" {
		t.Errorf("entries[0] = %+v, want Delete 5:1", out.Entries[0])
	}
	if out.Entries[1].Op != sync.OpAdd || out.Entries[1].ServerID != "5:1" {
		t.Errorf("entries[1] = %+v, want Add 5:1", out.Entries[1])
	}
	if out.Entries[2].Op != sync.OpDelete || out.Entries[2].ServerID != "5:2" {
		t.Errorf("entries[2] = %+v, want the original Delete 5:2 untouched", out.Entries[2])
	}
}

func TestCodecRewriteBatchMatchesRewriteChangesAsRecreate(t *testing.T) {
	batch := &sync.ChangeBatch{
		Collection: sync.Collection{Class: "Contacts"},
		Entries: []sync.ChangeEntry{
			{Op: sync.OpChange, ServerID: "5:1", Data: &Record{FirstName: "New"}},
		},
	}

	codec := NewCodec()
	var rw sync.BatchRewriter = codec
	out := rw.RewriteBatch(batch)
	if len(out.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 (delete+add)", len(out.Entries))
	}
	if out.Entries[0].Op != sync.OpDelete || out.Entries[1].Op != sync.OpAdd {
		t.Errorf("entries = %+v, want Delete then Add", out.Entries)
	}
}
