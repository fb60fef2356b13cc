package folderhierarchy

import (
	"bytes"
	"testing"

	"github.com/nugget/easync/internal/wbxml"
)

func mustEnc(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
}

func TestDecodeResponse(t *testing.T) {
	var buf bytes.Buffer
	enc, err := wbxml.NewEncoder(&buf)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	mustEnc(t, enc.StartTag("FolderSync"))
	mustEnc(t, enc.IntElement("Status", 1))
	mustEnc(t, enc.Element("SyncKey", "1"))
	mustEnc(t, enc.StartTag("Changes"))
	mustEnc(t, enc.StartTag("Add"))
	mustEnc(t, enc.Element("ServerId", "5"))
	mustEnc(t, enc.Element("ParentId", "0"))
	mustEnc(t, enc.Element("DisplayName", "Inbox"))
	mustEnc(t, enc.IntElement("Type", 2))
	mustEnc(t, enc.EndTag())
	mustEnc(t, enc.EndTag())
	mustEnc(t, enc.EndTag())
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	resp, err := DecodeResponse(&buf)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Status != 1 || resp.SyncKey != "1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(resp.Changes))
	}
	c := resp.Changes[0]
	if c.Op != OpAdd || c.ServerID != "5" || c.DisplayName != "Inbox" || c.Type != 2 {
		t.Errorf("change = %+v", c)
	}
}

func TestEncodeRequest(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeRequest(&buf, "0"); err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	dec, err := wbxml.NewDecoder(&buf, nil)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	if err := dec.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if wbxml.NameOf(dec.Tag) != "FolderSync" {
		t.Fatalf("root tag = %v, want FolderSync", wbxml.NameOf(dec.Tag))
	}
}
