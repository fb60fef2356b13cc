package contacts

import (
	"bytes"
	"strings"
	"testing"
)

func TestExportImportVCardRoundTrip(t *testing.T) {
	records := []*Record{
		{
			FirstName:     "Ada",
			LastName:      "Lovelace",
			CompanyName:   "Analytical Engines Ltd",
			Email1Address: "ada@example.com",
			WebPage:       "https://example.com/ada",
		},
	}

	var buf bytes.Buffer
	if err := ExportVCard(&buf, records); err != nil {
		t.Fatalf("ExportVCard() error = %v", err)
	}
	if !strings.Contains(buf.String(), "BEGIN:VCARD") {
		t.Fatalf("exported vcard missing BEGIN:VCARD, got %q", buf.String())
	}

	got, err := ImportVCard(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ImportVCard() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].FirstName != "Ada" || got[0].LastName != "Lovelace" {
		t.Errorf("name = %q %q", got[0].FirstName, got[0].LastName)
	}
	if got[0].Email1Address != "ada@example.com" {
		t.Errorf("Email1Address = %q", got[0].Email1Address)
	}
}
