package wbxml

import "testing"

func TestNameOfKnownTokens(t *testing.T) {
	tests := []struct {
		page Page
		tag  byte
		want string
	}{
		{PageAirSync, 5, "Sync"},
		{PageAirSync, 11, "SyncKey"},
		{PageContacts, 31, "FirstName"},
		{PageEmail, 20, "Subject"},
		{PageCalendar, 37, "StartTime"},
		{PageAirSyncBase, 5, "BodyPreference"},
	}
	for _, tt := range tests {
		id := NewTokenId(tt.page, tt.tag)
		if got := NameOf(id); got != tt.want {
			t.Errorf("NameOf(%v,%d) = %q, want %q", tt.page, tt.tag, got, tt.want)
		}
	}
}

func TestNameOfUnknownTokenIsSynthetic(t *testing.T) {
	id := NewTokenId(PageAirSync, 63)
	got := NameOf(id)
	want := "page_0:tag_63"
	if got != want {
		t.Errorf("NameOf(unknown) = %q, want %q", got, want)
	}
}

func TestTokenForRoundTrip(t *testing.T) {
	id, ok := TokenFor("SyncKey")
	if !ok {
		t.Fatal("TokenFor(SyncKey) not found")
	}
	if id.Page() != PageAirSync || id.Tag() != 11 {
		t.Errorf("TokenFor(SyncKey) = page %v tag %d, want AirSync/11", id.Page(), id.Tag())
	}
	if NameOf(id) != "SyncKey" {
		t.Errorf("round trip: NameOf(TokenFor(SyncKey)) = %q", NameOf(id))
	}
}

func TestTokenForUnknownName(t *testing.T) {
	if _, ok := TokenFor("NoSuchElement"); ok {
		t.Error("TokenFor(NoSuchElement) should not be found")
	}
}

func TestPageStringUnassigned(t *testing.T) {
	p := Page(99)
	if got, want := p.String(), "page_99"; got != want {
		t.Errorf("Page(99).String() = %q, want %q", got, want)
	}
}
