// Package contacts implements the EAS Contacts collection's
// Parser/Serializer: it turns a Contacts/Contacts2 <ApplicationData>
// subtree into a Record, and a Record back into outgoing
// ApplicationData on upsync. It implements internal/sync.CollectionCodec;
// the Sync driver never inspects a Record directly.
package contacts

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/easync/internal/sync"
	"github.com/nugget/easync/internal/wbxml"
)

// Record is the canonical decoding of one Contacts/Contacts2 entry.
// Only the fields individually enumerated below are canonicalized; the
// leaf tags in extraLeafTags ride along in Extras, and any other tag
// (Categories, Picture, unknown tags) is skipped.
type Record struct {
	FirstName   string
	MiddleName  string
	LastName    string
	Suffix      string
	Title       string
	JobTitle    string
	CompanyName string
	Department  string
	FileAs      string

	Email1Address string
	Email2Address string
	Email3Address string

	BusinessPhoneNumber  string
	Business2PhoneNumber string
	HomePhoneNumber      string
	Home2PhoneNumber     string
	MobilePhoneNumber    string
	BusinessFaxNumber    string
	HomeFaxNumber        string
	PagerNumber          string
	CarPhoneNumber       string
	RadioPhoneNumber     string

	BusinessAddressStreet     string
	BusinessAddressCity       string
	BusinessAddressState      string
	BusinessAddressPostalCode string
	BusinessAddressCountry    string

	HomeAddressStreet     string
	HomeAddressCity       string
	HomeAddressState      string
	HomeAddressPostalCode string
	HomeAddressCountry    string

	WebPage     string
	Birthday    time.Time
	Anniversary time.Time

	// Extras holds the Contacts/Contacts2 leaf tags listed in
	// extraLeafTags (those not mapped to a field above), formatted as "tag~value~tag~value~…" and round-tripped
	// verbatim on upsync so server-side data this client doesn't model
	// isn't lost.
	Extras string
}

// HasRequiredName reports whether the record satisfies the
// required-display-name rule: a contact is only created when it has
// at least one of a first name, last name, or company name.
func (r *Record) HasRequiredName() bool {
	return r.FirstName != "" || r.LastName != "" || r.CompanyName != ""
}

// Codec implements internal/sync.CollectionCodec for the Contacts
// collection class.
type Codec struct{}

// NewCodec returns a Contacts CollectionCodec.
func NewCodec() *Codec { return &Codec{} }

// Class implements sync.CollectionCodec.
func (c *Codec) Class() string { return "Contacts" }

// RewriteBatch implements sync.BatchRewriter, applying
// RewriteChangesAsRecreate to every decoded Contacts batch before it
// reaches Store.
func (c *Codec) RewriteBatch(batch *sync.ChangeBatch) *sync.ChangeBatch {
	return RewriteChangesAsRecreate(batch)
}

// DecodeApplicationData implements sync.CollectionCodec. dec must be
// positioned just after ApplicationData's START_TAG.
//
// If the decoded record fails the required-display-name rule, this
// returns (nil, nil): the Sync driver's convention for "decoded fine,
// but this Add should not be created" (see internal/sync/driver.go).
func (c *Codec) DecodeApplicationData(dec *wbxml.Decoder) (any, error) {
	appTag := dec.Tag
	rec := &Record{}
	var extras []string

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

		name := wbxml.NameOf(dec.Tag)
		field, ok := canonicalField(rec, name)
		if ok {
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			*field = v
			continue
		}

		switch name {
		case "Birthday":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			if t, parseErr := parseEASDate(v); parseErr == nil {
				rec.Birthday = t
			}
		case "Anniversary":
			v, err := dec.ReadLeafText()
			if err != nil {
				return nil, err
			}
			if t, parseErr := parseEASDate(v); parseErr == nil {
				rec.Anniversary = t
			}
		// Categories/Category: the source parser falls through its case
		// labels into the default skipTag() here rather than collecting
		// the category list. Preserved as observed rather than fixed,
		// per the interop-risk note on this rule.
		case "Categories", "Category":
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		case "Picture":
			// Binary blob; the string-keyed Extras format has no home
			// for it, so it is dropped rather than mis-encoded.
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		default:
			if isExtraLeaf(name) {
				v, err := dec.ReadLeafText()
				if err != nil {
					return nil, err
				}
				extras = append(extras, name, v)
			} else if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		}
	}

	rec.Extras = strings.Join(extras, "~")

	if !rec.HasRequiredName() {
		return nil, nil
	}
	return rec, nil
}

// EncodeApplicationData implements sync.CollectionCodec. Per
// spec.md §4.F, EAS sends full records on upsync, so every canonical
// field plus the preserved Extras tail is emitted.
func (c *Codec) EncodeApplicationData(enc *wbxml.Encoder, record any) error {
	rec, ok := record.(*Record)
	if !ok {
		return fmt.Errorf("contacts: cannot encode application data for %T", record)
	}

	for _, f := range canonicalFieldOrder(rec) {
		if f.value == "" {
			continue
		}
		if err := enc.Element(f.tag, f.value); err != nil {
			return err
		}
	}
	if !rec.Birthday.IsZero() {
		if err := enc.Element("Birthday", formatEASDate(rec.Birthday)); err != nil {
			return err
		}
	}
	if !rec.Anniversary.IsZero() {
		if err := enc.Element("Anniversary", formatEASDate(rec.Anniversary)); err != nil {
			return err
		}
	}
	return encodeExtras(enc, rec.Extras)
}

// canonicalField returns a pointer to the Record field that tag name
// maps to, and whether such a mapping exists.
func canonicalField(rec *Record, name string) (*string, bool) {
	switch name {
	case "FirstName":
		return &rec.FirstName, true
	case "MiddleName":
		return &rec.MiddleName, true
	case "LastName":
		return &rec.LastName, true
	case "Suffix":
		return &rec.Suffix, true
	case "Title":
		return &rec.Title, true
	case "JobTitle":
		return &rec.JobTitle, true
	case "CompanyName":
		return &rec.CompanyName, true
	case "Department":
		return &rec.Department, true
	case "FileAs":
		return &rec.FileAs, true
	case "Email1Address":
		return &rec.Email1Address, true
	case "Email2Address":
		return &rec.Email2Address, true
	case "Email3Address":
		return &rec.Email3Address, true
	case "BusinessPhoneNumber":
		return &rec.BusinessPhoneNumber, true
	case "Business2PhoneNumber":
		return &rec.Business2PhoneNumber, true
	case "HomePhoneNumber":
		return &rec.HomePhoneNumber, true
	case "Home2PhoneNumber":
		return &rec.Home2PhoneNumber, true
	case "MobilePhoneNumber":
		return &rec.MobilePhoneNumber, true
	case "BusinessFaxNumber":
		return &rec.BusinessFaxNumber, true
	case "HomeFaxNumber":
		return &rec.HomeFaxNumber, true
	case "PagerNumber":
		return &rec.PagerNumber, true
	case "CarPhoneNumber":
		return &rec.CarPhoneNumber, true
	case "RadioPhoneNumber":
		return &rec.RadioPhoneNumber, true
	case "BusinessAddressStreet":
		return &rec.BusinessAddressStreet, true
	case "BusinessAddressCity":
		return &rec.BusinessAddressCity, true
	case "BusinessAddressState":
		return &rec.BusinessAddressState, true
	case "BusinessAddressPostalCode":
		return &rec.BusinessAddressPostalCode, true
	case "BusinessAddressCountry":
		return &rec.BusinessAddressCountry, true
	case "HomeAddressStreet":
		return &rec.HomeAddressStreet, true
	case "HomeAddressCity":
		return &rec.HomeAddressCity, true
	case "HomeAddressState":
		return &rec.HomeAddressState, true
	case "HomeAddressPostalCode":
		return &rec.HomeAddressPostalCode, true
	case "HomeAddressCountry":
		return &rec.HomeAddressCountry, true
	case "WebPage":
		return &rec.WebPage, true
	default:
		return nil, false
	}
}

type taggedValue struct {
	tag   string
	value string
}

// canonicalFieldOrder lists every simple-string canonical field in
// wire tag order, for deterministic encode output.
func canonicalFieldOrder(rec *Record) []taggedValue {
	return []taggedValue{
		{"FirstName", rec.FirstName},
		{"MiddleName", rec.MiddleName},
		{"LastName", rec.LastName},
		{"Suffix", rec.Suffix},
		{"Title", rec.Title},
		{"JobTitle", rec.JobTitle},
		{"CompanyName", rec.CompanyName},
		{"Department", rec.Department},
		{"FileAs", rec.FileAs},
		{"Email1Address", rec.Email1Address},
		{"Email2Address", rec.Email2Address},
		{"Email3Address", rec.Email3Address},
		{"BusinessPhoneNumber", rec.BusinessPhoneNumber},
		{"Business2PhoneNumber", rec.Business2PhoneNumber},
		{"HomePhoneNumber", rec.HomePhoneNumber},
		{"Home2PhoneNumber", rec.Home2PhoneNumber},
		{"MobilePhoneNumber", rec.MobilePhoneNumber},
		{"BusinessFaxNumber", rec.BusinessFaxNumber},
		{"HomeFaxNumber", rec.HomeFaxNumber},
		{"PagerNumber", rec.PagerNumber},
		{"CarPhoneNumber", rec.CarPhoneNumber},
		{"RadioPhoneNumber", rec.RadioPhoneNumber},
		{"BusinessAddressStreet", rec.BusinessAddressStreet},
		{"BusinessAddressCity", rec.BusinessAddressCity},
		{"BusinessAddressState", rec.BusinessAddressState},
		{"BusinessAddressPostalCode", rec.BusinessAddressPostalCode},
		{"BusinessAddressCountry", rec.BusinessAddressCountry},
		{"HomeAddressStreet", rec.HomeAddressStreet},
		{"HomeAddressCity", rec.HomeAddressCity},
		{"HomeAddressState", rec.HomeAddressState},
		{"HomeAddressPostalCode", rec.HomeAddressPostalCode},
		{"HomeAddressCountry", rec.HomeAddressCountry},
		{"WebPage", rec.WebPage},
	}
}

// extraLeafTags enumerates the Contacts/Contacts2 tags that are simple
// text leaves but not individually canonicalized; their values are
// accumulated into Record.Extras instead of being dropped.
var extraLeafTags = map[string]bool{
	"AssistantName":          true,
	"AssistantPhoneNumber":   true,
	"OfficeLocation":         true,
	"OtherAddressCity":       true,
	"OtherAddressCountry":    true,
	"OtherAddressPostalCode": true,
	"OtherAddressState":      true,
	"OtherAddressStreet":     true,
	"Spouse":                 true,
	"YomiCompanyName":        true,
	"YomiFirstName":          true,
	"YomiLastName":           true,
	"Alias":                  true,
	"WeightedRank":           true,
	"CustomerId":             true,
	"GovernmentId":           true,
	"IMAddress":              true,
	"IMAddress2":             true,
	"IMAddress3":             true,
	"ManagerName":            true,
	"CompanyMainPhone":       true,
	"AccountName":            true,
	"NickName":               true,
	"MMS":                    true,
}

func isExtraLeaf(name string) bool { return extraLeafTags[name] }

// encodeExtras re-emits each "tag~value" pair in extras as a wire
// element, in the order it was originally decoded.
func encodeExtras(enc *wbxml.Encoder, extras string) error {
	if extras == "" {
		return nil
	}
	parts := strings.Split(extras, "~")
	for i := 0; i+1 < len(parts); i += 2 {
		if err := enc.Element(parts[i], parts[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// easDateLayout is the ISO-8601 form EAS uses for Contacts date fields
// (Birthday, Anniversary): midnight UTC on the given day.
const easDateLayout = "2006-01-02T15:04:05.000Z"

func parseEASDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(easDateLayout, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05Z", v)
}

func formatEASDate(t time.Time) string {
	return t.UTC().Format(easDateLayout)
}

// RewriteChangesAsRecreate implements spec.md §4.F's change-as-recreate
// rule: because EAS always sends a full record on a Change, applying
// one in place would silently keep any locally-added field the server
// didn't re-send. A caller wires this in ahead of Store.ApplyBatch for
// the Contacts collection, splitting each Change into a Delete of the
// old row followed by an Add of the new one.
func RewriteChangesAsRecreate(batch *sync.ChangeBatch) *sync.ChangeBatch {
	out := &sync.ChangeBatch{Collection: batch.Collection}
	for _, entry := range batch.Entries {
		if entry.Op != sync.OpChange {
			out.Entries = append(out.Entries, entry)
			continue
		}
		out.Entries = append(out.Entries,
			sync.ChangeEntry{Op: sync.OpDelete, ServerID: entry.ServerID},
			sync.ChangeEntry{Op: sync.OpAdd, ServerID: entry.ServerID, ClientID: entry.ClientID, Data: entry.Data},
		)
	}
	return out
}
