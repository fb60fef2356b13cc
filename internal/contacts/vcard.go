package contacts

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-vcard"
)

// ExportVCard writes records to w as a vCard 4.0 stream, one card per
// Record, for the reference Store's backup/restore path — a local
// mirror of the Contacts collection is otherwise opaque JSON, and an
// operator recovering from a corrupted database needs something a
// phone or desktop contacts app can import directly.
func ExportVCard(w io.Writer, records []*Record) error {
	enc := vcard.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(recordToCard(rec)); err != nil {
			return fmt.Errorf("contacts: encode vcard: %w", err)
		}
	}
	return nil
}

// ImportVCard reads a vCard stream back into Records. It restores
// names, organization, job title, web page, up to three email
// addresses, birthday and anniversary; only the first TEL is kept (as
// BusinessPhoneNumber) and only the first ADR (as the business
// address), so the other phone numbers and the home address written by
// ExportVCard are not restored, and Extras is never reconstructed.
func ImportVCard(r io.Reader) ([]*Record, error) {
	dec := vcard.NewDecoder(r)
	var records []*Record
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("contacts: decode vcard: %w", err)
		}
		records = append(records, cardToRecord(card))
	}
	return records, nil
}

func recordToCard(rec *Record) vcard.Card {
	card := make(vcard.Card)
	card.AddValue(vcard.FieldVersion, "4.0")
	card.AddValue(vcard.FieldName, strings.Join([]string{
		rec.LastName, rec.FirstName, rec.MiddleName, rec.Title, rec.Suffix,
	}, ";"))

	fn := strings.TrimSpace(strings.Join([]string{rec.FirstName, rec.MiddleName, rec.LastName}, " "))
	if fn == "" {
		fn = rec.CompanyName
	}
	card.AddValue(vcard.FieldFormattedName, fn)

	if rec.CompanyName != "" || rec.Department != "" {
		card.AddValue(vcard.FieldOrganization, strings.Join([]string{rec.CompanyName, rec.Department}, ";"))
	}
	if rec.JobTitle != "" {
		card.AddValue(vcard.FieldTitle, rec.JobTitle)
	}
	for _, email := range []string{rec.Email1Address, rec.Email2Address, rec.Email3Address} {
		if email != "" {
			card.AddValue(vcard.FieldEmail, email)
		}
	}
	for _, tel := range []string{
		rec.BusinessPhoneNumber, rec.Business2PhoneNumber, rec.HomePhoneNumber,
		rec.Home2PhoneNumber, rec.MobilePhoneNumber, rec.BusinessFaxNumber,
		rec.HomeFaxNumber, rec.PagerNumber, rec.CarPhoneNumber, rec.RadioPhoneNumber,
	} {
		if tel != "" {
			card.AddValue(vcard.FieldTelephone, tel)
		}
	}
	if hasAny(rec.BusinessAddressStreet, rec.BusinessAddressCity, rec.BusinessAddressState, rec.BusinessAddressPostalCode, rec.BusinessAddressCountry) {
		card.AddValue(vcard.FieldAddress, strings.Join([]string{
			"", "", rec.BusinessAddressStreet, rec.BusinessAddressCity,
			rec.BusinessAddressState, rec.BusinessAddressPostalCode, rec.BusinessAddressCountry,
		}, ";"))
	}
	if hasAny(rec.HomeAddressStreet, rec.HomeAddressCity, rec.HomeAddressState, rec.HomeAddressPostalCode, rec.HomeAddressCountry) {
		card.AddValue(vcard.FieldAddress, strings.Join([]string{
			"", "", rec.HomeAddressStreet, rec.HomeAddressCity,
			rec.HomeAddressState, rec.HomeAddressPostalCode, rec.HomeAddressCountry,
		}, ";"))
	}
	if rec.WebPage != "" {
		card.AddValue(vcard.FieldURL, rec.WebPage)
	}
	if !rec.Birthday.IsZero() {
		card.AddValue(vcard.FieldBirthday, rec.Birthday.Format("2006-01-02"))
	}
	if !rec.Anniversary.IsZero() {
		card.AddValue(vcard.FieldAnniversary, rec.Anniversary.Format("2006-01-02"))
	}
	return card
}

func cardToRecord(card vcard.Card) *Record {
	rec := &Record{}
	if n := card.Value(vcard.FieldName); n != "" {
		parts := strings.Split(n, ";")
		if len(parts) > 0 {
			rec.LastName = parts[0]
		}
		if len(parts) > 1 {
			rec.FirstName = parts[1]
		}
		if len(parts) > 2 {
			rec.MiddleName = parts[2]
		}
		if len(parts) > 3 {
			rec.Title = parts[3]
		}
		if len(parts) > 4 {
			rec.Suffix = parts[4]
		}
	}
	if org := card.Value(vcard.FieldOrganization); org != "" {
		parts := strings.SplitN(org, ";", 2)
		rec.CompanyName = parts[0]
		if len(parts) > 1 {
			rec.Department = parts[1]
		}
	}
	rec.JobTitle = card.Value(vcard.FieldTitle)
	rec.WebPage = card.Value(vcard.FieldURL)

	if emails := card[vcard.FieldEmail]; len(emails) > 0 {
		rec.Email1Address = emails[0].Value
		if len(emails) > 1 {
			rec.Email2Address = emails[1].Value
		}
		if len(emails) > 2 {
			rec.Email3Address = emails[2].Value
		}
	}
	if tels := card[vcard.FieldTelephone]; len(tels) > 0 {
		rec.BusinessPhoneNumber = tels[0].Value
	}
	if addrs := card[vcard.FieldAddress]; len(addrs) > 0 {
		fillAddress(addrs[0].Value, &rec.BusinessAddressStreet, &rec.BusinessAddressCity,
			&rec.BusinessAddressState, &rec.BusinessAddressPostalCode, &rec.BusinessAddressCountry)
	}
	if bday := card.Value(vcard.FieldBirthday); bday != "" {
		if t, err := parseEASDate(bday + "T00:00:00.000Z"); err == nil {
			rec.Birthday = t
		}
	}
	if anniv := card.Value(vcard.FieldAnniversary); anniv != "" {
		if t, err := parseEASDate(anniv + "T00:00:00.000Z"); err == nil {
			rec.Anniversary = t
		}
	}
	return rec
}

func fillAddress(raw string, street, city, state, postalCode, country *string) {
	parts := strings.Split(raw, ";")
	get := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	*street = get(2)
	*city = get(3)
	*state = get(4)
	*postalCode = get(5)
	*country = get(6)
}

func hasAny(values ...string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}
