package calendar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nugget/easync/internal/wbxml"
)

// Recurrence is the wire-shaped (type, interval, occurrences|until,
// dow, dom, wom, moy) tuple the Calendar collection sends for a
// recurring event's <Recurrence> element.
type Recurrence struct {
	Type        int
	Interval    int
	Occurrences int
	Until       string // wire datetime string, empty if Occurrences is used instead
	DayOfWeek   int    // bitmask: bit0=Sun .. bit6=Sat
	DayOfMonth  int
	WeekOfMonth int // 1..4, 5 = last
	MonthOfYear int
}

const (
	recurrenceDaily            = 0
	recurrenceWeekly           = 1
	recurrenceMonthly          = 2
	recurrenceMonthlyByWeekday = 3
	recurrenceYearly           = 5
	recurrenceYearlyByWeekday  = 6
)

var weekdayBits = []struct {
	bit  int
	name string
}{
	{1 << 0, "SU"},
	{1 << 1, "MO"},
	{1 << 2, "TU"},
	{1 << 3, "WE"},
	{1 << 4, "TH"},
	{1 << 5, "FR"},
	{1 << 6, "SA"},
}

// ToRRULE translates a decoded Recurrence into an RFC-5545 RRULE
// string per spec.md §4.G.
func (r Recurrence) ToRRULE() (string, error) {
	var b strings.Builder

	switch r.Type {
	case recurrenceDaily:
		fmt.Fprintf(&b, "FREQ=DAILY;INTERVAL=%d", intervalOrOne(r.Interval))
	case recurrenceWeekly:
		fmt.Fprintf(&b, "FREQ=WEEKLY;INTERVAL=%d", intervalOrOne(r.Interval))
		if days := weekdaySet(r.DayOfWeek); days != "" {
			b.WriteString(";BYDAY=")
			b.WriteString(days)
		}
	case recurrenceMonthly:
		fmt.Fprintf(&b, "FREQ=MONTHLY;INTERVAL=%d;BYMONTHDAY=%d", intervalOrOne(r.Interval), r.DayOfMonth)
	case recurrenceMonthlyByWeekday:
		fmt.Fprintf(&b, "FREQ=MONTHLY;INTERVAL=%d;BYDAY=%s", intervalOrOne(r.Interval), weekOfMonthDay(r.WeekOfMonth, r.DayOfWeek))
	case recurrenceYearly:
		fmt.Fprintf(&b, "FREQ=YEARLY;INTERVAL=%d;BYMONTH=%d;BYMONTHDAY=%d", intervalOrOne(r.Interval), r.MonthOfYear, r.DayOfMonth)
	case recurrenceYearlyByWeekday:
		fmt.Fprintf(&b, "FREQ=YEARLY;INTERVAL=%d;BYMONTH=%d;BYDAY=%s", intervalOrOne(r.Interval), r.MonthOfYear, weekOfMonthDay(r.WeekOfMonth, r.DayOfWeek))
	default:
		return "", fmt.Errorf("calendar: unsupported recurrence type %d", r.Type)
	}

	switch {
	case r.Until != "":
		b.WriteString(";UNTIL=")
		b.WriteString(r.Until)
	case r.Occurrences > 0:
		fmt.Fprintf(&b, ";COUNT=%d", r.Occurrences)
	}

	return b.String(), nil
}

func intervalOrOne(i int) int {
	if i <= 0 {
		return 1
	}
	return i
}

// weekdaySet renders an EAS day-of-week bitmask as a comma-joined
// RRULE BYDAY list in wire bit order (Sunday first).
func weekdaySet(mask int) string {
	var days []string
	for _, wd := range weekdayBits {
		if mask&wd.bit != 0 {
			days = append(days, wd.name)
		}
	}
	return strings.Join(days, ",")
}

func weekOfMonthDay(wom, dowMask int) string {
	prefix := strconv.Itoa(wom)
	if wom == 5 {
		prefix = "-1"
	}
	// EAS encodes a single weekday here, not a set; take the lowest bit.
	for _, wd := range weekdayBits {
		if dowMask&wd.bit != 0 {
			return prefix + wd.name
		}
	}
	return prefix
}

// ParseRRULE is the inverse of ToRRULE: it must be bit-exact for
// round-trip cases per spec.md §4.G.
func ParseRRULE(rrule string) (Recurrence, error) {
	var r Recurrence
	fields := make(map[string]string)
	for _, part := range strings.Split(rrule, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = kv[1]
	}

	r.Interval = 1
	if v, ok := fields["INTERVAL"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Recurrence{}, fmt.Errorf("calendar: invalid INTERVAL %q: %w", v, err)
		}
		r.Interval = n
	}
	if v, ok := fields["UNTIL"]; ok {
		r.Until = v
	}
	if v, ok := fields["COUNT"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Recurrence{}, fmt.Errorf("calendar: invalid COUNT %q: %w", v, err)
		}
		r.Occurrences = n
	}
	if v, ok := fields["BYMONTH"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Recurrence{}, fmt.Errorf("calendar: invalid BYMONTH %q: %w", v, err)
		}
		r.MonthOfYear = n
	}
	if v, ok := fields["BYMONTHDAY"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Recurrence{}, fmt.Errorf("calendar: invalid BYMONTHDAY %q: %w", v, err)
		}
		r.DayOfMonth = n
	}
	if v, ok := fields["BYDAY"]; ok {
		wom, mask := parseByDay(v)
		r.WeekOfMonth = wom
		r.DayOfWeek = mask
	}

	byDay := fields["BYDAY"] != ""

	switch fields["FREQ"] {
	case "DAILY":
		r.Type = recurrenceDaily
	case "WEEKLY":
		r.Type = recurrenceWeekly
	case "MONTHLY":
		if byDay {
			r.Type = recurrenceMonthlyByWeekday
		} else {
			r.Type = recurrenceMonthly
		}
	case "YEARLY":
		if byDay {
			r.Type = recurrenceYearlyByWeekday
		} else {
			r.Type = recurrenceYearly
		}
	default:
		return Recurrence{}, fmt.Errorf("calendar: unsupported RRULE FREQ %q", fields["FREQ"])
	}

	return r, nil
}

// parseByDay parses a single-weekday BYDAY value like "3MO" or "-1FR"
// into (weekOfMonth, dayOfWeek bitmask), or a comma-joined plain
// weekday set like "MO,WE,FR" into (0, bitmask).
func parseByDay(v string) (int, int) {
	var wom int
	var mask int
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		var numPart, dayPart string
		for i, r := range entry {
			if (r < '0' || r > '9') && r != '-' {
				numPart, dayPart = entry[:i], entry[i:]
				break
			}
		}
		if dayPart == "" {
			dayPart = entry
		}
		if numPart != "" {
			n, err := strconv.Atoi(numPart)
			if err == nil {
				if n < 0 {
					wom = 5
				} else {
					wom = n
				}
			}
		}
		for _, wd := range weekdayBits {
			if wd.name == dayPart {
				mask |= wd.bit
			}
		}
	}
	return wom, mask
}

// decodeRecurrence reads a <Recurrence> subtree positioned just after
// its START_TAG.
func decodeRecurrence(dec *wbxml.Decoder) (Recurrence, error) {
	recTag := dec.Tag
	var r Recurrence

	for {
		if err := dec.NextTag(recTag); err != nil {
			return Recurrence{}, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "Recurrence_Type":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.Type = n
		case "Recurrence_Interval":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.Interval = n
		case "Recurrence_Occurrences":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.Occurrences = n
		case "Recurrence_Until":
			v, err := dec.ReadLeafText()
			if err != nil {
				return Recurrence{}, err
			}
			r.Until = v
		case "Recurrence_DayOfWeek":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.DayOfWeek = n
		case "Recurrence_DayOfMonth":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.DayOfMonth = n
		case "Recurrence_WeekOfMonth":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.WeekOfMonth = n
		case "Recurrence_MonthOfYear":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return Recurrence{}, err
			}
			r.MonthOfYear = n
		default:
			if err := dec.SkipTag(); err != nil {
				return Recurrence{}, err
			}
		}
	}

	return r, nil
}

// encodeRecurrence emits a <Recurrence> subtree.
func encodeRecurrence(enc *wbxml.Encoder, r Recurrence) error {
	if err := enc.StartTag("Recurrence"); err != nil {
		return err
	}
	if err := enc.IntElement("Recurrence_Type", r.Type); err != nil {
		return err
	}
	if err := enc.IntElement("Recurrence_Interval", intervalOrOne(r.Interval)); err != nil {
		return err
	}
	switch {
	case r.Until != "":
		if err := enc.Element("Recurrence_Until", r.Until); err != nil {
			return err
		}
	case r.Occurrences > 0:
		if err := enc.IntElement("Recurrence_Occurrences", r.Occurrences); err != nil {
			return err
		}
	}
	if r.DayOfWeek != 0 {
		if err := enc.IntElement("Recurrence_DayOfWeek", r.DayOfWeek); err != nil {
			return err
		}
	}
	if r.DayOfMonth != 0 {
		if err := enc.IntElement("Recurrence_DayOfMonth", r.DayOfMonth); err != nil {
			return err
		}
	}
	if r.WeekOfMonth != 0 {
		if err := enc.IntElement("Recurrence_WeekOfMonth", r.WeekOfMonth); err != nil {
			return err
		}
	}
	if r.MonthOfYear != 0 {
		if err := enc.IntElement("Recurrence_MonthOfYear", r.MonthOfYear); err != nil {
			return err
		}
	}
	return enc.EndTag()
}
