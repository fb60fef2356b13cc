package calendar

import (
	"fmt"
	"time"
)

// easDateTimeLayout is the compact ISO-8601 form EAS uses for
// Calendar StartTime/EndTime/DTStamp fields, e.g. "20140325T112202Z".
const easDateTimeLayout = "20060102T150405Z"

func parseEASDateTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(easDateTimeLayout, v); err == nil {
		return t, nil
	}
	// Tolerate the dashed ISO-8601-with-milliseconds form other EAS
	// elements (Email's DateReceived) use, in case a server mixes styles.
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05Z", v)
}

func formatEASDateTime(t time.Time) string {
	return t.UTC().Format(easDateTimeLayout)
}

// resolveAllDay implements spec.md §4.G's all-day quirk: the server
// sends local midnight for an all-day event's start. If, translated
// into the event's own time zone, that instant is not local midnight,
// the server lied about it being all-day and this downgrades to a
// normal timed event rather than storing a start time that would
// render as the wrong day.
func resolveAllDay(start time.Time, serverSaysAllDay bool, tz *time.Location) bool {
	if !serverSaysAllDay {
		return false
	}
	if tz == nil {
		tz = time.UTC
	}
	local := start.In(tz)
	return local.Hour() == 0 && local.Minute() == 0 && local.Second() == 0
}

// durationISO8601 renders a duration as the DURATION form spec.md
// §4.G requires: whole days ("P<n>D") for an all-day recurring event,
// minutes ("P<n>M") otherwise.
func durationISO8601(d time.Duration, allDay bool) string {
	if allDay {
		days := int(d.Hours() / 24)
		return fmt.Sprintf("P%dD", days)
	}
	minutes := int(d.Minutes())
	return fmt.Sprintf("P%dM", minutes)
}
