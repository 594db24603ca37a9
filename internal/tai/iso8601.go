package tai

import (
	"fmt"
	"time"
)

// FormatISO8601 renders t in ISO 8601 form with second precision (plus a
// six-digit microsecond fraction when t has a nonzero sub-second part) and
// an explicit zone offset (or "Z" for UTC). loc selects the zone the
// timestamp is expanded in; pass time.UTC for the --utc CLI flag and
// time.Local otherwise.
func FormatISO8601(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	_, offset := t.Zone()

	base := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())

	if ns := t.Nanosecond(); ns > 0 {
		base += fmt.Sprintf(".%06d", ns/1000)
	}

	if offset == 0 {
		return base + "Z"
	}
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	hours := offset / 3600
	mins := (offset % 3600) / 60
	if mins > 0 {
		return fmt.Sprintf("%s%c%02d%02d", base, sign, hours, mins)
	}
	return fmt.Sprintf("%s%c%02d", base, sign, hours)
}
