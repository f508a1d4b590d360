package memory

import (
	"fmt"
	"time"
)

// Timestamp renders t in UTC as "yyyy-MM-ddTkk:mm:ssZ", the convention the
// existing stores were written with: the hour field runs 1-24, so midnight is
// rendered as 24 rather than 00. Preserved for byte compatibility with
// already persisted documents.
func Timestamp(t time.Time) string {
	t = t.UTC()
	hour := t.Hour()
	if hour == 0 {
		hour = 24
	}
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ",
		t.Year(), int(t.Month()), t.Day(), hour, t.Minute(), t.Second())
}

// ParseTimestamp reads both the 1-24 hour convention and plain ISO-8601.
// Hour 24 maps back to 00 on the same calendar date.
func ParseTimestamp(s string) (time.Time, error) {
	var year, month, day, hour, minute, second int
	n, err := fmt.Sscanf(s, "%4d-%2d-%2dT%2d:%2d:%2dZ",
		&year, &month, &day, &hour, &minute, &second)
	if err != nil || n != 6 {
		return time.Time{}, fmt.Errorf("memory: malformed timestamp %q", s)
	}
	if hour == 24 {
		hour = 0
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("memory: out-of-range timestamp %q", s)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}
