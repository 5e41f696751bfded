package common

import (
	"fmt"
	"time"
)

// ISO8601Date is used for timeline dates, file naming, and API communication
const ISO8601Date = "2006-01-02"

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// ParseFlexibleDate accepts either a plain date or an RFC 3339 timestamp,
// the two shapes catalog APIs return
func ParseFlexibleDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := ParseISO8601(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q: %w", s, err)
	}
	return t, nil
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// DaysBetween returns the signed distance from a to b in fractional days
func DaysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}
