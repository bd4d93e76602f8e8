package billing

import (
	"time"
)

// =============================================================================
// CALENDAR DAYS - Billing works on whole days in UTC
// =============================================================================

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a calendar day.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// AddDays moves a calendar day by n days.
func AddDays(t time.Time, n int) time.Time { return Day(t).AddDate(0, 0, n) }

// DaysBetween returns the number of whole days from -> to (negative when to is earlier).
func DaysBetween(from, to time.Time) int {
	return int((Day(to).Unix() - Day(from).Unix()) / secondsPerDay)
}
