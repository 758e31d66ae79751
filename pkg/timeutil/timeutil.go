// Package timeutil provides campus-timezone date helpers and the academic
// calendar rule used to stamp placements.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// CampusTZ is the campus timezone (UTC+7, no DST). All placement dates are
// calendar dates in this zone.
var CampusTZ = time.FixedZone("Asia/Bangkok", 7*60*60)

// SetLocation replaces CampusTZ, typically from configuration at startup.
func SetLocation(loc *time.Location) {
	if loc != nil {
		CampusTZ = loc
	}
}

// LoadLocation resolves an IANA zone name, falling back to a fixed UTC+7
// zone when the tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return CampusTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 7*60*60)
	}
	return loc
}

// ToCampus converts a time to the campus timezone.
func ToCampus(t time.Time) time.Time {
	return t.In(CampusTZ)
}

// Date creates a campus-timezone midnight for the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, CampusTZ)
}

// StartOfDay returns the start of the day (00:00:00) in the campus timezone.
func StartOfDay(t time.Time) time.Time {
	c := ToCampus(t)
	return time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, CampusTZ)
}

// DaysBetween returns the number of whole calendar days from t1 to t2.
func DaysBetween(t1, t2 time.Time) int {
	return int(StartOfDay(t2).Sub(StartOfDay(t1)).Hours() / 24)
}

// FormatDate is the wire and storage layout of calendar dates.
const FormatDate = "2006-01-02"

// FormatDateStr formats a time as YYYY-MM-DD in the campus timezone.
func FormatDateStr(t time.Time) string {
	return ToCampus(t).Format(FormatDate)
}

// ParseDate parses a date string (YYYY-MM-DD) in the campus timezone.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(FormatDate, value, CampusTZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Academic calendar
// ═══════════════════════════════════════════════════════════════════════════

// Academic calendar defaults: the year starts in May and is displayed in
// the Buddhist era.
const (
	DefaultAcademicStartMonth = time.May
	DefaultEraOffset          = 543
)

// AcademicCalendar derives the academic year a date belongs to.
type AcademicCalendar struct {
	// StartMonth is the first month of a new academic year.
	StartMonth time.Month
	// EraOffset is added to the Gregorian year for display.
	EraOffset int
}

// DefaultAcademicCalendar returns the May-start, Buddhist-era calendar.
func DefaultAcademicCalendar() AcademicCalendar {
	return AcademicCalendar{StartMonth: DefaultAcademicStartMonth, EraOffset: DefaultEraOffset}
}

// Year returns the academic year of t: dates before StartMonth belong to the
// previous calendar year's academic year.
func (c AcademicCalendar) Year(t time.Time) int {
	local := ToCampus(t)
	year := local.Year()
	start := c.StartMonth
	if start < time.January || start > time.December {
		start = DefaultAcademicStartMonth
	}
	if local.Month() < start {
		year--
	}
	return year + c.EraOffset
}
