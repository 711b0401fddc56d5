package types

import (
	"fmt"
	"time"
)

// PeriodLayout is the textual form of a Period.
const PeriodLayout = "2006-01"

// DayLayout is the textual form of a calendar day.
const DayLayout = "2006-01-02"

// Period is a calendar month in UTC, the unit of compaction.
type Period struct {
	year  int
	month time.Month
}

// PeriodOf returns the period containing t (evaluated in UTC).
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{year: u.Year(), month: u.Month()}
}

// NewPeriod builds a period from a year and month.
func NewPeriod(year int, month time.Month) Period {
	return Period{year: year, month: month}
}

// ParsePeriod parses a "YYYY-MM" key.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(PeriodLayout, s)
	if err != nil || len(s) != len(PeriodLayout) {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return PeriodOf(t), nil
}

// String returns the "YYYY-MM" key.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.year, int(p.month))
}

// Year returns the calendar year.
func (p Period) Year() int { return p.year }

// Month returns the calendar month.
func (p Period) Month() time.Month { return p.month }

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool { return p.year == 0 && p.month == 0 }

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.year, p.month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant after the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(p.year, p.month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Dates returns every calendar day of the period as "YYYY-MM-DD".
func (p Period) Dates() []string {
	n := p.Days()
	out := make([]string, n)
	start := p.Start()
	for i := 0; i < n; i++ {
		out[i] = start.AddDate(0, 0, i).Format(DayLayout)
	}
	return out
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(p.Start()) && u.Before(p.End())
}

// Before reports whether p is chronologically earlier than o.
func (p Period) Before(o Period) bool {
	if p.year != o.year {
		return p.year < o.year
	}
	return p.month < o.month
}

// ParseInstant parses an RFC 3339 timestamp or a "YYYY-MM-DD" day (midnight UTC).
func ParseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
