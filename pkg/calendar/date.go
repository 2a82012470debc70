// Package calendar implements civil-date arithmetic. Day differences are
// computed on the date triple, never from elapsed seconds, so daylight-saving
// transitions and zone offsets cannot shift a streak or a cooldown.
package calendar

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a calendar day with no time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day t falls on in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// Parse reads a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d Date) String() string {
	return d.midnight().Format(layout)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// AddDays returns the date n calendar days later (earlier when n < 0).
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight().AddDate(0, 0, n), time.UTC)
}

// DaysSince returns the number of calendar days from earlier to d.
func (d Date) DaysSince(earlier Date) int {
	// Both operands are UTC midnights, so the difference is an exact
	// multiple of 24h.
	return int(d.midnight().Sub(earlier.midnight()).Hours() / 24)
}

func (d Date) Before(other Date) bool {
	return d.midnight().Before(other.midnight())
}

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
