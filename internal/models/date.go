package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil date with day precision. Submissions carry dates as
// YYYY-MM-DD strings, which is also the JSON encoding used here.
// The zero value is the zero date.
type Date struct {
	time.Time
}

// NewDate constructs a Date in UTC. Dates are always normalized to UTC
// midnight so they are safe to use as map keys.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t.UTC()}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// DaysUntil returns the exclusive difference in days from d to other,
// so Jan 1 to Jan 2 is 1. Negative when other is before d.
func (d Date) DaysUntil(other Date) int {
	return int(other.Time.Sub(d.Time) / (24 * time.Hour))
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RangesOverlap reports whether the inclusive date ranges [aStart, aEnd]
// and [bStart, bEnd] share at least one day.
func RangesOverlap(aStart, aEnd, bStart, bEnd Date) bool {
	return !aStart.After(bEnd.Time) && !bStart.After(aEnd.Time)
}
