// Package calendar holds the date and slot value types shared by scheduling code.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a value cannot be read as a calendar date.
var ErrInvalidDate = errors.New("calendar: invalid date")

const layout = "2006-01-02"

// Date is a calendar day without time or zone. Its string form is YYYY-MM-DD.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate builds a Date, normalizing overflow the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC), time.UTC)
}

// FromTime takes the calendar fields of t as seen in loc.
func FromTime(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{year: y, month: m, day: d}
}

// Today returns the current date in loc according to now.
func Today(now time.Time, loc *time.Location) Date {
	return FromTime(now, loc)
}

// Normalize reads the accepted date spellings and returns the canonical Date.
// Timestamps carrying a zone are converted to loc before their calendar fields are taken.
func Normalize(value string, loc *time.Location) (Date, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, ErrInvalidDate
	}

	if t, err := time.Parse(layout, value); err == nil {
		return FromTime(t, time.UTC), nil
	}
	for _, tsLayout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(tsLayout, value); err == nil {
			return FromTime(t, loc), nil
		}
	}
	if d, ok := parseParts(value, "-", 0, 1, 2); ok {
		return d, nil
	}
	if d, ok := parseParts(value, "/", 2, 0, 1); ok {
		return d, nil
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(value string) Date {
	d, err := Normalize(value, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func parseParts(value, sep string, yi, mi, di int) (Date, bool) {
	parts := strings.Split(value, sep)
	if len(parts) != 3 {
		return Date{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, false
		}
		nums[i] = n
	}
	y, m, d := nums[yi], nums[mi], nums[di]
	if y < 1000 || m < 1 || m > 12 || d < 1 || d > 31 {
		return Date{}, false
	}
	out := NewDate(y, time.Month(m), d)
	if out.month != time.Month(m) {
		return Date{}, false
	}
	return out, true
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.year == 0 && d.month == 0 && d.day == 0
}

func (d Date) Year() int             { return d.year }
func (d Date) Month() time.Month     { return d.month }
func (d Date) Day() int              { return d.day }
func (d Date) Weekday() time.Weekday { return d.Time(time.UTC).Weekday() }

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return NewDate(d.year, d.month, d.day+n)
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(other Date) int {
	return strings.Compare(d.String(), other.String())
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// Long renders d for people, e.g. "Monday, March 10, 2025".
func (d Date) Long() string {
	if d.IsZero() {
		return ""
	}
	return d.Time(time.UTC).Format("Monday, January 2, 2006")
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Normalize(string(text), time.UTC)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
