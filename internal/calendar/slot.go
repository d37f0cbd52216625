package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSlot is returned for labels outside the bookable set.
var ErrInvalidSlot = errors.New("calendar: invalid time slot")

// Slot is one of the fixed half-hour booking labels.
type Slot string

const (
	Slot0900 Slot = "9:00 AM"
	Slot0930 Slot = "9:30 AM"
	Slot1000 Slot = "10:00 AM"
	Slot1030 Slot = "10:30 AM"
	Slot1100 Slot = "11:00 AM"
	Slot1130 Slot = "11:30 AM"
	Slot1300 Slot = "1:00 PM"
	Slot1330 Slot = "1:30 PM"
	Slot1400 Slot = "2:00 PM"
	Slot1430 Slot = "2:30 PM"
	Slot1500 Slot = "3:00 PM"
	Slot1530 Slot = "3:30 PM"
	Slot1600 Slot = "4:00 PM"
	Slot1630 Slot = "4:30 PM"
)

var allSlots = [...]Slot{
	Slot0900, Slot0930, Slot1000, Slot1030, Slot1100, Slot1130,
	Slot1300, Slot1330, Slot1400, Slot1430, Slot1500, Slot1530, Slot1600, Slot1630,
}

var clockLabel = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*([AaPp][Mm])$`)

// Slots returns the bookable slots in day order.
func Slots() []Slot {
	out := make([]Slot, len(allSlots))
	copy(out, allSlots[:])
	return out
}

// ParseSlot canonicalizes a label ("09:00 am" -> "9:00 AM") and checks it is bookable.
func ParseSlot(label string) (Slot, error) {
	h, m, ok := parseClock(label)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, label)
	}
	s := formatClock(h, m)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, label)
	}
	return s, nil
}

// Valid reports whether s is one of the fixed slots.
func (s Slot) Valid() bool {
	return s.Index() >= 0
}

// Index is the position of s in day order, or -1.
func (s Slot) Index() int {
	for i, slot := range allSlots {
		if slot == s {
			return i
		}
	}
	return -1
}

func (s Slot) String() string { return string(s) }

// ParseAppointmentDateTime combines a date with an "H:MM AM|PM" label into an instant in loc.
// ok is false when the label does not match; callers skip such appointments.
func ParseAppointmentDateTime(date Date, label string, loc *time.Location) (time.Time, bool) {
	if date.IsZero() {
		return time.Time{}, false
	}
	h, m, ok := parseClock(label)
	if !ok {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.year, date.month, date.day, h, m, 0, 0, loc), true
}

// parseClock returns 24h hour and minute for a 12h label.
func parseClock(label string) (int, int, bool) {
	match := clockLabel.FindStringSubmatch(strings.TrimSpace(label))
	if match == nil {
		return 0, 0, false
	}
	hour, _ := strconv.Atoi(match[1])
	minute, _ := strconv.Atoi(match[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, false
	}
	pm := strings.EqualFold(match[3], "PM")
	switch {
	case pm && hour != 12:
		hour += 12
	case !pm && hour == 12:
		hour = 0
	}
	return hour, minute, true
}

func formatClock(hour, minute int) Slot {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return Slot(fmt.Sprintf("%d:%02d %s", h, minute, suffix))
}
