package appointments

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/smart-care-platform/internal/calendar"
	"github.com/wolfman30/smart-care-platform/internal/store"
)

// occupyingStatuses hold their slot. Confirmed is the legacy spelling of approved.
var occupyingStatuses = []string{string(StatusPending), string(StatusApproved), string(StatusConfirmed)}

// GetAvailableTimeSlots computes which of the fixed slots the doctor can still take on date.
// A blacked-out date returns no slots at all. A failed blackout lookup is treated as no
// blackout.
func (c *Coordinator) GetAvailableTimeSlots(ctx context.Context, doctorID, date string) (out *Availability, err error) {
	ctx, span := c.startSpan(ctx, "available_slots",
		attribute.String("smartcare.doctor_id", doctorID),
		attribute.String("smartcare.date", date),
	)
	defer func() { endSpan(span, err) }()

	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor id required", ErrInvalidRequest)
	}
	day, err := calendar.Normalize(date, c.loc)
	if err != nil {
		return nil, err
	}

	blackout, err := c.blackoutDates(ctx, doctorID)
	if err != nil {
		c.logger.Warn("appointments: blackout lookup failed", "error", err, "doctor_id", doctorID)
		blackout = []calendar.Date{}
	}
	if slices.Contains(blackout, day) {
		c.metrics.ObserveSlotQuery("date_unavailable")
		return &Availability{
			Available:         []calendar.Slot{},
			Unavailable:       []UnavailableSlot{},
			IsDateUnavailable: true,
			UnavailableDates:  blackout,
		}, nil
	}

	docs, err := c.store.Query(ctx, store.CollectionAppointments, []store.Filter{
		store.Where("doctorId", store.OpEq, doctorID),
		store.Where("date", store.OpEq, day.String()),
		store.Where("status", store.OpIn, occupyingStatuses),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("appointments: available slots: %w", err)
	}

	booked := make(map[calendar.Slot]bool, len(docs))
	for _, doc := range docs {
		label, _ := doc.Fields["time"].(string)
		slot, err := calendar.ParseSlot(label)
		if err != nil {
			c.logger.Warn("appointments: booking has unknown slot", "appointment_id", doc.ID, "time", label)
			continue
		}
		booked[slot] = true
	}

	out = &Availability{
		Available:        []calendar.Slot{},
		Unavailable:      []UnavailableSlot{},
		UnavailableDates: blackout,
	}
	for _, slot := range calendar.Slots() {
		if booked[slot] {
			out.Unavailable = append(out.Unavailable, UnavailableSlot{Time: slot, Reason: reasonAlreadyBooked})
			continue
		}
		out.Available = append(out.Available, slot)
	}
	out.IsFullyBooked = len(out.Available) == 0 && len(docs) > 0

	result := "available"
	if out.IsFullyBooked {
		result = "fully_booked"
	}
	c.metrics.ObserveSlotQuery(result)
	return out, nil
}

// blackoutDates reads the doctor's unavailable dates. A missing record means none.
// Entries that do not normalize are dropped.
func (c *Coordinator) blackoutDates(ctx context.Context, doctorID string) ([]calendar.Date, error) {
	doc, err := c.store.Get(ctx, store.CollectionDoctorAvailability, doctorID)
	if errors.Is(err, store.ErrNotFound) {
		return []calendar.Date{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw, _ := doc.Fields["unavailableDates"].([]any)
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	return c.normalizeDates(values, true)
}

// normalizeDates returns the distinct dates in ascending order. With lenient set, invalid
// entries are skipped instead of failing the whole list.
func (c *Coordinator) normalizeDates(values []string, lenient bool) ([]calendar.Date, error) {
	out := make([]calendar.Date, 0, len(values))
	for _, v := range values {
		d, err := calendar.Normalize(v, c.loc)
		if err != nil {
			if lenient {
				continue
			}
			return nil, err
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, calendar.Date.Compare)
	return out, nil
}

// SetDoctorAvailability replaces the doctor's blackout dates.
func (c *Coordinator) SetDoctorAvailability(ctx context.Context, doctorID string, dates []string) (out *DoctorAvailability, err error) {
	ctx, span := c.startSpan(ctx, "set_availability", attribute.String("smartcare.doctor_id", doctorID))
	defer func() { endSpan(span, err) }()

	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor id required", ErrInvalidRequest)
	}
	normalized, err := c.normalizeDates(dates, false)
	if err != nil {
		return nil, err
	}
	stored := make([]string, len(normalized))
	for i, d := range normalized {
		stored[i] = d.String()
	}
	now := c.now()
	if err := c.store.Set(ctx, store.CollectionDoctorAvailability, doctorID, store.Fields{
		"doctorId":         doctorID,
		"unavailableDates": stored,
		"updatedAt":        now,
	}); err != nil {
		return nil, fmt.Errorf("appointments: set availability %s: %w", doctorID, err)
	}
	c.recordActivity(ctx, RoleDoctor, "availability_updated",
		fmt.Sprintf("%d unavailable dates saved", len(stored)), doctorID)
	return &DoctorAvailability{DoctorID: doctorID, UnavailableDates: normalized, UpdatedAt: &now}, nil
}

// GetDoctorAvailability returns the doctor's blackout dates; an absent record yields an
// empty list.
func (c *Coordinator) GetDoctorAvailability(ctx context.Context, doctorID string) (*DoctorAvailability, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor id required", ErrInvalidRequest)
	}
	dates, err := c.blackoutDates(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("appointments: get availability %s: %w", doctorID, err)
	}
	return &DoctorAvailability{DoctorID: doctorID, UnavailableDates: dates}, nil
}

// GetAppointmentCounts tallies the user's appointments by status. Upcoming counts approved
// appointments dated today or later.
func (c *Coordinator) GetAppointmentCounts(ctx context.Context, userID string, role Role) (*Counts, error) {
	field, err := participantField(role)
	if err != nil {
		return nil, err
	}
	docs, err := c.store.Query(ctx, store.CollectionAppointments,
		[]store.Filter{store.Where(field, store.OpEq, userID)}, nil)
	if err != nil {
		return nil, fmt.Errorf("appointments: counts: %w", err)
	}
	today := calendar.Today(c.now(), c.loc)
	counts := &Counts{}
	for _, a := range c.decodeAll(docs) {
		counts.Total++
		switch a.Status {
		case StatusPending:
			counts.Pending++
		case StatusApproved, StatusConfirmed:
			counts.Approved++
			if !a.Date.Before(today) {
				counts.Upcoming++
			}
		case StatusDeclined:
			counts.Declined++
		case StatusCancelled:
			counts.Cancelled++
		case StatusCompleted:
			counts.Completed++
		}
	}
	return counts, nil
}
