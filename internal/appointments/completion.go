package appointments

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/smart-care-platform/internal/calendar"
	"github.com/wolfman30/smart-care-platform/internal/store"
)

// Auto-completion sources, reported on the auto_completed_total metric.
const (
	sourceCheck        = "check"
	sourceBatch        = "batch"
	sourceSweep        = "sweep"
	sourceSubscription = "subscription"
	sourceList         = "list"
)

// pastDue reports whether a is approved and its slot has started.
// Unparsable dates or labels are never past due.
func (c *Coordinator) pastDue(a *Appointment) bool {
	if a == nil || !a.Status.isApproved() {
		return false
	}
	at, ok := calendar.ParseAppointmentDateTime(a.Date, string(a.Time), c.loc)
	return ok && at.Before(c.now())
}

// autoComplete re-reads the stored appointment and completes it when it is still past due.
// a is replaced by the stored state, completed or not. No notification is sent.
func (c *Coordinator) autoComplete(ctx context.Context, a *Appointment, source string) (bool, error) {
	defer c.lockAppointment(a.ID)()

	current, err := c.load(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("appointments: auto-complete %s: %w", a.ID, err)
	}
	if !c.pastDue(current) {
		*a = *current
		return false, nil
	}
	from := current.Status
	next, err := Next(from, ActionAutoComplete)
	if err != nil {
		return false, err
	}
	now := c.now()
	if err := c.store.Update(ctx, store.CollectionAppointments, current.ID, store.Fields{
		"status":        next,
		"completedAt":   now,
		"autoCompleted": true,
		"updatedAt":     now,
	}); err != nil {
		return false, fmt.Errorf("appointments: auto-complete %s: %w", current.ID, err)
	}
	current.Status, current.CompletedAt, current.AutoCompleted, current.UpdatedAt = next, &now, true, now
	*a = *current

	c.metrics.ObserveAutoCompleted(source)
	c.metrics.ObserveTransition(string(from), string(next))
	c.recordActivity(ctx, RoleSystem, "appointment_auto_completed",
		fmt.Sprintf("Appointment %s on %s at %s completed after its slot passed", a.ID, a.Date, a.Time), "")
	c.publish(ctx, a, ActionAutoComplete, from, RoleSystem, "")
	return true, nil
}

// CheckAndUpdateAppointmentStatus completes a when it is approved and its slot is in the
// past. It reports whether a write happened; a is updated in place on success.
func (c *Coordinator) CheckAndUpdateAppointmentStatus(ctx context.Context, a *Appointment) (bool, error) {
	return c.checkAndComplete(ctx, a, sourceCheck)
}

func (c *Coordinator) checkAndComplete(ctx context.Context, a *Appointment, source string) (bool, error) {
	if !c.pastDue(a) {
		return false, nil
	}
	return c.autoComplete(ctx, a, source)
}

// BatchCheckAppointmentStatus runs the completion check over list and returns an updated
// copy. Failures are logged per appointment and leave that entry unchanged.
func (c *Coordinator) BatchCheckAppointmentStatus(ctx context.Context, list []Appointment) []Appointment {
	return c.batchCheck(ctx, list, sourceBatch)
}

func (c *Coordinator) batchCheck(ctx context.Context, list []Appointment, source string) []Appointment {
	out := slices.Clone(list)
	for i := range out {
		if _, err := c.checkAndComplete(ctx, &out[i], source); err != nil {
			c.logger.Error("appointments: auto-complete failed",
				"error", err,
				"appointment_id", out[i].ID,
				"source", source,
			)
		}
	}
	return out
}

// SweepPastDue completes every approved appointment whose slot has passed and returns
// how many were written.
func (c *Coordinator) SweepPastDue(ctx context.Context) (completed int, err error) {
	ctx, span := c.startSpan(ctx, "sweep")
	defer func() { endSpan(span, err) }()

	docs, err := c.store.Query(ctx, store.CollectionAppointments, []store.Filter{
		store.Where("status", store.OpIn, []string{string(StatusApproved), string(StatusConfirmed)}),
		store.Where("date", store.OpLte, c.today()),
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("appointments: sweep: %w", err)
	}
	list := c.decodeAll(docs)
	for i := range list {
		ok, err := c.checkAndComplete(ctx, &list[i], sourceSweep)
		if err != nil {
			c.logger.Error("appointments: sweep completion failed", "error", err, "appointment_id", list[i].ID)
			continue
		}
		if ok {
			completed++
		}
	}
	span.SetAttributes(attribute.Int("smartcare.completed", completed))
	c.logger.Info("appointments: sweep finished", "scanned", len(list), "completed", completed)
	return completed, nil
}

// GetUserAppointments streams the user's appointments, newest date first. Every emission
// shows past-due approved appointments as completed and persists that change in the
// background. The write re-checks the stored document, so a reschedule that lands first
// is never overwritten.
func (c *Coordinator) GetUserAppointments(ctx context.Context, userID string, role Role, onChange func([]Appointment)) (store.Unsubscribe, error) {
	if onChange == nil {
		return nil, fmt.Errorf("%w: onChange callback required", ErrInvalidRequest)
	}
	field, err := participantField(role)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidRequest)
	}
	unsubscribe, err := c.store.Subscribe(ctx, store.CollectionAppointments,
		[]store.Filter{store.Where(field, store.OpEq, userID)},
		&store.Order{Field: "date", Desc: true},
		func(docs []store.Document) {
			list := c.decodeAll(docs)
			c.completeLazily(ctx, list, sourceSubscription)
			onChange(list)
		})
	if err != nil {
		return nil, fmt.Errorf("appointments: subscribe: %w", err)
	}
	return unsubscribe, nil
}

// ListUserAppointments is the one-shot form of GetUserAppointments.
func (c *Coordinator) ListUserAppointments(ctx context.Context, userID string, role Role) (list []Appointment, err error) {
	ctx, span := c.startSpan(ctx, "list", attribute.String("smartcare.user_id", userID))
	defer func() { endSpan(span, err) }()

	field, err := participantField(role)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidRequest)
	}
	docs, err := c.store.Query(ctx, store.CollectionAppointments,
		[]store.Filter{store.Where(field, store.OpEq, userID)}, nil)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	list = c.decodeAll(docs)
	c.completeLazily(ctx, list, sourceList)
	sortNewestFirst(list)
	return list, nil
}

// completeLazily marks past-due entries of list completed and schedules the writes.
func (c *Coordinator) completeLazily(ctx context.Context, list []Appointment, source string) {
	for i := range list {
		if !c.pastDue(&list[i]) {
			continue
		}
		stored := list[i]
		if _, busy := c.inflight.LoadOrStore(stored.ID, struct{}{}); !busy {
			c.background(ctx, "auto_complete", func(ctx context.Context) {
				defer c.inflight.Delete(stored.ID)
				if _, err := c.autoComplete(ctx, &stored, source); err != nil {
					c.logger.Error("appointments: lazy auto-complete failed", "error", err, "appointment_id", stored.ID)
				}
			})
		}
		now := c.now()
		list[i].Status = StatusCompleted
		list[i].CompletedAt = &now
		list[i].AutoCompleted = true
	}
}

func (c *Coordinator) decodeAll(docs []store.Document) []Appointment {
	out := make([]Appointment, 0, len(docs))
	for _, doc := range docs {
		a, err := decodeAppointment(doc)
		if err != nil {
			c.logger.Warn("appointments: skipping malformed document", "error", err, "appointment_id", doc.ID)
			continue
		}
		out = append(out, *a)
	}
	return out
}

func sortNewestFirst(list []Appointment) {
	slices.SortStableFunc(list, func(a, b Appointment) int {
		if n := b.Date.Compare(a.Date); n != 0 {
			return n
		}
		return cmp.Compare(b.Time.Index(), a.Time.Index())
	})
}

func participantField(role Role) (string, error) {
	switch role {
	case RolePatient:
		return "patientId", nil
	case RoleDoctor:
		return "doctorId", nil
	}
	return "", fmt.Errorf("%w: role must be patient or doctor", ErrInvalidRequest)
}
