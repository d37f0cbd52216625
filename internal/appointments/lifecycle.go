package appointments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/smart-care-platform/internal/archive"
	"github.com/wolfman30/smart-care-platform/internal/calendar"
	"github.com/wolfman30/smart-care-platform/internal/store"
)

// CreateAppointment validates req and stores a new appointment. A doctor-created
// appointment is approved immediately; a patient-created one waits as pending.
// The non-creating participant is notified by email and in-app in the background.
func (c *Coordinator) CreateAppointment(ctx context.Context, req CreateRequest) (id string, err error) {
	ctx, span := c.startSpan(ctx, "create",
		attribute.String("smartcare.patient_id", req.PatientID),
		attribute.String("smartcare.doctor_id", req.DoctorID),
	)
	defer func() { endSpan(span, err) }()

	a, err := c.newAppointment(req)
	if err != nil {
		return "", err
	}
	fields, err := appointmentFields(a)
	if err != nil {
		return "", fmt.Errorf("appointments: create: %w", err)
	}
	id, err = c.store.Create(ctx, store.CollectionAppointments, fields)
	if err != nil {
		return "", fmt.Errorf("appointments: create: %w", err)
	}
	a.ID = id
	span.SetAttributes(attribute.String("smartcare.appointment_id", id))

	creator := a.RoleOf(a.CreatedBy)
	c.metrics.ObserveTransition("", string(a.Status))
	c.recordActivity(ctx, creator, "appointment_created",
		fmt.Sprintf("Appointment %s booked for %s at %s (%s)", id, a.Date, a.Time, a.Status), a.CreatedBy)
	c.publish(ctx, a, ActionCreate, "", creator, a.CreatedBy)

	snapshot := *a
	c.background(ctx, "notify_created", func(ctx context.Context) {
		p := c.lookupParticipants(ctx, &snapshot)
		n := notice{
			kind:      kindRequested,
			recipient: RoleDoctor,
			sender:    RolePatient,
			channels:  channelSet{email: true, inApp: true},
			data:      baseMessageData(&snapshot, p),
		}
		if creator == RoleDoctor {
			n.kind, n.recipient, n.sender = kindScheduled, RolePatient, RoleDoctor
		}
		c.deliver(ctx, &snapshot, p, n)
	})
	return id, nil
}

func (c *Coordinator) newAppointment(req CreateRequest) (*Appointment, error) {
	patientID := strings.TrimSpace(req.PatientID)
	doctorID := strings.TrimSpace(req.DoctorID)
	createdBy := strings.TrimSpace(req.CreatedBy)
	if patientID == "" || doctorID == "" {
		return nil, fmt.Errorf("%w: patientId and doctorId are required", ErrInvalidRequest)
	}
	if patientID == doctorID {
		return nil, fmt.Errorf("%w: patient and doctor must differ", ErrInvalidRequest)
	}
	if createdBy != patientID && createdBy != doctorID {
		return nil, ErrInvalidCreator
	}
	date, err := calendar.Normalize(req.Date, c.loc)
	if err != nil {
		return nil, err
	}
	slot, err := calendar.ParseSlot(req.Time)
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	now := c.now()
	a := &Appointment{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      slot,
		Mode:      mode,
		Type:      strings.TrimSpace(req.Type),
		Notes:     strings.TrimSpace(req.Notes),
		Status:    StatusPending,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if createdBy == doctorID {
		a.Status = StatusApproved
		a.ApprovedAt = &now
	}
	a.Notifications = Notifications{
		Patient: createdBy == doctorID,
		Doctor:  createdBy == patientID,
	}
	return a, nil
}

// appointmentFields converts a to the stored document body.
func appointmentFields(a *Appointment) (store.Fields, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields store.Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	return fields, nil
}

// UpdateAppointmentStatus applies a status change through the transition table.
// change.CancelledBy names the acting role; a doctor cancelling a pending request declines it.
func (c *Coordinator) UpdateAppointmentStatus(ctx context.Context, id string, status Status, change StatusChange) (a *Appointment, err error) {
	ctx, span := c.startSpan(ctx, "update_status",
		attribute.String("smartcare.appointment_id", id),
		attribute.String("smartcare.requested_status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	requested, err := ParseStatus(string(status))
	if err != nil {
		return nil, err
	}
	by, err := ParseRole(string(change.CancelledBy))
	if err != nil {
		return nil, err
	}
	defer c.lockAppointment(id)()
	a, err = c.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: update status: %w", err)
	}
	from := a.Status
	action, final, err := Resolve(from, requested, by)
	if err != nil {
		return nil, err
	}

	now := c.now()
	flags := notificationFlags(final, by)
	fields := store.Fields{
		"status":        final,
		"updatedAt":     now,
		"notifications": flags,
	}
	switch final {
	case StatusApproved:
		fields["approvedAt"] = now
		a.ApprovedAt = &now
	case StatusDeclined:
		decliner := by
		if decliner == "" {
			decliner = RoleDoctor
		}
		fields["declinedAt"] = now
		fields["declinedBy"] = decliner
		a.DeclinedAt, a.DeclinedBy = &now, decliner
	case StatusCancelled:
		fields["cancelledAt"] = now
		a.CancelledAt = &now
		if by != "" {
			fields["cancelledBy"] = by
			a.CancelledBy = by
		}
	case StatusCompleted:
		fields["completedAt"] = now
		fields["autoCompleted"] = false
		a.CompletedAt, a.AutoCompleted = &now, false
	}
	note := strings.TrimSpace(change.Note)
	if note != "" {
		fields["note"] = note
		a.Note = note
	}

	if err := c.store.Update(ctx, store.CollectionAppointments, id, fields); err != nil {
		return nil, fmt.Errorf("appointments: update status %s: %w", id, err)
	}
	a.Status, a.UpdatedAt, a.Notifications = final, now, flags

	actor := by
	if actor == "" {
		actor = RoleDoctor
	}
	c.metrics.ObserveTransition(string(from), string(final))
	c.recordActivity(ctx, actor, "appointment_"+string(final),
		fmt.Sprintf("Appointment %s moved from %s to %s", id, from, final), participantID(a, actor))
	c.publish(ctx, a, action, from, actor, participantID(a, actor))

	snapshot := *a
	c.background(ctx, "notify_status", func(ctx context.Context) {
		c.notifyStatusChange(ctx, &snapshot, by, note)
	})
	return a, nil
}

func (c *Coordinator) notifyStatusChange(ctx context.Context, a *Appointment, by Role, note string) {
	var kind messageKind
	switch a.Status {
	case StatusApproved:
		kind = kindApproved
	case StatusDeclined:
		kind = kindDeclined
	case StatusCancelled:
		kind = kindCancelled
	default:
		return
	}
	p := c.lookupParticipants(ctx, a)
	data := baseMessageData(a, p)
	data["Note"] = note
	data["ActorName"] = actorLabel(by, p)

	sender := by
	if sender == "" || kind != kindCancelled {
		sender = RoleDoctor
	}
	send := func(to Role) {
		c.deliver(ctx, a, p, notice{
			kind:      kind,
			recipient: to,
			sender:    sender,
			channels:  channelSet{email: true, inApp: true},
			data:      data,
		})
	}
	if kind == kindApproved {
		send(RolePatient)
		return
	}
	if a.Notifications.Patient {
		send(RolePatient)
	}
	if a.Notifications.Doctor {
		send(RoleDoctor)
	}
}

// RescheduleAppointment moves an appointment to a new date and slot and reopens it as
// pending, whatever its current status. The counterparty is told on every channel.
func (c *Coordinator) RescheduleAppointment(ctx context.Context, id string, req RescheduleRequest) (a *Appointment, err error) {
	ctx, span := c.startSpan(ctx, "reschedule", attribute.String("smartcare.appointment_id", id))
	defer func() { endSpan(span, err) }()

	date, err := calendar.Normalize(req.Date, c.loc)
	if err != nil {
		return nil, err
	}
	slot, err := calendar.ParseSlot(req.Time)
	if err != nil {
		return nil, err
	}
	by, err := ParseRole(string(req.By))
	if err != nil {
		return nil, err
	}
	defer c.lockAppointment(id)()
	a, err = c.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: reschedule: %w", err)
	}
	from := a.Status
	next, err := Next(from, ActionReschedule)
	if err != nil {
		return nil, err
	}

	byID := strings.TrimSpace(req.ByID)
	if by == "" {
		by = a.RoleOf(byID)
	}
	if byID == "" {
		byID = participantID(a, by)
	}

	oldDate, oldTime := a.Date, a.Time
	now := c.now()
	flags := Notifications{Patient: true, Doctor: true}
	fields := store.Fields{
		"date":          date,
		"time":          slot,
		"status":        next,
		"updatedAt":     now,
		"rescheduledAt": now,
		"autoCompleted": false,
		"notifications": flags,
	}
	if by != "" {
		fields["rescheduledBy"] = by
	}
	if byID != "" {
		fields["rescheduledById"] = byID
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		fields["notes"] = notes
		a.Notes = notes
	}
	if err := c.store.Update(ctx, store.CollectionAppointments, id, fields); err != nil {
		return nil, fmt.Errorf("appointments: reschedule %s: %w", id, err)
	}
	a.Date, a.Time, a.Status = date, slot, next
	a.UpdatedAt, a.RescheduledAt = now, &now
	a.RescheduledBy, a.RescheduledByID = by, byID
	a.AutoCompleted, a.Notifications = false, flags

	c.metrics.ObserveTransition(string(from), string(next))
	c.recordActivity(ctx, by, "appointment_rescheduled",
		fmt.Sprintf("Appointment %s moved from %s at %s to %s at %s", id, oldDate, oldTime, date, slot), byID)
	c.publish(ctx, a, ActionReschedule, from, by, byID)

	snapshot := *a
	c.background(ctx, "notify_rescheduled", func(ctx context.Context) {
		p := c.lookupParticipants(ctx, &snapshot)
		data := baseMessageData(&snapshot, p)
		data["ActorName"] = actorLabel(by, p)
		data["OldDate"] = oldDate.Long()
		data["OldTime"] = oldTime.String()
		data["NewDate"] = snapshot.Date.Long()
		data["NewTime"] = snapshot.Time.String()
		data["Note"] = snapshot.Notes

		recipients := []Role{RolePatient, RoleDoctor}
		switch by {
		case RolePatient:
			recipients = []Role{RoleDoctor}
		case RoleDoctor:
			recipients = []Role{RolePatient}
		}
		for _, to := range recipients {
			c.deliver(ctx, &snapshot, p, notice{
				kind:      kindRescheduled,
				recipient: to,
				sender:    by,
				channels:  channelSet{email: true, inApp: true, push: true},
				data:      data,
			})
		}
	})
	return a, nil
}

// UpdateAppointmentSummary attaches the doctor's visit summary and tells the patient
// in-app and by push.
func (c *Coordinator) UpdateAppointmentSummary(ctx context.Context, id string, summary Summary) (err error) {
	ctx, span := c.startSpan(ctx, "update_summary", attribute.String("smartcare.appointment_id", id))
	defer func() { endSpan(span, err) }()

	summary.Diagnosis = strings.TrimSpace(summary.Diagnosis)
	summary.Recommendations = strings.TrimSpace(summary.Recommendations)
	summary.FollowUp = strings.TrimSpace(summary.FollowUp)
	if summary.Diagnosis == "" && summary.Recommendations == "" {
		return fmt.Errorf("%w: summary needs a diagnosis or recommendations", ErrInvalidRequest)
	}
	defer c.lockAppointment(id)()
	a, err := c.load(ctx, id)
	if err != nil {
		return fmt.Errorf("appointments: update summary: %w", err)
	}

	now := c.now()
	flags := Notifications{Patient: true, Doctor: a.Notifications.Doctor}
	if err := c.store.Update(ctx, store.CollectionAppointments, id, store.Fields{
		"summary":          summary,
		"summaryUpdatedAt": now,
		"updatedAt":        now,
		"notifications":    flags,
	}); err != nil {
		return fmt.Errorf("appointments: update summary %s: %w", id, err)
	}
	a.Summary, a.SummaryUpdatedAt, a.UpdatedAt, a.Notifications = &summary, &now, now, flags

	c.recordActivity(ctx, RoleDoctor, "appointment_summary_updated",
		fmt.Sprintf("Visit summary saved for appointment %s", id), a.DoctorID)

	snapshot := *a
	c.background(ctx, "notify_summary", func(ctx context.Context) {
		c.archiveSummary(ctx, &snapshot, now)
		p := c.lookupParticipants(ctx, &snapshot)
		c.deliver(ctx, &snapshot, p, notice{
			kind:      kindSummary,
			recipient: RolePatient,
			sender:    RoleDoctor,
			channels:  channelSet{inApp: true, push: true},
			data:      baseMessageData(&snapshot, p),
		})
	})
	return nil
}

func (c *Coordinator) archiveSummary(ctx context.Context, a *Appointment, at time.Time) {
	if c.archive == nil || a.Summary == nil {
		return
	}
	key, err := c.archive.ArchiveSummary(ctx, archive.SummaryRecord{
		AppointmentID:   a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Date:            a.Date.String(),
		Time:            a.Time.String(),
		Diagnosis:       a.Summary.Diagnosis,
		Recommendations: a.Summary.Recommendations,
		FollowUp:        a.Summary.FollowUp,
		ArchivedAt:      at.UTC(),
	})
	if err != nil {
		c.logger.Warn("appointments: archive summary failed", "error", err, "appointment_id", a.ID)
		return
	}
	c.logger.Debug("appointments: summary archived", "appointment_id", a.ID, "key", key)
}

// participantID maps a participant role to its user id.
func participantID(a *Appointment, role Role) string {
	switch role {
	case RolePatient:
		return a.PatientID
	case RoleDoctor:
		return a.DoctorID
	}
	return ""
}
