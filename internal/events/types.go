package events

import "time"

// AppointmentChangedV1 is emitted after every persisted appointment mutation.
type AppointmentChangedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	Action        string    `json:"action"`
	FromStatus    string    `json:"from_status,omitempty"`
	ToStatus      string    `json:"to_status"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	ActorRole     string    `json:"actor_role,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (AppointmentChangedV1) EventType() string { return "appointments.appointment.changed.v1" }

func (e AppointmentChangedV1) Aggregate() string {
	if e.AppointmentID == "" {
		return ""
	}
	return "appointment:" + e.AppointmentID
}

// RoutingKey is "appointment.<action>", e.g. appointment.approve.
func (e AppointmentChangedV1) RoutingKey() string {
	return "appointment." + e.Action
}
