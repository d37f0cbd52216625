// Package appointments coordinates the appointment lifecycle: creation, status
// transitions, rescheduling, lazy auto-completion and slot availability, with
// best-effort notification fan-out to the affected participant.
package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/smart-care-platform/internal/calendar"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	// StatusConfirmed is a legacy alias for approved found in older documents.
	// It is read and auto-completed but never written.
	StatusConfirmed Status = "confirmed"
)

// ParseStatus accepts the five writable statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusDeclined, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsActive reports whether the appointment occupies its slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusApproved
}

func (s Status) isApproved() bool {
	return s == StatusApproved || s == StatusConfirmed
}

// Role identifies who acted on an appointment.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// ParseRole accepts patient, doctor and admin. Empty input yields the empty role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RolePatient, RoleDoctor, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
}

// Mode is how the visit takes place.
type Mode string

const (
	ModeOnline   Mode = "online"
	ModeInPerson Mode = "in-person"
)

func parseMode(s Mode) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(string(s)))); m {
	case ModeOnline, ModeInPerson:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

var (
	ErrNotFound          = errors.New("appointments: appointment not found")
	ErrInvalidRequest    = errors.New("appointments: invalid request")
	ErrInvalidDate       = calendar.ErrInvalidDate
	ErrInvalidSlot       = calendar.ErrInvalidSlot
	ErrInvalidMode       = errors.New("appointments: mode must be online or in-person")
	ErrInvalidCreator    = errors.New("appointments: createdBy must be the patient or the doctor")
	ErrInvalidStatus     = errors.New("appointments: invalid status")
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
)

// Notifications flags which participant has an unacknowledged change.
type Notifications struct {
	Patient bool `json:"patient"`
	Doctor  bool `json:"doctor"`
}

// Summary is the post-visit note written by the doctor.
type Summary struct {
	Diagnosis       string `json:"diagnosis"`
	Recommendations string `json:"recommendations"`
	FollowUp        string `json:"followUp,omitempty"`
}

// Appointment is one encounter between a patient and a doctor.
type Appointment struct {
	ID        string        `json:"id"`
	PatientID string        `json:"patientId"`
	DoctorID  string        `json:"doctorId"`
	Date      calendar.Date `json:"date"`
	Time      calendar.Slot `json:"time"`
	Mode      Mode          `json:"mode"`
	Type      string        `json:"type,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	Status    Status        `json:"status"`
	CreatedBy string        `json:"createdBy"`

	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	DeclinedAt    *time.Time `json:"declinedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	RescheduledAt *time.Time `json:"rescheduledAt,omitempty"`

	Note            string `json:"note,omitempty"`
	CancelledBy     Role   `json:"cancelledBy,omitempty"`
	DeclinedBy      Role   `json:"declinedBy,omitempty"`
	RescheduledBy   Role   `json:"rescheduledBy,omitempty"`
	RescheduledByID string `json:"rescheduledById,omitempty"`
	AutoCompleted   bool   `json:"autoCompleted"`

	Notifications    Notifications `json:"notifications"`
	Summary          *Summary      `json:"summary,omitempty"`
	SummaryUpdatedAt *time.Time    `json:"summaryUpdatedAt,omitempty"`
}

var videoTypeMarkers = []string{"follow", "virtual", "video", "tele"}

// VideoEligible reports whether the appointment type allows a video call.
func (a *Appointment) VideoEligible() bool {
	t := strings.ToLower(a.Type)
	for _, marker := range videoTypeMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// RoleOf returns the participant role of userID, or "" for non-participants.
func (a *Appointment) RoleOf(userID string) Role {
	switch {
	case userID == "":
		return ""
	case userID == a.PatientID:
		return RolePatient
	case userID == a.DoctorID:
		return RoleDoctor
	}
	return ""
}

// CounterpartyID returns the other participant's id.
func (a *Appointment) CounterpartyID(role Role) string {
	if role == RoleDoctor {
		return a.PatientID
	}
	return a.DoctorID
}

// CreateRequest holds the input to CreateAppointment.
type CreateRequest struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Mode      Mode   `json:"mode"`
	Type      string `json:"type"`
	Notes     string `json:"notes,omitempty"`
	CreatedBy string `json:"createdBy"`
}

// StatusChange carries the optional inputs to UpdateAppointmentStatus.
type StatusChange struct {
	Note        string `json:"note,omitempty"`
	CancelledBy Role   `json:"cancelledBy,omitempty"`
}

// RescheduleRequest holds the input to RescheduleAppointment. By takes precedence
// over the role inferred from ByID.
type RescheduleRequest struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes,omitempty"`
	By    Role   `json:"rescheduledBy,omitempty"`
	ByID  string `json:"rescheduledById,omitempty"`
}

// UnavailableSlot is a slot that cannot be booked and why.
type UnavailableSlot struct {
	Time   calendar.Slot `json:"time"`
	Reason string        `json:"reason"`
}

const reasonAlreadyBooked = "Already Booked"

// Availability is the slot picture for one doctor on one date.
type Availability struct {
	Available         []calendar.Slot   `json:"available"`
	Unavailable       []UnavailableSlot `json:"unavailable"`
	IsFullyBooked     bool              `json:"isFullyBooked"`
	IsDateUnavailable bool              `json:"isDateUnavailable"`
	UnavailableDates  []calendar.Date   `json:"unavailableDates"`
}

// DoctorAvailability is the blackout-date record of a doctor.
type DoctorAvailability struct {
	DoctorID         string          `json:"doctorId"`
	UnavailableDates []calendar.Date `json:"unavailableDates"`
	UpdatedAt        *time.Time      `json:"updatedAt,omitempty"`
}

// Counts aggregates a user's appointments by status.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Declined  int `json:"declined"`
	Cancelled int `json:"cancelled"`
	Completed int `json:"completed"`
	Upcoming  int `json:"upcoming"`
}
