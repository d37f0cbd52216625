package appointments

import (
	"fmt"
	"strings"

	"github.com/wolfman30/smart-care-platform/internal/directory"
)

type messageKind string

const (
	kindRequested   messageKind = "appointment_request"
	kindScheduled   messageKind = "appointment_scheduled"
	kindApproved    messageKind = "appointment_approved"
	kindDeclined    messageKind = "appointment_declined"
	kindCancelled   messageKind = "appointment_cancelled"
	kindRescheduled messageKind = "appointment_rescheduled"
	kindSummary     messageKind = "appointment_summary"
)

type messageTemplate struct {
	subject    string
	body       string
	actionText string
}

var messageTemplates = map[messageKind]messageTemplate{
	kindRequested: {
		subject:    "New Appointment Request",
		body:       "{{.PatientName}} requested an {{.Mode}} appointment on {{.Date}} at {{.Time}}.{{if .Type}} Reason for visit: {{.Type}}.{{end}}",
		actionText: "Review Request",
	},
	kindScheduled: {
		subject:    "Appointment Scheduled",
		body:       "{{.DoctorName}} scheduled an {{.Mode}} appointment with you on {{.Date}} at {{.Time}}.",
		actionText: "View Appointment",
	},
	kindApproved: {
		subject:    "Appointment Approved",
		body:       "{{.DoctorName}} approved your appointment on {{.Date}} at {{.Time}}.{{if .Video}} You can join the video call from your dashboard when it starts.{{end}}",
		actionText: "View Appointment",
	},
	kindDeclined: {
		subject:    "Appointment Declined",
		body:       "{{.DoctorName}} declined your appointment request for {{.Date}} at {{.Time}}.{{if .Note}} Reason: {{.Note}}{{end}}",
		actionText: "Book Another Time",
	},
	kindCancelled: {
		subject:    "Appointment Cancelled",
		body:       "{{.ActorName}} cancelled the appointment on {{.Date}} at {{.Time}}.{{if .Note}} Reason: {{.Note}}{{end}}",
		actionText: "View Appointments",
	},
	kindRescheduled: {
		subject:    "Appointment Rescheduled",
		body:       "{{.ActorName}} moved your appointment from {{.OldDate}} at {{.OldTime}} to {{.NewDate}} at {{.NewTime}}. It is pending confirmation.{{if .Note}} Note: {{.Note}}{{end}}",
		actionText: "Review Changes",
	},
	kindSummary: {
		subject:    "Visit Summary Available",
		body:       "{{.DoctorName}} added a summary for your appointment on {{.Date}}.",
		actionText: "Read Summary",
	},
}

const emailFrame = "Hi {{.RecipientName}},\n\n{{.Body}}\n\n{{.ActionText}}: {{.Link}}\n\nThe Smart Care Team\n"

type renderedMessage struct {
	Subject    string
	Body       string
	ActionText string
}

func (c *Coordinator) renderMessage(kind messageKind, data map[string]any) (renderedMessage, error) {
	tmpl, ok := messageTemplates[kind]
	if !ok {
		return renderedMessage{}, fmt.Errorf("appointments: no template for %s", kind)
	}
	body, err := c.renderer.Render(string(kind), tmpl.body, data)
	if err != nil {
		return renderedMessage{}, err
	}
	return renderedMessage{Subject: tmpl.subject, Body: body, ActionText: tmpl.actionText}, nil
}

func (c *Coordinator) renderEmail(recipientName string, msg renderedMessage, link string) (string, error) {
	return c.renderer.Render("email", emailFrame, map[string]any{
		"RecipientName": recipientName,
		"Body":          msg.Body,
		"ActionText":    msg.ActionText,
		"Link":          link,
	})
}

// baseMessageData fills the fields every template may reference.
func baseMessageData(a *Appointment, p participants) map[string]any {
	mode := string(a.Mode)
	if mode == "" {
		mode = string(ModeOnline)
	}
	return map[string]any{
		"PatientName": patientLabel(p.patient),
		"DoctorName":  doctorLabel(p.doctor),
		"ActorName":   "",
		"Date":        a.Date.Long(),
		"Time":        a.Time.String(),
		"Mode":        mode,
		"Type":        a.Type,
		"Note":        "",
		"Video":       a.Mode == ModeOnline && a.VideoEligible(),
	}
}

func doctorLabel(u *directory.User) string {
	name := u.Name()
	if name == "" {
		return "Your doctor"
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "dr.") || strings.HasPrefix(lower, "dr ") {
		return name
	}
	return "Dr. " + name
}

func patientLabel(u *directory.User) string {
	if name := u.Name(); name != "" {
		return name
	}
	return "A patient"
}

func actorLabel(role Role, p participants) string {
	switch role {
	case RoleDoctor:
		return doctorLabel(p.doctor)
	case RolePatient:
		return patientLabel(p.patient)
	}
	return "The care team"
}

func recipientName(u *directory.User) string {
	if name := u.Name(); name != "" {
		return name
	}
	return "there"
}

func dashboardPath(role Role) string {
	if role == RoleDoctor {
		return "/doctor/appointments"
	}
	return "/patient/appointments"
}
