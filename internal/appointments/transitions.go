package appointments

import "fmt"

// Action is an operation applied to an appointment.
type Action string

const (
	ActionApprove      Action = "approve"
	ActionDecline      Action = "decline"
	ActionCancel       Action = "cancel"
	ActionComplete     Action = "complete"
	ActionReschedule   Action = "reschedule"
	ActionAutoComplete Action = "auto_complete"

	// ActionCreate labels the creation event. It has no source status and is not in the table.
	ActionCreate Action = "create"
)

// transitions maps (from, action) to the resulting status. Declined, cancelled and
// completed are terminal except for reschedule, which reopens any appointment as pending.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove:    StatusApproved,
		ActionDecline:    StatusDeclined,
		ActionCancel:     StatusCancelled,
		ActionReschedule: StatusPending,
	},
	StatusApproved: {
		ActionCancel:       StatusCancelled,
		ActionComplete:     StatusCompleted,
		ActionAutoComplete: StatusCompleted,
		ActionReschedule:   StatusPending,
	},
	StatusConfirmed: {
		ActionCancel:       StatusCancelled,
		ActionComplete:     StatusCompleted,
		ActionAutoComplete: StatusCompleted,
		ActionReschedule:   StatusPending,
	},
	StatusDeclined:  {ActionReschedule: StatusPending},
	StatusCancelled: {ActionReschedule: StatusPending},
	StatusCompleted: {ActionReschedule: StatusPending},
}

// Next returns the status reached by applying action in from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s appointment", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// Resolve maps a requested status to the action it implies and the final status.
// A doctor cancelling a pending appointment declines it: the request was never accepted.
func Resolve(from Status, requested Status, by Role) (Action, Status, error) {
	var action Action
	switch requested {
	case StatusApproved:
		action = ActionApprove
	case StatusDeclined:
		action = ActionDecline
	case StatusCancelled:
		action = ActionCancel
		if by == RoleDoctor && from == StatusPending {
			action = ActionDecline
		}
	case StatusCompleted:
		action = ActionComplete
	case StatusPending:
		return "", "", fmt.Errorf("%w: use reschedule to reopen an appointment", ErrInvalidTransition)
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
	}
	to, err := Next(from, action)
	if err != nil {
		return "", "", err
	}
	return action, to, nil
}

// notificationFlags decides which participants see the change as unread.
func notificationFlags(final Status, cancelledBy Role) Notifications {
	switch final {
	case StatusDeclined:
		return Notifications{Patient: true, Doctor: false}
	case StatusCancelled:
		return Notifications{Patient: cancelledBy != RolePatient, Doctor: cancelledBy != RoleDoctor}
	case StatusApproved:
		return Notifications{Patient: true, Doctor: false}
	default:
		return Notifications{Patient: true, Doctor: true}
	}
}
