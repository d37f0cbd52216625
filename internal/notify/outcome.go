package notify

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Channel names a delivery path.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Status is the result of one dispatch attempt.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusQueued    Status = "queued"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome reports a best-effort dispatch. Callers inspect it but never propagate Err.
// Suppressed marks failures that were not logged because they look like timeouts.
type Outcome struct {
	Channel    Channel
	Recipient  string
	Status     Status
	Err        error
	Suppressed bool
}

// OK reports whether the message was handed off (delivered or queued).
func (o Outcome) OK() bool {
	return o.Status == StatusDelivered || o.Status == StatusQueued
}

func delivered(ch Channel, recipient string) Outcome {
	return Outcome{Channel: ch, Recipient: recipient, Status: StatusDelivered}
}

func skipped(ch Channel, recipient string, reason error) Outcome {
	return Outcome{Channel: ch, Recipient: recipient, Status: StatusSkipped, Err: reason}
}

func failed(ch Channel, recipient string, err error) Outcome {
	return Outcome{Channel: ch, Recipient: recipient, Status: StatusFailed, Err: err, Suppressed: IsTimeout(err)}
}

var (
	// ErrNoRecipient is reported on skipped outcomes with no address, endpoint or user.
	ErrNoRecipient = errors.New("notify: no recipient")
	// ErrChannelDisabled is reported on skipped outcomes when no sender is configured.
	ErrChannelDisabled = errors.New("notify: channel disabled")
)

// IsTimeout reports whether err looks like a connection or deadline timeout. Such sends
// may still have been delivered, so they are not treated as alarms.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "ETIMEDOUT") || strings.Contains(strings.ToLower(msg), "timeout")
}
