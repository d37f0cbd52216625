package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Dispatcher is the best-effort notification surface used by the appointment coordinator.
// Implementations never return errors; failures are reported in the Outcome.
type Dispatcher interface {
	Email(ctx context.Context, msg EmailMessage) Outcome
	Push(ctx context.Context, msg PushMessage) Outcome
	InApp(ctx context.Context, msg InAppMessage) (string, Outcome)
}

// Service sends notifications synchronously through the configured senders.
// Any sender may be nil, in which case that channel reports StatusSkipped.
type Service struct {
	email   EmailSender
	push    PushSender
	inApp   InAppWriter
	metrics *metrics.AppointmentMetrics
	logger  *logging.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithMetrics records one outcome per dispatch.
func WithMetrics(m *metrics.AppointmentMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(email EmailSender, push PushSender, inApp InAppWriter, logger *logging.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		email:  email,
		push:   push,
		inApp:  inApp,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Email(ctx context.Context, msg EmailMessage) Outcome {
	if s.email == nil {
		return s.finish(skipped(ChannelEmail, msg.To, ErrChannelDisabled), time.Time{})
	}
	if strings.TrimSpace(msg.To) == "" {
		return s.finish(skipped(ChannelEmail, msg.To, ErrNoRecipient), time.Time{})
	}
	start := time.Now()
	if err := s.email.Send(ctx, msg); err != nil {
		return s.finish(failed(ChannelEmail, msg.To, err), start)
	}
	return s.finish(delivered(ChannelEmail, msg.To), start)
}

func (s *Service) Push(ctx context.Context, msg PushMessage) Outcome {
	if s.push == nil {
		return s.finish(skipped(ChannelPush, msg.UserID, ErrChannelDisabled), time.Time{})
	}
	start := time.Now()
	if err := s.push.SendPush(ctx, msg); err != nil {
		if errors.Is(err, ErrNoRecipient) {
			return s.finish(skipped(ChannelPush, msg.UserID, err), time.Time{})
		}
		return s.finish(failed(ChannelPush, msg.UserID, err), start)
	}
	return s.finish(delivered(ChannelPush, msg.UserID), start)
}

func (s *Service) InApp(ctx context.Context, msg InAppMessage) (string, Outcome) {
	if s.inApp == nil {
		return "", s.finish(skipped(ChannelInApp, msg.UserID, ErrChannelDisabled), time.Time{})
	}
	start := time.Now()
	id, err := s.inApp.Write(ctx, msg)
	if err != nil {
		return "", s.finish(failed(ChannelInApp, msg.UserID, err), start)
	}
	return id, s.finish(delivered(ChannelInApp, msg.UserID), start)
}

// finish is the logging boundary for every dispatch. Timeout failures are counted but not logged.
func (s *Service) finish(out Outcome, start time.Time) Outcome {
	s.metrics.ObserveNotification(string(out.Channel), string(out.Status), out.Suppressed)
	if !start.IsZero() {
		s.metrics.ObserveDispatchLatency(string(out.Channel), time.Since(start))
	}
	switch out.Status {
	case StatusFailed:
		if !out.Suppressed {
			s.logger.Error("notify: dispatch failed", "channel", out.Channel, "recipient", out.Recipient, "error", out.Err)
		}
	case StatusSkipped:
		s.logger.Debug("notify: dispatch skipped", "channel", out.Channel, "recipient", out.Recipient, "reason", out.Err)
	}
	return out
}

var _ Dispatcher = (*Service)(nil)
