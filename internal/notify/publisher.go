package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Publisher implements Dispatcher by enqueueing jobs for a Worker. A successful
// enqueue reports StatusQueued; delivery happens later in the worker process.
type Publisher struct {
	queue   Queue
	metrics *metrics.AppointmentMetrics
	logger  *logging.Logger
}

func NewPublisher(queue Queue, m *metrics.AppointmentMetrics, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, metrics: m, logger: logger}
}

func (p *Publisher) Email(ctx context.Context, msg EmailMessage) Outcome {
	return p.enqueue(ctx, ChannelEmail, msg.To, queuePayload{Kind: jobKindEmail, Email: &msg})
}

func (p *Publisher) Push(ctx context.Context, msg PushMessage) Outcome {
	return p.enqueue(ctx, ChannelPush, msg.UserID, queuePayload{Kind: jobKindPush, Push: &msg})
}

// InApp assigns the notification id up front so callers can reference it before the
// worker persists the record.
func (p *Publisher) InApp(ctx context.Context, msg InAppMessage) (string, Outcome) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	out := p.enqueue(ctx, ChannelInApp, msg.UserID, queuePayload{Kind: jobKindInApp, InApp: &msg})
	if !out.OK() {
		return "", out
	}
	return msg.ID, out
}

func (p *Publisher) enqueue(ctx context.Context, ch Channel, recipient string, payload queuePayload) Outcome {
	payload, body, err := encodePayload(payload)
	if err == nil {
		err = p.queue.Send(ctx, body)
	}
	if err != nil {
		out := failed(ch, recipient, err)
		p.metrics.ObserveNotification(string(ch), string(out.Status), out.Suppressed)
		if !out.Suppressed {
			p.logger.Error("notify: enqueue failed", "channel", ch, "recipient", recipient, "error", err)
		}
		return out
	}
	p.metrics.ObserveNotification(string(ch), string(StatusQueued), false)
	p.logger.Debug("notification job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return Outcome{Channel: ch, Recipient: recipient, Status: StatusQueued}
}

var _ Dispatcher = (*Publisher)(nil)
