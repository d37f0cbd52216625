package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the transport between Publisher and Worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received job.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobKind string

const (
	jobKindEmail jobKind = "email"
	jobKindPush  jobKind = "push"
	jobKindInApp jobKind = "in_app"
)

type queuePayload struct {
	ID         string        `json:"id"`
	Kind       jobKind       `json:"kind"`
	Email      *EmailMessage `json:"email,omitempty"`
	Push       *PushMessage  `json:"push,omitempty"`
	InApp      *InAppMessage `json:"in_app,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("notify: encode job: %w", err)
	}
	return payload, string(body), nil
}

func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("notify: decode job: %w", err)
	}
	switch {
	case payload.Kind == jobKindEmail && payload.Email != nil:
	case payload.Kind == jobKindPush && payload.Push != nil:
	case payload.Kind == jobKindInApp && payload.InApp != nil:
	default:
		return queuePayload{}, fmt.Errorf("notify: decode job %s: unknown or empty kind %q", payload.ID, payload.Kind)
	}
	return payload, nil
}
