// Package events publishes appointment lifecycle events to downstream consumers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a versioned payload carried inside an Envelope.
type Event interface {
	EventType() string
	// Aggregate names the entity the event belongs to, e.g. "appointment:a-1".
	Aggregate() string
}

// Envelope is the message body consumers receive.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Aggregate string          `json:"aggregate"`
	SentAt    time.Time       `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

var (
	ErrNilEvent         = errors.New("events: event required")
	ErrMissingAggregate = errors.New("events: aggregate required")
	nowFunc             = time.Now
)

// Wrap marshals evt into a fresh envelope.
func Wrap(evt Event) (Envelope, error) {
	if evt == nil {
		return Envelope{}, ErrNilEvent
	}
	if evt.Aggregate() == "" {
		return Envelope{}, ErrMissingAggregate
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", evt.EventType(), err)
	}
	return Envelope{
		ID:        uuid.New(),
		Type:      evt.EventType(),
		Aggregate: evt.Aggregate(),
		SentAt:    nowFunc().UTC(),
		Payload:   payload,
	}, nil
}
