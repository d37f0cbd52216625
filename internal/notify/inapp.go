package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// InAppMessage is a notification record shown in the recipient's inbox.
type InAppMessage struct {
	ID         string         `json:"id,omitempty"`
	UserID     string         `json:"user_id"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	ActionLink string         `json:"action_link,omitempty"`
	ActionText string         `json:"action_text,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// InAppWriter persists in-app notifications and returns the record id.
type InAppWriter interface {
	Write(ctx context.Context, msg InAppMessage) (string, error)
}

// StoreInAppWriter writes to the notifications collection and bumps the recipient's
// unread counter. Only the notification write can fail the call.
type StoreInAppWriter struct {
	store  store.Store
	now    func() time.Time
	logger *logging.Logger
}

func NewStoreInAppWriter(st store.Store, logger *logging.Logger) *StoreInAppWriter {
	if st == nil {
		panic("notify: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StoreInAppWriter{store: st, now: time.Now, logger: logger}
}

func (w *StoreInAppWriter) Write(ctx context.Context, msg InAppMessage) (string, error) {
	if msg.UserID == "" {
		return "", ErrNoRecipient
	}
	fields := store.Fields{
		"userId":     msg.UserID,
		"title":      msg.Title,
		"message":    msg.Message,
		"type":       msg.Type,
		"read":       false,
		"actionLink": msg.ActionLink,
		"actionText": msg.ActionText,
		"imageUrl":   msg.ImageURL,
		"metadata":   SanitizeMetadata(msg.Metadata),
		"createdAt":  w.now().UTC(),
	}

	id := msg.ID
	if id == "" {
		created, err := w.store.Create(ctx, store.CollectionNotifications, fields)
		if err != nil {
			return "", fmt.Errorf("notify: write in-app notification: %w", err)
		}
		id = created
	} else if err := w.store.Set(ctx, store.CollectionNotifications, id, fields); err != nil {
		return "", fmt.Errorf("notify: write in-app notification: %w", err)
	}

	err := w.store.Update(ctx, store.CollectionUsers, msg.UserID, store.Fields{"unreadNotifications": store.Increment(1)})
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound):
	case IsTimeout(err):
		w.logger.Debug("notify: unread counter update timed out", "error", err, "user_id", msg.UserID)
	default:
		w.logger.Warn("notify: unread counter update failed", "error", err, "user_id", msg.UserID)
	}
	return id, nil
}

// SanitizeMetadata keeps only values that survive a JSON round trip. Nil values,
// functions, channels and anything json.Marshal rejects are dropped; nested maps are
// sanitized recursively. Returns an empty map for nil input.
func SanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if nested, ok := v.(map[string]any); ok {
		return SanitizeMetadata(nested), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
	}
	if _, err := json.Marshal(v); err != nil {
		return nil, false
	}
	return v, true
}

var _ InAppWriter = (*StoreInAppWriter)(nil)
