// Package store is the document database boundary: collections of JSON documents with
// merge updates, filtered queries and change subscriptions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used across the application.
const (
	CollectionAppointments       = "appointments"
	CollectionUsers              = "users"
	CollectionDoctorAvailability = "doctorAvailability"
	CollectionNotifications      = "notifications"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrInvalidFilter is returned for unsupported operators or values.
	ErrInvalidFilter = errors.New("store: invalid filter")
)

// Fields is the JSON object body of a document.
type Fields map[string]any

// Document is a stored document and its id.
type Document struct {
	ID     string
	Fields Fields
}

// Decode unmarshals the document into v through its JSON form, with "id" set.
func (d Document) Decode(v any) error {
	body := make(map[string]any, len(d.Fields)+1)
	for k, val := range d.Fields {
		body[k] = val
	}
	body["id"] = d.ID
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("store: encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decode document %s: %w", d.ID, err)
	}
	return nil
}

// Op is a comparison operator for Filter.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpIn  Op = "in"
	OpGte Op = ">="
	OpLte Op = "<="
)

// Filter restricts a query to documents whose top-level Field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Order sorts query results by a top-level field.
type Order struct {
	Field string
	Desc  bool
}

// Increment, used as an update value, adds to the current numeric value (missing counts as 0).
type Increment int64

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// ChangeFunc receives the full, ordered result set after each change.
type ChangeFunc func([]Document)

// Store is implemented by every document backend.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Create inserts a new document with a generated id.
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	// Set merges fields into the document, creating it when absent.
	Set(ctx context.Context, collection, id string, fields Fields) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) error
	Query(ctx context.Context, collection string, filters []Filter, order *Order) ([]Document, error)
	// Subscribe emits the current result set once and again after every change to the collection.
	Subscribe(ctx context.Context, collection string, filters []Filter, order *Order, onChange ChangeFunc) (Unsubscribe, error)
}
