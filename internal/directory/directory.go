// Package directory resolves user ids to the profile fields used in notifications.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/smart-care-platform/internal/store"
)

// User is the profile subset read from the users collection.
type User struct {
	ID                  string `json:"id"`
	Email               string `json:"email,omitempty"`
	DisplayName         string `json:"displayName,omitempty"`
	PhotoURL            string `json:"photoURL,omitempty"`
	Specialty           string `json:"specialty,omitempty"`
	Role                string `json:"role,omitempty"`
	PushEndpoint        string `json:"pushEndpoint,omitempty"`
	UnreadNotifications int    `json:"unreadNotifications,omitempty"`
}

// Name returns DisplayName, falling back to the email local part.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	return ""
}

// Directory looks up users. GetUser returns nil, nil for unknown ids.
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// StoreDirectory reads profiles straight from the document store.
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory creates a directory over st.
func NewStoreDirectory(st store.Store) *StoreDirectory {
	return &StoreDirectory{store: st}
}

func (d *StoreDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	doc, err := d.store.Get(ctx, store.CollectionUsers, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get user %s: %w", id, err)
	}
	var u User
	if err := doc.Decode(&u); err != nil {
		return nil, fmt.Errorf("directory: decode user %s: %w", id, err)
	}
	return &u, nil
}
