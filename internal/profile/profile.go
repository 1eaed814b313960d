// Package profile talks to the profile store that holds the authoritative
// role and approval status for each account. Provider metadata is only a
// fallback when the profile row is missing.
package profile

import (
	"context"
	"errors"
	"time"

	"caredesk.org/internal/identity"
)

var ErrNotFound = errors.New("profile: not found")

// Profile is the per-user row owned by the backend.
type Profile struct {
	UserID         string
	Name           string
	Email          string
	Role           identity.Role
	ApprovalStatus string
	UpdatedAt      time.Time
}

// Store describes the boundary contract with the profile backend.
type Store interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
}
