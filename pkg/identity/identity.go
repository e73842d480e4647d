// Package identity is the port to the identity provider: user lookup, group
// membership (entitlements) and access-token verification.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound is returned when the identity provider has no such user.
	ErrUserNotFound = errors.New("user not found in identity provider")

	// ErrProviderUnavailable is returned when the identity provider cannot be reached
	// or is refusing calls (circuit open).
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid access token")
)

// User is the subset of an identity-provider user record this service reads.
type User struct {
	ID       string
	Email    string
	TenantID string
	Active   bool
}

// Directory is the identity provider as seen by the reconciler.
// Implementations must be safe for concurrent use.
type Directory interface {
	// RetrieveUser returns the user or ErrUserNotFound.
	RetrieveUser(ctx context.Context, id string) (*User, error)

	// AddMembers adds subjects to groups (group id -> subject ids).
	// Adding an existing member must be a no-op.
	AddMembers(ctx context.Context, members map[string][]string) error
}
