// Package session defines the authentication contracts the server consumes
// and the per-connection session model.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is the authenticated identity of one connection. Sessions are
// strictly per-connection and never shared or persisted.
type Session struct {
	ID        string
	UserID    string
	Roles     []string
	ExpiresAt time.Time // Zero means no expiry.
}

// Expired reports whether the session's expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

// ExpiresAtMillis returns the expiry as wire milliseconds, or 0 when unset.
func (s *Session) ExpiresAtMillis() int64 {
	if s == nil || s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.UnixMilli()
}

// Identity is what a validator asserts about a token.
type Identity struct {
	UserID    string
	Roles     []string
	ExpiresAt time.Time // Zero means no expiry.
}

// Validator checks a login token. Returning (nil, nil) rejects the token;
// an error indicates a validator failure, not a rejection.
type Validator func(ctx context.Context, token string) (*Identity, error)

// PermissionChecker authorizes an operation against a resource for an
// authenticated session. Returning false denies the operation.
type PermissionChecker func(s *Session, operation, resource string) bool

// NewSession mints a session from a validated identity.
func NewSession(id *Identity) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    id.UserID,
		Roles:     append([]string(nil), id.Roles...),
		ExpiresAt: id.ExpiresAt,
	}
}
