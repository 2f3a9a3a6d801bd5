package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AdminUserID is the user created by admin-secret bootstrap.
const AdminUserID = "admin"

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUnknownUser  = errors.New("unknown user")
	ErrBadReference = errors.New("missing admin secret")
)

// IdentityStore is the built-in identity mode: an in-memory credential store
// bootstrapped from an admin secret. Login tokens take the form
// "userId:secret". The server treats its Validator exactly like an external
// one.
type IdentityStore struct {
	mu    sync.RWMutex
	users map[string]*identityUser
	ttl   time.Duration // Session lifetime; zero means no expiry.
}

type identityUser struct {
	id    string
	roles []string
	hash  []byte
}

// NewIdentityStore bootstraps the store with an admin user whose credential
// is adminSecret. Sessions expire after ttl when ttl is positive.
func NewIdentityStore(adminSecret string, ttl time.Duration) (*IdentityStore, error) {
	if strings.TrimSpace(adminSecret) == "" {
		return nil, ErrBadReference
	}
	s := &IdentityStore{users: make(map[string]*identityUser), ttl: ttl}
	if err := s.CreateUser(AdminUserID, adminSecret, []string{"admin"}); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateUser adds a user with a bcrypt-hashed credential.
func (s *IdentityStore) CreateUser(userID, secret string, roles []string) error {
	if strings.TrimSpace(userID) == "" || secret == "" {
		return errors.New("missing user id or secret")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[userID]; exists {
		return ErrUserExists
	}
	s.users[userID] = &identityUser{
		id:    userID,
		roles: append([]string(nil), roles...),
		hash:  hash,
	}
	return nil
}

// RemoveUser deletes a user. Existing sessions are unaffected; sessions are
// per-connection state owned by workers, not by the identity store.
func (s *IdentityStore) RemoveUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[userID]; !exists {
		return ErrUnknownUser
	}
	delete(s.users, userID)
	return nil
}

// Validator adapts the store to the Validator contract.
func (s *IdentityStore) Validator() Validator {
	return func(_ context.Context, token string) (*Identity, error) {
		userID, secret, ok := strings.Cut(token, ":")
		if !ok {
			return nil, nil
		}
		s.mu.RLock()
		u := s.users[userID]
		s.mu.RUnlock()
		if u == nil {
			return nil, nil
		}
		if bcrypt.CompareHashAndPassword(u.hash, []byte(secret)) != nil {
			return nil, nil
		}
		id := &Identity{UserID: u.id, Roles: append([]string(nil), u.roles...)}
		if s.ttl > 0 {
			id.ExpiresAt = time.Now().Add(s.ttl)
		}
		return id, nil
	}
}
