package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessionExpiry(t *testing.T) {
	now := time.Now()
	var nilSession *Session
	if !nilSession.Expired(now) {
		t.Fatal("nil session must read as expired")
	}
	s := &Session{UserID: "u"}
	if s.Expired(now) {
		t.Fatal("session without expiry expired")
	}
	if s.ExpiresAtMillis() != 0 {
		t.Fatalf("ExpiresAtMillis() = %d, want 0", s.ExpiresAtMillis())
	}
	s.ExpiresAt = now.Add(time.Minute)
	if s.Expired(now) {
		t.Fatal("future expiry read as expired")
	}
	if s.Expired(now.Add(time.Minute)) != true {
		t.Fatal("expiry boundary must be exclusive of the deadline")
	}
	if s.ExpiresAtMillis() != s.ExpiresAt.UnixMilli() {
		t.Fatalf("ExpiresAtMillis() = %d", s.ExpiresAtMillis())
	}
}

func TestNewSessionCopiesIdentity(t *testing.T) {
	id := &Identity{UserID: "user-1", Roles: []string{"user"}}
	s := NewSession(id)
	if s.ID == "" {
		t.Fatal("session missing id")
	}
	id.Roles[0] = "mutated"
	if s.Roles[0] != "user" {
		t.Fatal("session shares roles slice with identity")
	}
	s2 := NewSession(&Identity{UserID: "user-1"})
	if s.ID == s2.ID {
		t.Fatal("session ids must be unique")
	}
}

func TestIdentityStoreBootstrapAndLogin(t *testing.T) {
	s, err := NewIdentityStore("s3cret", 0)
	if err != nil {
		t.Fatalf("NewIdentityStore() failed: %v", err)
	}
	validate := s.Validator()
	ctx := context.Background()

	id, err := validate(ctx, "admin:s3cret")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if id == nil || id.UserID != AdminUserID {
		t.Fatalf("admin login rejected: %+v", id)
	}
	if len(id.Roles) != 1 || id.Roles[0] != "admin" {
		t.Fatalf("admin roles = %v", id.Roles)
	}
	if !id.ExpiresAt.IsZero() {
		t.Fatal("ttl 0 must mean no expiry")
	}

	for _, token := range []string{"admin:wrong", "ghost:s3cret", "no-separator", ""} {
		id, err := validate(ctx, token)
		if err != nil {
			t.Fatalf("validate(%q) errored: %v", token, err)
		}
		if id != nil {
			t.Fatalf("validate(%q) accepted", token)
		}
	}
}

func TestIdentityStoreRequiresAdminSecret(t *testing.T) {
	if _, err := NewIdentityStore("  ", 0); err == nil {
		t.Fatal("blank admin secret accepted")
	}
}

func TestIdentityStoreUserManagement(t *testing.T) {
	s, err := NewIdentityStore("boot", time.Hour)
	if err != nil {
		t.Fatalf("NewIdentityStore() failed: %v", err)
	}
	if err := s.CreateUser("alice", "pw", []string{"user"}); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if err := s.CreateUser("alice", "pw2", nil); err != ErrUserExists {
		t.Fatalf("duplicate CreateUser() = %v", err)
	}

	id, err := s.Validator()(context.Background(), "alice:pw")
	if err != nil || id == nil {
		t.Fatalf("alice login failed: %v, %v", id, err)
	}
	if id.ExpiresAt.IsZero() {
		t.Fatal("ttl sessions must carry an expiry")
	}
	if until := time.Until(id.ExpiresAt); until <= 50*time.Minute || until > time.Hour {
		t.Fatalf("expiry %v not within ttl", until)
	}

	if err := s.RemoveUser("alice"); err != nil {
		t.Fatalf("RemoveUser() failed: %v", err)
	}
	if err := s.RemoveUser("alice"); err != ErrUnknownUser {
		t.Fatalf("second RemoveUser() = %v", err)
	}
	id, _ = s.Validator()(context.Background(), "alice:pw")
	if id != nil {
		t.Fatal("removed user still validates")
	}
}

func signTestJWT(t *testing.T, secret []byte, sub, issuer string, roles []string, exp time.Time) string {
	t.Helper()
	claims := jwtClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	return signed
}

func TestJWTValidator(t *testing.T) {
	secret := []byte("k")
	validate := JWTValidator(secret, "tidegate")
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	id, err := validate(ctx, signTestJWT(t, secret, "user-1", "tidegate", []string{"user"}, exp))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if id == nil || id.UserID != "user-1" || len(id.Roles) != 1 {
		t.Fatalf("identity = %+v", id)
	}
	if id.ExpiresAt.Unix() != exp.Unix() {
		t.Fatalf("ExpiresAt = %v, want %v", id.ExpiresAt, exp)
	}

	rejects := []string{
		"not-a-jwt",
		signTestJWT(t, []byte("other"), "user-1", "tidegate", nil, exp),
		signTestJWT(t, secret, "user-1", "someone-else", nil, exp),
		signTestJWT(t, secret, "user-1", "tidegate", nil, time.Now().Add(-time.Minute)),
		signTestJWT(t, secret, "", "tidegate", nil, exp),
	}
	for i, token := range rejects {
		id, err := validate(ctx, token)
		if err != nil {
			t.Fatalf("case %d errored: %v", i, err)
		}
		if id != nil {
			t.Fatalf("case %d accepted: %+v", i, id)
		}
	}
}
