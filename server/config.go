// Package server hosts the connection engine: one worker per websocket
// client running the request and push pipelines, plus the supervisor that
// spawns, tracks, and drains workers.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/floegence/tidegate/audit"
	"github.com/floegence/tidegate/observability"
	"github.com/floegence/tidegate/session"
	"github.com/floegence/tidegate/store"
)

// RulesEngine mirrors the store contract for the optional rule engine.
// When absent, every rules.* request fails with RULES_NOT_AVAILABLE.
type RulesEngine interface {
	Execute(ctx context.Context, op string, params map[string]any) (any, error)
	Subscribe(ctx context.Context, query string, params map[string]any, emit store.EmitFunc) (*store.Subscription, error)
}

// AuthConfig enables the authentication gate.
type AuthConfig struct {
	Validate session.Validator // Token validator; required.
	Optional bool              // When true the gate is advisory: unauthenticated requests pass.
}

// RateLimitConfig enables the per-connection request gate.
type RateLimitConfig struct {
	Limit  int           // Requests allowed per window.
	Window time.Duration // Window length.
}

// Config is the immutable runtime configuration of a Host.
type Config struct {
	Store store.Store // Required reactive store capability.
	Rules RulesEngine // Optional rule engine.

	Auth        *AuthConfig               // Optional; absence disables the gate entirely.
	Permissions session.PermissionChecker // Optional authorization hook.
	RateLimit   *RateLimitConfig          // Optional request quota.

	Path           string   // WebSocket endpoint path (e.g. "/ws").
	AllowedOrigins []string // Origin allow-list; empty allows all.
	MaxConns       int      // Maximum concurrent connections.
	MaxFrameBytes  int64    // Max inbound frame size.

	HeartbeatInterval time.Duration // Ping cadence.
	HeartbeatTimeout  time.Duration // Liveness window; close 4001 beyond it.

	HighWaterMark int // Buffered outbound bytes above which pushes are dropped.

	Audit audit.Config // Audit ring configuration.

	GracePeriod     time.Duration // Graceful shutdown window; 0 terminates immediately.
	ShutdownTimeout time.Duration // Bound on a single worker's terminate.

	Logger   zerolog.Logger                // Structured logger; zerolog.Nop() by default.
	Observer observability.GatewayObserver // Metrics observer.
}

// DefaultConfig returns conservative defaults for a gateway host.
func DefaultConfig() Config {
	return Config{
		Path:              "/ws",
		MaxConns:          10000,
		MaxFrameBytes:     1 << 20,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		HighWaterMark:     1 << 20,
		GracePeriod:       0,
		ShutdownTimeout:   5 * time.Second,
		Logger:            zerolog.Nop(),
		Observer:          observability.NoopGatewayObserver,
	}
}

func (cfg *Config) normalize() error {
	if cfg.Store == nil {
		return errors.New("missing store")
	}
	if cfg.Auth != nil && cfg.Auth.Validate == nil {
		return errors.New("auth configured without validator")
	}
	if cfg.RateLimit != nil && (cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0) {
		return errors.New("rate limit requires positive limit and window")
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10000
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = 1 << 20
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopGatewayObserver
	}
	return nil
}

// requiresAuth reports whether the welcome frame announces a mandatory gate.
func (cfg *Config) requiresAuth() bool {
	return cfg.Auth != nil && !cfg.Auth.Optional
}
