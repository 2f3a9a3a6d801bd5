// Package config loads gateway settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string   `env:"TIDEGATE_ADDR" envDefault:":8080"`
	WSPath         string   `env:"TIDEGATE_WS_PATH" envDefault:"/ws"`
	AllowedOrigins []string `env:"TIDEGATE_ALLOWED_ORIGINS" envSeparator:","`
	MaxConns       int      `env:"TIDEGATE_MAX_CONNS" envDefault:"10000"`

	// Exactly one auth backend may be set. Both empty disables the gate.
	AdminSecret string        `env:"TIDEGATE_ADMIN_SECRET"`
	JWTSecret   string        `env:"TIDEGATE_JWT_SECRET"`
	JWTIssuer   string        `env:"TIDEGATE_JWT_ISSUER" envDefault:"tidegate"`
	SessionTTL  time.Duration `env:"TIDEGATE_SESSION_TTL" envDefault:"24h"`

	RateLimit  int           `env:"TIDEGATE_RATE_LIMIT" envDefault:"0"`
	RateWindow time.Duration `env:"TIDEGATE_RATE_WINDOW" envDefault:"1m"`

	HeartbeatInterval time.Duration `env:"TIDEGATE_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"TIDEGATE_HEARTBEAT_TIMEOUT" envDefault:"60s"`

	GracePeriod     time.Duration `env:"TIDEGATE_GRACE_PERIOD" envDefault:"3s"`
	ShutdownTimeout time.Duration `env:"TIDEGATE_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	AuditTiers      []string `env:"TIDEGATE_AUDIT_TIERS" envSeparator:"," envDefault:"admin"`
	AuditMaxEntries int      `env:"TIDEGATE_AUDIT_MAX_ENTRIES" envDefault:"10000"`

	MetricsAddr string `env:"TIDEGATE_METRICS_ADDR"`
	NATSURL     string `env:"TIDEGATE_NATS_URL"`

	LogLevel string `env:"TIDEGATE_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"TIDEGATE_LOG_JSON" envDefault:"true"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return parse()
}

// LoadFile is Load with an explicit env file, for non-default layouts.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, fmt.Errorf("load env file %s: %w", path, err)
	}
	return parse()
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AdminSecret != "" && c.JWTSecret != "" {
		return errors.New("TIDEGATE_ADMIN_SECRET and TIDEGATE_JWT_SECRET are mutually exclusive")
	}
	if c.RateLimit < 0 {
		return errors.New("TIDEGATE_RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return errors.New("TIDEGATE_RATE_WINDOW must be positive when rate limiting is on")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return errors.New("TIDEGATE_HEARTBEAT_TIMEOUT must exceed TIDEGATE_HEARTBEAT_INTERVAL")
	}
	return nil
}
