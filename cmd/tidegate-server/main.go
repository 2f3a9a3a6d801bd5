// tidegate-server runs the realtime gateway: a websocket endpoint backed by
// the in-memory reactive store, with optional auth, rate limiting, metrics,
// and a NATS system-event bridge. All settings come from the environment
// (see config); flags cover only process-local choices.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/floegence/tidegate/audit"
	"github.com/floegence/tidegate/bridge"
	"github.com/floegence/tidegate/config"
	"github.com/floegence/tidegate/observability"
	"github.com/floegence/tidegate/observability/prom"
	"github.com/floegence/tidegate/server"
	"github.com/floegence/tidegate/session"
	"github.com/floegence/tidegate/store"
)

func main() {
	var envFile string
	flag.StringVar(&envFile, "env-file", "", "explicit env file (default: ./.env when present)")
	flag.Parse()

	cfg, err := loadConfig(envFile)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("configuration")
	}

	log := newLogger(cfg)

	ms := store.NewMemStore()
	defer ms.Close()

	srvCfg := server.DefaultConfig()
	srvCfg.Store = ms
	srvCfg.Path = cfg.WSPath
	srvCfg.AllowedOrigins = cfg.AllowedOrigins
	srvCfg.MaxConns = cfg.MaxConns
	srvCfg.HeartbeatInterval = cfg.HeartbeatInterval
	srvCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	srvCfg.GracePeriod = cfg.GracePeriod
	srvCfg.ShutdownTimeout = cfg.ShutdownTimeout
	srvCfg.Logger = log
	srvCfg.Audit = audit.Config{
		Tiers:      auditTiers(cfg.AuditTiers),
		MaxEntries: cfg.AuditMaxEntries,
	}

	if validator, err := authValidator(cfg); err != nil {
		log.Fatal().Err(err).Msg("auth setup")
	} else if validator != nil {
		srvCfg.Auth = &server.AuthConfig{Validate: validator}
	}

	if cfg.RateLimit > 0 {
		srvCfg.RateLimit = &server.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateWindow,
		}
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prom.NewRegistry()
		srvCfg.Observer = prom.NewGatewayObserver(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	} else {
		srvCfg.Observer = observability.NoopGatewayObserver
	}

	host, err := server.New(srvCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("server setup")
	}
	if err := host.Listen(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}

	if cfg.NATSURL != "" {
		br, err := bridge.New(bridge.Config{URL: cfg.NATSURL, Logger: log}, host)
		if err != nil {
			log.Fatal().Err(err).Msg("bridge setup")
		}
		if err := br.Start(); err != nil {
			log.Fatal().Err(err).Msg("bridge start")
		}
		defer br.Close()
		log.Info().Str("url", cfg.NATSURL).Msg("system event bridge connected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go logStats(ctx, log, host)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.GracePeriod+cfg.ShutdownTimeout+time.Second)
	defer cancel()
	if err := host.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func logStats(ctx context.Context, log zerolog.Logger, host *server.Host) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := host.Stats()
			log.Info().
				Int("connections", s.Connections).
				Int64("accepted", s.Accepted).
				Int("authenticated", s.Authenticated).
				Int("store_subscriptions", s.StoreSubscriptions).
				Int("rules_subscriptions", s.RulesSubscriptions).
				Int("audit_entries", s.AuditEntries).
				Msg("gateway stats")
		}
	}
}

func loadConfig(envFile string) (config.Config, error) {
	if envFile != "" {
		return config.LoadFile(envFile)
	}
	return config.Load()
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr)
	if !cfg.LogJSON {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func auditTiers(names []string) []audit.Tier {
	tiers := make([]audit.Tier, 0, len(names))
	for _, n := range names {
		tiers = append(tiers, audit.Tier(n))
	}
	return tiers
}

// authValidator picks the configured backend: a builtin identity store
// bootstrapped from the admin secret, or JWT verification.
func authValidator(cfg config.Config) (session.Validator, error) {
	switch {
	case cfg.AdminSecret != "":
		ids, err := session.NewIdentityStore(cfg.AdminSecret, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		return ids.Validator(), nil
	case cfg.JWTSecret != "":
		return session.JWTValidator([]byte(cfg.JWTSecret), cfg.JWTIssuer), nil
	default:
		return nil, nil
	}
}
