package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/floegence/tidegate/audit"
	"github.com/floegence/tidegate/internal/connid"
	"github.com/floegence/tidegate/observability"
	"github.com/floegence/tidegate/ratelimit"
	"github.com/floegence/tidegate/realtime/ws"
	"github.com/floegence/tidegate/registry"
)

// Host supervises the per-connection workers. Workers are one-for-one and
// never restarted: a worker failure tears down its own connection and
// nothing else.
type Host struct {
	cfg Config
	log zerolog.Logger
	obs observability.GatewayObserver

	registry *registry.Registry
	auditLog *audit.Log
	limiter  *ratelimit.Limiter

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	accepted atomic.Int64

	httpSrv  *http.Server
	listener net.Listener
}

// New validates the configuration and assembles the host. Capabilities come
// up before the transport: audit ring, rate limiter, and registry exist
// before the first upgrade is possible.
func New(cfg Config) (*Host, error) {
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	h := &Host{
		cfg:      cfg,
		log:      cfg.Logger,
		obs:      cfg.Observer,
		auditLog: audit.New(cfg.Audit),
		registry: registry.New(),
		workers:  make(map[string]*worker),
	}
	if cfg.RateLimit != nil {
		h.limiter = ratelimit.New(ratelimit.Config{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
		})
	}
	return h, nil
}

// Audit exposes the audit ring for querying.
func (h *Host) Audit() *audit.Log { return h.auditLog }

// Registry exposes connection metadata.
func (h *Host) Registry() *registry.Registry { return h.registry }

// Register mounts the websocket endpoint and the health probe on mux.
func (h *Host) Register(mux *http.ServeMux) {
	mux.HandleFunc(h.cfg.Path, h.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Listen binds addr and serves until Shutdown. Port 0 picks an ephemeral
// port; Addr reports the bound address.
func (h *Host) Listen(addr string) error {
	mux := http.NewServeMux()
	h.Register(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ln.Close()
		return errors.New("host is shut down")
	}
	h.listener = ln
	h.httpSrv = &http.Server{Handler: mux}
	srv := h.httpSrv
	h.mu.Unlock()

	h.log.Info().Str("addr", ln.Addr().String()).Str("path", h.cfg.Path).Msg("listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Msg("http server stopped")
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (h *Host) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *Host) handleWS(rw http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	count := len(h.workers)
	h.mu.Unlock()
	if closed {
		http.Error(rw, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if count >= h.cfg.MaxConns {
		http.Error(rw, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.Upgrade(rw, r, ws.UpgraderOptions{
		ReadLimit:   h.cfg.MaxFrameBytes,
		CheckOrigin: ws.OriginChecker(h.cfg.AllowedOrigins),
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	id := connid.Next()
	w := newWorker(h, id, conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.CloseWithStatus(ws.CloseNormal, ws.ReasonServerShutdown)
		return
	}
	h.workers[id] = w
	count = len(h.workers)
	h.mu.Unlock()

	h.accepted.Add(1)
	h.registry.Register(id, conn.RemoteAddr())
	h.obs.ConnCount(int64(count))
	h.log.Info().Str("conn_id", id).Str("remote", conn.RemoteAddr()).Msg("connection accepted")

	if err := w.start(); err != nil {
		h.log.Error().Err(err).Str("conn_id", id).Msg("worker start failed")
		w.stop(closeTransportError)
		w.finalize()
	}
}

// detach removes a terminated worker from the supervisor. Called from the
// worker's own finalize; never triggers a restart.
func (h *Host) detach(w *worker) {
	h.mu.Lock()
	delete(h.workers, w.id)
	count := len(h.workers)
	h.mu.Unlock()

	h.registry.Deregister(w.id)
	if h.limiter != nil {
		h.limiter.Remove(w.id)
	}
	h.obs.ConnCount(int64(count))
	stats := h.registry.Stats()
	h.obs.SubscriptionCount(stats.StoreSubscriptions + stats.RulesSubscriptions)
}

// Broadcast posts a system event to every live worker and returns how many
// accepted it. Workers with a saturated inbox are skipped.
func (h *Host) Broadcast(event string, extra map[string]any) int {
	h.mu.Lock()
	targets := make([]*worker, 0, len(h.workers))
	for _, w := range h.workers {
		targets = append(targets, w)
	}
	h.mu.Unlock()

	n := 0
	for _, w := range targets {
		if w.tryPost(systemNotice{event: event, extra: extra}) {
			n++
		}
	}
	return n
}

// Stats reports aggregate counters for health and introspection.
type Stats struct {
	Connections        int
	Accepted           int64
	Authenticated      int
	StoreSubscriptions int
	RulesSubscriptions int
	AuditEntries       int
}

func (h *Host) Stats() Stats {
	rs := h.registry.Stats()
	return Stats{
		Connections:        rs.Connections,
		Accepted:           h.accepted.Load(),
		Authenticated:      rs.Authenticated,
		StoreSubscriptions: rs.StoreSubscriptions,
		RulesSubscriptions: rs.RulesSubscriptions,
		AuditEntries:       h.auditLog.Size(),
	}
}

// Shutdown stops the listener, offers each worker a graceful exit within
// the grace period, then force-terminates the rest. It returns once all
// workers are gone or ctx expires.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	srv := h.httpSrv
	targets := make([]*worker, 0, len(h.workers))
	for _, w := range h.workers {
		targets = append(targets, w)
	}
	h.mu.Unlock()

	if srv != nil {
		srvCtx, cancel := context.WithTimeout(ctx, h.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(srvCtx)
	}

	for _, w := range targets {
		if !w.tryPost(shutdownNotice{}) {
			w.stop(closeServerShutdown)
		}
	}

	if h.cfg.GracePeriod > 0 {
		deadline := time.NewTimer(h.cfg.GracePeriod)
		defer deadline.Stop()
		if workersDone(ctx, deadline.C, targets) {
			h.log.Info().Msg("all connections drained")
			return ctx.Err()
		}
	}

	for _, w := range targets {
		w.stop(closeServerShutdown)
	}
	force := time.NewTimer(h.cfg.ShutdownTimeout)
	defer force.Stop()
	if !workersDone(ctx, force.C, targets) {
		// Unblock anything stuck on the transport.
		for _, w := range targets {
			_ = w.conn.Close()
		}
	}
	h.log.Info().Msg("host stopped")
	return ctx.Err()
}

// workersDone waits until every worker has finalized, the timer fires, or
// ctx expires. True means all workers exited.
func workersDone(ctx context.Context, timeout <-chan time.Time, targets []*worker) bool {
	for _, w := range targets {
		select {
		case <-w.done:
		case <-timeout:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}
