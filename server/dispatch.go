package server

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/floegence/tidegate/audit"
	"github.com/floegence/tidegate/observability"
	"github.com/floegence/tidegate/protocol"
	"github.com/floegence/tidegate/session"
	"github.com/floegence/tidegate/store"
	"github.com/floegence/tidegate/tgerrors"
)

func classify(err error) *tgerrors.Error {
	return tgerrors.Classify(err)
}

// gateExempt reports whether an operation bypasses the authentication gate.
// Login has to be reachable without a session, and ping is pure liveness.
func gateExempt(op string) bool {
	return op == "ping" || strings.HasPrefix(op, "auth.")
}

// handleRequest runs the full pipeline for one request: auth gate, rate
// gate, permission check, dispatch, audit, and exactly one response.
func (w *worker) handleRequest(req *protocol.Request) {
	now := time.Now()
	exempt := gateExempt(req.Type)

	if !exempt && w.host.cfg.requiresAuth() {
		if w.sess == nil {
			w.finish(req, tgerrors.KindUnauthorized, nil,
				tgerrors.New(tgerrors.KindUnauthorized, "Authentication required"))
			return
		}
		if w.sess.Expired(now) {
			w.clearSession()
			w.host.obs.Auth(observability.AuthResultExpired)
			w.finish(req, tgerrors.KindUnauthorized, nil,
				tgerrors.New(tgerrors.KindUnauthorized, "Session expired"))
			return
		}
	}

	if w.host.limiter != nil {
		if ok, retryAfter := w.host.limiter.Allow(w.id); !ok {
			w.host.obs.RateLimited()
			e := tgerrors.New(tgerrors.KindRateLimited, "Rate limit exceeded").
				WithDetails(map[string]any{"retryAfterMs": retryAfter.Milliseconds()})
			w.finish(req, tgerrors.KindRateLimited, nil, e)
			return
		}
	}

	if !exempt && w.host.cfg.Permissions != nil {
		if !w.host.cfg.Permissions(w.sess, req.Type, resourceOf(req)) {
			w.finish(req, tgerrors.KindForbidden, nil,
				tgerrors.Newf(tgerrors.KindForbidden, "permission denied for %s", req.Type))
			return
		}
	}

	data, err := w.dispatch(req)
	w.finish(req, "", data, err)
}

// dispatch routes the request to its handler, converting handler panics
// into internal errors so one request cannot take the connection down.
func (w *worker) dispatch(req *protocol.Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("op", req.Type).Msg("handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch {
	case req.Type == "ping":
		return map[string]any{"timestamp": protocol.NowMillis()}, nil
	case strings.HasPrefix(req.Type, "auth."):
		return w.dispatchAuth(req)
	case strings.HasPrefix(req.Type, "store."):
		return w.dispatchStore(req)
	case strings.HasPrefix(req.Type, "rules."):
		return w.dispatchRules(req)
	default:
		return nil, tgerrors.Newf(tgerrors.KindUnknownOperation, "unknown operation %q", req.Type)
	}
}

// finish records the outcome in the audit ring, emits the response frame,
// and updates metrics. Every request path ends here exactly once.
func (w *worker) finish(req *protocol.Request, kindHint tgerrors.Kind, data any, err error) {
	tier := audit.TierOf(req.Type)
	if w.host.auditLog != nil && w.host.auditLog.Audited(tier) {
		entry := audit.Entry{
			Operation:     req.Type,
			Resource:      resourceOf(req),
			Result:        audit.ResultSuccess,
			RemoteAddress: w.conn.RemoteAddr(),
		}
		if w.sess != nil {
			entry.UserID = w.sess.UserID
			entry.SessionID = w.sess.ID
		}
		if err != nil {
			entry.Result = audit.ResultError
			entry.Error = tgerrors.InternalText(err)
		}
		w.host.auditLog.Append(tier, entry)
	}

	if err != nil {
		terr := classify(err)
		if kindHint == "" {
			kindHint = terr.Kind
		}
		w.sendError(req.ID, terr)
		w.host.obs.Request(observability.RequestResultError, string(kindHint))
		return
	}
	w.sendResult(req.ID, data)
	w.host.obs.Request(observability.RequestResultOK, req.Type)
}

// resourceOf extracts the resource an operation touches, for audit and
// permission checks. Store operations name a bucket, subscriptions a query,
// rules an id.
func resourceOf(req *protocol.Request) string {
	switch {
	case req.Type == "store.subscribe" || req.Type == "rules.subscribe":
		return req.String("query")
	case req.Type == "store.unsubscribe" || req.Type == "rules.unsubscribe":
		return req.String("subscriptionId")
	case strings.HasPrefix(req.Type, "store."):
		return req.String("bucket")
	case strings.HasPrefix(req.Type, "rules."):
		return req.String("ruleId")
	default:
		return ""
	}
}

func (w *worker) dispatchAuth(req *protocol.Request) (any, error) {
	switch req.Type {
	case "auth.login":
		return w.login(req)
	case "auth.whoami":
		return w.whoami(), nil
	case "auth.logout":
		w.clearSession()
		return map[string]any{"loggedOut": true}, nil
	default:
		return nil, tgerrors.Newf(tgerrors.KindUnknownOperation, "unknown operation %q", req.Type)
	}
}

func (w *worker) login(req *protocol.Request) (any, error) {
	if w.host.cfg.Auth == nil {
		return nil, tgerrors.New(tgerrors.KindUnauthorized, "Authentication not configured")
	}
	token := req.String("token")
	if token == "" {
		return nil, tgerrors.New(tgerrors.KindInvalidRequest, "missing token")
	}
	identity, err := w.host.cfg.Auth.Validate(w.ctx, token)
	if err != nil {
		w.host.obs.Auth(observability.AuthResultRejected)
		return nil, fmt.Errorf("token validation: %w", err)
	}
	if identity == nil {
		w.host.obs.Auth(observability.AuthResultRejected)
		return nil, tgerrors.New(tgerrors.KindUnauthorized, "Invalid token")
	}
	if !identity.ExpiresAt.IsZero() && !identity.ExpiresAt.After(time.Now()) {
		w.host.obs.Auth(observability.AuthResultExpired)
		return nil, tgerrors.New(tgerrors.KindUnauthorized, "Token has expired")
	}

	w.sess = session.NewSession(identity)
	w.host.registry.UpdateAuth(w.id, true, w.sess.UserID, w.sess.Roles)
	w.host.obs.Auth(observability.AuthResultOK)
	w.log.Info().Str("user_id", w.sess.UserID).Msg("authenticated")

	data := map[string]any{
		"userId": w.sess.UserID,
		"roles":  rolesOrEmpty(w.sess.Roles),
	}
	if ms := w.sess.ExpiresAtMillis(); ms != 0 {
		data["expiresAt"] = ms
	}
	return data, nil
}

func (w *worker) whoami() map[string]any {
	if w.sess == nil || w.sess.Expired(time.Now()) {
		if w.sess != nil {
			w.clearSession()
		}
		return map[string]any{"authenticated": false}
	}
	data := map[string]any{
		"authenticated": true,
		"userId":        w.sess.UserID,
		"roles":         rolesOrEmpty(w.sess.Roles),
	}
	if ms := w.sess.ExpiresAtMillis(); ms != 0 {
		data["expiresAt"] = ms
	}
	return data
}

// clearSession drops the session and reflects the change in the registry.
// Safe to call when no session is active.
func (w *worker) clearSession() {
	if w.sess == nil {
		return
	}
	w.sess = nil
	w.host.registry.UpdateAuth(w.id, false, "", nil)
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

func (w *worker) dispatchStore(req *protocol.Request) (any, error) {
	switch req.Type {
	case "store.subscribe":
		return w.subscribe(req, "subscription", w.host.cfg.Store.Subscribe, w.storeSub)
	case "store.unsubscribe":
		return w.unsubscribe(req, w.storeSub)
	default:
		op := strings.TrimPrefix(req.Type, "store.")
		return w.host.cfg.Store.Execute(w.ctx, op, req.Fields)
	}
}

func (w *worker) dispatchRules(req *protocol.Request) (any, error) {
	if w.host.cfg.Rules == nil {
		return nil, tgerrors.New(tgerrors.KindRulesNotAvailable, "rule engine not configured")
	}
	switch req.Type {
	case "rules.subscribe":
		return w.subscribe(req, "event", w.host.cfg.Rules.Subscribe, w.rulesSub)
	case "rules.unsubscribe":
		return w.unsubscribe(req, w.rulesSub)
	default:
		op := strings.TrimPrefix(req.Type, "rules.")
		return w.host.cfg.Rules.Execute(w.ctx, op, req.Fields)
	}
}

type subscribeFunc func(ctx context.Context, query string, params map[string]any, emit store.EmitFunc) (*store.Subscription, error)

// subscribe registers a live subscription on the given capability. The emit
// closure hops back into this worker's inbox, so pushes interleave with
// request processing in a single goroutine and land only on this
// connection. Emissions that fire before the subscription id is assigned
// are discarded; the client has not learned the id yet either.
func (w *worker) subscribe(req *protocol.Request, channel string, sub subscribeFunc, active map[string]func()) (any, error) {
	query := req.String("query")
	if query == "" {
		return nil, tgerrors.New(tgerrors.KindInvalidRequest, "missing query")
	}

	var subID atomic.Value
	s, err := sub(w.ctx, query, req.Map("params"), func(data any) {
		id, _ := subID.Load().(string)
		if id == "" {
			return
		}
		w.tryPost(pushDelivery{subscriptionID: id, channel: channel, data: data})
	})
	if err != nil {
		return nil, err
	}
	subID.Store(s.ID)

	active[s.ID] = s.Unsubscribe
	w.syncSubscriptionCounts()

	return map[string]any{
		"subscriptionId": s.ID,
		"initialData":    s.InitialData,
	}, nil
}

func (w *worker) unsubscribe(req *protocol.Request, active map[string]func()) (any, error) {
	id := req.String("subscriptionId")
	if id == "" {
		return nil, tgerrors.New(tgerrors.KindInvalidRequest, "missing subscriptionId")
	}
	unsub, ok := active[id]
	if !ok {
		return nil, tgerrors.Newf(tgerrors.KindNotFound, "unknown subscription %q", id)
	}
	unsub()
	delete(active, id)
	w.syncSubscriptionCounts()
	return map[string]any{"unsubscribed": true, "subscriptionId": id}, nil
}

func (w *worker) syncSubscriptionCounts() {
	w.host.registry.UpdateSubscriptions(w.id, len(w.storeSub), len(w.rulesSub))
	stats := w.host.registry.Stats()
	w.host.obs.SubscriptionCount(stats.StoreSubscriptions + stats.RulesSubscriptions)
}
