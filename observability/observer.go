// Package observability defines the metric events the gateway emits.
package observability

import (
	"sync"
	"sync/atomic"
)

type RequestResult string

const (
	RequestResultOK    RequestResult = "ok"
	RequestResultError RequestResult = "error"
)

type PushResult string

const (
	PushResultDelivered PushResult = "delivered"
	PushResultDropped   PushResult = "dropped"
)

type AuthResult string

const (
	AuthResultOK       AuthResult = "ok"
	AuthResultRejected AuthResult = "rejected"
	AuthResultExpired  AuthResult = "expired"
)

type CloseReason string

const (
	CloseReasonNormal           CloseReason = "normal"
	CloseReasonShutdown         CloseReason = "shutdown"
	CloseReasonHeartbeatTimeout CloseReason = "heartbeat_timeout"
	CloseReasonTransportClosed  CloseReason = "transport_closed"
	CloseReasonTransportError   CloseReason = "transport_error"
	CloseReasonWriteError       CloseReason = "write_error"
	CloseReasonWorkerPanic      CloseReason = "worker_panic"
)

// GatewayObserver receives gateway-level metric events.
type GatewayObserver interface {
	ConnCount(n int64)
	SubscriptionCount(n int)
	Request(result RequestResult, code string)
	Push(result PushResult)
	Auth(result AuthResult)
	RateLimited()
	Close(reason CloseReason)
}

type noopGatewayObserver struct{}

func (noopGatewayObserver) ConnCount(int64)               {}
func (noopGatewayObserver) SubscriptionCount(int)         {}
func (noopGatewayObserver) Request(RequestResult, string) {}
func (noopGatewayObserver) Push(PushResult)               {}
func (noopGatewayObserver) Auth(AuthResult)               {}
func (noopGatewayObserver) RateLimited()                  {}
func (noopGatewayObserver) Close(CloseReason)             {}

// NoopGatewayObserver is a zero-cost observer used when metrics are disabled.
var NoopGatewayObserver GatewayObserver = noopGatewayObserver{}

// AtomicGatewayObserver swaps its delegate at runtime.
type AtomicGatewayObserver struct {
	once sync.Once
	v    atomic.Value
}

type gatewayObserverHolder struct {
	obs GatewayObserver
}

// NewAtomicGatewayObserver returns an initialized atomic observer.
func NewAtomicGatewayObserver() *AtomicGatewayObserver {
	a := &AtomicGatewayObserver{}
	a.init()
	return a
}

func (a *AtomicGatewayObserver) init() {
	a.once.Do(func() { a.v.Store(&gatewayObserverHolder{obs: NoopGatewayObserver}) })
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicGatewayObserver) Set(obs GatewayObserver) {
	if obs == nil {
		obs = NoopGatewayObserver
	}
	a.init()
	a.v.Store(&gatewayObserverHolder{obs: obs})
}

func (a *AtomicGatewayObserver) load() GatewayObserver {
	a.init()
	return a.v.Load().(*gatewayObserverHolder).obs
}

func (a *AtomicGatewayObserver) ConnCount(n int64)       { a.load().ConnCount(n) }
func (a *AtomicGatewayObserver) SubscriptionCount(n int) { a.load().SubscriptionCount(n) }
func (a *AtomicGatewayObserver) Request(result RequestResult, code string) {
	a.load().Request(result, code)
}
func (a *AtomicGatewayObserver) Push(result PushResult)   { a.load().Push(result) }
func (a *AtomicGatewayObserver) Auth(result AuthResult)   { a.load().Auth(result) }
func (a *AtomicGatewayObserver) RateLimited()             { a.load().RateLimited() }
func (a *AtomicGatewayObserver) Close(reason CloseReason) { a.load().Close(reason) }
