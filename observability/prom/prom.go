// Package prom exports gateway metrics to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floegence/tidegate/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GatewayObserver exports gateway metrics to Prometheus.
type GatewayObserver struct {
	connGauge    prometheus.Gauge
	subGauge     prometheus.Gauge
	requestTotal *prometheus.CounterVec
	pushTotal    *prometheus.CounterVec
	authTotal    *prometheus.CounterVec
	rateLimited  prometheus.Counter
	closeTotal   *prometheus.CounterVec
}

// NewGatewayObserver registers gateway metrics on the registry.
func NewGatewayObserver(reg *prometheus.Registry) *GatewayObserver {
	o := &GatewayObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tidegate_connections",
			Help: "Current websocket connection count.",
		}),
		subGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tidegate_subscriptions",
			Help: "Current live subscription count across all connections.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidegate_requests_total",
			Help: "Requests by result and error code.",
		}, []string{"result", "code"}),
		pushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidegate_pushes_total",
			Help: "Push deliveries and backpressure drops.",
		}, []string{"result"}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidegate_auth_total",
			Help: "Login outcomes.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidegate_rate_limited_total",
			Help: "Requests denied by the rate gate.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidegate_closes_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.subGauge,
		o.requestTotal,
		o.pushTotal,
		o.authTotal,
		o.rateLimited,
		o.closeTotal,
	)
	return o
}

func (o *GatewayObserver) ConnCount(n int64) {
	o.connGauge.Set(float64(n))
}

func (o *GatewayObserver) SubscriptionCount(n int) {
	o.subGauge.Set(float64(n))
}

func (o *GatewayObserver) Request(result observability.RequestResult, code string) {
	o.requestTotal.WithLabelValues(string(result), code).Inc()
}

func (o *GatewayObserver) Push(result observability.PushResult) {
	o.pushTotal.WithLabelValues(string(result)).Inc()
}

func (o *GatewayObserver) Auth(result observability.AuthResult) {
	o.authTotal.WithLabelValues(string(result)).Inc()
}

func (o *GatewayObserver) RateLimited() {
	o.rateLimited.Inc()
}

func (o *GatewayObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}
