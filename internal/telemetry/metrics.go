package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Authentications     *prometheus.CounterVec
	AuthDuration        *prometheus.HistogramVec
	PermissionChecks    *prometheus.CounterVec
	SessionReconciles   *prometheus.CounterVec
	ComponentReloads    prometheus.Counter
	ViewerSessions      prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "viewbridge_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "viewbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Authentications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "viewbridge_authentications_total",
			Help: "Authentication attempts by credential kind and outcome",
		}, []string{"kind", "outcome"}),
		AuthDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "viewbridge_authentication_duration_seconds",
			Help:    "Authentication duration in seconds by credential kind",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		PermissionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "viewbridge_permission_checks_total",
			Help: "Delegated permission checks by action and result",
		}, []string{"action", "result"}),
		SessionReconciles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "viewbridge_session_reconciles_total",
			Help: "Session generation reconciliations by observed state",
		}, []string{"state"}),
		ComponentReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "viewbridge_component_reloads_total",
			Help: "Viewer component restarts",
		}),
		ViewerSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "viewbridge_viewer_sessions",
			Help: "HTTP sessions currently bound to the viewer component",
		}),
	}
}

// Discard returns collectors registered nowhere, for tests and tools.
func Discard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
