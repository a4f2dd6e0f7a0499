package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service's Prometheus collectors. Each instance owns a
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	GuardDecisions  *prometheus.CounterVec
	RoleLookups     *prometheus.CounterVec
	TenantFallbacks prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GuardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "route_guard_decisions_total",
				Help: "Route guard outcomes by state",
			},
			[]string{"state"},
		),
		RoleLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "role_lookups_total",
				Help: "Role resolutions by source (session, store, default, fallback)",
			},
			[]string{"source"},
		),
		TenantFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenant_fallbacks_total",
				Help: "Tenant resolutions that fell back to the default tenant",
			},
		),
	}

	m.Registry.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.GuardDecisions,
		m.RoleLookups,
		m.TenantFallbacks,
		collectors.NewGoCollector(),
	)
	return m
}

// The helpers below accept a nil receiver so components can run without
// metrics in tests.

func (m *Metrics) ObserveGuard(state string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveRoleLookup(source string) {
	if m == nil {
		return
	}
	m.RoleLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveTenantFallback() {
	if m == nil {
		return
	}
	m.TenantFallbacks.Inc()
}
