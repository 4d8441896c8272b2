// Package metrics exposes the sandbox's Prometheus collectors.
//
// Collectors are registered on an injected Registerer (not the global
// default) so tests can use a private registry and never trip duplicate
// registration panics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector used by the sandbox service.
type Metrics struct {
	// SessionsTotal counts terminal sessions by outcome
	// (Completed, Failed, TimedOut).
	SessionsTotal *prometheus.CounterVec

	// SessionDuration observes the wall-clock time of the full
	// provision-to-terminal sequence.
	SessionDuration prometheus.Histogram

	// ActiveSessions is the number of sessions currently between
	// admission and teardown.
	ActiveSessions prometheus.Gauge

	// InstancesCreated and InstancesDestroyed count environment
	// instances. A healthy service keeps these equal at rest; leaked
	// instances show up as a persistent gap.
	InstancesCreated   prometheus.Counter
	InstancesDestroyed prometheus.Counter
}

// New registers all collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sandboxd_sessions_total",
			Help: "Terminal sessions by outcome.",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandboxd_session_duration_seconds",
			Help:    "Wall-clock duration of a full session.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sandboxd_active_sessions",
			Help: "Sessions currently between admission and teardown.",
		}),
		InstancesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandboxd_instances_created_total",
			Help: "Environment instances created.",
		}),
		InstancesDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandboxd_instances_destroyed_total",
			Help: "Environment instances destroyed.",
		}),
	}
}
