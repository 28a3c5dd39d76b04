// Package metrics holds the Prometheus instruments for the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the registry's counters.
type Metrics struct {
	SessionsCreated    prometheus.Counter
	Registrations      prometheus.Counter
	Cancellations      prometheus.Counter
	CapacityRejections prometheus.Counter
}

// New creates and registers all counters against reg. Tests pass a fresh
// prometheus.NewRegistry so repeated construction never double-registers.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_registry_sessions_created_total",
			Help: "Total number of training sessions created",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_registry_registrations_total",
			Help: "Total number of successful registrations",
		}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_registry_cancellations_total",
			Help: "Total number of cancellations",
		}),
		CapacityRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_registry_capacity_rejections_total",
			Help: "Total number of registrations rejected because the session was full",
		}),
	}
}
