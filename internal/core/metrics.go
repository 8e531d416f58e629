package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates the coordinator's Prometheus instruments.
type Metrics struct {
	Operations     *prometheus.CounterVec
	LockConflicts  prometheus.Counter
	EventsPublished prometheus.Counter
	EventsFailed   prometheus.Counter
	AuditFailed    prometheus.Counter
}

// NewMetrics registers the coordinator metrics on reg. A nil registerer
// yields inert instruments, which keeps tests quiet.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "occupd_operations_total",
			Help: "Coordinator operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupd_lock_conflicts_total",
			Help: "TAKE/PAUSE/FINISH attempts refused because the unit lock was held.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupd_events_published_total",
			Help: "Events handed to the bus.",
		}),
		EventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupd_events_failed_total",
			Help: "Event publishes that failed and were dropped.",
		}),
		AuditFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupd_audit_failed_total",
			Help: "Audit appends that failed and were dropped.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.LockConflicts, m.EventsPublished, m.EventsFailed, m.AuditFailed)
	}
	return m
}
