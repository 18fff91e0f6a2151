package homegraph

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes sync engine counters through a Prometheus registry.
type Metrics struct {
	SyncAttempts         prometheus.Counter
	SyncSuccesses        prometheus.Counter
	SyncFailures         prometheus.Counter
	ConflictsResolved    prometheus.Counter
	ConflictsUnresolved  prometheus.Counter
	EntitiesApplied      prometheus.Counter
	RelationshipsApplied prometheus.Counter
	SyncDuration         prometheus.Histogram
}

// NewMetrics creates and registers the sync counters. A nil registerer keeps
// the counters unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "attempts_total", Help: "Sync cycles started.",
		}),
		SyncSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "successes_total", Help: "Sync cycles completed successfully.",
		}),
		SyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "failures_total", Help: "Sync cycles that ended in error.",
		}),
		ConflictsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "conflicts_resolved_total", Help: "Conflicts resolved automatically.",
		}),
		ConflictsUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "conflicts_unresolved_total", Help: "Conflicts surfaced for manual resolution.",
		}),
		EntitiesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "entities_applied_total", Help: "Remote entity changes applied locally.",
		}),
		RelationshipsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "relationships_applied_total", Help: "Remote relationship changes applied locally.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homegraph", Subsystem: "sync",
			Name: "duration_seconds", Help: "Wall time of one sync cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SyncAttempts, m.SyncSuccesses, m.SyncFailures,
			m.ConflictsResolved, m.ConflictsUnresolved,
			m.EntitiesApplied, m.RelationshipsApplied, m.SyncDuration,
		)
	}
	return m
}
