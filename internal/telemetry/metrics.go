package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collab"

// Metrics groups the collectors the hub reports. Persistence failures are
// exported separately so operators can alert on them.
type Metrics struct {
	ActiveRooms      prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	AuthFailures     *prometheus.CounterVec
	UpdatesApplied   prometheus.Counter
	PermissionDenied prometheus.Counter
	SnapshotsSaved   prometheus.Counter
	SnapshotsSkipped prometheus.Counter
	PersistFailures  *prometheus.CounterVec
	PersistDuration  prometheus.Histogram
	SessionsEvicted  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms currently held in memory",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of attached sessions across all rooms",
		}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected connection attempts by reason",
		}, []string{"reason"}),
		UpdatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_applied_total",
			Help:      "Document updates merged into room documents",
		}),
		PermissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_denied_total",
			Help:      "Updates rejected because the session is read-only",
		}),
		SnapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_saved_total",
			Help:      "Successful snapshot writes",
		}),
		SnapshotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_skipped_total",
			Help:      "Flushes skipped because the document content was empty",
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Snapshot writes that failed after exhausting retries",
		}, []string{"trigger"}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Time spent writing a snapshot, retries included",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions disconnected because their outbound buffer filled up",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveRooms,
			m.ActiveSessions,
			m.AuthFailures,
			m.UpdatesApplied,
			m.PermissionDenied,
			m.SnapshotsSaved,
			m.SnapshotsSkipped,
			m.PersistFailures,
			m.PersistDuration,
			m.SessionsEvicted,
		)
	}

	return m
}
