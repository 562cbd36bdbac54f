package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "concord"

// Metrics holds the collectors for one engine instance.
type Metrics struct {
	syncs          *prometheus.CounterVec
	appliedUpdates prometheus.Counter
	presence       prometheus.Counter
	conflicts      *prometheus.CounterVec
	lockTimeouts   prometheus.Counter
	expired        prometheus.Counter
	propagation    *prometheus.HistogramVec
	cached         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Passing nil registers nothing, which keeps tests free of global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Committed state changes by path (sync or resolve).",
		}, []string{"path"}),
		appliedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applied_updates_total",
			Help:      "State updates merged into shared state.",
		}),
		presence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_updates_total",
			Help:      "Cursor and selection updates applied.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflict resolutions by conflict type.",
		}, []string{"type"}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Operations that gave up waiting for a session lock.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the reaper.",
		}),
		propagation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "propagation_seconds",
			Help:      "Time to order, merge and persist a batch.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"path"}),
		cached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_sessions",
			Help:      "Sessions held in the in-memory cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.syncs, m.appliedUpdates, m.presence, m.conflicts,
			m.lockTimeouts, m.expired, m.propagation, m.cached)
	}
	return m
}

// ObserveCommit records a committed batch. path is "sync" or "resolve".
func (m *Metrics) ObserveCommit(path string, applied int, d time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(path).Inc()
	m.appliedUpdates.Add(float64(applied))
	m.propagation.WithLabelValues(path).Observe(d.Seconds())
}

// IncConflict counts one resolution of the given conflict type.
func (m *Metrics) IncConflict(conflictType string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(conflictType).Inc()
}

// IncPresence counts one applied presence update.
func (m *Metrics) IncPresence() {
	if m == nil {
		return
	}
	m.presence.Inc()
}

// IncLockTimeout counts one lock acquisition that hit its bound.
func (m *Metrics) IncLockTimeout() {
	if m == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// AddExpired counts sessions removed by the reaper.
func (m *Metrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// SetCached reports the current cache size.
func (m *Metrics) SetCached(n int) {
	if m == nil {
		return
	}
	m.cached.Set(float64(n))
}
