// Package metrics provides Prometheus observability for the host
// daemon. All methods are nil-receiver safe so components can run
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// Live evaluation sessions.
	SessionsActive prometheus.Gauge

	// Records pushed into slots.
	SlotUpserts prometheus.Counter

	// Snapshots emitted by evaluation sessions, by slot and validity.
	Snapshots *prometheus.CounterVec

	// Keys currently held in the state store.
	StateKeys prometheus.Gauge

	// Connected SSE clients.
	SSEClients prometheus.Gauge
}

// New creates and registers all metrics on the default registry. Call
// it once per process.
func New() *Metrics {
	return &Metrics{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dagaz_sessions_active",
			Help: "Number of live complication evaluation sessions",
		}),
		SlotUpserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dagaz_slot_upserts_total",
			Help: "Total number of records pushed into slots",
		}),
		Snapshots: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dagaz_snapshots_total",
			Help: "Total snapshots emitted by evaluation sessions",
		}, []string{"slot", "validity"}), // validity: "resolved", "invalid"
		StateKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dagaz_state_keys",
			Help: "Number of keys currently in the state store",
		}),
		SSEClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dagaz_sse_clients",
			Help: "Number of connected SSE clients",
		}),
	}
}

// SessionStarted records a new live session.
func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

// SessionStopped records a session teardown.
func (m *Metrics) SessionStopped() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

// SlotUpserted records a record pushed into a slot.
func (m *Metrics) SlotUpserted() {
	if m != nil {
		m.SlotUpserts.Inc()
	}
}

// SnapshotEmitted records one emission from a session.
func (m *Metrics) SnapshotEmitted(slot string, invalid bool) {
	if m == nil {
		return
	}
	validity := "resolved"
	if invalid {
		validity = "invalid"
	}
	m.Snapshots.WithLabelValues(slot, validity).Inc()
}

// SetStateKeys records the current state store size.
func (m *Metrics) SetStateKeys(n int) {
	if m != nil {
		m.StateKeys.Set(float64(n))
	}
}

// SetSSEClients records the current SSE client count.
func (m *Metrics) SetSSEClients(n int) {
	if m != nil {
		m.SSEClients.Set(float64(n))
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
