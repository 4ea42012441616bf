package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the hub's Prometheus instrumentation. All recording
// methods are safe on a nil receiver so tests can run without metrics.
type Metrics struct {
	ActiveConnections     prometheus.Gauge
	ActiveSessions        prometheus.Gauge
	ConnectionsTotal      prometheus.Counter
	ConnectionsRejected   prometheus.Counter
	ConnectionsTerminated prometheus.Counter
	MessagesTotal         *prometheus.CounterVec
	BroadcastsTotal       prometheus.Counter
	SessionsReapedTotal   prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics registers the hub metrics on the default registry once and
// returns the shared instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "syncroom_active_connections",
				Help: "Current number of live client connections",
			}),
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "syncroom_active_sessions",
				Help: "Current number of active document sessions",
			}),
			ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncroom_connections_total",
				Help: "Total number of connections admitted",
			}),
			ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncroom_connections_rejected_total",
				Help: "Total number of connections rejected at capacity",
			}),
			ConnectionsTerminated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncroom_connections_terminated_total",
				Help: "Total number of connections terminated for missed heartbeats",
			}),
			MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "syncroom_messages_total",
				Help: "Total number of inbound messages by type",
			}, []string{"type"}),
			BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncroom_broadcasts_total",
				Help: "Total number of session fan-outs",
			}),
			SessionsReapedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncroom_sessions_reaped_total",
				Help: "Total number of idle sessions evicted by the reaper",
			}),
		}
	})
	return metricsInstance
}

// ConnectionOpened records an admitted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil || m.ConnectionsTotal == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a connection leaving the registry.
func (m *Metrics) ConnectionClosed() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// ConnectionRejected records an admission rejected at capacity.
func (m *Metrics) ConnectionRejected() {
	if m == nil || m.ConnectionsRejected == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

// ConnectionTerminated records a forced termination for missed heartbeats.
func (m *Metrics) ConnectionTerminated() {
	if m == nil || m.ConnectionsTerminated == nil {
		return
	}
	m.ConnectionsTerminated.Inc()
}

// MessageReceived records one inbound message of the given type.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil || m.MessagesTotal == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

// BroadcastSent records one session fan-out.
func (m *Metrics) BroadcastSent() {
	if m == nil || m.BroadcastsTotal == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

// SessionCreated records a lazily created session.
func (m *Metrics) SessionCreated() {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed records a session deleted when its last member left.
func (m *Metrics) SessionClosed() {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// SessionsReaped records n sessions evicted by the idle reaper.
func (m *Metrics) SessionsReaped(n int) {
	if m == nil || m.SessionsReapedTotal == nil {
		return
	}
	m.SessionsReapedTotal.Add(float64(n))
	m.ActiveSessions.Sub(float64(n))
}
