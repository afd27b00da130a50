// Package metrics exposes Prometheus collectors for session correlation.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Wait outcomes
const (
	OutcomeResolved = "resolved"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeEvicted  = "evicted"
	OutcomeCanceled = "canceled"
)

// Metrics holds the correlation engine's collectors.
type Metrics struct {
	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter

	// Correlation metrics
	ResourceWaits       *prometheus.CounterVec
	ResourceWaitSeconds prometheus.Histogram
	UpgradeWaits        *prometheus.CounterVec

	// Instrumentation channel
	Messages *prometheus.CounterVec

	// Blocking
	Blocked *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "mitmsession_sessions_active",
			Help: "Number of open sessions",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "mitmsession_sessions_opened_total",
			Help: "Total number of sessions opened",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "mitmsession_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),

		ResourceWaits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mitmsession_resource_waits_total",
			Help: "Browser resource waits by outcome",
		}, []string{"outcome"}),
		ResourceWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mitmsession_resource_wait_seconds",
			Help:    "Time a proxied request waited for its browser metadata",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		UpgradeWaits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mitmsession_upgrade_waits_total",
			Help: "Upgrade fingerprint waits by outcome",
		}, []string{"outcome"}),

		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mitmsession_instrument_messages_total",
			Help: "Instrumentation messages by type and result",
		}, []string{"type", "result"}),

		Blocked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mitmsession_blocked_total",
			Help: "Blocked requests by deciding input",
		}, []string{"reason"}),
	}
}

// SessionOpened records a newly registered session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records a session that finished closing.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.SessionsActive.Dec()
}

// RecordResourceWait records one browser resource wait.
func (m *Metrics) RecordResourceWait(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResourceWaits.WithLabelValues(outcome).Inc()
	if outcome == OutcomeResolved {
		m.ResourceWaitSeconds.Observe(d.Seconds())
	}
}

// RecordUpgradeWait records one upgrade fingerprint wait.
func (m *Metrics) RecordUpgradeWait(outcome string) {
	if m == nil {
		return
	}
	m.UpgradeWaits.WithLabelValues(outcome).Inc()
}

// RecordMessage records one instrumentation message.
func (m *Metrics) RecordMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(msgType, result).Inc()
}

// RecordBlocked records a block decision.
func (m *Metrics) RecordBlocked(reason string) {
	if m == nil {
		return
	}
	m.Blocked.WithLabelValues(reason).Inc()
}
