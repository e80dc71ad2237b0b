// Package metrics holds the Prometheus collectors of the ledger.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bankroll_ledger"

// Metrics groups every collector exported by the service
type Metrics struct {
	settlements      *prometheus.CounterVec
	settlementErrors *prometheus.CounterVec
	duration         prometheus.Histogram
	contention       prometheus.Counter
	mismatches       prometheus.Counter
	sweeps           *prometheus.CounterVec
	feedMessages     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Committed settlements by outcome and source.",
		}, []string{"outcome", "source"}),
		settlementErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_errors_total",
			Help:      "Rejected settlements by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from lock request to commit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		contention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Lock acquisitions that exceeded the wait bound.",
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_mismatches_total",
			Help:      "Audits where the stored balance differs from the ledger replay.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_bets_total",
			Help:      "Bets handled by scheduler sweeps by result.",
		}, []string{"result"}),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_total",
			Help:      "Feed messages consumed by type and status.",
		}, []string{"type", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.settlements,
			m.settlementErrors,
			m.duration,
			m.contention,
			m.mismatches,
			m.sweeps,
			m.feedMessages,
		)
	}
	return m
}

// Settled records a committed settlement
func (m *Metrics) Settled(outcome, source string, took time.Duration) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.settlements.WithLabelValues(outcome, source).Inc()
	m.duration.Observe(took.Seconds())
}

// SettlementFailed records a rejected settlement
func (m *Metrics) SettlementFailed(kind string) {
	if m == nil {
		return
	}
	m.settlementErrors.WithLabelValues(kind).Inc()
}

// Contention records a lock wait timeout
func (m *Metrics) Contention() {
	if m == nil {
		return
	}
	m.contention.Inc()
}

// ReconciliationMismatch records a failed balance audit
func (m *Metrics) ReconciliationMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

// SweepResult records the result of one bet in a scheduler sweep
func (m *Metrics) SweepResult(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}

// FeedMessage records a consumed feed message
func (m *Metrics) FeedMessage(msgType, status string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(msgType, status).Inc()
}
