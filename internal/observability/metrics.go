// ABOUTME: Prometheus metrics for dedupe claims, session operations, streams and webhooks
// ABOUTME: Nil-safe recorders so components can run without metrics wired

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains every collector the gateway exports.
type Metrics struct {
	// DedupeClaims counts webhook update claims.
	// Labels: result (new|duplicate|cached|error)
	DedupeClaims *prometheus.CounterVec

	// SessionOps counts session store operations.
	// Labels: op (get|append|pop_last|clear), status (success|error)
	SessionOps *prometheus.CounterVec

	// SessionItems observes the stored window size after each write.
	SessionItems prometheus.Histogram

	// OrphanedOutputsDropped counts tool outputs removed by the repair pass.
	OrphanedOutputsDropped prometheus.Counter

	// StreamTerminals counts finished streams.
	// Labels: state (done|error|aborted)
	StreamTerminals *prometheus.CounterVec

	// StreamHeartbeats counts keep-alive frames written.
	StreamHeartbeats prometheus.Counter

	// PartialSaves counts interrupted replies persisted.
	// Labels: status (success|error)
	PartialSaves *prometheus.CounterVec

	// ActiveChats tracks live registry entries.
	ActiveChats prometheus.Gauge

	// WebhookUpdates counts inbound Telegram updates.
	// Labels: outcome (processed|duplicate|ignored|rejected|error)
	WebhookUpdates *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DedupeClaims: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dolor_dedupe_claims_total",
				Help: "Total number of webhook update claims by result",
			},
			[]string{"result"},
		),
		SessionOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dolor_session_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"op", "status"},
		),
		SessionItems: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dolor_session_items",
			Help:    "Number of items kept in a session after a write",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 100, 200},
		}),
		OrphanedOutputsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "dolor_session_orphaned_outputs_dropped_total",
			Help: "Total number of tool outputs dropped because their call left the window",
		}),
		StreamTerminals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dolor_stream_terminals_total",
				Help: "Total number of finished streams by terminal state",
			},
			[]string{"state"},
		),
		StreamHeartbeats: f.NewCounter(prometheus.CounterOpts{
			Name: "dolor_stream_heartbeats_total",
			Help: "Total number of keep-alive frames written",
		}),
		PartialSaves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dolor_stream_partial_saves_total",
				Help: "Total number of interrupted replies persisted",
			},
			[]string{"status"},
		),
		ActiveChats: f.NewGauge(prometheus.GaugeOpts{
			Name: "dolor_registry_active_chats",
			Help: "Current number of chats held by the session registry",
		}),
		WebhookUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dolor_webhook_updates_total",
				Help: "Total number of inbound webhook updates by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDedupeClaim records a claim result.
func (m *Metrics) RecordDedupeClaim(result string) {
	if m == nil || m.DedupeClaims == nil {
		return
	}
	m.DedupeClaims.WithLabelValues(result).Inc()
}

// RecordSessionOp records a session operation and its outcome.
func (m *Metrics) RecordSessionOp(op string, err error) {
	if m == nil || m.SessionOps == nil {
		return
	}
	m.SessionOps.WithLabelValues(op, status(err)).Inc()
}

// ObserveSessionItems records the size of a stored window.
func (m *Metrics) ObserveSessionItems(n int) {
	if m == nil || m.SessionItems == nil {
		return
	}
	m.SessionItems.Observe(float64(n))
}

// AddOrphanedOutputs records tool outputs dropped by repair.
func (m *Metrics) AddOrphanedOutputs(n int) {
	if m == nil || m.OrphanedOutputsDropped == nil || n <= 0 {
		return
	}
	m.OrphanedOutputsDropped.Add(float64(n))
}

// RecordStreamTerminal records how a stream ended.
func (m *Metrics) RecordStreamTerminal(state string) {
	if m == nil || m.StreamTerminals == nil {
		return
	}
	m.StreamTerminals.WithLabelValues(state).Inc()
}

// RecordHeartbeat records one keep-alive frame.
func (m *Metrics) RecordHeartbeat() {
	if m == nil || m.StreamHeartbeats == nil {
		return
	}
	m.StreamHeartbeats.Inc()
}

// RecordPartialSave records an interrupted-reply save.
func (m *Metrics) RecordPartialSave(err error) {
	if m == nil || m.PartialSaves == nil {
		return
	}
	m.PartialSaves.WithLabelValues(status(err)).Inc()
}

// SetActiveChats sets the registry size.
func (m *Metrics) SetActiveChats(n int) {
	if m == nil || m.ActiveChats == nil {
		return
	}
	m.ActiveChats.Set(float64(n))
}

// RecordWebhookUpdate records what happened to an inbound update.
func (m *Metrics) RecordWebhookUpdate(outcome string) {
	if m == nil || m.WebhookUpdates == nil {
		return
	}
	m.WebhookUpdates.WithLabelValues(outcome).Inc()
}
