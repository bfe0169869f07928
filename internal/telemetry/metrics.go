package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kaigiroku"

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	interimDropped   prometheus.Counter
	corrections      *prometheus.CounterVec
	reconciles       *prometheus.CounterVec
	reconcileSeconds prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Streaming sessions currently running.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Streaming sessions finished, by exit reason.",
		}, []string{"reason"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages written to clients, by type.",
		}, []string{"type"}),
		interimDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dropped_interim_total",
			Help:      "Interim messages discarded because a session outbox was full.",
		}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Correction attempts on final utterances, by outcome.",
		}, []string{"outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outline_reconciles_total",
			Help:      "Outline reconciliations, by outcome.",
		}, []string{"outcome"}),
		reconcileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outline_reconcile_duration_seconds",
			Help:      "Latency of outline reconciliations that reached the language model.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
	reg.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.messagesSent,
		m.interimDropped,
		m.corrections,
		m.reconciles,
		m.reconcileSeconds,
	)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessageSent(messageType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(messageType).Inc()
}

func (m *Metrics) InterimDropped() {
	if m == nil {
		return
	}
	m.interimDropped.Inc()
}

func (m *Metrics) Correction(outcome string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reconcile(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.reconcileSeconds.Observe(seconds)
	}
}
