// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulseboard/internal/domain"
)

// Metrics holds all Prometheus metrics for the dashboard core.
// A nil *Metrics is valid: every record method is a no-op on it, so
// components take an optional metrics handle without guarding call sites.
type Metrics struct {
	// Warm-up metrics
	WarmupBatchesProcessed prometheus.Counter
	TokensLoaded           *prometheus.GaugeVec

	// Live feed metrics
	DeltasApplied        prometheus.Counter
	DeltasDroppedUnknown prometheus.Counter
	HistoryFlushErrors   prometheus.Counter

	// Mutation metrics
	MutationsTotal *prometheus.CounterVec
	RollbacksTotal *prometheus.CounterVec
	RetriesTotal   prometheus.Counter

	// Resilience metrics
	ProbeFailures        prometheus.Counter
	ExhaustionsTotal     prometheus.Counter
	NotificationsEmitted *prometheus.CounterVec

	// Connection metric: numeric encoding of the status enum
	ConnectionStatus prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil registerer uses the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pulseboard"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		WarmupBatchesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warmup",
			Name:      "batches_processed_total",
			Help:      "Total number of warm-up batches applied to the stores",
		}),
		TokensLoaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "warmup",
			Name:      "tokens_loaded",
			Help:      "Tokens currently loaded per category",
		}, []string{"category"}),
		DeltasApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "deltas_applied_total",
			Help:      "Total number of price deltas applied to both stores",
		}),
		DeltasDroppedUnknown: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "deltas_dropped_unknown_total",
			Help:      "Total number of price deltas dropped for unknown token ids",
		}),
		HistoryFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "history_flush_errors_total",
			Help:      "Total number of failed price history flushes",
		}),
		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "operations_total",
			Help:      "Total number of mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		RollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "rollbacks_total",
			Help:      "Total number of optimistic rollbacks by operation",
		}, []string{"operation"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "retries_total",
			Help:      "Total number of scheduled write retries",
		}),
		ProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "probe_failures_total",
			Help:      "Total number of failed connectivity probes",
		}),
		ExhaustionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "exhaustions_total",
			Help:      "Total number of retry-budget exhaustions",
		}),
		NotificationsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "notifications_emitted_total",
			Help:      "Total number of notifications emitted by severity",
		}, []string{"severity"}),
		ConnectionStatus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "status",
			Help:      "Connection status: 0 disconnected, 1 connecting, 2 connected, 3 error",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWarmupBatch records one applied warm-up batch and the resulting
// per-category token count.
func (m *Metrics) RecordWarmupBatch(category domain.Category, loaded int) {
	if m == nil {
		return
	}
	m.WarmupBatchesProcessed.Inc()
	m.TokensLoaded.WithLabelValues(string(category)).Set(float64(loaded))
}

// RecordDeltasApplied records applied price deltas.
func (m *Metrics) RecordDeltasApplied(n int) {
	if m == nil {
		return
	}
	m.DeltasApplied.Add(float64(n))
}

// RecordDeltaDropped records one unknown-id delta drop.
func (m *Metrics) RecordDeltaDropped() {
	if m == nil {
		return
	}
	m.DeltasDroppedUnknown.Inc()
}

// RecordHistoryFlushError records a failed price history flush.
func (m *Metrics) RecordHistoryFlushError() {
	if m == nil {
		return
	}
	m.HistoryFlushErrors.Inc()
}

// RecordMutation records one settled mutation.
func (m *Metrics) RecordMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRollback records one optimistic rollback.
func (m *Metrics) RecordRollback(operation string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(operation).Inc()
}

// RecordRetry records one scheduled write retry.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// RecordProbeFailure records one failed connectivity probe.
func (m *Metrics) RecordProbeFailure() {
	if m == nil {
		return
	}
	m.ProbeFailures.Inc()
}

// RecordExhaustion records one retry-budget exhaustion.
func (m *Metrics) RecordExhaustion() {
	if m == nil {
		return
	}
	m.ExhaustionsTotal.Inc()
}

// RecordNotification records one emitted notification.
func (m *Metrics) RecordNotification(severity domain.Severity) {
	if m == nil {
		return
	}
	m.NotificationsEmitted.WithLabelValues(string(severity)).Inc()
}

// RecordConnectionStatus records the connection status transition.
func (m *Metrics) RecordConnectionStatus(status domain.ConnectionStatus) {
	if m == nil {
		return
	}
	var v float64
	switch status {
	case domain.StatusDisconnected:
		v = 0
	case domain.StatusConnecting:
		v = 1
	case domain.StatusConnected:
		v = 2
	case domain.StatusError:
		v = 3
	}
	m.ConnectionStatus.Set(v)
}
