package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lead_ledger"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ledgerEntries    *prometheus.CounterVec
	ledgerConflicts  prometheus.Counter
	transitions      *prometheus.CounterVec
	realtimeStatus   *prometheus.CounterVec
	realtimeRetries  prometheus.Counter
	notifierDropped  prometheus.Counter
	reconcileRuns    *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a registry with the Go and process collectors plus the service collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the service collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries attempted, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		ledgerConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "version_conflicts_total",
			Help:      "Wallet version conflicts observed by the ledger.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Lead request workflow calls, by action and outcome.",
		}, []string{"action", "outcome"}),
		realtimeStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "status_changes_total",
			Help:      "Subscription status changes, by status.",
		}, []string{"status"}),
		realtimeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Scheduled subscription reconnect attempts.",
		}),
		notifierDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "notifier_dropped_total",
			Help:      "Change events dropped because the notifier buffer was full.",
		}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "wallets_total",
			Help:      "Wallets reconciled, by result (ok, repaired, mismatch, error).",
		}, []string{"result"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Duration of a full reconcile audit run.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.ledgerEntries,
		m.ledgerConflicts,
		m.transitions,
		m.realtimeStatus,
		m.realtimeRetries,
		m.notifierDropped,
		m.reconcileRuns,
		m.reconcileLatency,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LedgerEntry counts one applyTransaction outcome.
func (m *Metrics) LedgerEntry(direction, outcome string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(normalizeLabel(direction), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) LedgerConflict() {
	if m == nil {
		return
	}
	m.ledgerConflicts.Inc()
}

// Transition counts one workflow call.
func (m *Metrics) Transition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) RealtimeStatus(status string) {
	if m == nil {
		return
	}
	m.realtimeStatus.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) RealtimeReconnect() {
	if m == nil {
		return
	}
	m.realtimeRetries.Inc()
}

func (m *Metrics) NotifierDropped() {
	if m == nil {
		return
	}
	m.notifierDropped.Inc()
}

// ReconcileResult counts one wallet audited by the reconcile job.
func (m *Metrics) ReconcileResult(result string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveReconcileRun(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileLatency.Observe(d.Seconds())
}

// ObserveHTTP records one served request. path should be the route template.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	path = normalizeLabel(path)
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
