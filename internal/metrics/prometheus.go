package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the reconciler
type PrometheusMetrics struct {
	// Ingestion metrics
	EventsIngestedTotal    *prometheus.CounterVec
	EventsDeduplicated     prometheus.Counter
	EventsQuarantinedTotal *prometheus.CounterVec

	// Reconciliation metrics
	CommandsAppliedTotal   *prometheus.CounterVec
	CommandDuration        *prometheus.HistogramVec
	CommandRetriesTotal    prometheus.Counter
	CommandsStalledTotal   prometheus.Counter
	IntegrityFlagsTotal    *prometheus.CounterVec
	TransitionsTotal       *prometheus.CounterVec
	QueueDepth             prometheus.Gauge
	LatestReconciledBlock  prometheus.Gauge

	// Ledger metrics
	LedgerOperationsTotal   *prometheus.CounterVec
	LedgerOperationDuration *prometheus.HistogramVec

	// Sweep metrics
	SweepRunsTotal     prometheus.Counter
	SweepTransitions   *prometheus.CounterVec
	SweepDuration      prometheus.Histogram

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		EventsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_events_ingested_total",
				Help: "Total number of chain events accepted by the ingestor",
			},
			[]string{"event_type"},
		),

		EventsDeduplicated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_events_deduplicated_total",
				Help: "Total number of redelivered events dropped at ingestion",
			},
		),

		EventsQuarantinedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_events_quarantined_total",
				Help: "Total number of malformed events quarantined",
			},
			[]string{"event_type", "reason"},
		),

		CommandsAppliedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_commands_applied_total",
				Help: "Total number of commands applied to the ledger",
			},
			[]string{"command_type", "status"},
		),

		CommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_command_duration_seconds",
				Help:    "Time spent applying individual commands",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command_type"},
		),

		CommandRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_command_retries_total",
				Help: "Total number of command retries after concurrent modification or transient failure",
			},
		),

		CommandsStalledTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_commands_stalled_total",
				Help: "Total number of commands that exhausted their retry budget",
			},
		),

		IntegrityFlagsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_integrity_flags_total",
				Help: "Total number of integrity violations flagged for operators",
			},
			[]string{"code"},
		),

		TransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_transitions_total",
				Help: "Total number of state machine transitions applied",
			},
			[]string{"entity", "to_status"},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_queue_depth",
				Help: "Number of commands waiting in the reconciliation queue",
			},
		),

		LatestReconciledBlock: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_latest_reconciled_block",
				Help: "Latest block number with a committed command",
			},
		),

		LedgerOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_ledger_operations_total",
				Help: "Total number of ledger operations",
			},
			[]string{"operation", "status"},
		),

		LedgerOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SweepRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_sweep_runs_total",
				Help: "Total number of campaign status sweep runs",
			},
		),

		SweepTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_sweep_transitions_total",
				Help: "Total number of campaign transitions applied by the sweep",
			},
			[]string{"to_status"},
		),

		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconciler_sweep_duration_seconds",
				Help:    "Duration of sweep runs",
				Buckets: prometheus.DefBuckets,
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reconciler_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordEventIngested records an accepted chain event
func (m *PrometheusMetrics) RecordEventIngested(eventType string) {
	m.EventsIngestedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDeduplicated records a dropped redelivery
func (m *PrometheusMetrics) RecordEventDeduplicated() {
	m.EventsDeduplicated.Inc()
}

// RecordEventQuarantined records a quarantined event
func (m *PrometheusMetrics) RecordEventQuarantined(eventType, reason string) {
	m.EventsQuarantinedTotal.WithLabelValues(eventType, reason).Inc()
}

// RecordCommandApplied records a command outcome and its duration
func (m *PrometheusMetrics) RecordCommandApplied(commandType, status string, duration time.Duration) {
	m.CommandsAppliedTotal.WithLabelValues(commandType, status).Inc()
	m.CommandDuration.WithLabelValues(commandType).Observe(duration.Seconds())
}

// RecordCommandRetry records a retry attempt
func (m *PrometheusMetrics) RecordCommandRetry() {
	m.CommandRetriesTotal.Inc()
}

// RecordCommandStalled records a command that exhausted its retries
func (m *PrometheusMetrics) RecordCommandStalled() {
	m.CommandsStalledTotal.Inc()
}

// RecordIntegrityFlag records an integrity violation
func (m *PrometheusMetrics) RecordIntegrityFlag(code string) {
	m.IntegrityFlagsTotal.WithLabelValues(code).Inc()
}

// RecordTransition records a state machine transition
func (m *PrometheusMetrics) RecordTransition(entity, toStatus string) {
	m.TransitionsTotal.WithLabelValues(entity, toStatus).Inc()
}

// UpdateQueueDepth updates the reconciliation queue depth
func (m *PrometheusMetrics) UpdateQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// UpdateLatestReconciledBlock updates the latest reconciled block metric
func (m *PrometheusMetrics) UpdateLatestReconciledBlock(blockNumber uint64) {
	m.LatestReconciledBlock.Set(float64(blockNumber))
}

// RecordLedgerOperation records a ledger operation
func (m *PrometheusMetrics) RecordLedgerOperation(operation, status string, duration time.Duration) {
	m.LedgerOperationsTotal.WithLabelValues(operation, status).Inc()
	m.LedgerOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSweepRun records a sweep run with its duration and transitions
func (m *PrometheusMetrics) RecordSweepRun(duration time.Duration) {
	m.SweepRunsTotal.Inc()
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordSweepTransition records a campaign transition applied by the sweep
func (m *PrometheusMetrics) RecordSweepTransition(toStatus string) {
	m.SweepTransitions.WithLabelValues(toStatus).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
