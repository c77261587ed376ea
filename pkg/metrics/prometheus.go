// Package metrics provides Prometheus metrics for the FLUME event pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Throughput
	eventsProcessed prometheus.Counter
	eventsSkipped   prometheus.Counter
	eventsFailed    *prometheus.CounterVec

	// Per-stage latency in milliseconds. Stages: decode, validate,
	// idempotency, transform, enrich, sink, commit.
	stageLatency *prometheus.HistogramVec

	// End-to-end latency from producedAt to terminal outcome.
	endToEndLatency prometheus.Histogram

	// Retry and quarantine
	retries         *prometheus.CounterVec
	quarantined     *prometheus.CounterVec
	deadLetterDepth prometheus.Gauge
	journalFallback prometheus.Counter
	criticalAlerts  *prometheus.CounterVec

	// Circuit breaker
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	breakerRejected    *prometheus.CounterVec

	// Transport
	published      *prometheus.CounterVec
	commits        prometheus.Counter
	partitionLag   *prometheus.GaugeVec
	workerCount    prometheus.Gauge
	attemptTimeout prometheus.Counter

	// HTTP ops surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "flume",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_processed_total",
		Help:      "Total number of events fully processed and committed",
	})

	m.eventsSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_skipped_total",
		Help:      "Total number of redelivered events skipped by the idempotency check",
	})

	m.eventsFailed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_failed_total",
		Help:      "Total number of failed processing attempts by error kind",
	}, []string{"kind"})

	m.stageLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_latency_milliseconds",
		Help:      "Histogram of per-stage processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})

	m.endToEndLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "end_to_end_latency_milliseconds",
		Help:      "Histogram of latency from event production to terminal outcome",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 15000, 60000},
	})

	m.retries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "retries_total",
		Help:      "Total number of retry attempts by error kind",
	}, []string{"kind"})

	m.quarantined = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "quarantined_total",
		Help:      "Total number of events routed to the dead letter sink by error kind",
	}, []string{"kind"})

	m.deadLetterDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dead_letter_depth",
		Help:      "Current number of records quarantined in the dead letter sink",
	})

	m.journalFallback = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dead_letter_journal_fallback_total",
		Help:      "Total number of dead letter records written to the local journal because the durable write failed",
	})

	m.criticalAlerts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "critical_alerts_total",
		Help:      "Total number of paging-level alerts raised by the pipeline",
	}, []string{"reason"})

	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "breaker_state",
		Help:      "Current circuit breaker state per dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})

	m.breakerTransitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "breaker_transitions_total",
		Help:      "Total number of circuit breaker state transitions",
	}, []string{"dependency", "from", "to"})

	m.breakerRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "breaker_rejected_total",
		Help:      "Total number of calls rejected while the circuit was open",
	}, []string{"dependency"})

	m.published = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "published_total",
		Help:      "Total number of records published to the stream transport by topic",
	}, []string{"topic"})

	m.commits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "offset_commits_total",
		Help:      "Total number of offset commits",
	})

	m.partitionLag = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "partition_lag",
		Help:      "Uncommitted records per partition",
	}, []string{"partition"})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Number of running partition workers",
	})

	m.attemptTimeout = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "attempt_timeouts_total",
		Help:      "Total number of processing attempts abandoned on deadline expiry",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests to the ops surface",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Histogram of ops HTTP request durations in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// GetRegistry returns the custom Prometheus registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers delegating to the global manager. Emission must
// never block or fail the processing path, so all helpers are fire-and-forget.

// RecordEventProcessed increments the processed counter.
func RecordEventProcessed() {
	if globalManager.enabled {
		globalManager.eventsProcessed.Inc()
	}
}

// RecordEventSkipped increments the duplicate-skip counter.
func RecordEventSkipped() {
	if globalManager.enabled {
		globalManager.eventsSkipped.Inc()
	}
}

// RecordEventFailed increments the failed-attempt counter for an error kind.
func RecordEventFailed(kind string) {
	if globalManager.enabled {
		globalManager.eventsFailed.WithLabelValues(kind).Inc()
	}
}

// RecordStageLatency records the latency of one pipeline stage.
func RecordStageLatency(stage string, ms float64) {
	if globalManager.enabled {
		globalManager.stageLatency.WithLabelValues(stage).Observe(ms)
	}
}

// RecordEndToEndLatency records latency from production to terminal outcome.
func RecordEndToEndLatency(ms float64) {
	if globalManager.enabled {
		globalManager.endToEndLatency.Observe(ms)
	}
}

// RecordRetry increments the retry counter for an error kind.
func RecordRetry(kind string) {
	if globalManager.enabled {
		globalManager.retries.WithLabelValues(kind).Inc()
	}
}

// RecordQuarantine increments the quarantine counter. The depth gauge
// is owned by UpdateDeadLetterDepth, fed from the sink's own count.
func RecordQuarantine(kind string) {
	if globalManager.enabled {
		globalManager.quarantined.WithLabelValues(kind).Inc()
	}
}

// UpdateDeadLetterDepth sets the absolute dead letter depth.
func UpdateDeadLetterDepth(depth int) {
	if globalManager.enabled {
		globalManager.deadLetterDepth.Set(float64(depth))
	}
}

// RecordJournalFallback increments the local-journal fallback counter.
func RecordJournalFallback() {
	if globalManager.enabled {
		globalManager.journalFallback.Inc()
	}
}

// RecordCriticalAlert increments the paging-level alert counter.
func RecordCriticalAlert(reason string) {
	if globalManager.enabled {
		globalManager.criticalAlerts.WithLabelValues(reason).Inc()
	}
}

// UpdateBreakerState sets the breaker state gauge for a dependency.
func UpdateBreakerState(dependency string, state int) {
	if globalManager.enabled {
		globalManager.breakerState.WithLabelValues(dependency).Set(float64(state))
	}
}

// RecordBreakerTransition increments the breaker transition counter.
func RecordBreakerTransition(dependency, from, to string) {
	if globalManager.enabled {
		globalManager.breakerTransitions.WithLabelValues(dependency, from, to).Inc()
	}
}

// RecordBreakerRejected increments the open-circuit rejection counter.
func RecordBreakerRejected(dependency string) {
	if globalManager.enabled {
		globalManager.breakerRejected.WithLabelValues(dependency).Inc()
	}
}

// RecordPublish increments the transport publish counter for a topic.
func RecordPublish(topic string) {
	if globalManager.enabled {
		globalManager.published.WithLabelValues(topic).Inc()
	}
}

// RecordCommit increments the offset commit counter.
func RecordCommit() {
	if globalManager.enabled {
		globalManager.commits.Inc()
	}
}

// UpdatePartitionLag sets the uncommitted record count for a partition.
func UpdatePartitionLag(partition string, lag int64) {
	if globalManager.enabled {
		globalManager.partitionLag.WithLabelValues(partition).Set(float64(lag))
	}
}

// UpdateWorkerCount sets the number of running partition workers.
func UpdateWorkerCount(count int) {
	if globalManager.enabled {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordAttemptTimeout increments the abandoned-attempt counter.
func RecordAttemptTimeout() {
	if globalManager.enabled {
		globalManager.attemptTimeout.Inc()
	}
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, status string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
	}
}

// RecordHTTPRequestDuration records an ops HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, status string, ms float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(ms)
	}
}
