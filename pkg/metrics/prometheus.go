// Package metrics provides Prometheus metrics for the potally service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion
	messagesObserved   prometheus.Counter
	messagesMatched    prometheus.Counter
	messagesIgnored    *prometheus.CounterVec
	messagesDuplicate  prometheus.Counter
	messagesDiscarded  prometheus.Counter
	counterIncrements  prometheus.Counter
	workerLatency      prometheus.Histogram
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueDropped       *prometheus.CounterVec
	ingestWorkerErrors prometheus.Counter

	// Counter store
	storeWriteErrors  *prometheus.CounterVec
	storeLoadFailures prometheus.Counter
	storeTrackedUsers prometheus.Gauge
	storeWriteLatency prometheus.Histogram

	// Resync
	resyncRuns     *prometheus.CounterVec
	resyncDuration prometheus.Histogram
	resyncScanned  prometheus.Counter

	// Commands and queries
	commands               *prometheus.CounterVec
	identityLookupFailures prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "potally",
		subsystem:        "counter",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.messagesObserved = auto.NewCounter(m.counterOpts("messages_observed_total",
		"Messages delivered to the ingestion pipeline"))
	m.messagesMatched = auto.NewCounter(m.counterOpts("messages_matched_total",
		"Messages that contained the tracked token"))
	m.messagesIgnored = auto.NewCounterVec(m.counterOpts("messages_ignored_total",
		"Messages ignored before matching, by reason"), []string{"reason"})
	m.messagesDuplicate = auto.NewCounter(m.counterOpts("messages_duplicate_total",
		"Messages skipped because their id was already counted"))
	m.messagesDiscarded = auto.NewCounter(m.counterOpts("messages_discarded_total",
		"Buffered messages discarded by a resync commit"))
	m.counterIncrements = auto.NewCounter(m.counterOpts("increments_total",
		"Successful per-user counter increments"))
	m.workerLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time spent by the ingestion worker on one message"))
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Messages waiting in the ingestion queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Capacity of the ingestion queue"))
	m.queueDropped = auto.NewCounterVec(m.counterOpts("queue_dropped_total",
		"Messages the ingestion queue refused, by reason"), []string{"reason"})
	m.ingestWorkerErrors = auto.NewCounter(m.counterOpts("worker_errors_total",
		"Errors raised while processing a message"))

	m.storeWriteErrors = auto.NewCounterVec(m.counterOpts("store_write_errors_total",
		"Durable write failures by operation"), []string{"op"})
	m.storeLoadFailures = auto.NewCounter(m.counterOpts("store_load_failures_total",
		"Durable loads that fell back to an empty store"))
	m.storeTrackedUsers = auto.NewGauge(m.gaugeOpts("store_tracked_users",
		"Users with a counter record"))
	m.storeWriteLatency = auto.NewHistogram(m.histogramOpts("store_write_latency_milliseconds",
		"Durable write latency in milliseconds"))

	m.resyncRuns = auto.NewCounterVec(m.counterOpts("resync_runs_total",
		"History resynchronizations by result"), []string{"result"})
	m.resyncDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "resync_duration_milliseconds",
		Help:      "Wall time of a full history resynchronization",
		Buckets:   prometheus.ExponentialBuckets(100, 2, 12),
	})
	m.resyncScanned = auto.NewCounter(m.counterOpts("resync_messages_scanned_total",
		"History messages scanned by resynchronizations"))

	m.commands = auto.NewCounterVec(m.counterOpts("commands_total",
		"Chat commands handled, by command and result"), []string{"command", "result"})
	m.identityLookupFailures = auto.NewCounter(m.counterOpts("identity_lookup_failures_total",
		"Leaderboard entries whose display name could not be resolved"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})
	m.httpErrors = auto.NewCounterVec(m.counterOpts("http_errors_total",
		"HTTP error responses by endpoint, method and error type"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
}

// RecordMessageObserved increments the observed messages counter.
func RecordMessageObserved() { globalManager.messagesObserved.Inc() }

// RecordMessageMatched increments the matched messages counter.
func RecordMessageMatched() { globalManager.messagesMatched.Inc() }

// RecordMessageIgnored counts a message skipped before matching.
func RecordMessageIgnored(reason string) { globalManager.messagesIgnored.WithLabelValues(reason).Inc() }

// RecordMessageDuplicate counts a message skipped by the deduper.
func RecordMessageDuplicate() { globalManager.messagesDuplicate.Inc() }

// RecordMessageDiscarded counts a buffered message dropped by a resync commit.
func RecordMessageDiscarded() { globalManager.messagesDiscarded.Inc() }

// RecordIncrement counts a successful counter increment.
func RecordIncrement() { globalManager.counterIncrements.Inc() }

// RecordWorkerLatency records per-message worker latency in milliseconds.
func RecordWorkerLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError counts a worker processing error.
func RecordWorkerError() { globalManager.ingestWorkerErrors.Inc() }

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueDrop counts a message the queue refused.
func RecordQueueDrop(reason string) { globalManager.queueDropped.WithLabelValues(reason).Inc() }

// RecordStoreWriteError counts a failed durable write.
func RecordStoreWriteError(op string) { globalManager.storeWriteErrors.WithLabelValues(op).Inc() }

// RecordStoreLoadFailure counts a load that fell back to an empty store.
func RecordStoreLoadFailure() { globalManager.storeLoadFailures.Inc() }

// UpdateTrackedUsers sets the number of users with a record.
func UpdateTrackedUsers(count int) { globalManager.storeTrackedUsers.Set(float64(count)) }

// RecordStoreWriteLatency records durable write latency in milliseconds.
func RecordStoreWriteLatency(latencyMs float64) { globalManager.storeWriteLatency.Observe(latencyMs) }

// RecordResync counts a resync run with its result label.
func RecordResync(result string) { globalManager.resyncRuns.WithLabelValues(result).Inc() }

// RecordResyncDuration records the wall time of a resync in milliseconds.
func RecordResyncDuration(durationMs float64) { globalManager.resyncDuration.Observe(durationMs) }

// RecordResyncScanned adds scanned history messages.
func RecordResyncScanned(n int) { globalManager.resyncScanned.Add(float64(n)) }

// RecordCommand counts a handled chat command.
func RecordCommand(command, result string) {
	globalManager.commands.WithLabelValues(command, result).Inc()
}

// RecordIdentityLookupFailure counts an unresolved leaderboard identity.
func RecordIdentityLookupFailure() { globalManager.identityLookupFailures.Inc() }

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError counts an HTTP error response.
func RecordHTTPError(endpoint, method, errorType string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage updates system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount updates the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry serving these metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
