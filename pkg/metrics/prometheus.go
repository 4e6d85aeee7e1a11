// Package metrics provides Prometheus metrics for the contest leaderboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Grading event intake and write path
	eventsReceived   *prometheus.CounterVec
	eventsProcessed  *prometheus.CounterVec
	recomputeLatency prometheus.Histogram
	scoreChanges     prometheus.Counter

	// Durable store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Rank cache
	cacheRequests      *prometheus.CounterVec
	cacheLatency       *prometheus.HistogramVec
	cacheRepopulations prometheus.Counter

	// Read path
	leaderboardReads *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerRetries           prometheus.Counter
	workerErrors            prometheus.Counter
	workerProcessingLatency prometheus.Histogram

	errorsByComponent *prometheus.CounterVec

	// Process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init replaces the global manager with one built from opts on a fresh
// registry. Call it once at startup, before handlers capture GetRegistry.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry = registry
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "contestboard",
		subsystem:        "leaderboard",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.eventsReceived = m.counterVec("grading_events_received_total",
		"Grading events received by outcome (accepted, duplicate, rejected, backpressure)", "outcome")
	m.eventsProcessed = m.counterVec("grading_events_processed_total",
		"Grading events run through the write path by result", "result")
	m.recomputeLatency = m.histogram("recompute_latency_milliseconds",
		"Latency of a full per-user contest score recomputation")
	m.scoreChanges = m.counter("score_changes_total",
		"Number of write-path runs that changed a stored total")

	m.storeLatency = m.histogramVec("store_latency_milliseconds",
		"Durable score store latency by operation", "operation")
	m.storeErrors = m.counterVec("store_errors_total",
		"Durable score store failures by operation", "operation")

	m.cacheRequests = m.counterVec("cache_requests_total",
		"Rank cache calls by operation and result (hit, miss, cold, ok, error)", "operation", "result")
	m.cacheLatency = m.histogramVec("cache_latency_milliseconds",
		"Rank cache latency by operation", "operation")
	m.cacheRepopulations = m.counter("cache_repopulations_total",
		"Number of rank cache rebuilds from the durable store")

	m.leaderboardReads = m.counterVec("leaderboard_reads_total",
		"Leaderboard reads by serving source (cache, db)", "source")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status code", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current number of queued grading events")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum grading event queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Grading events enqueued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total",
		"Rejected enqueue attempts by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Number of running grading workers")
	m.workerRetries = m.counter("worker_retries_total", "Write-path retries performed by workers")
	m.workerErrors = m.counter("worker_errors_total", "Grading events dropped after exhausting retries")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"End-to-end worker processing latency per event, including retries")

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and error type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordEventReceived counts an intake outcome for a grading event.
func RecordEventReceived(outcome string) {
	globalManager.eventsReceived.WithLabelValues(outcome).Inc()
}

// RecordEventProcessed counts a finished write-path run.
func RecordEventProcessed(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	globalManager.eventsProcessed.WithLabelValues(result).Inc()
}

// RecordRecomputeLatency records aggregator latency in milliseconds.
func RecordRecomputeLatency(latencyMs float64) {
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordScoreChange counts a write that changed a stored total.
func RecordScoreChange() {
	globalManager.scoreChanges.Inc()
}

// RecordStoreLatency records durable store latency.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordStoreError counts a durable store failure.
func RecordStoreError(operation string) {
	globalManager.storeErrors.WithLabelValues(operation).Inc()
}

// RecordCacheRequest counts a rank cache call outcome.
func RecordCacheRequest(operation, result string) {
	globalManager.cacheRequests.WithLabelValues(operation, result).Inc()
}

// RecordCacheLatency records rank cache latency.
func RecordCacheLatency(operation string, latencyMs float64) {
	globalManager.cacheLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordCacheRepopulation counts a cold-cache rebuild.
func RecordCacheRepopulation() {
	globalManager.cacheRepopulations.Inc()
}

// RecordLeaderboardRead counts a served leaderboard by source.
func RecordLeaderboardRead(source string) {
	globalManager.leaderboardReads.WithLabelValues(source).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current queue size and utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerRetry counts a write-path retry.
func RecordWorkerRetry() {
	globalManager.workerRetries.Inc()
}

// RecordWorkerError counts an event given up on by a worker.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
