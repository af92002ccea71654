// Package metrics provides Prometheus metrics for the villes pipeline.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline processes.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Collection
	recordsCollected prometheus.Counter
	collectRuns      *prometheus.CounterVec
	imagesResolved   *prometheus.CounterVec

	// Broker
	messagesPublished     *prometheus.CounterVec
	messagesConsumed      *prometheus.CounterVec
	brokerConnectAttempts *prometheus.CounterVec

	// Enrichment
	enrichOutcomes *prometheus.CounterVec
	enrichLatency  prometheus.Histogram
	sinkFailures   *prometheus.CounterVec

	// Recommendation
	candidatesLoaded prometheus.Gauge
	feedbackEvents   *prometheus.CounterVec
	trainingRuns     *prometheus.CounterVec
	trainingAccuracy prometheus.Gauge
	activeSessions   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "villes",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one block per metric
	m.recordsCollected = m.counter("records_collected_total", "Total number of city records produced by the collector")
	m.collectRuns = m.counterVec("collect_runs_total", "Collection runs by result", "result")
	m.imagesResolved = m.counterVec("images_resolved_total", "Image resolutions by result (cached, downloaded, failed)", "result")

	m.messagesPublished = m.counterVec("messages_published_total", "Messages published per queue", "queue")
	m.messagesConsumed = m.counterVec("messages_consumed_total", "Messages consumed per queue", "queue")
	m.brokerConnectAttempts = m.counterVec("broker_connect_attempts_total", "Broker connection attempts by result", "result")

	m.enrichOutcomes = m.counterVec("enrich_outcomes_total", "Enricher outcomes (enriched, updated, dropped, failed)", "outcome")
	m.enrichLatency = m.histogram("enrich_latency_milliseconds", "Time spent enriching one message in milliseconds", m.histogramBuckets)
	m.sinkFailures = m.counterVec("sink_failures_total", "Enriched-record sink failures", "sink")

	m.candidatesLoaded = m.gauge("candidates_loaded", "Candidate records loaded by the recommender")
	m.feedbackEvents = m.counterVec("feedback_events_total", "Recorded feedback events per label", "label")
	m.trainingRuns = m.counterVec("training_runs_total", "Classifier training runs by result", "result")
	m.trainingAccuracy = m.gauge("training_accuracy", "Training-set accuracy of the last successful training run")
	m.activeSessions = m.gauge("active_sessions", "Number of open interaction sessions")

	m.httpRequests = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and error type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Collection Metrics Functions.

// RecordCollected adds n to the collected records counter.
func RecordCollected(n int) {
	globalManager.recordsCollected.Add(float64(n))
}

// RecordCollectRun increments the collection runs counter for result.
func RecordCollectRun(result string) {
	globalManager.collectRuns.WithLabelValues(result).Inc()
}

// RecordImageResolved increments the image resolution counter for result.
func RecordImageResolved(result string) {
	globalManager.imagesResolved.WithLabelValues(result).Inc()
}

// Broker Metrics Functions.

// RecordPublished increments the published messages counter for queue.
func RecordPublished(queue string) {
	globalManager.messagesPublished.WithLabelValues(queue).Inc()
}

// RecordConsumed increments the consumed messages counter for queue.
func RecordConsumed(queue string) {
	globalManager.messagesConsumed.WithLabelValues(queue).Inc()
}

// RecordBrokerConnectAttempt increments the broker connect attempts counter.
func RecordBrokerConnectAttempt(result string) {
	globalManager.brokerConnectAttempts.WithLabelValues(result).Inc()
}

// Enrichment Metrics Functions.

// RecordEnrichOutcome increments the enrich outcome counter.
func RecordEnrichOutcome(outcome string) {
	globalManager.enrichOutcomes.WithLabelValues(outcome).Inc()
}

// RecordEnrichLatency records enrichment latency in milliseconds.
func RecordEnrichLatency(latencyMs float64) {
	globalManager.enrichLatency.Observe(latencyMs)
}

// RecordSinkFailure increments the sink failure counter.
func RecordSinkFailure(sink string) {
	globalManager.sinkFailures.WithLabelValues(sink).Inc()
}

// Recommendation Metrics Functions.

// UpdateCandidatesLoaded sets the number of loaded candidates.
func UpdateCandidatesLoaded(count int) {
	globalManager.candidatesLoaded.Set(float64(count))
}

// RecordFeedback increments the feedback counter for label.
func RecordFeedback(label string) {
	globalManager.feedbackEvents.WithLabelValues(label).Inc()
}

// RecordTrainingRun increments the training runs counter for result.
func RecordTrainingRun(result string) {
	globalManager.trainingRuns.WithLabelValues(result).Inc()
}

// UpdateTrainingAccuracy sets the accuracy of the last training run.
func UpdateTrainingAccuracy(accuracy float64) {
	globalManager.trainingAccuracy.Set(accuracy)
}

// UpdateActiveSessions sets the number of open sessions.
func UpdateActiveSessions(count int) {
	globalManager.activeSessions.Set(float64(count))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// CollectSystem samples runtime statistics into the system gauges.
func CollectSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	UpdateSystemMemoryUsage(ms.Alloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > 0 {
		last := ms.PauseNs[(ms.NumGC+255)%256]
		RecordSystemGCPauseTime(float64(last) / 1e6)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
