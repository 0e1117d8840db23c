// Package metrics provides Prometheus metrics for the recommender evaluation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Manager manages all Prometheus metrics for the evaluation service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Evaluation metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	evaluationUsers    prometheus.Histogram
	modelQuality       *prometheus.GaugeVec
	zeroRelevanceUsers *prometheus.CounterVec
	batchInFlight      prometheus.Gauge

	// Split metrics
	splitsTotal   *prometheus.CounterVec
	splitDuration prometheus.Histogram
	splitRows     *prometheus.GaugeVec
	splitEmpty    *prometheus.CounterVec

	// Matrix metrics
	matrixBuilds prometheus.Counter
	matrixNNZ    prometheus.Gauge

	// Repository metrics
	experimentsSaved prometheus.Counter
	experimentsTotal prometheus.Gauge
	repositoryWrite  prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "receval",
		subsystem:        "evaluator",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.evaluationsTotal = auto.NewCounterVec(m.counterOpts("evaluations_total",
		"Total number of model evaluations by outcome"), []string{"status"})
	m.evaluationDuration = auto.NewHistogram(m.histogramOpts("evaluation_duration_milliseconds",
		"Time to compute the six ranking metrics for one model", m.histogramBuckets))
	m.evaluationUsers = auto.NewHistogram(m.histogramOpts("evaluation_users",
		"Number of users scored per evaluation", prometheus.ExponentialBuckets(1, 4, 12)))
	m.modelQuality = auto.NewGaugeVec(m.gaugeOpts("model_quality",
		"Latest metric value reported for a model label"), []string{"label", "metric"})
	m.zeroRelevanceUsers = auto.NewCounterVec(m.counterOpts("zero_relevance_users_total",
		"Users excluded from an averaged metric for having no relevant items"), []string{"metric"})
	m.batchInFlight = auto.NewGauge(m.gaugeOpts("batch_evaluations_in_flight",
		"Evaluations of a batch currently running"))

	m.splitsTotal = auto.NewCounterVec(m.counterOpts("splits_total",
		"Total number of temporal splits by outcome"), []string{"status"})
	m.splitDuration = auto.NewHistogram(m.histogramOpts("split_duration_milliseconds",
		"Time to split one interaction log", m.histogramBuckets))
	m.splitRows = auto.NewGaugeVec(m.gaugeOpts("split_rows",
		"Rows in the latest split output by partition"), []string{"partition"})
	m.splitEmpty = auto.NewCounterVec(m.counterOpts("split_empty_results_total",
		"Splits rejected for producing no rows, by step"), []string{"step"})

	m.matrixBuilds = auto.NewCounter(m.counterOpts("matrix_builds_total",
		"Total number of interaction matrices built"))
	m.matrixNNZ = auto.NewGauge(m.gaugeOpts("matrix_nnz",
		"Stored entries of the latest interaction matrix"))

	m.experimentsSaved = auto.NewCounter(m.counterOpts("experiments_saved_total",
		"Total number of experiment records persisted"))
	m.experimentsTotal = auto.NewGauge(m.gaugeOpts("experiments",
		"Experiment records held by the store"))
	m.repositoryWrite = auto.NewHistogram(m.histogramOpts("repository_write_latency_milliseconds",
		"Latency of persisting one experiment", m.histogramBuckets))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Total number of errors by component"), []string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Total number of errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordEvaluation counts one evaluation and observes its duration.
func (m *Manager) RecordEvaluation(status string, durationMs float64, users int) {
	m.evaluationsTotal.WithLabelValues(status).Inc()
	m.evaluationDuration.Observe(durationMs)
	if status == StatusOK {
		m.evaluationUsers.Observe(float64(users))
	}
}

// UpdateModelQuality sets the latest value of metric for a model label.
func (m *Manager) UpdateModelQuality(label, metric string, value float64) {
	m.modelQuality.WithLabelValues(label, metric).Set(value)
}

// RecordZeroRelevance counts users excluded from metric.
func (m *Manager) RecordZeroRelevance(metric string, n int) {
	m.zeroRelevanceUsers.WithLabelValues(metric).Add(float64(n))
}

// AddBatchInFlight moves the in-flight batch gauge by delta.
func (m *Manager) AddBatchInFlight(delta int) {
	m.batchInFlight.Add(float64(delta))
}

// RecordSplit counts one split, observes its duration and sets the output sizes.
func (m *Manager) RecordSplit(status string, durationMs float64, trainRows, testRows int) {
	m.splitsTotal.WithLabelValues(status).Inc()
	m.splitDuration.Observe(durationMs)
	if status == StatusOK {
		m.splitRows.WithLabelValues("train").Set(float64(trainRows))
		m.splitRows.WithLabelValues("test").Set(float64(testRows))
	}
}

// RecordSplitEmpty counts a split rejected at step.
func (m *Manager) RecordSplitEmpty(step string) {
	m.splitEmpty.WithLabelValues(step).Inc()
}

// RecordMatrixBuild counts a matrix build with nnz stored entries.
func (m *Manager) RecordMatrixBuild(nnz int) {
	m.matrixBuilds.Inc()
	m.matrixNNZ.Set(float64(nnz))
}

// RecordExperimentSaved counts a persisted experiment.
func (m *Manager) RecordExperimentSaved(latencyMs float64, total int) {
	m.experimentsSaved.Inc()
	m.repositoryWrite.Observe(latencyMs)
	m.experimentsTotal.Set(float64(total))
}

// RecordHTTPRequest counts a request and observes its duration.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func (m *Manager) RecordErrorByComponent(component, errorType string) {
	m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method and error type labels.
func (m *Manager) RecordErrorByEndpoint(endpoint, method, errorType string) {
	m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystem sets memory and goroutine gauges.
func (m *Manager) UpdateSystem(memoryBytes uint64, goroutines int) {
	m.systemMemoryUsage.Set(float64(memoryBytes))
	m.systemGoroutineCount.Set(float64(goroutines))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func (m *Manager) RecordSystemGCPauseTime(pauseMs float64) {
	m.systemGCPauseTime.Observe(pauseMs)
}

// Global returns the process-wide manager registered on GetRegistry.
func Global() *Manager { return globalManager }

// RecordEvaluation records on the global manager.
func RecordEvaluation(status string, durationMs float64, users int) {
	globalManager.RecordEvaluation(status, durationMs, users)
}

// RecordSplit records on the global manager.
func RecordSplit(status string, durationMs float64, trainRows, testRows int) {
	globalManager.RecordSplit(status, durationMs, trainRows, testRows)
}

// RecordHTTPRequest records on the global manager.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode, durationMs)
}

// RecordErrorByComponent records on the global manager.
func RecordErrorByComponent(component, errorType string) {
	globalManager.RecordErrorByComponent(component, errorType)
}

// RecordErrorByEndpoint records on the global manager.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.RecordErrorByEndpoint(endpoint, method, errorType)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
