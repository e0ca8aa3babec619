package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Pipeline metrics
	CallsCreated    prometheus.Counter
	CallTransitions *prometheus.CounterVec
	CallsFailed     *prometheus.CounterVec
	StageAttempts   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	DeadLetters     *prometheus.CounterVec
	EnqueueFailures *prometheus.CounterVec
	SweeperRequeues *prometheus.CounterVec
	WorkersBusy     *prometheus.GaugeVec

	// Capability metrics
	CapabilityRequests *prometheus.CounterVec
	CapabilityLatency  *prometheus.HistogramVec

	// Alerting metrics
	AlertsCreated *prometheus.CounterVec
	OpenAlerts    *prometheus.GaugeVec

	// Aggregation metrics
	AggregationRuns     *prometheus.CounterVec
	AggregationDuration prometheus.Histogram

	// Event publishing metrics
	EventsPublished      *prometheus.CounterVec
	AMQPConnectionStatus prometheus.Gauge

	// Runtime metrics
	SystemMemoryUsage prometheus.Gauge
	SystemGoroutines  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		// Pipeline metrics
		CallsCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callinsight_calls_created_total",
				Help: "Total number of call records created",
			},
		)

		CallTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_call_transitions_total",
				Help: "Total number of successful status transitions",
			},
			[]string{"from_status", "to_status"},
		)

		CallsFailed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_calls_failed_total",
				Help: "Total number of calls transitioned to failed",
			},
			[]string{"stage"},
		)

		StageAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_stage_attempts_total",
				Help: "Total number of stage task attempts by outcome",
			},
			[]string{"stage", "outcome"},
		)

		StageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callinsight_stage_duration_seconds",
				Help:    "Time spent processing one stage task",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13m
			},
			[]string{"stage"},
		)

		DeadLetters = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_dead_letters_total",
				Help: "Total number of tasks moved to the dead-letter path",
			},
			[]string{"stage"},
		)

		EnqueueFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_enqueue_failures_total",
				Help: "Total number of follow-up enqueues that failed after a transition",
			},
			[]string{"stage"},
		)

		SweeperRequeues = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_sweeper_requeues_total",
				Help: "Total number of stale calls re-enqueued by the staleness sweeper",
			},
			[]string{"stage"},
		)

		WorkersBusy = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callinsight_workers_busy",
				Help: "Number of stage workers currently processing a task",
			},
			[]string{"stage"},
		)

		// Capability metrics
		CapabilityRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_capability_requests_total",
				Help: "Total number of capability provider calls by status",
			},
			[]string{"capability", "provider", "status"},
		)

		CapabilityLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callinsight_capability_latency_seconds",
				Help:    "Latency of capability provider calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 13), // 50ms to ~3.5m
			},
			[]string{"capability", "provider"},
		)

		// Alerting metrics
		AlertsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_alerts_created_total",
				Help: "Total number of alerts created",
			},
			[]string{"type", "severity"},
		)

		OpenAlerts = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callinsight_open_alerts",
				Help: "Number of alerts currently open",
			},
			[]string{"severity"},
		)

		// Aggregation metrics
		AggregationRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_aggregation_runs_total",
				Help: "Total number of aggregation runs by trigger",
			},
			[]string{"trigger", "status"},
		)

		AggregationDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callinsight_aggregation_duration_seconds",
				Help:    "Time spent computing one aggregation period",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		)

		// Event publishing metrics
		EventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_events_published_total",
				Help: "Total number of lifecycle events published by status",
			},
			[]string{"event", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callinsight_amqp_connection_status",
				Help: "AMQP connection status (1 connected, 0 disconnected)",
			},
		)

		// Runtime metrics
		SystemMemoryUsage = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callinsight_memory_bytes",
				Help: "Current allocated heap bytes",
			},
		)

		SystemGoroutines = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callinsight_goroutines",
				Help: "Current number of goroutines",
			},
		)

		registry.MustRegister(
			// Pipeline metrics
			CallsCreated,
			CallTransitions,
			CallsFailed,
			StageAttempts,
			StageDuration,
			DeadLetters,
			EnqueueFailures,
			SweeperRequeues,
			WorkersBusy,

			// Capability metrics
			CapabilityRequests,
			CapabilityLatency,

			// Alerting metrics
			AlertsCreated,
			OpenAlerts,

			// Aggregation metrics
			AggregationRuns,
			AggregationDuration,

			// Event publishing metrics
			EventsPublished,
			AMQPConnectionStatus,

			// Runtime metrics
			SystemMemoryUsage,
			SystemGoroutines,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// RecordCallCreated records a new call record
func RecordCallCreated() {
	if metricsEnabled && CallsCreated != nil {
		CallsCreated.Inc()
	}
}

// RecordTransition records a successful status transition
func RecordTransition(fromStatus, toStatus string) {
	if metricsEnabled && CallTransitions != nil {
		CallTransitions.WithLabelValues(fromStatus, toStatus).Inc()
	}
}

// RecordCallFailed records a call entering the failed status
func RecordCallFailed(stage string) {
	if metricsEnabled && CallsFailed != nil {
		CallsFailed.WithLabelValues(stage).Inc()
	}
}

// RecordStageAttempt records the outcome of one task attempt
func RecordStageAttempt(stage, outcome string) {
	if metricsEnabled && StageAttempts != nil {
		StageAttempts.WithLabelValues(stage, outcome).Inc()
	}
}

// ObserveStageDuration records stage processing time with a timer function
func ObserveStageDuration(stage string) func() {
	if !metricsEnabled || StageDuration == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordDeadLetter records a task moved to the dead-letter path
func RecordDeadLetter(stage string) {
	if metricsEnabled && DeadLetters != nil {
		DeadLetters.WithLabelValues(stage).Inc()
	}
}

// RecordEnqueueFailure records a follow-up enqueue that failed after a
// successful transition
func RecordEnqueueFailure(stage string) {
	if metricsEnabled && EnqueueFailures != nil {
		EnqueueFailures.WithLabelValues(stage).Inc()
	}
}

// RecordSweeperRequeue records a stale call re-enqueued by the sweeper
func RecordSweeperRequeue(stage string) {
	if metricsEnabled && SweeperRequeues != nil {
		SweeperRequeues.WithLabelValues(stage).Inc()
	}
}

// TrackWorkerBusy marks a worker busy and returns a release function
func TrackWorkerBusy(stage string) func() {
	if !metricsEnabled || WorkersBusy == nil {
		return func() {}
	}

	WorkersBusy.WithLabelValues(stage).Inc()
	return func() {
		WorkersBusy.WithLabelValues(stage).Dec()
	}
}

// RecordCapabilityRequest records a capability provider call
func RecordCapabilityRequest(capability, provider, status string) {
	if metricsEnabled && CapabilityRequests != nil {
		CapabilityRequests.WithLabelValues(capability, provider, status).Inc()
	}
}

// ObserveCapabilityLatency records capability latency with a timer function
func ObserveCapabilityLatency(capability, provider string) func() {
	if !metricsEnabled || CapabilityLatency == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		CapabilityLatency.WithLabelValues(capability, provider).Observe(time.Since(start).Seconds())
	}
}

// RecordAlertCreated records a new alert
func RecordAlertCreated(alertType, severity string) {
	if metricsEnabled && AlertsCreated != nil {
		AlertsCreated.WithLabelValues(alertType, severity).Inc()
	}
}

// SetOpenAlerts sets the open alert gauge for a severity
func SetOpenAlerts(severity string, count float64) {
	if metricsEnabled && OpenAlerts != nil {
		OpenAlerts.WithLabelValues(severity).Set(count)
	}
}

// RecordAggregationRun records an aggregation run
func RecordAggregationRun(trigger, status string) {
	if metricsEnabled && AggregationRuns != nil {
		AggregationRuns.WithLabelValues(trigger, status).Inc()
	}
}

// ObserveAggregationDuration records aggregation time with a timer function
func ObserveAggregationDuration() func() {
	if !metricsEnabled || AggregationDuration == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		AggregationDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordEventPublished records a lifecycle event publish attempt
func RecordEventPublished(event, status string) {
	if metricsEnabled && EventsPublished != nil {
		EventsPublished.WithLabelValues(event, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if metricsEnabled && AMQPConnectionStatus != nil {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}
