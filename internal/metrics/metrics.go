package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidtube_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Engine Metrics
	AccessVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_access_verdicts_total",
			Help: "Total number of access decisions by verdict",
		},
		[]string{"verdict"},
	)

	AccessDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kidtube_access_decision_duration_seconds",
			Help:    "Time taken to reach an access decision",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	WatchSecondsReportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kidtube_watch_seconds_reported_total",
			Help: "Watch seconds reported by playback clients",
		},
	)

	WatchSecondsAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kidtube_watch_seconds_applied_total",
			Help: "Watch seconds booked to the ledger after clamping",
		},
	)

	AccrualsClampedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kidtube_accruals_clamped_total",
			Help: "Accruals reduced by the delta cap or a budget ceiling",
		},
	)

	// Request Workflow Metrics
	RequestsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_requests_submitted_total",
			Help: "Access request submissions by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	RequestTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_request_transitions_total",
			Help: "Access request state transitions",
		},
		[]string{"type", "status"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_rate_limited_total",
			Help: "Operations rejected by a cooldown or attempt limit",
		},
		[]string{"action"},
	)

	PINAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_pin_attempts_total",
			Help: "PIN verification attempts",
		},
		[]string{"kind", "result"},
	)

	// Worker Metrics
	ScheduledTaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_scheduled_task_runs_total",
			Help: "Scheduled task executions",
		},
		[]string{"task", "status"},
	)

	SweptRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_swept_records_total",
			Help: "Records removed by sweeps",
		},
		[]string{"task"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_events_published_total",
			Help: "Request events published to the broker",
		},
		[]string{"event", "status"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_webhook_deliveries_total",
			Help: "Webhook delivery attempts by status",
		},
		[]string{"status"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidtube_realtime_connections",
			Help: "Open websocket connections",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidtube_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtube_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordVerdict records an access decision
func RecordVerdict(verdict string, duration float64) {
	AccessVerdictsTotal.WithLabelValues(verdict).Inc()
	AccessDecisionDuration.Observe(duration)
}

// RecordAccrual records a ledger accrual
func RecordAccrual(reported, applied int64) {
	WatchSecondsReportedTotal.Add(float64(reported))
	WatchSecondsAppliedTotal.Add(float64(applied))
	if applied < reported {
		AccrualsClampedTotal.Inc()
	}
}

// RecordRequestSubmitted records a submit outcome: created, existing or rate_limited
func RecordRequestSubmitted(requestType, outcome string) {
	RequestsSubmittedTotal.WithLabelValues(requestType, outcome).Inc()
}

// RecordRequestTransition records an approve or deny
func RecordRequestTransition(requestType, status string) {
	RequestTransitionsTotal.WithLabelValues(requestType, status).Inc()
}

// RecordRateLimited records a rejected operation
func RecordRateLimited(action string) {
	RateLimitedTotal.WithLabelValues(action).Inc()
}

// RecordPINAttempt records a kid or admin PIN check
func RecordPINAttempt(kind string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	PINAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// RecordTaskRun records a scheduled task execution
func RecordTaskRun(task string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	ScheduledTaskRunsTotal.WithLabelValues(task, status).Inc()
}

// RecordSweep records how many rows a sweep removed
func RecordSweep(task string, removed int64) {
	SweptRecordsTotal.WithLabelValues(task).Add(float64(removed))
}

// RecordEventPublished records a broker publish
func RecordEventPublished(event string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	EventsPublishedTotal.WithLabelValues(event, status).Inc()
}

// RecordWebhookDelivery records a delivery attempt
func RecordWebhookDelivery(status string) {
	WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation string, duration float64) {
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
