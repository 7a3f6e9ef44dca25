package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	HTTPResponseSize  *prometheus.HistogramVec

	// Event Metrics
	EventsIngested  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec

	// Workflow Metrics
	WorkflowExecutionsTotal *prometheus.CounterVec
	WorkflowDuration        *prometheus.HistogramVec
	WorkflowStepDuration    *prometheus.HistogramVec
	WorkflowStepsTotal      *prometheus.CounterVec
	ActiveWorkflows         prometheus.Gauge
	DelayedSteps            prometheus.Gauge

	// Queue Metrics
	QueueJobsEnqueued *prometheus.CounterVec

	// Business Logic Metrics
	LeadsCaptured     *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	WebhookAttempts   *prometheus.CounterVec

	// Worker Metrics
	WorkerJobsProcessed *prometheus.CounterVec
	WorkerJobDuration   *prometheus.HistogramVec
	WorkerErrors        *prometheus.CounterVec

	// Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics on reg.
// A nil reg registers on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "path"},
		),

		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_events_ingested_total",
				Help: "Total number of trigger events ingested",
			},
			[]string{"trigger_type", "deduplicated"},
		),
		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadflow_events_processed_total",
				Help: "Total number of trigger events processed",
			},
			[]string{"trigger_type", "status"},
		),

		WorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_executions_total",
				Help: "Total number of workflow executions",
			},
			[]string{"trigger_type", "status"},
		),
		WorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_execution_duration_seconds",
				Help:    "Workflow execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 60, 3600, 86400},
			},
			[]string{"status"},
		),
		WorkflowStepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_step_duration_seconds",
				Help:    "Workflow step execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step_type"},
		),
		WorkflowStepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_total",
				Help: "Total number of workflow steps by outcome",
			},
			[]string{"step_type", "status"},
		),
		ActiveWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_workflow_executions",
				Help: "Number of workflow executions started by this process and not yet finished",
			},
		),
		DelayedSteps: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "delayed_steps_due",
				Help: "Number of delayed steps found due on the last sweep",
			},
		),

		QueueJobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_jobs_enqueued_total",
				Help: "Total number of jobs enqueued",
			},
			[]string{"kind", "delayed"},
		),

		LeadsCaptured: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_captured_total",
				Help: "Total number of leads captured",
			},
			[]string{"source", "status"},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "status"},
		),
		WebhookAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_attempts_total",
				Help: "Total number of outbound webhook attempts",
			},
			[]string{"status"},
		),

		WorkerJobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_jobs_processed_total",
				Help: "Total number of jobs processed by workers",
			},
			[]string{"worker", "kind", "status"},
		),
		WorkerJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_job_duration_seconds",
				Help:    "Worker job processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"worker", "kind"},
		),
		WorkerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_errors_total",
				Help: "Total number of worker errors",
			},
			[]string{"worker", "error_type"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, size int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordEventIngested records an ingested or deduplicated event
func (m *Metrics) RecordEventIngested(triggerType string, deduplicated bool) {
	if m == nil {
		return
	}
	dedup := "false"
	if deduplicated {
		dedup = "true"
	}
	m.EventsIngested.WithLabelValues(triggerType, dedup).Inc()
}

// RecordEventProcessed records the final status of an event
func (m *Metrics) RecordEventProcessed(triggerType, status string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(triggerType, status).Inc()
}

// RecordRunStarted records a new workflow run
func (m *Metrics) RecordRunStarted(triggerType string) {
	if m == nil {
		return
	}
	m.WorkflowExecutionsTotal.WithLabelValues(triggerType, "started").Inc()
	m.ActiveWorkflows.Inc()
}

// RecordRunFinished records a run reaching a terminal status
func (m *Metrics) RecordRunFinished(triggerType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowExecutionsTotal.WithLabelValues(triggerType, status).Inc()
	m.WorkflowDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.ActiveWorkflows.Dec()
}

// RecordStep records one step outcome
func (m *Metrics) RecordStep(stepType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowStepsTotal.WithLabelValues(stepType, status).Inc()
	m.WorkflowStepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordJobEnqueued records a job handed to the queue
func (m *Metrics) RecordJobEnqueued(kind string, delayed bool) {
	if m == nil {
		return
	}
	d := "false"
	if delayed {
		d = "true"
	}
	m.QueueJobsEnqueued.WithLabelValues(kind, d).Inc()
}

// RecordLeadCaptured records a lead capture attempt
func (m *Metrics) RecordLeadCaptured(source, status string) {
	if m == nil {
		return
	}
	m.LeadsCaptured.WithLabelValues(source, status).Inc()
}

// RecordNotification records a notification send attempt
func (m *Metrics) RecordNotification(channel, status string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(channel, status).Inc()
}

// RecordWebhookAttempt records one outbound webhook attempt
func (m *Metrics) RecordWebhookAttempt(status string) {
	if m == nil {
		return
	}
	m.WebhookAttempts.WithLabelValues(status).Inc()
}

// RecordWorkerJob records one processed worker job
func (m *Metrics) RecordWorkerJob(worker, kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkerJobsProcessed.WithLabelValues(worker, kind, status).Inc()
	m.WorkerJobDuration.WithLabelValues(worker, kind).Observe(duration.Seconds())
}

// RecordWorkerError records a worker error
func (m *Metrics) RecordWorkerError(worker, errorType string) {
	if m == nil {
		return
	}
	m.WorkerErrors.WithLabelValues(worker, errorType).Inc()
}

// SetDelayedSteps sets the number of due delayed steps seen on a sweep
func (m *Metrics) SetDelayedSteps(n int) {
	if m == nil {
		return
	}
	m.DelayedSteps.Set(float64(n))
}

// SetCircuitBreakerState records the state of a named circuit breaker
func (m *Metrics) SetCircuitBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}
