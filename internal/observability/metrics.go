package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the engine and gateway.
//
// Tracked surfaces: task outcomes and durations, per-step tool
// execution, LLM calls with token usage, sandbox lifecycle, critic
// verdicts, event log writes, and HTTP API traffic.
type Metrics struct {
	// TaskCounter counts finished tasks.
	// Labels: status (succeeded|failed|cancelled)
	TaskCounter *prometheus.CounterVec

	// TaskDuration measures wallclock per task in seconds.
	// Labels: status
	TaskDuration *prometheus.HistogramVec

	// ActiveTasks is a gauge of tasks currently executing.
	ActiveTasks prometheus.Gauge

	// StepCounter counts executed steps.
	// Labels: tool, status (completed|failed)
	StepCounter *prometheus.CounterVec

	// StepDuration measures step execution time in seconds.
	// Labels: tool
	StepDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls.
	// Labels: provider (openai|anthropic), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// SandboxCounter counts sandbox lifecycle operations.
	// Labels: operation (create|destroy), status (success|error)
	SandboxCounter *prometheus.CounterVec

	// SandboxCreateDuration measures time to a healthy sandbox in seconds.
	SandboxCreateDuration prometheus.Histogram

	// CriticCounter counts critic evaluations.
	// Labels: verdict (on_track|off_track|error)
	CriticCounter *prometheus.CounterVec

	// CorrectionCounter counts corrective steps spliced into plans.
	CorrectionCounter prometheus.Counter

	// EventCounter counts appended task events.
	// Labels: type
	EventCounter *prometheus.CounterVec

	// HTTPRequestCounter counts gateway requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures gateway request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// QueueDepth is a gauge of jobs waiting in the task queue.
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics with the
// default registry. Call once at startup; the gateway serves them at
// /metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TaskCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_tasks_total",
				Help: "Total number of finished tasks by terminal status",
			},
			[]string{"status"},
		),

		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "golem_task_duration_seconds",
				Help:    "Task wallclock duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
			},
			[]string{"status"},
		),

		ActiveTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "golem_active_tasks",
				Help: "Number of tasks currently executing",
			},
		),

		StepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_steps_total",
				Help: "Total number of executed plan steps by tool and status",
			},
			[]string{"tool", "status"},
		),

		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "golem_step_duration_seconds",
				Help:    "Step execution time in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "golem_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_llm_tokens_total",
				Help: "Total LLM tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		SandboxCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_sandbox_operations_total",
				Help: "Total sandbox lifecycle operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		SandboxCreateDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "golem_sandbox_create_duration_seconds",
				Help:    "Time from container start to healthy services in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),

		CriticCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_critic_evaluations_total",
				Help: "Total critic evaluations by verdict",
			},
			[]string{"verdict"},
		),

		CorrectionCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "golem_corrections_total",
				Help: "Total corrective steps spliced into plans",
			},
		),

		EventCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_events_total",
				Help: "Total task events appended by type",
			},
			[]string{"type"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "golem_http_requests_total",
				Help: "Total gateway HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "golem_http_request_duration_seconds",
				Help:    "Gateway HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "golem_queue_depth",
				Help: "Jobs waiting in the task queue",
			},
		),
	}
}

// RecordTask records a finished task with its terminal status.
func (m *Metrics) RecordTask(status string, durationSeconds float64) {
	m.TaskCounter.WithLabelValues(status).Inc()
	m.TaskDuration.WithLabelValues(status).Observe(durationSeconds)
}

// TaskStarted increments the active task gauge.
func (m *Metrics) TaskStarted() {
	m.ActiveTasks.Inc()
}

// TaskFinished decrements the active task gauge.
func (m *Metrics) TaskFinished() {
	m.ActiveTasks.Dec()
}

// RecordStep records one executed step.
func (m *Metrics) RecordStep(tool, status string, durationSeconds float64) {
	m.StepCounter.WithLabelValues(tool, status).Inc()
	m.StepDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records an LLM call with token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordSandboxCreate records a sandbox create attempt.
func (m *Metrics) RecordSandboxCreate(status string, durationSeconds float64) {
	m.SandboxCounter.WithLabelValues("create", status).Inc()
	if status == "success" {
		m.SandboxCreateDuration.Observe(durationSeconds)
	}
}

// RecordSandboxDestroy records a sandbox destroy attempt.
func (m *Metrics) RecordSandboxDestroy(status string) {
	m.SandboxCounter.WithLabelValues("destroy", status).Inc()
}

// RecordCritic records a critic evaluation verdict.
func (m *Metrics) RecordCritic(verdict string) {
	m.CriticCounter.WithLabelValues(verdict).Inc()
}

// RecordCorrections adds spliced corrective steps to the counter.
func (m *Metrics) RecordCorrections(count int) {
	if count > 0 {
		m.CorrectionCounter.Add(float64(count))
	}
}

// RecordEvent records an appended task event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventCounter.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records one gateway request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
