package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics
	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_tasks_scheduled_total",
			Help: "Tasks selected for execution",
		},
		[]string{"platform", "engine", "kind"},
	)

	TasksDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_tasks_deduplicated_total",
			Help: "Candidate tasks rejected by the queue dedup rule",
		},
	)

	PlanSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_plan_steps_total",
			Help: "Planning iterations taken",
		},
	)

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_phase_transitions_total",
			Help: "Scheduler phase transitions",
		},
		[]string{"from", "to"},
	)

	// Executor metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_tool_executions_total",
			Help: "Tool invocations by outcome",
		},
		[]string{"tool", "status"},
	)

	ItemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_items_ingested_total",
			Help: "Candidate items ingested from tool results",
		},
		[]string{"platform", "engine"},
	)

	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_records_skipped_total",
			Help: "Malformed tool records skipped during ingestion",
		},
	)

	// Feedback metrics
	QualityVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_quality_verdicts_total",
			Help: "Quality gate verdicts by outcome and action",
		},
		[]string{"passed", "action"},
	)

	RetriesSynthesized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_retries_synthesized_total",
			Help: "Retry tasks synthesized from failing verdicts",
		},
	)

	FeedbackDisabled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_feedback_disabled_total",
			Help: "Times the feedback subsystem was disabled by the global retry cap",
		},
	)

	// Retry chain metrics
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_retry_attempts_total",
			Help: "Retry chain attempts by query layer and validity",
		},
		[]string{"layer", "valid"},
	)

	RelevanceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "radar_relevance_score",
			Help:    "Relevance scores produced by the search validator",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1},
		},
	)

	// Circuit breaker state: 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "radar_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Balance metrics
	BalanceAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_balance_alerts_total",
			Help: "Advisory balance alerts emitted by the balance tracker",
		},
		[]string{"type"},
	)

	ImbalanceDegree = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radar_imbalance_degree",
			Help: "Current platform imbalance degree (0=balanced, 1=one-sided)",
		},
	)

	// Filter metrics
	FilterAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_filter_accepted_total",
			Help: "Items accepted by the outlier filter by detection type",
		},
		[]string{"detection"},
	)

	FilterInputSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "radar_filter_input_size",
			Help:    "Batch sizes entering the outlier filter",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 500},
		},
	)

	// External memory metrics
	ItemsExternalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_items_externalized_total",
			Help: "Candidate items stored to the blob store",
		},
	)
)
