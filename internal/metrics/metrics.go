package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadforge_runs_started_total",
			Help: "Total number of runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_runs_completed_total",
			Help: "Total number of runs that reached a terminal state",
		},
		[]string{"status"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadforge_runs_active",
			Help: "Number of runs with a live executor",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadforge_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadforge_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	UnitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_units_processed_total",
			Help: "Units of work processed per stage",
		},
		[]string{"stage", "outcome"},
	)

	StagesDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_stages_degraded_total",
			Help: "Stages that completed with partial output",
		},
		[]string{"stage"},
	)

	// Provider query metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_provider_requests_total",
			Help: "Provider call attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_provider_retries_total",
			Help: "Provider call retries after transient failures",
		},
		[]string{"provider"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadforge_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadforge_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate-limit token",
			Buckets: []float64{.005, .05, .25, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_rate_limited_total",
			Help: "Calls abandoned because the token wait bound elapsed",
		},
		[]string{"provider"},
	)

	// Dispatch metrics
	DispatchSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_dispatch_sends_total",
			Help: "Recipient send outcomes by provider and tier",
		},
		[]string{"provider", "tier", "outcome"},
	)

	DispatchFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_dispatch_failovers_total",
			Help: "Failovers to the next provider in a tier chain",
		},
		[]string{"tier"},
	)

	DeferredBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_deferred_batches_total",
			Help: "Dispatch batches deferred after the whole chain failed",
		},
		[]string{"tier"},
	)

	SuppressionHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadforge_suppression_hits_total",
			Help: "Recipients skipped because they are suppressed",
		},
	)

	QuotaDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_quota_denied_total",
			Help: "Calls denied by the provider quota ledger",
		},
		[]string{"provider"},
	)

	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_feedback_events_total",
			Help: "Delivery feedback events consumed",
		},
		[]string{"kind"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadforge_stream_subscribers",
			Help: "Currently connected event stream subscribers",
		},
	)

	StreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadforge_stream_dropped_total",
			Help: "Events dropped on slow subscriber channels",
		},
	)

	// Store metrics
	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadforge_db_write_queue_depth",
			Help: "Queued asynchronous store writes",
		},
	)

	WriteQueueFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadforge_db_write_queue_fallbacks_total",
			Help: "Writes executed synchronously because the queue was full",
		},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadforge_policy_decisions_total",
			Help: "Outreach policy decisions by outcome",
		},
		[]string{"decision", "mode"},
	)
)

// RecordRunCompleted records a terminal transition with its duration.
func RecordRunCompleted(status string, durationSeconds float64) {
	RunsCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		RunDuration.WithLabelValues(status).Observe(durationSeconds)
	}
}

// RecordUnit counts one processed unit for a stage.
func RecordUnit(stage, outcome string) {
	UnitsProcessed.WithLabelValues(stage, outcome).Inc()
}

// RecordProviderCall counts one provider attempt and its latency.
func RecordProviderCall(provider, outcome string, durationSeconds float64) {
	ProviderRequests.WithLabelValues(provider, outcome).Inc()
	if durationSeconds > 0 {
		ProviderLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}
