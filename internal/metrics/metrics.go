package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LogsSubmitted counts daily log submissions by outcome (created, updated, failed).
	LogsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_logs_submitted_total",
			Help: "The total number of daily log submissions.",
		},
		[]string{"outcome"},
	)

	// StreakResets counts first-of-day submissions that reset a streak to 1.
	StreakResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodjournal_streak_resets_total",
			Help: "The total number of streaks reset by a missed day.",
		},
	)

	// MilestonesSent counts milestone notifications by result (sent, duplicate, skipped, failed).
	MilestonesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_milestones_total",
			Help: "The total number of milestone notification attempts.",
		},
		[]string{"result"},
	)

	// CacheRequests counts cache lookups by key family and result (hit, miss, error).
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_cache_requests_total",
			Help: "The total number of cache lookups.",
		},
		[]string{"family", "result"},
	)

	// CacheErrors counts failed cache operations.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_cache_errors_total",
			Help: "The total number of failed cache operations.",
		},
		[]string{"op"},
	)

	// FeedbackFallbacks counts feedback generations that used the default payload.
	FeedbackFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_feedback_fallbacks_total",
			Help: "The total number of feedback generations that fell back to the default payload.",
		},
		[]string{"reason"},
	)

	// NotificationsSent counts Telegram messages by kind and result.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_notifications_total",
			Help: "The total number of Telegram messages attempted.",
		},
		[]string{"kind", "result"},
	)

	// JobsCompleted is a counter for scheduled jobs completed.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_jobs_completed_total",
			Help: "The total number of scheduled job runs.",
		},
		[]string{"job_type"},
	)

	// JobItemsFailed counts per-item failures inside scheduled jobs.
	JobItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_job_items_failed_total",
			Help: "The total number of items that failed inside scheduled jobs.",
		},
		[]string{"job_type"},
	)

	// JobDuration is a histogram of the time it takes to execute a job.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moodjournal_job_duration_seconds",
			Help:    "A histogram of the job execution duration.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 10 buckets, 0.1s width
		},
		[]string{"job_type"},
	)

	// TasksCompleted counts background tasks by type and result (success, failed, rejected).
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_tasks_total",
			Help: "The total number of background task executions.",
		},
		[]string{"task_type", "result"},
	)

	// TasksInFlight is a gauge that shows the number of currently running tasks.
	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodjournal_tasks_in_flight",
			Help: "The number of background tasks currently being executed.",
		},
	)

	// TaskQueueDepth is the number of tasks waiting for a worker.
	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodjournal_task_queue_depth",
			Help: "The number of background tasks waiting in the queue.",
		},
	)

	// HTTPRequests counts HTTP requests by route pattern, method and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodjournal_http_requests_total",
			Help: "The total number of HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPDuration is a histogram of HTTP request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moodjournal_http_request_duration_seconds",
			Help:    "A histogram of HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
