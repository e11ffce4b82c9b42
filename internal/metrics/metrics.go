package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequests counts incoming webhook deliveries, labeled by outcome.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_webhook_requests_total",
		Help: "The total number of received webhook requests",
	}, []string{"status"}) // status: accepted, invalid_signature, ignored_event, duplicate, dropped_concurrency, error_read

	// TasksTotal counts dispatched review/autofix tasks, labeled by action and result.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_tasks_total",
		Help: "The total number of processed review and autofix tasks",
	}, []string{"action", "status"})

	// TaskDuration measures end-to-end task processing time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patchwork_task_duration_seconds",
		Help:    "Time taken to process a review or autofix task",
		Buckets: prometheus.DefBuckets,
	}, []string{"action", "status"})

	// TokenExchanges counts installation token exchanges against the platform.
	TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_token_exchanges_total",
		Help: "The total number of installation access token exchanges",
	}, []string{"status"}) // status: success, error

	// CommitPushes counts autofix commit attempts.
	CommitPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_commit_pushes_total",
		Help: "The total number of autofix commit attempts",
	}, []string{"status"}) // status: success, conflict, forbidden, error

	// CommentPostFailures counts failed PR comment posts.
	CommentPostFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_comment_failures_total",
		Help: "Total number of failed comment posts to the hosting platform",
	}, []string{"reason"})

	// FileReviewFailures counts per-file review or rewrite failures absorbed within a batch.
	FileReviewFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchwork_file_review_failures_total",
		Help: "Total number of per-file review or rewrite failures",
	}, []string{"stage"}) // stage: content, review, rewrite
)
