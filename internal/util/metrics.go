package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportJobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_jobs_enqueued_total",
		Help: "Total number of import jobs enqueued",
	}, []string{"kind"})

	ImportJobsSucceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_jobs_succeeded_total",
		Help: "Total number of import jobs completed successfully",
	}, []string{"kind"})

	ImportJobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_jobs_failed_total",
		Help: "Total number of import jobs that failed terminally",
	}, []string{"kind", "reason"})

	ImportJobsRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_jobs_retried_total",
		Help: "Total number of import job retries",
	}, []string{"kind"})

	ImportJobsStalledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "import_jobs_stalled_total",
		Help: "Total number of jobs requeued after a missed heartbeat",
	})

	ImportJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "import_job_duration_seconds",
		Help:    "Duration of import job processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	QuotaCallsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_calls_consumed_total",
		Help: "External API calls consumed per quota key",
	}, []string{"key"})

	QuotaExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quota_exhausted_total",
		Help: "Times a key lookup found every quota exhausted",
	})

	ImagesRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "images_relayed_total",
		Help: "Total number of images re-hosted to object storage",
	})

	ImagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "images_dropped_total",
		Help: "Total number of images dropped after relay failures",
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of webhooks received",
	}, []string{"topic"})

	WebhooksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_duplicate_total",
		Help: "Total number of duplicate webhook deliveries skipped",
	})

	ReconcileStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_status_changes_total",
		Help: "Product status transitions applied by the compliance reactor",
	}, []string{"to"})

	ShopifyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopify_request_duration_seconds",
		Help:    "Latency of Shopify Admin GraphQL calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
