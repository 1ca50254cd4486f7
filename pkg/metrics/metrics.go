// Package metrics provides Prometheus metrics for the reading discovery service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportsTotal tracks imports by source platform and final status
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "imports",
			Name:      "total",
			Help:      "Total number of imports by source platform and status",
		},
		[]string{"source_platform", "status"},
	)

	// ImportDuration tracks end-to-end import duration in seconds
	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reading",
			Subsystem: "imports",
			Name:      "duration_seconds",
			Help:      "Duration of imports from creation to completion in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source_platform"},
	)

	// ResolutionsTotal tracks resolution attempts by method and outcome
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "resolution",
			Name:      "total",
			Help:      "Total number of account resolution attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// ResolutionCacheHits tracks resolution cache hits and misses
	ResolutionCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "resolution",
			Name:      "cache_total",
			Help:      "Resolution cache lookups by result",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"source", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reading",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// FetchCacheHits tracks fetcher cache hits and misses
	FetchCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "fetcher",
			Name:      "cache_total",
			Help:      "Fetcher response cache lookups by result",
		},
		[]string{"source", "result"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"job_type", "status"},
	)

	// QueueJobDuration tracks job processing duration
	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reading",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of job processing in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job_type"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reading",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"job_type", "reason"},
	)

	// RateLimitHits tracks rate limit hits
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"source", "limit_name"},
	)

	// FeedItemsCreated tracks feed items written
	FeedItemsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "feed",
			Name:      "items_created_total",
			Help:      "Total number of feed items created by activity type",
		},
		[]string{"activity_type"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reading",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordImport records a completed import
func RecordImport(sourcePlatform, status string, durationSeconds float64) {
	ImportsTotal.WithLabelValues(sourcePlatform, status).Inc()
	ImportDuration.WithLabelValues(sourcePlatform).Observe(durationSeconds)
}

// RecordResolution records a resolution attempt
func RecordResolution(method, outcome string) {
	ResolutionsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordResolutionCache records a resolution cache lookup
func RecordResolutionCache(result string) {
	ResolutionCacheHits.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(source, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(source, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordFetchCache records a fetcher cache lookup
func RecordFetchCache(source, result string) {
	FetchCacheHits.WithLabelValues(source, result).Inc()
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(jobType, status string, durationSeconds float64) {
	QueueJobsProcessed.WithLabelValues(jobType, status).Inc()
	QueueJobDuration.WithLabelValues(jobType).Observe(durationSeconds)
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(jobType, reason string) {
	DLQJobsTotal.WithLabelValues(jobType, reason).Inc()
}

// RecordRateLimitHit records a rate limit hit
func RecordRateLimitHit(source, limitName string) {
	RateLimitHits.WithLabelValues(source, limitName).Inc()
}

// RecordFeedItem records a created feed item
func RecordFeedItem(activityType string) {
	FeedItemsCreated.WithLabelValues(activityType).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
