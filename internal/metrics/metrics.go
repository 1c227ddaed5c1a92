package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildcache_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "guildcache_http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildcache_messages_ingested_total",
			Help: "Total number of messages written to the cache",
		},
		[]string{"guild", "source"},
	)

	MessagesPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildcache_messages_pruned_total",
			Help: "Total number of messages evicted by the retention sweep",
		},
		[]string{"guild"},
	)

	// Backfill metrics
	BackfillPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildcache_backfill_pages_total",
			Help: "Total number of history pages fetched during backfill",
		},
	)

	BackfillMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildcache_backfill_messages_total",
			Help: "Total number of messages stored by backfill",
		},
	)

	// Upstream API metrics
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildcache_upstream_calls_total",
			Help: "Total number of upstream API call outcomes",
		},
		[]string{"status"},
	)

	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildcache_upstream_retries_total",
			Help: "Total number of upstream API retries",
		},
	)
)
