package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailfeed_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_commands_total",
			Help: "Total number of protocol commands processed",
		},
		[]string{"protocol", "command", "status"},
	)
)

// Storage metrics
var (
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_s3_operations_total",
			Help: "Total number of S3 operations",
		},
		[]string{"operation", "status"},
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailfeed_s3_operation_duration_seconds",
			Help:    "Duration of S3 operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	StorageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_storage_retries_total",
			Help: "Total number of retried storage operations",
		},
		[]string{"operation"},
	)
)

// Feed metrics
var (
	// MessagesProcessed counts inbound messages by outcome:
	// "created" (new feed), "updated", "rejected", "failed".
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_messages_processed_total",
			Help: "Total number of inbound messages processed by outcome",
		},
		[]string{"source", "result"},
	)

	EntriesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailfeed_entries_evicted_total",
			Help: "Total number of feed entries removed by retention limits",
		},
	)

	CompanionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_companion_operations_total",
			Help: "Total number of companion content uploads and deletions",
		},
		[]string{"operation", "status"},
	)

	FeedSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailfeed_feed_size_bytes",
			Help:    "Size of persisted feed documents in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	FeedEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailfeed_feed_entries",
			Help:    "Number of entries in persisted feed documents",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailfeed_message_size_bytes",
			Help:    "Size of inbound messages in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailfeed_processing_duration_seconds",
			Help:    "Time spent updating a feed for one message",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)
)

// Notification metrics
var (
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_notifications_total",
			Help: "Total number of new-feed notifications by result",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// Health metrics
var (
	ComponentHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailfeed_component_health_status",
			Help: "Component health (0 unhealthy, 1 degraded, 2 healthy)",
		},
		[]string{"component"},
	)

	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfeed_health_checks_total",
			Help: "Total number of health checks by component and resulting status",
		},
		[]string{"component", "status"},
	)
)
