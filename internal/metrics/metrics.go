package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection and hub metrics
var (
	// ConnectedClients tracks currently attached websocket clients.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connected_clients",
			Help: "Number of currently connected WebSocket clients",
		},
	)

	// ActiveChannels tracks channels with at least one local subscriber.
	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_channels",
			Help: "Number of channels with locally connected subscribers",
		},
	)

	// SlowClientsEvicted counts clients dropped for full send buffers.
	SlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_slow_clients_evicted_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)
)

// Message pipeline metrics
var (
	// MessagesPublished counts envelopes accepted onto the bus.
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_published_total",
			Help: "Messages published to the fanout bus",
		},
	)

	// MessagesDelivered counts local rebroadcasts by the fanout consumer.
	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_delivered_total",
			Help: "Messages rebroadcast locally by the fanout consumer",
		},
	)

	// DuplicatesDropped counts envelopes suppressed by the dedup marker.
	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_duplicate_messages_dropped_total",
			Help: "Envelopes discarded because their id was already delivered",
		},
	)

	// ThrottledMessages counts sends rejected by the rate limiter.
	ThrottledMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_throttled_total",
			Help: "Messages rejected by the per-user rate limiter",
		},
	)

	// RejectedMessages counts protocol-level rejections by reason.
	RejectedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_rejected_total",
			Help: "Messages rejected for protocol violations",
		},
		[]string{"reason"},
	)

	// PublishFailures counts publish attempts that exhausted retries.
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_publish_failures_total",
			Help: "Bus publishes that failed after retry exhaustion",
		},
	)
)

// Infrastructure protection metrics
var (
	// CircuitBreakerStateChanges tracks circuit breaker state transitions.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Presence and sweep metrics
var (
	// StoreErrors counts presence store failures by operation.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_store_errors_total",
			Help: "Presence store operation failures",
		},
		[]string{"operation"},
	)

	// StaleMembersReaped counts membership entries removed because their
	// connection key had expired (by ListMembers or the sweep).
	StaleMembersReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stale_members_reaped_total",
			Help: "Stale membership entries removed",
		},
		[]string{"source"},
	)

	// SweepRuns counts reconciliation sweep executions by outcome.
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sweep_runs_total",
			Help: "Reconciliation sweep executions",
		},
		[]string{"status"},
	)
)
