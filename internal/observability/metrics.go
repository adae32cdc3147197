package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "agent",
			Name:      "registrations_total",
			Help:      "Total number of agent registrations accepted by the router.",
		},
		[]string{"team_id"},
	)

	AgentDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "agent",
			Name:      "disconnects_total",
			Help:      "Total number of agents marked disconnected by the liveness monitor.",
		},
		[]string{"team_id"},
	)

	ConnectedAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chorus",
			Subsystem: "agent",
			Name:      "connected",
			Help:      "Number of agents currently connected to the router.",
		},
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "message",
			Name:      "routed_total",
			Help:      "Total number of envelopes successfully enqueued to at least one recipient.",
		},
		[]string{"event_type"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "message",
			Name:      "dropped_total",
			Help:      "Total number of envelopes dropped for lacking a destination or channel.",
		},
		[]string{"reason"},
	)

	OutboundQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chorus",
			Subsystem: "message",
			Name:      "outbound_queue_depth",
			Help:      "Number of envelopes buffered in a recipient's outbound queue.",
		},
		[]string{"agent_id"},
	)

	RouterLogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chorus",
			Subsystem: "router",
			Name:      "log_entries",
			Help:      "Number of envelopes in the router's append-only log.",
		},
	)

	AgentCrashes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "agent",
			Name:      "crashes_total",
			Help:      "Total number of agent process crashes observed by the process host.",
		},
		[]string{"agent_id"},
	)

	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total number of respawn circuit breaker state changes.",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	VotesCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorus",
			Subsystem: "voting",
			Name:      "votes_cast_total",
			Help:      "Total number of votes cast across all voting services.",
		},
		[]string{"team_id"},
	)
)
