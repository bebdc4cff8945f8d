// Package metrics defines the Prometheus instrumentation for the matching and signaling core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Matching metrics
var (
	// CallRequestsTotal tracks call requests by terminal outcome
	CallRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_requests_total",
			Help: "Call requests by terminal outcome (accepted/cancelled/expired/unmatched)",
		},
		[]string{"outcome"},
	)

	// AcceptConflictsTotal counts accepts that lost the arbitration race
	AcceptConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accept_conflicts_total",
			Help: "Accept calls rejected because the request was no longer available",
		},
	)

	// EligibleInterpreters observes candidate set sizes at submit time
	EligibleInterpreters = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eligible_interpreters_per_request",
			Help:    "Eligible interpreters notified per call request",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

// Session lifecycle metrics
var (
	// ActiveSessions tracks sessions currently in a non-terminal state
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Sessions in a non-terminal lifecycle state",
		},
	)

	// SessionsEndedTotal tracks ended sessions by reason
	SessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_ended_total",
			Help: "Ended sessions by reason (peer-ended/timeout/reconnect-limit)",
		},
		[]string{"reason"},
	)

	// SessionsResumedTotal counts successful grace-period rejoins
	SessionsResumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_resumed_total",
			Help: "Sessions resumed from grace wait",
		},
	)

	// GraceTimeoutsTotal counts grace windows that expired with no rejoin
	GraceTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grace_timeouts_total",
			Help: "Grace windows that expired without a rejoin",
		},
	)

	// FinalizeEventsTotal counts finalize events handed to the recorder
	FinalizeEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finalize_events_total",
			Help: "Finalize events emitted to the persistence collaborator",
		},
	)

	// RecorderFailuresTotal counts finalize events the recorder rejected
	RecorderFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_failures_total",
			Help: "Finalize events the persistence collaborator failed to record",
		},
	)
)

// Relay metrics
var (
	// SignalsRelayedTotal tracks forwarded signaling messages by kind
	SignalsRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_relayed_total",
			Help: "Signaling messages forwarded to a counterpart, by kind",
		},
		[]string{"kind"},
	)

	// SignalsDroppedTotal tracks dropped signaling messages by kind and cause
	SignalsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_dropped_total",
			Help: "Signaling messages dropped, by kind and cause (absent/backlog/rate_limited)",
		},
		[]string{"kind", "cause"},
	)

	// ChatBacklogFlushedTotal counts chat messages flushed on counterpart rejoin
	ChatBacklogFlushedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_backlog_flushed_total",
			Help: "Queued chat messages delivered after a counterpart rejoined",
		},
	)
)

// Presence and transport metrics
var (
	// InterpretersOnline tracks registered interpreters by status
	InterpretersOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interpreters_by_status",
			Help: "Registered interpreters by presence status",
		},
		[]string{"status"},
	)

	// HeartbeatExpirationsTotal counts interpreters swept offline
	HeartbeatExpirationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_expirations_total",
			Help: "Interpreters marked offline after missing heartbeats",
		},
	)

	// WebSocketConnections tracks live websocket connections by role
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Live websocket connections by role",
		},
		[]string{"role"},
	)

	// WebSocketRejectionsTotal counts connections refused by the limiter
	WebSocketRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_rejections_total",
			Help: "Websocket upgrades refused by the connection limiter",
		},
	)
)
