package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records repository query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signbridge_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// MessagesSent counts persisted messages by conversation kind.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signbridge_messages_sent_total",
		Help: "Total number of messages sent",
	}, []string{"kind"})

	// ReactionToggles counts reaction toggles by outcome.
	ReactionToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signbridge_reaction_toggles_total",
		Help: "Total number of reaction toggles",
	}, []string{"action"})

	// ChangeEventsPublished counts row change events emitted by table and type.
	ChangeEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signbridge_change_events_published_total",
		Help: "Total number of change events published",
	}, []string{"table", "type"})

	// ChangeEventsDelivered counts change events written to subscribers.
	ChangeEventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signbridge_change_events_delivered_total",
		Help: "Total number of change events delivered to subscribers",
	}, []string{"table"})

	// RealtimeSubscriptions is the number of live table subscriptions.
	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signbridge_realtime_subscriptions",
		Help: "Number of active realtime subscriptions",
	})

	// RealtimeDrops counts outbound frames dropped due to backpressure or throttling.
	RealtimeDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signbridge_realtime_drops_total",
		Help: "Total number of realtime frames dropped",
	}, []string{"reason"})

	// PresenceOnlineUsers is the number of users tracked on the presence channel.
	PresenceOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signbridge_presence_online_users",
		Help: "Number of users currently present",
	})

	// TypingIndicatorsSwept counts stale typing rows removed by the sweeper.
	TypingIndicatorsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signbridge_typing_indicators_swept_total",
		Help: "Total number of stale typing indicators removed",
	})
)

// TrackQuery returns a func that records latency when called, typically deferred.
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ConversationKind labels a conversation for metrics.
func ConversationKind(isGroup bool) string {
	if isGroup {
		return "group"
	}
	return "direct"
}
