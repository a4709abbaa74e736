package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the sync core. Registered on the default registry and
// exposed by the daemon on /metrics.
var (
	MessagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_created_total",
		Help: "Messages committed by the store client.",
	})
	OptimisticSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_optimistic_sends_total",
		Help: "Pending messages appended by SendOptimistic.",
	})
	SendConfirms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_send_confirms_total",
		Help: "Pending messages confirmed in place.",
	})
	SendRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_send_rollbacks_total",
		Help: "Pending messages removed after a failed write.",
	})
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_duplicates_suppressed_total",
		Help: "Redelivered or already-confirmed rows discarded by the reconciler.",
	})
	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_feed_dropped_subscribers_total",
		Help: "Feed subscribers detached after their buffer overflowed.",
	})
	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_retention_deleted_total",
		Help: "Messages purged by the retention sweeper.",
	})

	OpenSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_feed_subscriptions",
		Help: "Currently attached feed subscribers.",
	})
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_open_sessions",
		Help: "Currently open conversation sessions.",
	})
)
