package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notiq_messages_fetched_total",
			Help: "Total number of envelopes fetched from the broker.",
		},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notiq_messages_dropped_total",
			Help: "Total number of envelopes dropped before send, by reason.",
		},
		[]string{"reason"}, // dry_run, expired, malformed, no_preference
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notiq_messages_sent_total",
			Help: "Total number of envelopes handed to the channel sender.",
		},
		[]string{"channel"},
	)

	SendDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notiq_send_duration_seconds",
			Help:    "Latency of the channel send operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notiq_failures_total",
			Help: "Total number of classified processing failures, by outcome.",
		},
		[]string{"outcome"}, // client_error, system_error, security_error, retry
	)

	RetryPostsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notiq_retry_posts_total",
			Help: "Total number of envelopes accepted by the retry queue.",
		},
	)

	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notiq_events_emitted_total",
			Help: "Total number of lifecycle events accepted by the broker, by type.",
		},
		[]string{"type"},
	)

	EventsAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notiq_events_abandoned_total",
			Help: "Total number of lifecycle events given up on past the retry bound.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		MessagesFetchedTotal,
		MessagesDroppedTotal,
		MessagesSentTotal,
		SendDurationSeconds,
		FailuresTotal,
		RetryPostsTotal,
		EventsEmittedTotal,
		EventsAbandonedTotal,
	)
}

// RecordFetched counts envelopes pulled from the broker in one poll.
func RecordFetched(n int) {
	MessagesFetchedTotal.Add(float64(n))
}

// RecordDropped counts a terminal drop before send.
func RecordDropped(reason string) {
	MessagesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordSent counts a successful channel send with its latency.
func RecordSent(channel string, d time.Duration) {
	MessagesSentTotal.WithLabelValues(channel).Inc()
	SendDurationSeconds.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordFailure counts a classified failure outcome.
func RecordFailure(outcome string) {
	FailuresTotal.WithLabelValues(outcome).Inc()
}

// RecordRetryPost counts an envelope accepted by the retry queue.
func RecordRetryPost() {
	RetryPostsTotal.Inc()
}

// RecordEvent counts a lifecycle event accepted by the broker.
func RecordEvent(eventType string) {
	EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventAbandoned counts an event dropped past the retry bound.
func RecordEventAbandoned() {
	EventsAbandonedTotal.Inc()
}
