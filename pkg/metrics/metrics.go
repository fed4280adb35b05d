// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal counts stored chat messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages stored, by sender and message type",
		},
		[]string{"sender", "type"},
	)

	// SessionsCreated counts chats created.
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_created_total",
			Help: "Chat sessions created",
		},
		[]string{"reason"},
	)

	// StateTransitions counts triage state changes.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_state_transitions_total",
			Help: "Conversation state transitions",
		},
		[]string{"from", "to"},
	)

	// ReplyDuration tracks follow-up generation latency.
	ReplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reply_generation_duration_seconds",
			Help:    "Follow-up generation duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"generator", "status"},
	)

	// WebSocketConnectionsActive tracks open push channels.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of open push channel connections",
		},
	)

	// PushPublished counts envelopes handed to the push hub.
	PushPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_envelopes_published_total",
			Help: "Push envelopes published, by hub and envelope type",
		},
		[]string{"hub", "type"},
	)

	// PushDropped counts envelopes dropped for slow subscribers.
	PushDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_envelopes_dropped_total",
			Help: "Push envelopes dropped because a subscriber was full",
		},
	)
)

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration float64) {
	statusStr := strconv.Itoa(status)
	RequestDuration.WithLabelValues(method, path, statusStr).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, statusStr).Inc()
}

// RecordMessage records one stored message.
func RecordMessage(sender, messageType string) {
	MessagesTotal.WithLabelValues(sender, messageType).Inc()
}

// RecordTransition records a state change.
func RecordTransition(from, to string) {
	if from == to {
		return
	}
	StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordReply records how long a generator took.
func RecordReply(generator string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ReplyDuration.WithLabelValues(generator, status).Observe(time.Since(started).Seconds())
}
