// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks portal HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total portal HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// BackendCallDuration tracks calls made to the backend API.
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_duration_seconds",
			Help:    "Backend API call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "endpoint", "outcome"},
	)

	// BackendCallsTotal counts backend API calls by outcome.
	BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_calls_total",
			Help: "Total backend API calls",
		},
		[]string{"method", "endpoint", "outcome"},
	)

	// TokenRefreshesTotal counts access token refresh attempts.
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Access token refresh attempts",
		},
		[]string{"outcome"},
	)

	// SessionsExpiredTotal counts forced logouts after a failed refresh.
	SessionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_total",
			Help: "Sessions cleared because the token could not be refreshed",
		},
	)

	// SessionsActive is the number of signed-in browser sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Signed-in browser sessions held by the portal",
		},
	)

	// AggregationSkippedTotal counts chat messages dropped during aggregation.
	AggregationSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_aggregation_skipped_total",
			Help: "Chat messages skipped while building conversations",
		},
		[]string{"reason"},
	)

	// ConversationsActive is the size of the last aggregated inbox.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_conversations",
			Help: "Conversations in the current inbox view",
		},
	)

	// UnreadConversations is the number of unread conversations.
	UnreadConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_unread_conversations",
			Help: "Unread conversations in the current inbox view",
		},
	)

	// MessagesSentTotal counts messages sent by the landlord.
	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Messages sent from the portal",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EventsPublishedTotal counts inbox events published to NATS.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_events_published_total",
			Help: "Inbox events published",
		},
		[]string{"type", "outcome"},
	)
)

// RecordRequest records metrics for a portal HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBackendCall records metrics for one backend round trip.
func RecordBackendCall(method, endpoint, outcome string, duration float64) {
	label := EndpointLabel(endpoint)
	BackendCallDuration.WithLabelValues(method, label, outcome).Observe(duration)
	BackendCallsTotal.WithLabelValues(method, label, outcome).Inc()
}

// RecordInbox records the shape of a freshly aggregated inbox.
func RecordInbox(conversations, unread int) {
	ConversationsActive.Set(float64(conversations))
	UnreadConversations.Set(float64(unread))
}

// EndpointLabel strips the query and replaces numeric path segments with
// ":id" so per-object endpoints share one series.
func EndpointLabel(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	parts := strings.Split(endpoint, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
