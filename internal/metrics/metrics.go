// Package metrics holds the prometheus collectors of both the client core and the relay.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// client core
	reconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rtchat_client_reconnect_attempts_total",
			Help: "Total number of scheduled transport reconnection attempts.",
		},
	)
	connectionStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_client_connection_status_total",
			Help: "Connection status transitions by target status.",
		},
		[]string{"status"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_client_messages_total",
			Help: "Chat messages by outcome (sent, failed, received, duplicate).",
		},
		[]string{"outcome"},
	)
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_client_calls_total",
			Help: "Finished call sessions by terminal state.",
		},
		[]string{"state"},
	)

	// relay
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtchat_relay_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_relay_ws_events_total",
			Help: "Inbound websocket events by name.",
		},
		[]string{"event"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtchat_relay_http_requests_total",
			Help: "Total number of HTTP requests processed by the relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtchat_relay_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		reconnectAttemptsTotal,
		connectionStatusTotal,
		messagesTotal,
		callsTotal,
		wsActiveConnections,
		wsEventsTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func IncReconnectAttempt() { reconnectAttemptsTotal.Inc() }

func IncConnectionStatus(status string) {
	connectionStatusTotal.WithLabelValues(status).Inc()
}

const (
	MessageSent      = "sent"
	MessageFailed    = "failed"
	MessageReceived  = "received"
	MessageDuplicate = "duplicate"
)

func IncMessage(outcome string) {
	messagesTotal.WithLabelValues(outcome).Inc()
}

func IncCall(state string) {
	callsTotal.WithLabelValues(state).Inc()
}

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		r.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// HTTPMiddleware records request counts and latencies per chi route pattern.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
