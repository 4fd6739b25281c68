// internal/chatserver/metrics.go

package chatserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatserver_messages_sent_total",
			Help: "Messages persisted, by transport",
		},
		[]string{"transport"},
	)

	pushesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatserver_pushes_total",
			Help: "new_message pushes, by outcome",
		},
		[]string{"outcome"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatserver_active_connections",
			Help: "Open websocket connections",
		},
	)

	framesRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatserver_frames_rate_limited_total",
			Help: "Inbound websocket frames dropped by the per-connection rate limiter",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatserver_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func recordMessageSent(transport string) {
	messagesSent.WithLabelValues(transport).Inc()
}

func recordPush(delivered bool) {
	if delivered {
		pushesDelivered.WithLabelValues("delivered").Inc()
		return
	}
	pushesDelivered.WithLabelValues("offline").Inc()
}
