// internal/messaging/metrics.go

package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_client_frames_received_total",
			Help: "Frames received over the chat connection, by message_type",
		},
		[]string{"type"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_client_frames_dropped_total",
			Help: "Inbound frames dropped before dispatch",
		},
		[]string{"reason"},
	)

	reconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_client_reconnect_attempts_total",
			Help: "Reconnect attempts scheduled after a connection loss",
		},
	)

	sendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_client_send_failures_total",
			Help: "Outbound frames that could not be delivered",
		},
		[]string{"reason"},
	)

	handlerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_client_handler_panics_total",
			Help: "Subscriber panics recovered during dispatch",
		},
		[]string{"topic"},
	)

	unreadGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_client_unread_messages",
			Help: "Last unread count reported by the message server",
		},
	)

	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_client_connection_state",
			Help: "Connection state (0 idle, 1 connecting, 2 open, 3 reconnecting, 4 closed)",
		},
	)
)

func recordFrame(t MessageType) {
	framesReceived.WithLabelValues(string(t)).Inc()
}

func recordDrop(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

func recordReconnect() {
	reconnectAttempts.Inc()
}

func recordSendFailure(reason string) {
	sendFailures.WithLabelValues(reason).Inc()
}

func recordHandlerPanic(topic string) {
	handlerPanics.WithLabelValues(topic).Inc()
}

func recordUnread(count int64) {
	unreadGauge.Set(float64(count))
}

func recordState(s State) {
	connectionState.Set(float64(s))
}
