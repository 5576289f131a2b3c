package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat metrics for monitoring message lifecycle and real-time delivery
var (
	ChatMessageCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_created_total",
		Help: "Total number of messages created",
	}, []string{"message_type"})

	ChatMessageArchivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_archived_total",
		Help: "Total number of messages written to the archive",
	}, []string{"status"})

	ChatMessageNotifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_notified_total",
		Help: "Total number of room notifications published",
	}, []string{"status"})

	ChatMessageSendUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_send_unauthorized_total",
		Help: "Total number of messages rejected due to unauthorized access",
	})

	ChatRoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Current number of chat rooms",
	})
)

// Signaling metrics for the WebSocket gateway
var (
	SignalingConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connections_active",
		Help: "Current number of signaling WebSocket connections",
	})

	SignalingMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_messages_total",
		Help: "Total number of signaling messages relayed",
	}, []string{"type"})

	SignalingPublishErrorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_publish_error_total",
		Help: "Total number of failed signaling publishes",
	})
)
