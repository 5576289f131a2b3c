// Package ws carries signaling traffic to connected clients over WebSocket.
// Each instance subscribes to the redis channels for its local clients, so
// messages published by any instance reach every participant.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/signaling"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/constants"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/metrics"
)

const writeTimeout = 10 * time.Second

// Hub tracks connected clients and their redis subscriptions
type Hub struct {
	redisClient *redis.Client

	mu sync.RWMutex
	// clients subscribed per redis channel name
	channels map[string]map[*Client]bool
	// cancel funcs for per-channel redis subscriptions
	subscriptionCancels map[string]context.CancelFunc

	register   chan *Client
	unregister chan *Client
	deliver    chan *delivery

	maxConnections int
	semaphore      chan struct{}
}

// delivery is one raw payload fanned out to a channel's local clients
type delivery struct {
	channel string
	data    []byte
}

// Client is one websocket connection. Every client listens on its user
// channel; clients that joined a call also listen on the call channel.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	userID    uuid.UUID
	callID    uuid.UUID // Nil when not attached to a call
	channels  []string
}

// closeSend closes the outbound queue exactly once. A client can be dropped
// both as a slow consumer and through unregister when its readPump exits.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() []string {
	raw := os.Getenv("WS_ALLOWED_ORIGINS")
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// NewHub creates the hub and starts its dispatch loop
func NewHub(redisClient *redis.Client) *Hub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &Hub{
		redisClient:         redisClient,
		channels:            make(map[string]map[*Client]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		deliver:             make(chan *delivery, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()
	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			for _, channel := range client.channels {
				if h.channels[channel] == nil {
					h.channels[channel] = make(map[*Client]bool)
					ctx, cancel := context.WithCancel(context.Background())
					h.subscriptionCancels[channel] = cancel
					go h.subscribe(ctx, channel)
				}
				h.channels[channel][client] = true
			}
			h.mu.Unlock()
			metrics.SignalingConnectionsActive.Inc()

		case client := <-h.unregister:
			h.drop(client)

		case d := <-h.deliver:
			var slow []*Client
			h.mu.RLock()
			for client := range h.channels[d.channel] {
				select {
				case client.send <- d.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			// slow consumers are dropped from every channel they joined,
			// not just the one that overflowed
			for _, client := range slow {
				h.drop(client)
			}
		}
	}
}

// drop detaches the client from all of its channels, tears down
// subscriptions nobody listens on anymore, and closes the outbound queue.
// Safe to call more than once for the same client.
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	removed := false
	for _, channel := range client.channels {
		clients, ok := h.channels[channel]
		if !ok {
			continue
		}
		if _, exists := clients[client]; exists {
			delete(clients, client)
			removed = true
			if len(clients) == 0 {
				if cancel, ok := h.subscriptionCancels[channel]; ok {
					cancel()
					delete(h.subscriptionCancels, channel)
				}
				delete(h.channels, channel)
			}
		}
	}
	h.mu.Unlock()

	client.closeSend()
	if removed {
		metrics.SignalingConnectionsActive.Dec()
	}
}

// subscribe pumps one redis channel into the local dispatch loop
func (h *Hub) subscribe(ctx context.Context, channel string) {
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("redis subscribe failed",
			zap.String("channel", channel), zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			h.deliver <- &delivery{channel: channel, data: []byte(msg.Payload)}
		}
	}
}

// ServeWS handles GET /v1/ws?call_id=<uuid>. The caller must already be
// authenticated; call_id is optional and attaches the socket to that call's
// channel in addition to the user channel.
func (h *Hub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("websocket rejected, at capacity",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	userIDVal, exists := c.Get("user_id")
	if !exists {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	callID := uuid.Nil
	if raw := c.Query("call_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			release()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call_id"})
			return
		}
		callID = parsed
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	channels := []string{signaling.UserChannel(userID)}
	if callID != uuid.Nil {
		channels = append(channels, signaling.CallChannel(callID))
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		callID:   callID,
		channels: channels,
	}
	h.register <- client

	go client.writePump()
	go func() {
		defer release()
		client.readPump()
	}()
}

// readPump relays inbound messages onto the call's redis channel so the
// other leg receives them regardless of which instance it is connected to.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket closed",
					zap.String("user_id", c.userID.String()), zap.Error(err))
			}
			break
		}

		if c.callID == uuid.Nil {
			continue
		}

		var msg signaling.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("invalid signaling message",
				zap.String("user_id", c.userID.String()), zap.Error(err))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), constants.SignalingSendTimeout)
		err = c.hub.redisClient.Publish(ctx, signaling.CallChannel(c.callID), raw).Err()
		cancel()
		if err != nil {
			metrics.SignalingPublishErrorTotal.Inc()
			logger.Warn("signaling relay failed",
				zap.String("call_id", c.callID.String()), zap.Error(err))
			continue
		}
		metrics.SignalingMessagesTotal.WithLabelValues(msg.Type).Inc()
	}
}

// writePump pushes queued payloads and pings to the socket
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
