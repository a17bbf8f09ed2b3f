package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/auth"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
)

// WebSocket message types: the live feed of events a connected dashboard or
// sibling agent can subscribe to.
const (
	MessageTypeHeartbeat      = "heartbeat"
	MessageTypeGossipEvent    = "gossip_event"
	MessageTypeConflict       = "conflict"
	MessageTypeShardMigration = "shard_migration"
	MessageTypeMemoryPressure = "memory_pressure"
	MessageTypeError          = "error"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"
)

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	ID            string
	Conn          *websocket.Conn
	Send          chan WebSocketMessage
	Hub           *WebSocketHub
	Subscriptions map[string]bool
	AgentID       string
	mu            sync.RWMutex
}

// WebSocketHub maintains WebSocket connections and handles broadcasting
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	logger     *slog.Logger
	mu         sync.RWMutex
}

// WebSocket upgrader with proper configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin (configure for production)
		return true
	},
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     logger,
	}
}

// Run starts the WebSocket hub
func (h *WebSocketHub) Run() {
	h.logger.Info("WebSocket hub started")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected", "client_id", client.ID)

			client.Send <- WebSocketMessage{
				Type:      "welcome",
				Timestamp: time.Now(),
				Data: map[string]interface{}{
					"client_id": client.ID,
					"message":   "connected to a2a-memory-core event feed",
				},
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", "client_id", client.ID)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
			h.mu.RUnlock()

		case <-heartbeat.C:
			h.BroadcastToSubscribers(WebSocketMessage{
				Type:      MessageTypeHeartbeat,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"status": "alive"},
			}, MessageTypeHeartbeat)
		}
	}
}

// Stop gracefully stops the WebSocket hub
func (h *WebSocketHub) Stop() {
	h.logger.Info("stopping WebSocket hub")
	h.mu.Lock()
	for client := range h.clients {
		client.Conn.Close()
		close(client.Send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients regardless of subscription.
func (h *WebSocketHub) Broadcast(message WebSocketMessage) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastToSubscribers sends a message to clients subscribed to messageType.
func (h *WebSocketHub) BroadcastToSubscribers(message WebSocketMessage, messageType string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.mu.RLock()
		if client.Subscriptions[messageType] {
			select {
			case client.Send <- message:
			default:
			}
		}
		client.mu.RUnlock()
	}
}

// GetConnectedClients returns the number of connected clients
func (h *WebSocketHub) GetConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MetricSink adapts gossip.MetricEvent into a WebSocketMessage broadcast to
// subscribers of the matching message type, so dashboards can watch
// conflicts, migrations, and memory pressure live alongside the Prometheus
// scrape. Installed as one leg of a pkg/metrics.Fanout sink.
func (h *WebSocketHub) MetricSink(event gossip.MetricEvent) {
	var msgType string
	switch event.Name {
	case "a2a.conflict.resolved", "a2a.conflict.manual":
		msgType = MessageTypeConflict
	case "a2a.shard.migrated_bytes":
		msgType = MessageTypeShardMigration
	case "a2a.memory.pressure":
		msgType = MessageTypeMemoryPressure
	default:
		msgType = MessageTypeGossipEvent
	}

	h.BroadcastToSubscribers(WebSocketMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"name":  event.Name,
			"value": event.Value,
			"tags":  event.Tags,
		},
	}, msgType)
}

// websocketHandler upgrades a connection onto the live event feed.
func (s *Server) websocketHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := &WebSocketClient{
		ID:            uuid.New().String(),
		Conn:          conn,
		Send:          make(chan WebSocketMessage, 256),
		Hub:           s.websocket,
		Subscriptions: make(map[string]bool),
	}
	if claims, ok := auth.GetCurrentClaims(c); ok {
		client.AgentID = claims.AgentID
	}

	s.websocket.register <- client

	go client.writePump()
	go client.readPump(s)
}

// readPump handles reading messages from the WebSocket connection
func (c *WebSocketClient) readPump(s *Server) {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var message WebSocketMessage
		err := c.Conn.ReadJSON(&message)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", "error", err, "client_id", c.ID)
			}
			break
		}

		switch message.Type {
		case MessageTypeSubscribe:
			c.handleSubscribe(message, s)
		case MessageTypeUnsubscribe:
			c.handleUnsubscribe(message, s)
		case MessageTypeHeartbeat:
			c.Send <- WebSocketMessage{
				Type:      MessageTypeHeartbeat,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"status": "pong"},
			}
		default:
			s.logger.Warn("unknown WebSocket message type", "type", message.Type, "client_id", c.ID)
		}
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSubscribe processes subscription requests
func (c *WebSocketClient) handleSubscribe(message WebSocketMessage, s *Server) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		c.Send <- WebSocketMessage{Type: MessageTypeError, Timestamp: time.Now(), Error: "invalid subscription data format"}
		return
	}
	topics, ok := data["topics"].([]interface{})
	if !ok {
		c.Send <- WebSocketMessage{Type: MessageTypeError, Timestamp: time.Now(), Error: "invalid topics format"}
		return
	}

	c.mu.Lock()
	for _, topic := range topics {
		if topicStr, ok := topic.(string); ok {
			c.Subscriptions[topicStr] = true
			s.logger.Info("client subscribed to topic", "client_id", c.ID, "topic", topicStr)
		}
	}
	c.mu.Unlock()

	c.Send <- WebSocketMessage{
		Type:      "subscription_confirmed",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"subscribed_topics": topics},
	}
}

// handleUnsubscribe processes unsubscription requests
func (c *WebSocketClient) handleUnsubscribe(message WebSocketMessage, s *Server) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		c.Send <- WebSocketMessage{Type: MessageTypeError, Timestamp: time.Now(), Error: "invalid unsubscription data format"}
		return
	}
	topics, ok := data["topics"].([]interface{})
	if !ok {
		c.Send <- WebSocketMessage{Type: MessageTypeError, Timestamp: time.Now(), Error: "invalid topics format"}
		return
	}

	c.mu.Lock()
	for _, topic := range topics {
		if topicStr, ok := topic.(string); ok {
			delete(c.Subscriptions, topicStr)
			s.logger.Info("client unsubscribed from topic", "client_id", c.ID, "topic", topicStr)
		}
	}
	c.mu.Unlock()

	c.Send <- WebSocketMessage{
		Type:      "unsubscription_confirmed",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"unsubscribed_topics": topics},
	}
}
