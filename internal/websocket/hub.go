// Package websocket streams review session events to browser clients.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/logger"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// EventSource is the part of a workflow the hub listens to.
type EventSource interface {
	Subscribe() (<-chan workflow.Event, func())
}

// Hub manages WebSocket connections for review sessions. Each session has
// at most one connection; a new one replaces the old.
type Hub struct {
	log          *zap.SugaredLogger
	connections  map[string]*Connection // sessionID -> connection
	mu           sync.RWMutex
	shutdownOnce sync.Once
	shutdown     bool
	pingInterval time.Duration
	writeTimeout time.Duration
	sendBuffer   int
}

// Connection is a single WebSocket connection following one session.
type Connection struct {
	SessionID   string
	Conn        *websocket.Conn
	sendCh      chan workflow.Event
	unsubscribe func()
	mu          sync.Mutex
	closed      bool
}

// HubConfig contains configuration options for the Hub.
type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultHubConfig returns sensible defaults for Hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg ...HubConfig) *Hub {
	config := DefaultHubConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultHubConfig().SendBuffer
	}

	return &Hub{
		log:          logger.GetLogger().Named("websocket_hub"),
		connections:  make(map[string]*Connection),
		pingInterval: config.PingInterval,
		writeTimeout: config.WriteTimeout,
		sendBuffer:   config.SendBuffer,
	}
}

// Register subscribes a new connection to a session's events. An existing
// connection for the same session is closed. After Shutdown the returned
// connection is already closed.
func (h *Hub) Register(sessionID string, conn *websocket.Conn, source EventSource) *Connection {
	events, unsubscribe := source.Subscribe()
	connection := &Connection{
		SessionID:   sessionID,
		Conn:        conn,
		sendCh:      make(chan workflow.Event, h.sendBuffer),
		unsubscribe: unsubscribe,
	}
	go h.forward(connection, events)

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		h.closeConnection(connection, "server shutdown")
		return connection
	}
	existing := h.connections[sessionID]
	h.connections[sessionID] = connection
	h.mu.Unlock()

	if existing != nil {
		h.closeConnection(existing, "replaced by new connection")
	}

	h.log.Infow("WebSocket connection registered", "sessionID", sessionID)
	return connection
}

// forward copies workflow events to the connection until the subscription
// channel is closed, then closes the send channel.
func (h *Hub) forward(conn *Connection, events <-chan workflow.Event) {
	defer close(conn.sendCh)
	for event := range events {
		select {
		case conn.sendCh <- event:
		default:
			h.log.Warnw("Connection send buffer full, dropping event",
				"sessionID", conn.SessionID,
				"eventType", event.Type,
				"to", event.To)
		}
	}
}

// Unregister removes a connection. It is a no-op if the connection was
// already replaced or closed.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if current, ok := h.connections[conn.SessionID]; ok && current == conn {
		delete(h.connections, conn.SessionID)
	}
	h.mu.Unlock()

	h.closeConnection(conn, "unregistered")
}

// CloseSession closes the connection following sessionID, if any.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	conn, ok := h.connections[sessionID]
	if ok {
		delete(h.connections, sessionID)
	}
	h.mu.Unlock()

	if ok {
		h.closeConnection(conn, "session closed")
	}
}

func (h *Hub) closeConnection(conn *Connection, reason string) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	conn.mu.Unlock()

	// Closes the subscription channel, which ends forward.
	conn.unsubscribe()

	if conn.Conn != nil {
		_ = conn.Conn.Close(websocket.StatusNormalClosure, reason)
	}

	h.log.Infow("WebSocket connection closed",
		"sessionID", conn.SessionID,
		"reason", reason)
}

// GetConnection returns the connection for a session, if connected.
func (h *Hub) GetConnection(sessionID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[sessionID]
	return conn, ok
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes every connection. Later registrations are closed
// immediately.
func (h *Hub) Shutdown(_ context.Context) error {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		h.shutdown = true
		connections := make([]*Connection, 0, len(h.connections))
		for _, conn := range h.connections {
			connections = append(connections, conn)
		}
		h.connections = make(map[string]*Connection)
		h.mu.Unlock()

		for _, conn := range connections {
			h.closeConnection(conn, "server shutdown")
		}
	})

	h.log.Info("WebSocket hub shutdown complete")
	return nil
}

// SendChannel returns the events to write to the client. It is closed when
// the session's event stream ends.
func (c *Connection) SendChannel() <-chan workflow.Event {
	return c.sendCh
}

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
