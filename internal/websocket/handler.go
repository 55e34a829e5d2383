package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/middleware"
	"github.com/roundup-invest/receipt-review/services"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// SessionFinder looks up a review session for the caller's credentials.
type SessionFinder interface {
	Get(id, token string) (*services.Session, error)
}

// Handler handles WebSocket connections.
type Handler struct {
	log            *zap.SugaredLogger
	hub            *Hub
	sessions       SessionFinder
	allowedOrigins []string
	isDevelopment  bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, serverCfg *config.ServerConfig, sessions SessionFinder) *Handler {
	return &Handler{
		log:            logger.GetLogger().Named("websocket_handler"),
		hub:            hub,
		sessions:       sessions,
		allowedOrigins: serverCfg.AllowedOrigins,
		isDevelopment:  serverCfg.Environment == config.EnvDevelopment,
	}
}

// getAcceptOptions allows any origin in development and only the configured
// origins otherwise.
func (h *Handler) getAcceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}
	if h.isDevelopment {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}
	return opts
}

// ClientMessage represents a message from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Message types exchanged with the client.
const (
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeSnapshot  = "snapshot"
	MessageTypeEvent     = "event"
	MessageTypeConnected = "connected"
	MessageTypeError     = "error"
)

// HandleWebSocket upgrades GET /v1/sessions/:id/ws and streams the
// session's workflow events until either side closes.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := h.sessions.Get(sessionID, middleware.GetToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, h.getAcceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept WebSocket connection",
			"sessionID", sessionID,
			"error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	connection := h.hub.Register(sessionID, conn, session.Workflow)
	defer h.hub.Unregister(connection)

	if err := h.sendMessage(ctx, conn, ServerMessage{
		Type: MessageTypeConnected,
		Payload: map[string]interface{}{
			"sessionId": sessionID,
			"snapshot":  session.Workflow.Snapshot(),
		},
	}); err != nil {
		h.log.Warnw("Failed to send connected message",
			"sessionID", sessionID,
			"error", err)
		return
	}

	errCh := make(chan error, 3)
	go func() { errCh <- h.readLoop(ctx, conn, session) }()
	go func() { errCh <- h.writeLoop(ctx, conn, connection) }()
	go func() { errCh <- h.pingLoop(ctx, conn) }()

	err = <-errCh
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
		websocket.CloseStatus(err) != websocket.StatusGoingAway {
		h.log.Warnw("WebSocket connection error",
			"sessionID", sessionID,
			"error", err)
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *services.Session) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		h.handleClientMessage(ctx, conn, session, msg)
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connection *Connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-connection.SendChannel():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session closed")
				return nil
			}
			if err := h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypeEvent, Payload: event}); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.hub.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *Handler) handleClientMessage(ctx context.Context, conn *websocket.Conn, session *services.Session, msg ClientMessage) {
	switch msg.Type {
	case MessageTypePing:
		_ = h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypePong})
	case MessageTypeSnapshot:
		_ = h.sendMessage(ctx, conn, ServerMessage{
			Type:    MessageTypeSnapshot,
			Payload: session.Workflow.Snapshot(),
		})
	default:
		h.log.Debugw("Unknown message type from client",
			"sessionID", session.ID,
			"type", msg.Type)
		_ = h.sendMessage(ctx, conn, ServerMessage{
			Type:  MessageTypeError,
			Error: "Unknown message type: " + msg.Type,
		})
	}
}

func (h *Handler) sendMessage(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.hub.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
