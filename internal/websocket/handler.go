package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"counselchat/internal/auth"
	"counselchat/internal/logging"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins; the bearer token is the gate
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

const membershipWait = 5 * time.Second

// Options tunes heartbeat timing and per-socket buffering.
// TECHNICAL DISCOVERY: 60-second read window with 30-second ping interval
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultOptions returns the heartbeat used when none is configured.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: DefaultWriteTimeout,
		BufferSize:   DefaultBufferSize,
	}
}

// Handler manages WebSocket connections and room subscriptions
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic
// integrates with Registry for connection management and interfaces for external dependencies
type Handler struct {
	registry      *Registry
	conversations interfaces.ConversationManager
	verifier      auth.Verifier
	options       Options
	logger        *zap.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, conversations interfaces.ConversationManager, verifier auth.Verifier, logger *zap.Logger) *Handler {
	return &Handler{
		registry:      registry,
		conversations: conversations,
		verifier:      verifier,
		options:       DefaultOptions(),
		logger:        logging.OrNop(logger).Named("websocket"),
	}
}

// WithOptions overrides the defaults with every positive field of o.
func (h *Handler) WithOptions(o Options) *Handler {
	if o.PingInterval > 0 {
		h.options.PingInterval = o.PingInterval
	}
	if o.ReadTimeout > 0 {
		h.options.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout > 0 {
		h.options.WriteTimeout = o.WriteTimeout
	}
	if o.BufferSize > 0 {
		h.options.BufferSize = o.BufferSize
	}
	return h
}

// HandleWebSocket authenticates, upgrades and registers a push socket
// ARCHITECTURAL DISCOVERY: Multi-stage validation (token -> WebSocket -> auth -> registration)
// rejects bad callers with a plain HTTP status before any socket resources exist
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := h.verifier.Verify(auth.BearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnectionSize(conn, h.options.BufferSize, h.options.WriteTimeout)

	// TECHNICAL DISCOVERY: Authentication state set immediately after validation
	// prevents race conditions between connection registration and credential access
	if err := wsConn.SetCredentials(principal.UserID, principal.Role); err != nil {
		h.logger.Warn("failed to set credentials", zap.Error(err))
		_ = wsConn.Close()
		return
	}

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.logger.Warn("failed to register connection", zap.Error(err))
		_ = wsConn.Close()
		return
	}

	h.logger.Debug("socket registered", zap.String("user_id", principal.UserID), zap.String("role", principal.Role))
	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: One goroutine per connection reads frames while a
// ticker goroutine sends pings, so a silent peer is dropped after the read window
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	readWindow := h.options.ReadTimeout
	if err := conn.conn.SetReadDeadline(time.Now().Add(readWindow)); err != nil {
		h.logger.Debug("failed to set read deadline", zap.Error(err))
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	ticker := time.NewTicker(h.options.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("user_id", conn.GetUserID()), zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(conn, data)
	}
}

// handleFrame answers one client frame with an ack or an error frame.
func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var f types.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		h.reply(conn, types.Frame{Type: types.FrameError, Error: ErrMalformedFrame.Error()})
		return
	}

	switch f.Type {
	case types.FrameJoinRoom:
		if err := h.join(conn, f.RoomKey); err != nil {
			h.reply(conn, types.Frame{Type: types.FrameError, RequestID: f.RequestID, RoomKey: f.RoomKey, Error: err.Error()})
			return
		}
		h.reply(conn, types.Frame{Type: types.FrameAck, RequestID: f.RequestID, RoomKey: f.RoomKey})

	case types.FrameLeaveRoom:
		h.registry.LeaveRoom(conn, f.RoomKey)
		h.reply(conn, types.Frame{Type: types.FrameAck, RequestID: f.RequestID, RoomKey: f.RoomKey})

	default:
		h.reply(conn, types.Frame{Type: types.FrameError, RequestID: f.RequestID, RoomKey: f.RoomKey, Error: ErrUnsupportedFrame.Error()})
	}
}

func (h *Handler) join(conn *Connection, roomKey string) error {
	if roomKey == "" {
		return ErrEmptyRoomKey
	}

	ctx, cancel := context.WithTimeout(conn.ctx, membershipWait)
	defer cancel()

	// FUNCTIONAL DISCOVERY: Membership is the same rule the REST layer applies,
	// so a socket can only follow rooms its user could fetch
	if err := h.conversations.ValidateMembership(ctx, roomKey, conn.GetUserID()); err != nil {
		h.logger.Debug("join rejected",
			zap.String("user_id", conn.GetUserID()),
			zap.String("room_key", roomKey),
			zap.Error(err))
		return err
	}
	return h.registry.JoinRoom(conn, roomKey)
}

func (h *Handler) reply(conn *Connection, f types.Frame) {
	if err := conn.WriteJSON(f); err != nil && !errors.Is(err, ErrConnectionClosed) {
		h.logger.Debug("failed to write frame", zap.String("type", f.Type), zap.Error(err))
	}
}
