package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/internal/websocket"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// DefaultBuffer is the fan-out queue size when none is configured.
const DefaultBuffer = 1000

var _ interfaces.Broadcaster = (*Hub)(nil)

// Hub fans persisted messages out to the sockets joined to their room
// ARCHITECTURAL DISCOVERY: Central coordination point for push delivery keeps
// slow sockets off the REST request path
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts while sockets drain
	messageChannel  chan *types.Message
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry
	metrics  *metrics.Relay
	logger   *zap.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub(registry *websocket.Registry, buffer int, m *metrics.Relay, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if m == nil {
		m = metrics.NewRelay(nil)
	}
	return &Hub{
		messageChannel: make(chan *types.Message, buffer),
		registry:       registry,
		metrics:        m,
		logger:         logging.OrNop(logger).Named("hub"),
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine keeps per-room delivery order
// identical to persistence order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting message hub")
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop shuts the hub down and waits for the loop to exit.
// Queued messages that were not yet delivered are dropped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	h.logger.Info("stopping message hub")
	<-done
	return nil
}

// Broadcast queues message for delivery to its room
// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
func (h *Hub) Broadcast(message *types.Message) error {
	if message == nil {
		return ErrNilMessage
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.messageChannel <- message:
		return nil
	default:
		h.metrics.PushDeliveries.WithLabelValues("dropped").Inc()
		return ErrMessageChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer h.logger.Debug("hub processing stopped")

	for {
		select {
		case message := <-h.messageChannel:
			h.deliver(message)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// deliver writes a new_message frame to every socket in the room
// FUNCTIONAL DISCOVERY: Delivery continues to other sockets even if one fails
func (h *Hub) deliver(message *types.Message) {
	frame := types.Frame{
		Type:    types.FrameNewMessage,
		RoomKey: message.RoomKey,
		Message: message,
	}

	conns := h.registry.RoomConnections(message.RoomKey)
	for _, conn := range conns {
		if err := conn.WriteJSON(frame); err != nil {
			h.metrics.PushDeliveries.WithLabelValues("failed").Inc()
			h.logger.Debug("push delivery failed",
				zap.String("user_id", conn.GetUserID()),
				zap.String("room_key", message.RoomKey),
				zap.Error(err))
			continue
		}
		h.metrics.PushDeliveries.WithLabelValues("ok").Inc()
	}

	h.logger.Debug("message fanned out",
		zap.String("room_key", message.RoomKey),
		zap.String("message_id", message.ID),
		zap.Int("sockets", len(conns)))
}
