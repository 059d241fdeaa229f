package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

var _ interfaces.MessageRouter = (*Router)(nil)

// Router implements the MessageRouter interface
// ARCHITECTURAL DISCOVERY: Pure routing logic; socket delivery is delegated to
// the Broadcaster so a slow reader never blocks a REST request
type Router struct {
	conversations interfaces.ConversationManager
	dbManager     interfaces.DatabaseManager
	broadcaster   interfaces.Broadcaster
	rateLimiter   *RateLimiter
	metrics       *metrics.Relay
	logger        *zap.Logger
	now           func() time.Time
}

// Config collects the router's dependencies.
type Config struct {
	Conversations interfaces.ConversationManager
	Database      interfaces.DatabaseManager
	Broadcaster   interfaces.Broadcaster
	RateLimiter   *RateLimiter
	Metrics       *metrics.Relay
	Logger        *zap.Logger
}

// NewRouter creates a new message router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewRouter(cfg Config) *Router {
	r := &Router{
		conversations: cfg.Conversations,
		dbManager:     cfg.Database,
		broadcaster:   cfg.Broadcaster,
		rateLimiter:   cfg.RateLimiter,
		metrics:       cfg.Metrics,
		logger:        logging.OrNop(cfg.Logger).Named("router"),
		now:           time.Now,
	}
	if r.rateLimiter == nil {
		r.rateLimiter = NewRateLimiter(100, 20)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRelay(nil)
	}
	return r
}

// RouteMessage persists a message and hands it to the broadcaster
// FUNCTIONAL DISCOVERY: Persist-then-route; the response carries the whole
// conversation so the sender can reconcile its optimistic copy
func (r *Router) RouteMessage(ctx context.Context, req *types.SendRequest) (*types.SendResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per user before persistence to prevent spam
	if !r.rateLimiter.Allow(req.SenderID) {
		return nil, ErrRateLimitExceeded
	}

	conv, err := r.conversations.OpenConversation(ctx, req.ParticipantIDs)
	if err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Server controls message IDs and timestamps;
	// anything the client fabricated stays on the client
	message := types.Message{
		ID:        uuid.New().String(),
		RoomKey:   conv.RoomKey,
		Sender:    req.Sender,
		SenderID:  req.SenderID,
		Text:      req.Text,
		CreatedAt: r.now().UTC(),
	}

	if err := r.dbManager.StoreMessage(ctx, &message); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	r.metrics.MessagesStored.Inc()

	if r.broadcaster != nil {
		if err := r.broadcaster.Broadcast(&message); err != nil {
			// Delivery is best effort; pollers still see the message
			r.logger.Warn("broadcast failed", zap.String("room_key", message.RoomKey), zap.Error(err))
		}
	}

	updated, err := r.conversations.GetConversation(ctx, conv.RoomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to reload conversation: %w", err)
	}

	r.logger.Debug("message routed",
		zap.String("room_key", message.RoomKey),
		zap.String("message_id", message.ID),
		zap.Int("history", len(updated.Messages)))

	return &types.SendResponse{Message: message, Conversation: *updated}, nil
}

// CleanupLimiter drops idle per-user limiter state.
func (r *Router) CleanupLimiter(idle time.Duration) {
	if n := r.rateLimiter.Cleanup(idle); n > 0 {
		r.logger.Debug("rate limiter cleanup", zap.Int("removed", n))
	}
}
