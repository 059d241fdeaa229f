package chatsync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/internal/store"
	"counselchat/pkg/types"
)

// DefaultPollInterval sits inside the 2s..5s window the backend tolerates.
const DefaultPollInterval = 3 * time.Second

// BackgroundSync keeps an open store current until ctx is cancelled.
// Run must not touch st after it returns.
type BackgroundSync interface {
	Run(ctx context.Context, roomKey string, st *store.MessageStore) error
}

// Fetcher is the slice of Remote polling needs.
type Fetcher interface {
	FetchConversation(ctx context.Context, roomKey string) (*types.Conversation, error)
}

// PollingSync refetches the room on a fixed interval and adopts longer lists.
type PollingSync struct {
	remote   Fetcher
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Sync
}

// NewPollingSync returns a poller; a non-positive interval means the default.
func NewPollingSync(remote Fetcher, interval time.Duration, logger *zap.Logger, m *metrics.Sync) *PollingSync {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingSync{
		remote:   remote,
		interval: interval,
		logger:   logging.OrNop(logger).Named("poll"),
		metrics:  m,
	}
}

// Run polls until ctx is done. Fetch errors are logged and retried next tick.
func (p *PollingSync) Run(ctx context.Context, roomKey string, st *store.MessageStore) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx, roomKey, st)
		}
	}
}

func (p *PollingSync) poll(ctx context.Context, roomKey string, st *store.MessageStore) {
	conv, err := p.remote.FetchConversation(ctx, roomKey)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.metrics.PollFailed()
		p.logger.Warn("poll failed", zap.String("room_key", roomKey), zap.Error(err))
		return
	}
	// TECHNICAL DISCOVERY: Only a strictly longer list is adopted, so an
	// in-flight optimistic message is never wiped by a stale poll
	if st.AdoptIfLonger(conv.Messages) {
		p.metrics.PollAdopted()
	}
}

// PushChannel is the socket surface PushSync needs. *push.Client satisfies it.
type PushChannel interface {
	JoinRoom(ctx context.Context, roomKey string) error
	LeaveRoom(ctx context.Context, roomKey string) error
	Subscribe(roomKey string) (<-chan types.Message, func())
}

// PushSync appends server-pushed messages for the joined room.
type PushSync struct {
	channel      PushChannel
	logger       *zap.Logger
	metrics      *metrics.Sync
	leaveTimeout time.Duration
}

// NewPushSync returns a push-driven background sync.
func NewPushSync(channel PushChannel, logger *zap.Logger, m *metrics.Sync) *PushSync {
	return &PushSync{
		channel:      channel,
		logger:       logging.OrNop(logger).Named("push_sync"),
		metrics:      m,
		leaveTimeout: 2 * time.Second,
	}
}

// Run joins the room and appends matching new messages until ctx is done or
// the channel closes. It leaves the room on the way out.
func (p *PushSync) Run(ctx context.Context, roomKey string, st *store.MessageStore) error {
	// subscribe before joining so nothing between ack and loop start is lost
	msgs, unsubscribe := p.channel.Subscribe(roomKey)
	defer unsubscribe()

	if err := p.channel.JoinRoom(ctx, roomKey); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer p.leave(roomKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return ErrPushClosed
			}
			if msg.RoomKey != roomKey || msg.Pending() {
				continue
			}
			if err := st.Append(msg); err != nil {
				if !errors.Is(err, store.ErrDuplicateID) {
					p.logger.Warn("dropping pushed message",
						zap.String("message_id", msg.ID), zap.Error(err))
				}
				continue
			}
			p.metrics.PushAppended()
		}
	}
}

func (p *PushSync) leave(roomKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.leaveTimeout)
	defer cancel()
	if err := p.channel.LeaveRoom(ctx, roomKey); err != nil {
		p.logger.Debug("leave room failed", zap.String("room_key", roomKey), zap.Error(err))
	}
}
