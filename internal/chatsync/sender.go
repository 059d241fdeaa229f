package chatsync

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/internal/store"
	"counselchat/pkg/types"
)

// RollbackPolicy selects how a failed send is undone.
type RollbackPolicy string

const (
	// RollbackRemove drops the optimistic message by its temp ID.
	RollbackRemove RollbackPolicy = "remove"
	// RollbackRefetch replaces the list with the server's, falling back to
	// remove when the refetch fails too.
	RollbackRefetch RollbackPolicy = "refetch"
)

// ParseRollbackPolicy maps a config value to a policy. Empty means remove.
func ParseRollbackPolicy(s string) (RollbackPolicy, error) {
	switch RollbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RollbackRemove:
		return RollbackRemove, nil
	case RollbackRefetch:
		return RollbackRefetch, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// SendResult is the confirmed outcome of a send.
type SendResult struct {
	Message      types.Message
	Conversation types.Conversation
}

// SenderConfig wires a Sender to one open conversation.
type SenderConfig struct {
	Identity Identity
	Remote   Remote
	Store    *store.MessageStore
	Policy   RollbackPolicy
	Notifier Notifier
	// ClearDraft runs right after the optimistic append.
	ClearDraft func()
	// OnUpdated receives the authoritative conversation after a confirmed send.
	OnUpdated func(types.Conversation)
	Metrics   *metrics.Sync
	Logger    *zap.Logger
	Now       func() time.Time
}

// Sender performs optimistic sends for one conversation
// ARCHITECTURAL DISCOVERY: The in-flight flag is a CAS guard, never a lock held
// across the network call, so a second Send returns immediately
type Sender struct {
	cfg      SenderConfig
	logger   *zap.Logger
	inFlight atomic.Bool
}

// NewSender validates the wiring and returns a Sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Remote == nil {
		return nil, ErrMissingRemote
	}
	if cfg.Store == nil {
		cfg.Store = store.New()
	}
	if cfg.Policy == "" {
		cfg.Policy = RollbackRemove
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sender{
		cfg: cfg,
		logger: logging.OrNop(cfg.Logger).Named("sender").With(
			zap.String("room_key", cfg.Identity.RoomKey)),
	}, nil
}

// InFlight reports whether a send is awaiting the backend.
func (s *Sender) InFlight() bool {
	return s.inFlight.Load()
}

// Send appends an optimistic message, persists it remotely, then reconciles.
// ErrEmptyText, ErrTextTooLarge and ErrSendInFlight are no-ops. Any other
// error comes from the backend after the optimistic message was rolled back.
func (s *Sender) Send(ctx context.Context, text string) (*SendResult, error) {
	text = types.NormalizeText(text)
	if text == "" {
		s.cfg.Metrics.Send("empty")
		return nil, ErrEmptyText
	}
	if len(text) > types.MaxTextBytes {
		s.cfg.Metrics.Send("too_large")
		return nil, ErrTextTooLarge
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.cfg.Metrics.Send("in_flight")
		return nil, ErrSendInFlight
	}
	defer s.inFlight.Store(false)

	id := s.cfg.Identity
	now := s.cfg.Now()
	pending := types.Message{
		ID:        newTempID(now),
		RoomKey:   id.RoomKey,
		Sender:    id.Role,
		SenderID:  id.UserID,
		Text:      text,
		CreatedAt: now,
	}

	// FUNCTIONAL DISCOVERY: The pending message is visible before the request
	// leaves, which is the whole point of the optimistic path
	if err := s.cfg.Store.Append(pending); err != nil {
		return nil, err
	}
	if s.cfg.ClearDraft != nil {
		s.cfg.ClearDraft()
	}

	resp, err := s.cfg.Remote.SendMessage(ctx, types.SendRequest{
		Sender:         id.Role,
		SenderID:       id.UserID,
		Text:           text,
		ParticipantIDs: id.ParticipantIDs,
	})
	if err != nil {
		s.fail(ctx, pending.ID, err)
		return nil, err
	}

	s.cfg.Store.Reconcile(resp.Conversation.Messages, pending.ID)
	s.cfg.Metrics.Send("confirmed")
	if s.cfg.OnUpdated != nil {
		s.cfg.OnUpdated(resp.Conversation)
	}
	return &SendResult{Message: resp.Message, Conversation: resp.Conversation}, nil
}

func (s *Sender) fail(ctx context.Context, tempID string, cause error) {
	s.cfg.Metrics.Send("failed")
	s.logger.Error("send failed", zap.String("temp_id", tempID), zap.Error(cause))
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(cause)
	}

	if s.cfg.Policy == RollbackRefetch {
		conv, err := s.cfg.Remote.FetchConversation(ctx, s.cfg.Identity.RoomKey)
		if err == nil {
			s.cfg.Store.ReplaceAll(conv.Messages)
			s.cfg.Metrics.Rollback(string(RollbackRefetch))
			return
		}
		s.logger.Warn("rollback refetch failed, removing optimistic message", zap.Error(err))
	}

	s.cfg.Store.RemoveByID(tempID)
	s.cfg.Metrics.Rollback(string(RollbackRemove))
}

// newTempID builds "temp-<unixmilli>-<8 hex>"; server IDs never carry the prefix.
func newTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", types.TempIDPrefix, now.UnixMilli(), uuid.NewString()[:8])
}
