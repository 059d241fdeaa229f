package chatsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"counselchat/internal/auth"
	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/internal/store"
	"counselchat/pkg/types"
)

const markReadTimeout = 5 * time.Second

// ViewConfig wires a View.
type ViewConfig struct {
	Session  *auth.Session
	Remote   Remote
	Sync     BackgroundSync
	Policy   RollbackPolicy
	Notifier Notifier
	// OnChange receives the visible list after every store mutation.
	OnChange   func([]types.Message)
	OnUpdated  func(types.Conversation)
	ClearDraft func()
	Metrics    *metrics.Sync
	Logger     *zap.Logger
}

// View owns the one open conversation: its store, sender and background sync
// ARCHITECTURAL DISCOVERY: Closing or switching cancels the sync goroutine and
// waits for it, so a previous room can never write into the current one
type View struct {
	cfg    ViewConfig
	logger *zap.Logger

	// lifecycle serializes Open and Close; mu guards the open pointer only.
	lifecycle sync.Mutex
	mu        sync.Mutex
	open      *openConversation
}

type openConversation struct {
	identity Identity
	store    *store.MessageStore
	sender   *Sender
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewView builds a closed view. The view closes itself on logout.
func NewView(cfg ViewConfig) (*View, error) {
	if cfg.Session == nil {
		return nil, ErrMissingSession
	}
	if cfg.Remote == nil {
		return nil, ErrMissingRemote
	}
	v := &View{cfg: cfg, logger: logging.OrNop(cfg.Logger).Named("view")}
	cfg.Session.OnLogout(v.Close)
	return v, nil
}

// Open loads the conversation with peerID and starts background sync.
// Any previously open conversation is closed first.
func (v *View) Open(ctx context.Context, peerID string) error {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()
	v.closeLocked()

	principal, err := v.cfg.Session.Principal()
	if err != nil {
		return err
	}
	identity, err := NewIdentity(principal, peerID)
	if err != nil {
		return err
	}

	conv, err := v.cfg.Remote.FetchConversation(ctx, identity.RoomKey)
	if err != nil {
		return err
	}

	st := store.New()
	st.ReplaceAll(conv.Messages)
	if v.cfg.OnChange != nil {
		st.Subscribe(v.cfg.OnChange)
	}

	sender, err := NewSender(SenderConfig{
		Identity:   identity,
		Remote:     v.cfg.Remote,
		Store:      st,
		Policy:     v.cfg.Policy,
		Notifier:   v.cfg.Notifier,
		ClearDraft: v.cfg.ClearDraft,
		OnUpdated:  v.cfg.OnUpdated,
		Metrics:    v.cfg.Metrics,
		Logger:     v.cfg.Logger,
	})
	if err != nil {
		return err
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	oc := &openConversation{identity: identity, store: st, sender: sender, cancel: cancel}

	// FUNCTIONAL DISCOVERY: Mark-read is fire-and-forget; failure only logs
	oc.wg.Add(1)
	go func() {
		defer oc.wg.Done()
		rctx, rcancel := context.WithTimeout(syncCtx, markReadTimeout)
		defer rcancel()
		if _, err := v.cfg.Remote.MarkRead(rctx, identity.RoomKey, identity.UserID); err != nil && syncCtx.Err() == nil {
			v.logger.Warn("mark read failed", zap.String("room_key", identity.RoomKey), zap.Error(err))
		}
	}()

	if v.cfg.Sync != nil {
		oc.wg.Add(1)
		go func() {
			defer oc.wg.Done()
			if err := v.cfg.Sync.Run(syncCtx, identity.RoomKey, st); err != nil {
				v.logger.Warn("background sync stopped", zap.String("room_key", identity.RoomKey), zap.Error(err))
			}
		}()
	}

	v.mu.Lock()
	v.open = oc
	v.mu.Unlock()

	v.logger.Info("conversation opened",
		zap.String("room_key", identity.RoomKey),
		zap.Int("messages", len(conv.Messages)))
	return nil
}

// Switch closes the current conversation and opens the one with peerID.
func (v *View) Switch(ctx context.Context, peerID string) error {
	return v.Open(ctx, peerID)
}

// Close stops background work and drops the store. Safe to call repeatedly.
func (v *View) Close() {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()
	v.closeLocked()
}

func (v *View) closeLocked() {
	v.mu.Lock()
	oc := v.open
	v.open = nil
	v.mu.Unlock()

	if oc == nil {
		return
	}
	oc.cancel()
	oc.wg.Wait()
	v.logger.Info("conversation closed", zap.String("room_key", oc.identity.RoomKey))
}

// Send sends text into the open conversation.
func (v *View) Send(ctx context.Context, text string) (*SendResult, error) {
	oc := v.current()
	if oc == nil {
		return nil, ErrNotOpen
	}
	return oc.sender.Send(ctx, text)
}

// Messages returns a copy of the visible list, or nil when closed.
func (v *View) Messages() []types.Message {
	oc := v.current()
	if oc == nil {
		return nil
	}
	return oc.store.Messages()
}

// RoomKey returns the open room key, or "" when closed.
func (v *View) RoomKey() string {
	oc := v.current()
	if oc == nil {
		return ""
	}
	return oc.identity.RoomKey
}

// PeerID returns the other participant of the open room.
func (v *View) PeerID() string {
	oc := v.current()
	if oc == nil {
		return ""
	}
	return oc.identity.PeerID
}

func (v *View) current() *openConversation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}
