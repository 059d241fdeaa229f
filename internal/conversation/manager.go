package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

var _ interfaces.ConversationManager = (*Manager)(nil)

// Manager implements interfaces.ConversationManager
// ARCHITECTURAL DISCOVERY: Participants of a room never change, so membership
// is cached forever once a room has been seen
type Manager struct {
	dbManager interfaces.DatabaseManager
	logger    *zap.Logger

	mu      sync.RWMutex
	members map[string][2]string // roomKey -> sorted participants
}

// NewManager creates a conversation manager backed by dbManager.
func NewManager(dbManager interfaces.DatabaseManager, logger *zap.Logger) *Manager {
	return &Manager{
		dbManager: dbManager,
		logger:    logging.OrNop(logger).Named("conversation"),
		members:   make(map[string][2]string),
	}
}

// LoadConversations warms the membership cache with userID's rooms.
func (m *Manager) LoadConversations(ctx context.Context, userID string) error {
	convs, err := m.dbManager.ListConversations(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	for _, conv := range convs {
		m.remember(conv.RoomKey, conv.ParticipantIDs)
	}
	return nil
}

// OpenConversation creates the room for participantIDs when it does not exist
// and returns it with its history.
func (m *Manager) OpenConversation(ctx context.Context, participantIDs []string) (*types.Conversation, error) {
	if len(participantIDs) != 2 {
		return nil, ErrInvalidParticipants
	}
	for _, id := range participantIDs {
		if !types.IsValidUserID(id) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParticipants, id)
		}
	}
	ids, err := types.Participants(participantIDs[0], participantIDs[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParticipants, err)
	}
	roomKey := strings.Join(ids, types.RoomKeySeparator)

	if !m.known(roomKey) {
		if err := m.dbManager.UpsertConversation(ctx, roomKey, ids); err != nil {
			return nil, fmt.Errorf("failed to open conversation: %w", err)
		}
		m.logger.Debug("conversation opened", zap.String("room_key", roomKey))
	}

	conv, err := m.GetConversation(ctx, roomKey)
	if err != nil {
		return nil, err
	}
	// TECHNICAL DISCOVERY: Rows written before the ID alphabet excluded the
	// separator may hold a different pair under the same key
	if !sameParticipants(conv.ParticipantIDs, ids) {
		m.logger.Warn("room key collision",
			zap.String("room_key", roomKey),
			zap.Strings("stored", conv.ParticipantIDs),
			zap.Strings("requested", ids))
		return nil, ErrParticipantMismatch
	}
	return conv, nil
}

func sameParticipants(stored, ids []string) bool {
	if len(stored) != len(ids) {
		return false
	}
	for i := range ids {
		if stored[i] != ids[i] {
			return false
		}
	}
	return true
}

// GetConversation returns room metadata plus its full history.
func (m *Manager) GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	conv, err := m.dbManager.GetConversation(ctx, roomKey)
	if err != nil {
		return nil, err
	}
	m.remember(conv.RoomKey, conv.ParticipantIDs)

	history, err := m.dbManager.GetConversationHistory(ctx, roomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	conv.Messages = history
	return conv, nil
}

// ListConversations returns userID's rooms without messages.
func (m *Manager) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	convs, err := m.dbManager.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		m.remember(conv.RoomKey, conv.ParticipantIDs)
	}
	return convs, nil
}

// ValidateMembership checks that userID may read and post in roomKey.
// FUNCTIONAL DISCOVERY: A room nobody has written to yet does not exist in the
// database; membership then follows from the key itself, which must start or
// end with the user's ID
func (m *Manager) ValidateMembership(ctx context.Context, roomKey, userID string) error {
	if userID == "" {
		return ErrNotParticipant
	}

	m.mu.RLock()
	pair, cached := m.members[roomKey]
	m.mu.RUnlock()

	if !cached {
		conv, err := m.dbManager.GetConversation(ctx, roomKey)
		switch {
		case errors.Is(err, interfaces.ErrConversationNotFound):
			if keyNamesUser(roomKey, userID) {
				return nil
			}
			return ErrNotParticipant
		case err != nil:
			return fmt.Errorf("failed to check membership: %w", err)
		}
		m.remember(conv.RoomKey, conv.ParticipantIDs)
		pair = [2]string{conv.ParticipantIDs[0], conv.ParticipantIDs[1]}
	}

	if pair[0] == userID || pair[1] == userID {
		return nil
	}
	return ErrNotParticipant
}

// Stats returns cache statistics for the health endpoint.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"cached_rooms": len(m.members),
	}
}

func (m *Manager) known(roomKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[roomKey]
	return ok
}

func (m *Manager) remember(roomKey string, participantIDs []string) {
	if len(participantIDs) != 2 {
		return
	}
	m.mu.Lock()
	m.members[roomKey] = [2]string{participantIDs[0], participantIDs[1]}
	m.mu.Unlock()
}

// keyNamesUser reports whether roomKey could have been derived from a pair
// containing userID.
func keyNamesUser(roomKey, userID string) bool {
	sep := types.RoomKeySeparator
	if strings.HasPrefix(roomKey, userID+sep) {
		peer := strings.TrimPrefix(roomKey, userID+sep)
		return peer != "" && userID < peer
	}
	if strings.HasSuffix(roomKey, sep+userID) {
		peer := strings.TrimSuffix(roomKey, sep+userID)
		return peer != "" && peer < userID
	}
	return false
}
