package interfaces

import (
	"context"
	"time"

	"counselchat/pkg/types"
)

// DatabaseManager handles all relay persistence
// ARCHITECTURAL DISCOVERY: Writes go through one interface so the SQLite
// implementation can serialize them behind a single writer
type DatabaseManager interface {
	// UpsertConversation records a room if it does not exist yet.
	UpsertConversation(ctx context.Context, roomKey string, participantIDs []string) error

	// GetConversation returns room metadata without messages, or
	// ErrConversationNotFound.
	GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error)

	// ListConversations returns the rooms userID takes part in, most recently
	// updated first, with unread counts.
	ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error)

	// StoreMessage persists a message and bumps the room's updated_at.
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetConversationHistory returns the room's messages oldest first.
	GetConversationHistory(ctx context.Context, roomKey string) ([]types.Message, error)

	// MarkRead marks every message in the room not sent by userID as read and
	// returns how many were newly marked.
	MarkRead(ctx context.Context, roomKey, userID string, at time.Time) (int, error)

	// PurgeMessagesBefore deletes messages created before cutoff.
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
