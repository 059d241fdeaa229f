package interfaces

import (
	"context"

	"counselchat/pkg/types"
)

// ConversationManager owns room membership on the relay.
type ConversationManager interface {
	// OpenConversation returns the room for the pair, creating it on first use.
	OpenConversation(ctx context.Context, participantIDs []string) (*types.Conversation, error)

	// GetConversation returns the room with its full message history.
	GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error)

	ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error)

	// ValidateMembership returns ErrConversationNotFound for unknown rooms and
	// ErrUnauthorized when userID is not one of the two participants.
	ValidateMembership(ctx context.Context, roomKey, userID string) error
}
