package chatsync

import (
	"context"
	"fmt"
	"strings"

	"counselchat/internal/auth"
	"counselchat/pkg/types"
)

// Remote is the backend surface the sync layer needs. *apiclient.Client
// satisfies it.
type Remote interface {
	FetchConversation(ctx context.Context, roomKey string) (*types.Conversation, error)
	SendMessage(ctx context.Context, req types.SendRequest) (*types.SendResponse, error)
	MarkRead(ctx context.Context, roomKey, userID string) (int, error)
}

// Notifier surfaces send failures to the user. Presentation is up to the
// implementation.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }

// Identity pins one side of a two-party conversation.
type Identity struct {
	UserID         string
	Role           string
	PeerID         string
	RoomKey        string
	ParticipantIDs []string
}

// NewIdentity derives the room for the signed-in principal and a peer.
func NewIdentity(p auth.Principal, peerID string) (Identity, error) {
	participants, err := types.Participants(p.UserID, peerID)
	if err != nil {
		return Identity{}, fmt.Errorf("derive room: %w", err)
	}
	return Identity{
		UserID:         p.UserID,
		Role:           p.Role,
		PeerID:         peerID,
		RoomKey:        strings.Join(participants, types.RoomKeySeparator),
		ParticipantIDs: participants,
	}, nil
}
