package interfaces

import (
	"context"

	"counselchat/pkg/types"
)

// MessageRouter validates, persists and hands off new messages
// FUNCTIONAL DISCOVERY: Persist-then-deliver; a message is only pushed after it
// is durable
type MessageRouter interface {
	RouteMessage(ctx context.Context, req *types.SendRequest) (*types.SendResponse, error)
}

// Broadcaster delivers a stored message to every socket joined to its room.
type Broadcaster interface {
	Broadcast(message *types.Message) error
}
