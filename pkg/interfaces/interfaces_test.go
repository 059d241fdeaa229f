package interfaces_test

import (
	"context"
	"testing"
	"time"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

type mockConnection struct{}

func (m *mockConnection) WriteJSON(v interface{}) error            { return nil }
func (m *mockConnection) Close() error                             { return nil }
func (m *mockConnection) GetUserID() string                        { return "" }
func (m *mockConnection) GetRole() string                          { return "" }
func (m *mockConnection) IsAuthenticated() bool                    { return false }
func (m *mockConnection) SetCredentials(userID, role string) error { return nil }

type mockConversations struct{}

func (m *mockConversations) OpenConversation(ctx context.Context, ids []string) (*types.Conversation, error) {
	return nil, nil
}
func (m *mockConversations) GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	return nil, nil
}
func (m *mockConversations) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	return nil, nil
}
func (m *mockConversations) ValidateMembership(ctx context.Context, roomKey, userID string) error {
	return nil
}

type mockRouter struct{}

func (m *mockRouter) RouteMessage(ctx context.Context, req *types.SendRequest) (*types.SendResponse, error) {
	return nil, nil
}

type mockBroadcaster struct{}

func (m *mockBroadcaster) Broadcast(message *types.Message) error { return nil }

type mockDB struct{}

func (m *mockDB) UpsertConversation(ctx context.Context, roomKey string, ids []string) error {
	return nil
}
func (m *mockDB) GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	return nil, nil
}
func (m *mockDB) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	return nil, nil
}
func (m *mockDB) StoreMessage(ctx context.Context, message *types.Message) error { return nil }
func (m *mockDB) GetConversationHistory(ctx context.Context, roomKey string) ([]types.Message, error) {
	return nil, nil
}
func (m *mockDB) MarkRead(ctx context.Context, roomKey, userID string, at time.Time) (int, error) {
	return 0, nil
}
func (m *mockDB) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

// ARCHITECTURAL VALIDATION TEST: Interfaces stay small enough to mock by hand
func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Connection = (*mockConnection)(nil)
	var _ interfaces.ConversationManager = (*mockConversations)(nil)
	var _ interfaces.MessageRouter = (*mockRouter)(nil)
	var _ interfaces.Broadcaster = (*mockBroadcaster)(nil)
	var _ interfaces.DatabaseManager = (*mockDB)(nil)
}

func TestInterfaces_ErrorsAreDistinct(t *testing.T) {
	if interfaces.ErrConversationNotFound == interfaces.ErrUnauthorized {
		t.Error("sentinel errors must be distinct")
	}
}
