package chatsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"counselchat/internal/auth"
	"counselchat/pkg/types"
)

// fakeRemote is an in-memory backend. When gate is set, SendMessage signals
// entered and blocks until gate is closed.
type fakeRemote struct {
	mu       sync.Mutex
	rooms    map[string][]types.Message
	nextID   int
	sendErr  error
	fetchErr error

	entered chan struct{}
	gate    chan struct{}

	sendCalls     int
	fetchCalls    int
	markReadCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rooms: make(map[string][]types.Message)}
}

func (f *fakeRemote) seed(roomKey string, msgs ...types.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[roomKey] = append(f.rooms[roomKey], msgs...)
}

func (f *fakeRemote) FetchConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msgs := make([]types.Message, len(f.rooms[roomKey]))
	copy(msgs, f.rooms[roomKey])
	return &types.Conversation{RoomKey: roomKey, Messages: msgs}, nil
}

func (f *fakeRemote) SendMessage(ctx context.Context, req types.SendRequest) (*types.SendResponse, error) {
	f.mu.Lock()
	f.sendCalls++
	entered, gate := f.entered, f.gate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	roomKey, _ := types.RoomKey(req.ParticipantIDs[0], req.ParticipantIDs[1])
	f.nextID++
	msg := types.Message{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		RoomKey:   roomKey,
		Sender:    req.Sender,
		SenderID:  req.SenderID,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	}
	f.rooms[roomKey] = append(f.rooms[roomKey], msg)
	msgs := make([]types.Message, len(f.rooms[roomKey]))
	copy(msgs, f.rooms[roomKey])
	return &types.SendResponse{
		Message:      msg,
		Conversation: types.Conversation{RoomKey: roomKey, ParticipantIDs: req.ParticipantIDs, Messages: msgs},
	}, nil
}

func (f *fakeRemote) MarkRead(ctx context.Context, roomKey, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return 0, nil
}

func (f *fakeRemote) calls() (send, fetch, markRead int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls, f.fetchCalls, f.markReadCalls
}

func (f *fakeRemote) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func confirmed(id, roomKey, senderID, text string) types.Message {
	role := types.RoleStudent
	if senderID[0] == 'c' {
		role = types.RoleCounselor
	}
	return types.Message{ID: id, RoomKey: roomKey, Sender: role, SenderID: senderID, Text: text, CreatedAt: time.Now().UTC()}
}

func studentSession(t *testing.T) *auth.Session {
	t.Helper()
	s := auth.NewSession()
	if err := s.Login(auth.Principal{UserID: "s1", Role: types.RoleStudent}, "tok-s1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return s
}

func studentIdentity(t *testing.T) Identity {
	t.Helper()
	id, err := NewIdentity(auth.Principal{UserID: "s1", Role: types.RoleStudent}, "c1")
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	return id
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
