package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dbconfig "counselchat/pkg/database"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	m, err := NewManager(config, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := dbconfig.NewMigrationManager(m.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func seedRoom(t *testing.T, m *Manager, a, b string) string {
	t.Helper()
	ids, err := types.Participants(a, b)
	if err != nil {
		t.Fatal(err)
	}
	roomKey, _ := types.RoomKey(a, b)
	if err := m.UpsertConversation(context.Background(), roomKey, ids); err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}
	return roomKey
}

func storeMsg(t *testing.T, m *Manager, id, roomKey, senderID string, at time.Time) {
	t.Helper()
	role := types.RoleStudent
	if senderID[0] == 'c' {
		role = types.RoleCounselor
	}
	err := m.StoreMessage(context.Background(), &types.Message{
		ID: id, RoomKey: roomKey, Sender: role, SenderID: senderID, Text: "text " + id, CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("StoreMessage(%s) error = %v", id, err)
	}
}

func TestManager_ConversationLifecycle(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	if _, err := m.GetConversation(ctx, "c1_s1"); err != interfaces.ErrConversationNotFound {
		t.Errorf("GetConversation(unknown) error = %v", err)
	}

	roomKey := seedRoom(t, m, "s1", "c1")
	// idempotent
	seedRoom(t, m, "c1", "s1")

	conv, err := m.GetConversation(ctx, roomKey)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.ParticipantIDs[0] != "c1" || conv.ParticipantIDs[1] != "s1" {
		t.Errorf("participants = %v", conv.ParticipantIDs)
	}

	if err := m.UpsertConversation(ctx, "s1_c1", []string{"s1", "c1"}); err != types.ErrInvalidRoomKey {
		t.Errorf("mismatched room key error = %v, want %v", err, types.ErrInvalidRoomKey)
	}
}

func TestManager_HistoryOrder(t *testing.T) {
	m := setupTestDB(t)
	roomKey := seedRoom(t, m, "s1", "c1")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	storeMsg(t, m, "m2", roomKey, "c1", base.Add(time.Second))
	storeMsg(t, m, "m1", roomKey, "s1", base)
	storeMsg(t, m, "m3", roomKey, "s1", base.Add(time.Second))

	history, err := m.GetConversationHistory(context.Background(), roomKey)
	if err != nil {
		t.Fatalf("GetConversationHistory() error = %v", err)
	}
	var got []string
	for _, msg := range history {
		got = append(got, msg.ID)
	}
	if fmt.Sprint(got) != "[m1 m2 m3]" {
		t.Errorf("order = %v, want [m1 m2 m3]", got)
	}
	if !history[0].CreatedAt.Equal(base) {
		t.Errorf("created_at round trip = %v, want %v", history[0].CreatedAt, base)
	}

	empty, err := m.GetConversationHistory(context.Background(), "nobody_here")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty history = %v, %v; want empty non-nil slice", empty, err)
	}
}

func TestManager_StoreMessageConstraints(t *testing.T) {
	m := setupTestDB(t)
	roomKey := seedRoom(t, m, "s1", "c1")
	now := time.Now()
	storeMsg(t, m, "m1", roomKey, "s1", now)

	dup := &types.Message{ID: "m1", RoomKey: roomKey, Sender: types.RoleStudent, SenderID: "s1", Text: "again", CreatedAt: now}
	if err := m.StoreMessage(context.Background(), dup); err == nil {
		t.Error("duplicate ID should fail")
	}
	orphan := &types.Message{ID: "m9", RoomKey: "x_y", Sender: types.RoleStudent, SenderID: "x", Text: "hi", CreatedAt: now}
	if err := m.StoreMessage(context.Background(), orphan); err == nil {
		t.Error("message for unknown room should fail")
	}
}

func TestManager_MarkReadAndUnread(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	roomKey := seedRoom(t, m, "s1", "c1")
	other := seedRoom(t, m, "s1", "c2")

	now := time.Now()
	storeMsg(t, m, "m1", roomKey, "c1", now)
	storeMsg(t, m, "m2", roomKey, "c1", now.Add(time.Millisecond))
	storeMsg(t, m, "m3", roomKey, "s1", now.Add(2*time.Millisecond))
	storeMsg(t, m, "o1", other, "c2", now.Add(3*time.Millisecond))

	convs, err := m.ListConversations(ctx, "s1")
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations = %d, want 2", len(convs))
	}
	if convs[0].RoomKey != other {
		t.Errorf("most recent first: got %s", convs[0].RoomKey)
	}
	unread := map[string]int{}
	for _, c := range convs {
		unread[c.RoomKey] = c.Unread
	}
	if unread[roomKey] != 2 || unread[other] != 1 {
		t.Errorf("unread = %v", unread)
	}

	n, err := m.MarkRead(ctx, roomKey, "s1", time.Now())
	if err != nil || n != 2 {
		t.Errorf("MarkRead() = %d, %v; want 2", n, err)
	}
	n, _ = m.MarkRead(ctx, roomKey, "s1", time.Now())
	if n != 0 {
		t.Errorf("second MarkRead() = %d, want 0", n)
	}

	convs, _ = m.ListConversations(ctx, "s1")
	for _, c := range convs {
		if c.RoomKey == roomKey && c.Unread != 0 {
			t.Errorf("unread after mark = %d", c.Unread)
		}
	}
}

func TestManager_Purge(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	roomKey := seedRoom(t, m, "s1", "c1")

	old := time.Now().Add(-100 * 24 * time.Hour)
	storeMsg(t, m, "old1", roomKey, "c1", old)
	storeMsg(t, m, "old2", roomKey, "s1", old.Add(time.Minute))
	storeMsg(t, m, "new1", roomKey, "c1", time.Now())
	if _, err := m.MarkRead(ctx, roomKey, "s1", time.Now()); err != nil {
		t.Fatal(err)
	}

	purged, err := m.PurgeMessagesBefore(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil || purged != 2 {
		t.Fatalf("PurgeMessagesBefore() = %d, %v; want 2", purged, err)
	}
	history, _ := m.GetConversationHistory(ctx, roomKey)
	if len(history) != 1 || history[0].ID != "new1" {
		t.Errorf("history after purge = %+v", history)
	}
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	roomKey := seedRoom(t, m, "s1", "c1")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.StoreMessage(context.Background(), &types.Message{
				ID: fmt.Sprintf("m%02d", i), RoomKey: roomKey, Sender: types.RoleStudent,
				SenderID: "s1", Text: "concurrent", CreatedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent StoreMessage() error = %v", err)
		}
	}

	history, _ := m.GetConversationHistory(context.Background(), roomKey)
	if len(history) != 50 {
		t.Errorf("stored %d messages, want 50", len(history))
	}
}

func TestManager_HealthAndClose(t *testing.T) {
	m := setupTestDB(t)
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	err := m.UpsertConversation(context.Background(), "c1_s1", []string{"c1", "s1"})
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("write after Close error = %v, want %v", err, ErrManagerClosed)
	}
}
