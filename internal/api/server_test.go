package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"counselchat/internal/auth"
	"counselchat/internal/conversation"
	"counselchat/internal/metrics"
	"counselchat/internal/router"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Mock implementations for testing
type mockConversations struct {
	rooms       map[string]*types.Conversation
	members     map[string][]string
	validateErr error
	listErr     error
}

func (m *mockConversations) OpenConversation(ctx context.Context, ids []string) (*types.Conversation, error) {
	return nil, errors.New("not used")
}

func (m *mockConversations) GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	conv, ok := m.rooms[roomKey]
	if !ok {
		return nil, interfaces.ErrConversationNotFound
	}
	return conv, nil
}

func (m *mockConversations) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*types.Conversation
	for _, conv := range m.rooms {
		for _, id := range conv.ParticipantIDs {
			if id == userID {
				out = append(out, conv)
			}
		}
	}
	return out, nil
}

func (m *mockConversations) ValidateMembership(ctx context.Context, roomKey, userID string) error {
	if m.validateErr != nil {
		return m.validateErr
	}
	for _, id := range m.members[roomKey] {
		if id == userID {
			return nil
		}
	}
	return conversation.ErrNotParticipant
}

type mockDatabaseManager struct {
	healthErr error
	marked    int
	markCalls int
}

func (m *mockDatabaseManager) UpsertConversation(ctx context.Context, roomKey string, ids []string) error {
	return nil
}
func (m *mockDatabaseManager) GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	return nil, nil
}
func (m *mockDatabaseManager) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	return nil, nil
}
func (m *mockDatabaseManager) StoreMessage(ctx context.Context, message *types.Message) error {
	return nil
}
func (m *mockDatabaseManager) GetConversationHistory(ctx context.Context, roomKey string) ([]types.Message, error) {
	return nil, nil
}
func (m *mockDatabaseManager) MarkRead(ctx context.Context, roomKey, userID string, at time.Time) (int, error) {
	m.markCalls++
	return m.marked, nil
}
func (m *mockDatabaseManager) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (m *mockDatabaseManager) HealthCheck(ctx context.Context) error { return m.healthErr }
func (m *mockDatabaseManager) Close() error                          { return nil }

type mockRouter struct {
	err  error
	last *types.SendRequest
}

func (m *mockRouter) RouteMessage(ctx context.Context, req *types.SendRequest) (*types.SendResponse, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	msg := types.Message{ID: "srv-1", RoomKey: "c1_s1", Sender: req.Sender, SenderID: req.SenderID, Text: req.Text}
	return &types.SendResponse{
		Message:      msg,
		Conversation: types.Conversation{RoomKey: "c1_s1", ParticipantIDs: []string{"c1", "s1"}, Messages: []types.Message{msg}},
	}, nil
}

type mockRegistry struct{}

func (mockRegistry) GetStats() map[string]int {
	return map[string]int{"total_connections": 2, "active_rooms": 1}
}

type testServer struct {
	*Server
	convs   *mockConversations
	db      *mockDatabaseManager
	router  *mockRouter
	metrics *metrics.Relay
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	convs := &mockConversations{
		rooms: map[string]*types.Conversation{
			"c1_s1": {
				RoomKey:        "c1_s1",
				ParticipantIDs: []string{"c1", "s1"},
				Messages:       []types.Message{{ID: "m1", RoomKey: "c1_s1", Sender: types.RoleCounselor, SenderID: "c1", Text: "hi"}},
			},
		},
		members: map[string][]string{"c1_s1": {"c1", "s1"}, "c1_s9": {"c1", "s9"}},
	}
	db := &mockDatabaseManager{marked: 1}
	rt := &mockRouter{}
	reg := prometheus.NewRegistry()
	m := metrics.NewRelay(reg)

	s := NewServer(ServerConfig{
		Conversations: convs,
		Database:      db,
		Router:        rt,
		Registry:      mockRegistry{},
		Verifier: auth.NewStaticVerifier(map[string]auth.Principal{
			"tok-s1": {UserID: "s1", Role: types.RoleStudent},
			"tok-s9": {UserID: "s9", Role: types.RoleStudent},
		}),
		Metrics:  m,
		Gatherer: reg,
	})
	return &testServer{Server: s, convs: convs, db: db, router: rt, metrics: m}
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, out interface{}) types.Envelope {
	t.Helper()
	var env types.Envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, w.Body.String())
	}
	if out != nil && env.Success {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func TestServer_RequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "wrong"} {
		w := ts.do(http.MethodGet, "/api/conversations/c1_s1", token, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, w.Code)
		}
		env := decodeEnvelope(t, w, nil)
		if env.Success || env.Error == nil || env.Error.Code != types.CodeUnauthorized {
			t.Errorf("token %q: envelope = %+v", token, env)
		}
	}
}

func TestServer_GetConversation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/conversations/c1_s1", "tok-s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var conv types.Conversation
	env := decodeEnvelope(t, w, &conv)
	if !env.Success || conv.RoomKey != "c1_s1" || len(conv.Messages) != 1 {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestServer_GetConversation_EmptyRoom(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/conversations/c1_s9", "tok-s9", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var conv types.Conversation
	decodeEnvelope(t, w, &conv)
	if conv.RoomKey != "c1_s9" || conv.Messages == nil || len(conv.Messages) != 0 {
		t.Errorf("empty room = %+v", conv)
	}
}

func TestServer_GetConversation_Forbidden(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/conversations/c1_s1", "tok-s9", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if env := decodeEnvelope(t, w, nil); env.Error == nil || env.Error.Code != types.CodeForbidden {
		t.Errorf("envelope = %+v", env)
	}
}

func TestServer_ListConversations(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/conversations", "tok-s1", "")
	var convs []types.Conversation
	decodeEnvelope(t, w, &convs)
	if len(convs) != 1 || convs[0].RoomKey != "c1_s1" {
		t.Errorf("conversations = %+v", convs)
	}

	w = ts.do(http.MethodGet, "/api/conversations", "tok-s9", "")
	env := decodeEnvelope(t, w, &convs)
	if string(env.Data) != "[]" {
		t.Errorf("empty list data = %s, want []", env.Data)
	}
}

func TestServer_SendMessage(t *testing.T) {
	ts := newTestServer(t)

	body := `{"sender":"student","sender_id":"s1","text":"hello","participant_ids":["s1","c1"]}`
	w := ts.do(http.MethodPost, "/api/messages", "tok-s1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp types.SendResponse
	decodeEnvelope(t, w, &resp)
	if resp.Message.ID != "srv-1" || len(resp.Conversation.Messages) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if ts.router.last == nil || ts.router.last.Text != "hello" {
		t.Errorf("router received %+v", ts.router.last)
	}
}

func TestServer_SendMessage_Impersonation(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name string
		body string
	}{
		{"other sender id", `{"sender":"student","sender_id":"s9","text":"hi","participant_ids":["s9","c1"]}`},
		{"role escalation", `{"sender":"counselor","sender_id":"s1","text":"hi","participant_ids":["s1","c1"]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/messages", "tok-s1", tc.body)
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
		})
	}
	if ts.router.last != nil {
		t.Error("impersonating request reached the router")
	}
}

func TestServer_SendMessage_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"empty text", types.ErrEmptyText, http.StatusBadRequest, types.CodeBadRequest},
		{"too large", types.ErrTextTooLarge, http.StatusBadRequest, types.CodeBadRequest},
		{"bad participants", conversation.ErrInvalidParticipants, http.StatusBadRequest, types.CodeBadRequest},
		{"stored pair differs", conversation.ErrParticipantMismatch, http.StatusForbidden, types.CodeForbidden},
		{"rate limited", router.ErrRateLimitExceeded, http.StatusTooManyRequests, types.CodeRateLimited},
		{"storage", errors.New("disk full"), http.StatusInternalServerError, types.CodeInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.router.err = tc.err
			body := `{"sender":"student","sender_id":"s1","text":"x","participant_ids":["s1","c1"]}`
			w := ts.do(http.MethodPost, "/api/messages", "tok-s1", body)
			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tc.wantCode)
			}
			env := decodeEnvelope(t, w, nil)
			if env.Error == nil || env.Error.Code != tc.wantErr {
				t.Errorf("envelope = %+v, want code %s", env, tc.wantErr)
			}
		})
	}
}

func TestServer_SendMessage_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/messages", "tok-s1", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestServer_MarkRead(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/conversations/c1_s1/read", "tok-s1", `{"user_id":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp types.ReadResponse
	decodeEnvelope(t, w, &resp)
	if resp.Marked != 1 {
		t.Errorf("marked = %d, want 1", resp.Marked)
	}

	w = ts.do(http.MethodPost, "/api/conversations/c1_s1/read", "tok-s1", `{"user_id":"c1"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("marking for another user: status = %d, want 403", w.Code)
	}
	w = ts.do(http.MethodPost, "/api/conversations/c1_s1/read", "tok-s9", `{"user_id":"s9"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider: status = %d, want 403", w.Code)
	}
	if ts.db.markCalls != 1 {
		t.Errorf("MarkRead calls = %d, want 1", ts.db.markCalls)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodOptions, "/api/messages", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestServer_HealthCheck(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || health.Connections["total_connections"] != 2 {
		t.Errorf("health = %+v", health)
	}

	ts.db.healthErr = errors.New("locked")
	w = ts.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", w.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodGet, "/api/conversations/c1_s1", "tok-s1", "")
	ts.do(http.MethodGet, "/api/conversations/c1_s1", "tok-s1", "")

	got := testutil.ToFloat64(ts.metrics.HTTPRequests.WithLabelValues("/api/conversations/{roomKey}", "200"))
	if got != 2 {
		t.Errorf("request counter = %v, want 2", got)
	}

	w := ts.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "counselchat_relay_http_requests_total") {
		t.Errorf("metrics endpoint missing relay series: %d", w.Code)
	}
}
