package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"counselchat/internal/auth"
	"counselchat/pkg/types"
)

func newSession(t *testing.T) *auth.Session {
	t.Helper()
	s := auth.NewSession()
	if err := s.Login(auth.Principal{UserID: "s1", Role: types.RoleStudent}, "tok-s1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return s
}

func writeEnvelope(w http.ResponseWriter, status int, env *types.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func okEnvelope(t *testing.T, data interface{}) *types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(data)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}

func newClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.BaseURL = srv.URL
	c, err := New(newSession(t), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestFetchConversation_Success(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c1_s1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-s1" {
			t.Errorf("Authorization = %q", got)
		}
		writeEnvelope(w, http.StatusOK, okEnvelope(t, types.Conversation{
			RoomKey:        "c1_s1",
			ParticipantIDs: []string{"c1", "s1"},
			Messages: []types.Message{
				{ID: "m1", RoomKey: "c1_s1", Sender: types.RoleStudent, SenderID: "s1", Text: "hi", CreatedAt: now},
				{ID: "m1", RoomKey: "c1_s1", Sender: types.RoleStudent, SenderID: "s1", Text: "hi", CreatedAt: now},
				{ID: "m2", RoomKey: "c1_s1", Sender: types.RoleCounselor, SenderID: "c1", Text: "hello", CreatedAt: now},
			},
		}))
	}))
	defer srv.Close()

	c := newClient(t, srv, Options{})
	conv, err := c.FetchConversation(context.Background(), "c1_s1")
	if err != nil {
		t.Fatalf("FetchConversation() error = %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 after dropping the duplicate", len(conv.Messages))
	}
	if conv.Messages[0].ID != "m1" || conv.Messages[1].ID != "m2" {
		t.Errorf("order = %s, %s", conv.Messages[0].ID, conv.Messages[1].ID)
	}
}

func TestFetchConversation_RejectsTempIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, okEnvelope(t, types.Conversation{
			RoomKey:  "c1_s1",
			Messages: []types.Message{{ID: "temp-1-abc", Text: "x", Sender: types.RoleStudent}},
		}))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, Options{}).FetchConversation(context.Background(), "c1_s1")
	if KindOf(err) != KindInvalidResponse {
		t.Fatalf("kind = %v, want invalid_response (err %v)", KindOf(err), err)
	}
	if !errors.Is(err, ErrInvalidMessageID) {
		t.Errorf("error should wrap ErrInvalidMessageID: %v", err)
	}
}

func TestSendMessage_Success(t *testing.T) {
	var got types.SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		msg := types.Message{ID: "srv-1", RoomKey: "c1_s1", Sender: got.Sender, SenderID: got.SenderID, Text: got.Text}
		writeEnvelope(w, http.StatusCreated, okEnvelope(t, types.SendResponse{
			Message:      msg,
			Conversation: types.Conversation{RoomKey: "c1_s1", Messages: []types.Message{msg}},
		}))
	}))
	defer srv.Close()

	req := types.SendRequest{Sender: types.RoleStudent, SenderID: "s1", Text: "hello", ParticipantIDs: []string{"c1", "s1"}}
	resp, err := newClient(t, srv, Options{}).SendMessage(context.Background(), req)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got.Text != "hello" || got.SenderID != "s1" {
		t.Errorf("request body = %+v", got)
	}
	if resp.Message.ID != "srv-1" || len(resp.Conversation.Messages) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSendMessage_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantCode string
	}{
		{"server error", 500, `{"success":false,"error":{"code":"internal","message":"boom"}}`, KindServer, types.CodeInternal},
		{"rejected", 400, `{"success":false,"error":{"code":"bad_request","message":"empty text"}}`, KindRejected, types.CodeBadRequest},
		{"rate limited", 429, `{"success":false,"error":{"code":"rate_limited","message":"slow down"}}`, KindRejected, types.CodeRateLimited},
		{"malformed success", 200, `not json`, KindInvalidResponse, ""},
		{"malformed failure", 502, `<html>bad gateway</html>`, KindServer, ""},
		{"success without data", 200, `{"success":true}`, KindInvalidResponse, ""},
		{"failure flag on 200", 200, `{"success":false}`, KindInvalidResponse, ""},
		{"temp id from server", 201, `{"success":true,"data":{"message":{"id":"temp-9"},"conversation":{"messages":[]}}}`, KindInvalidResponse, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv, Options{}).SendMessage(context.Background(), types.SendRequest{Text: "x"})
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", apiErr.Kind, tt.wantKind)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Op != "send_message" {
				t.Errorf("Op = %q", apiErr.Op)
			}
		})
	}
}

func TestUnauthorized_FiresHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, types.NewErrorEnvelope(types.CodeUnauthorized, "expired"))
	}))
	defer srv.Close()

	fired := 0
	c := newClient(t, srv, Options{OnUnauthorized: func() { fired++ }})
	_, err := c.FetchConversation(context.Background(), "c1_s1")

	if !errors.Is(err, &Error{Kind: KindUnauthorized}) {
		t.Errorf("error = %v, want unauthorized", err)
	}
	if fired != 1 {
		t.Errorf("OnUnauthorized fired %d times, want 1", fired)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newClient(t, srv, Options{Timeout: time.Second})
	srv.Close()

	_, err := c.FetchConversation(context.Background(), "c1_s1")
	if KindOf(err) != KindNetwork {
		t.Errorf("kind = %v, want network (err %v)", KindOf(err), err)
	}
}

func TestLoggedOut_NoRequest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	session := auth.NewSession()
	c, err := New(session, Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.FetchConversation(context.Background(), "c1_s1")
	if KindOf(err) != KindUnauthorized {
		t.Errorf("kind = %v, want unauthorized", KindOf(err))
	}
	if !errors.Is(err, auth.ErrNotLoggedIn) {
		t.Errorf("error should wrap ErrNotLoggedIn: %v", err)
	}
	if hits != 0 {
		t.Errorf("server hits = %d, want 0", hits)
	}
}

func TestMarkRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c1_s1/read" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req types.ReadRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.UserID != "s1" {
			t.Errorf("user_id = %q", req.UserID)
		}
		writeEnvelope(w, http.StatusOK, okEnvelope(t, types.ReadResponse{Marked: 3}))
	}))
	defer srv.Close()

	n, err := newClient(t, srv, Options{}).MarkRead(context.Background(), "c1_s1", "s1")
	if err != nil || n != 3 {
		t.Errorf("MarkRead() = %d, %v; want 3, nil", n, err)
	}
}

func TestRateLimit_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, okEnvelope(t, types.ReadResponse{}))
	}))
	defer srv.Close()

	c := newClient(t, srv, Options{RateLimit: 0.01, Burst: 1})
	if _, err := c.MarkRead(context.Background(), "c1_s1", "s1"); err != nil {
		t.Fatalf("first MarkRead() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.MarkRead(ctx, "c1_s1", "s1"); KindOf(err) != KindNetwork {
		t.Errorf("limited call kind = %v, want network", KindOf(err))
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(auth.NewSession(), Options{}); err != ErrNoBaseURL {
		t.Errorf("New() error = %v, want %v", err, ErrNoBaseURL)
	}
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/conversations" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, okEnvelope(t, []types.Conversation{
			{RoomKey: "c1_s1", ParticipantIDs: []string{"c1", "s1"}, Unread: 2},
			{RoomKey: "c2_s1", ParticipantIDs: []string{"c2", "s1"}},
		}))
	}))
	defer srv.Close()

	convs, err := newClient(t, srv, Options{}).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 2 || convs[0].Unread != 2 {
		t.Errorf("unexpected listing: %+v", convs)
	}
}
