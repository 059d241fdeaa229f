package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"counselchat/internal/apiclient"
	"counselchat/internal/app"
	"counselchat/internal/auth"
	"counselchat/internal/config"
	"counselchat/pkg/types"
)

var testPrincipals = map[string]auth.Principal{
	"tok-s1": {UserID: "s1", Role: types.RoleStudent},
	"tok-s2": {UserID: "s2", Role: types.RoleStudent},
	"tok-c1": {UserID: "c1", Role: types.RoleCounselor},
}

// relayConfig returns a relay config on an ephemeral port and a temp database.
func relayConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "relay.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Auth.Tokens = testPrincipals
	return cfg
}

// StartRelay runs a full relay until the test ends and returns its base URL.
func StartRelay(t *testing.T, cfg *config.Config) (*app.Application, string) {
	t.Helper()
	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	t.Cleanup(func() { StopRelay(t, application) })
	return application, "http://" + application.GetAddr()
}

// StopRelay shuts the relay down; calling it twice is harmless.
func StopRelay(t *testing.T, application *app.Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Logf("Failed to stop relay: %v", err)
	}
}

// SignIn returns a logged-in session and REST client for token.
func SignIn(t *testing.T, baseURL, token string) (*auth.Session, *apiclient.Client) {
	t.Helper()
	session := auth.NewSession()
	if err := session.Login(testPrincipals[token], token); err != nil {
		t.Fatalf("Login(%s) error = %v", token, err)
	}
	client, err := apiclient.New(session, apiclient.Options{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		OnUnauthorized: func() { go session.Logout() },
	})
	if err != nil {
		t.Fatalf("apiclient.New() error = %v", err)
	}
	return session, client
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ActiveRooms reads the relay's joined-room count from /health.
func ActiveRooms(t *testing.T, baseURL string) int {
	t.Helper()
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data struct {
			Connections map[string]int `json:"connections"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return envelope.Data.Connections["active_rooms"]
}

func texts(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func containsText(msgs []types.Message, text string) bool {
	for _, m := range msgs {
		if m.Text == text && !m.Pending() {
			return true
		}
	}
	return false
}
