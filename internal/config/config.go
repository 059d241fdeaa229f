package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"counselchat/internal/auth"
	"counselchat/pkg/types"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "COUNSELCHAT_"

// Poll interval window the backend tolerates.
const (
	MinPollInterval = 2 * time.Second
	MaxPollInterval = 5 * time.Second
)

// Sync modes for the client background synchronizer.
const (
	SyncModePoll = "poll"
	SyncModePush = "push"
)

// ARCHITECTURAL DISCOVERY: One Config feeds both binaries; the relay reads the
// server sections and the chat client reads Client
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Relay     *RelayConfig     `json:"relay"`
	Retention *RetentionConfig `json:"retention"`
	Auth      *AuthConfig      `json:"auth"`
	Client    *ClientConfig    `json:"client"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: 30s ping with a 60s read window keeps idle sockets alive
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// RelayConfig tunes message routing on the relay.
type RelayConfig struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	RateBurst          int `json:"rate_burst"`
	HubBuffer          int `json:"hub_buffer"`
}

// RetentionConfig drives the periodic purge of old messages.
type RetentionConfig struct {
	Enabled bool          `json:"enabled"`
	Cron    string        `json:"cron"`
	Period  time.Duration `json:"period"`
}

// AuthConfig is the relay's static token table.
type AuthConfig struct {
	Tokens map[string]auth.Principal `json:"tokens"`
}

// ClientConfig configures the chat client and the sync library.
type ClientConfig struct {
	BaseURL        string        `json:"base_url"`
	WSURL          string        `json:"ws_url"`
	Token          string        `json:"token"`
	UserID         string        `json:"user_id"`
	Role           string        `json:"role"`
	DisplayName    string        `json:"display_name"`
	SyncMode       string        `json:"sync_mode"`
	PollInterval   time.Duration `json:"poll_interval"`
	Rollback       string        `json:"rollback"`
	RequestTimeout time.Duration `json:"request_timeout"`
	RateLimit      float64       `json:"rate_limit"`
	RateBurst      int           `json:"rate_burst"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns settings suitable for a local relay and client.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./counselchat.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Relay: &RelayConfig{
			RateLimitPerMinute: 100,
			RateBurst:          20,
			HubBuffer:          1000,
		},
		Retention: &RetentionConfig{
			Enabled: false,
			Cron:    "0 3 * * *",
			Period:  90 * 24 * time.Hour,
		},
		Auth: &AuthConfig{Tokens: map[string]auth.Principal{}},
		Client: &ClientConfig{
			BaseURL:        "http://localhost:8080",
			SyncMode:       SyncModePoll,
			PollInterval:   3 * time.Second,
			Rollback:       "remove",
			RequestTimeout: 10 * time.Second,
			RateLimit:      5,
			RateBurst:      5,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the server sections and the generic client settings.
// Client identity (token, user, role) is checked by ValidateClient.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 asks the kernel for a free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("WebSocket ping interval must be shorter than read timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.RateLimitPerMinute <= 0 || c.Relay.RateBurst <= 0 {
		return fmt.Errorf("relay rate limit and burst must be positive")
	}
	if c.Relay.HubBuffer <= 0 {
		return fmt.Errorf("relay hub buffer must be positive")
	}

	if c.Retention == nil {
		return fmt.Errorf("retention configuration is required")
	}
	if c.Retention.Enabled {
		if strings.TrimSpace(c.Retention.Cron) == "" {
			return fmt.Errorf("retention cron cannot be empty when enabled")
		}
		if c.Retention.Period <= 0 {
			return fmt.Errorf("retention period must be positive")
		}
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	for token, p := range c.Auth.Tokens {
		if token == "" {
			return fmt.Errorf("auth token cannot be empty")
		}
		if !types.IsValidUserID(p.UserID) || !types.IsValidRole(p.Role) {
			return fmt.Errorf("auth token for %q has invalid user or role", p.UserID)
		}
	}

	if c.Client == nil {
		return fmt.Errorf("client configuration is required")
	}
	if c.Client.SyncMode != SyncModePoll && c.Client.SyncMode != SyncModePush {
		return fmt.Errorf("client sync mode must be %q or %q", SyncModePoll, SyncModePush)
	}
	// FUNCTIONAL DISCOVERY: Polling faster than 2s hammers the backend and slower
	// than 5s makes the conversation feel stale
	if c.Client.PollInterval < MinPollInterval || c.Client.PollInterval > MaxPollInterval {
		return fmt.Errorf("client poll interval must be between %s and %s", MinPollInterval, MaxPollInterval)
	}
	if c.Client.Rollback != "remove" && c.Client.Rollback != "refetch" {
		return fmt.Errorf("client rollback must be remove or refetch")
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client request timeout must be positive")
	}
	if c.Client.RateLimit < 0 {
		return fmt.Errorf("client rate limit cannot be negative")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}

// ValidateClient checks what the chat client needs to sign in.
func (c *Config) ValidateClient() error {
	if c.Client == nil {
		return fmt.Errorf("client configuration is required")
	}
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client base URL cannot be empty")
	}
	if c.Client.Token == "" {
		return fmt.Errorf("client token cannot be empty")
	}
	if !types.IsValidUserID(c.Client.UserID) {
		return fmt.Errorf("client user ID is invalid")
	}
	if !types.IsValidRole(c.Client.Role) {
		return fmt.Errorf("client role must be student or counselor")
	}
	return nil
}

// Principal returns the client identity as an auth principal.
func (c *ClientConfig) Principal() auth.Principal {
	return auth.Principal{UserID: c.UserID, Role: c.Role, DisplayName: c.DisplayName}
}

// PushURL returns the socket base URL, defaulting to the REST base.
func (c *ClientConfig) PushURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	return c.BaseURL
}

// LoadFromEnv applies COUNSELCHAT_* overrides on top of the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

// FUNCTIONAL DISCOVERY: Unparseable values are ignored so a typo falls back to
// the previous layer instead of aborting startup
func applyEnv(c *Config) {
	envString("DATABASE_PATH", &c.Database.Path)
	envDuration("DATABASE_TIMEOUT", &c.Database.Timeout)

	envInt("HTTP_PORT", &c.HTTP.Port)
	envString("HTTP_HOST", &c.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)

	envInt("RELAY_RATE_LIMIT_PER_MINUTE", &c.Relay.RateLimitPerMinute)
	envInt("RELAY_RATE_BURST", &c.Relay.RateBurst)
	envInt("RELAY_HUB_BUFFER", &c.Relay.HubBuffer)

	envBool("RETENTION_ENABLED", &c.Retention.Enabled)
	envString("RETENTION_CRON", &c.Retention.Cron)
	envDuration("RETENTION_PERIOD", &c.Retention.Period)

	envString("CLIENT_BASE_URL", &c.Client.BaseURL)
	envString("CLIENT_WS_URL", &c.Client.WSURL)
	envString("CLIENT_TOKEN", &c.Client.Token)
	envString("CLIENT_USER_ID", &c.Client.UserID)
	envString("CLIENT_ROLE", &c.Client.Role)
	envString("CLIENT_DISPLAY_NAME", &c.Client.DisplayName)
	envString("CLIENT_SYNC_MODE", &c.Client.SyncMode)
	envDuration("CLIENT_POLL_INTERVAL", &c.Client.PollInterval)
	envString("CLIENT_ROLLBACK", &c.Client.Rollback)
	envDuration("CLIENT_REQUEST_TIMEOUT", &c.Client.RequestTimeout)
	envFloat("CLIENT_RATE_LIMIT", &c.Client.RateLimit)
	envInt("CLIENT_RATE_BURST", &c.Client.RateBurst)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
