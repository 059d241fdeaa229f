package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"counselchat/internal/auth"
)

// ConfigFile is the on-disk shape. Durations are strings such as "30s".
// FUNCTIONAL DISCOVERY: A separate struct keeps duration parsing identical for
// JSON and YAML and lets zero values mean "not set"
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Relay     *RelayConfigFile     `json:"relay" yaml:"relay"`
	Retention *RetentionConfigFile `json:"retention" yaml:"retention"`
	Auth      *AuthConfigFile      `json:"auth" yaml:"auth"`
	Client    *ClientConfigFile    `json:"client" yaml:"client"`
	Log       *LogConfigFile       `json:"log" yaml:"log"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
}

type RelayConfigFile struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RateBurst          int `json:"rate_burst" yaml:"rate_burst"`
	HubBuffer          int `json:"hub_buffer" yaml:"hub_buffer"`
}

type RetentionConfigFile struct {
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	Cron    string `json:"cron" yaml:"cron"`
	Period  string `json:"period" yaml:"period"`
}

type AuthConfigFile struct {
	Tokens map[string]auth.Principal `json:"tokens" yaml:"tokens"`
}

type ClientConfigFile struct {
	BaseURL        string  `json:"base_url" yaml:"base_url"`
	WSURL          string  `json:"ws_url" yaml:"ws_url"`
	Token          string  `json:"token" yaml:"token"`
	UserID         string  `json:"user_id" yaml:"user_id"`
	Role           string  `json:"role" yaml:"role"`
	DisplayName    string  `json:"display_name" yaml:"display_name"`
	SyncMode       string  `json:"sync_mode" yaml:"sync_mode"`
	PollInterval   string  `json:"poll_interval" yaml:"poll_interval"`
	Rollback       string  `json:"rollback" yaml:"rollback"`
	RequestTimeout string  `json:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst      int     `json:"rate_burst" yaml:"rate_burst"`
}

type LogConfigFile struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// LoadFromFile reads a JSON or YAML file (chosen by extension) over the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence layers file over environment over defaults.
// A missing file is not an error; an unreadable or invalid one is.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		err := applyFile(config, path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func readFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &file, nil
}

func applyFile(c *Config, path string) error {
	file, err := readFile(path)
	if err != nil {
		return err
	}

	var perr error
	duration := func(field, v string, dst *time.Duration) {
		if v == "" || perr != nil {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			perr = fmt.Errorf("config file %s: %s: %w", path, field, err)
			return
		}
		*dst = d
	}
	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	num := func(v int, dst *int) {
		if v > 0 {
			*dst = v
		}
	}

	if f := file.Database; f != nil {
		str(f.Path, &c.Database.Path)
		duration("database.timeout", f.Timeout, &c.Database.Timeout)
	}
	if f := file.HTTP; f != nil {
		num(f.Port, &c.HTTP.Port)
		str(f.Host, &c.HTTP.Host)
		duration("http.read_timeout", f.ReadTimeout, &c.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &c.HTTP.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		num(f.BufferSize, &c.WebSocket.BufferSize)
		duration("websocket.ping_interval", f.PingInterval, &c.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &c.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &c.WebSocket.WriteTimeout)
	}
	if f := file.Relay; f != nil {
		num(f.RateLimitPerMinute, &c.Relay.RateLimitPerMinute)
		num(f.RateBurst, &c.Relay.RateBurst)
		num(f.HubBuffer, &c.Relay.HubBuffer)
	}
	if f := file.Retention; f != nil {
		if f.Enabled != nil {
			c.Retention.Enabled = *f.Enabled
		}
		str(f.Cron, &c.Retention.Cron)
		duration("retention.period", f.Period, &c.Retention.Period)
	}
	if f := file.Auth; f != nil {
		for token, p := range f.Tokens {
			c.Auth.Tokens[token] = p
		}
	}
	if f := file.Client; f != nil {
		str(f.BaseURL, &c.Client.BaseURL)
		str(f.WSURL, &c.Client.WSURL)
		str(f.Token, &c.Client.Token)
		str(f.UserID, &c.Client.UserID)
		str(f.Role, &c.Client.Role)
		str(f.DisplayName, &c.Client.DisplayName)
		str(f.SyncMode, &c.Client.SyncMode)
		str(f.Rollback, &c.Client.Rollback)
		duration("client.poll_interval", f.PollInterval, &c.Client.PollInterval)
		duration("client.request_timeout", f.RequestTimeout, &c.Client.RequestTimeout)
		if f.RateLimit > 0 {
			c.Client.RateLimit = f.RateLimit
		}
		num(f.RateBurst, &c.Client.RateBurst)
	}
	if f := file.Log; f != nil {
		str(f.Level, &c.Log.Level)
		str(f.Format, &c.Log.Format)
	}
	return perr
}
