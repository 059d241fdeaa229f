package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"counselchat/internal/auth"
	"counselchat/internal/logging"
	"counselchat/pkg/types"
)

const maxResponseBytes = 4 << 20

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is the outbound request rate per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// OnUnauthorized fires after any 401 response.
	OnUnauthorized func()
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client is the typed REST client for the conversation backend
// ARCHITECTURAL DISCOVERY: Every response passes through decodeEnvelope once;
// callers only ever see typed payloads or *Error
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	session        *auth.Session
	limiter        *rate.Limiter
	onUnauthorized func()
	logger         *zap.Logger
}

// New creates a Client bound to the given session.
func New(session *auth.Session, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:        base,
		http:           httpClient,
		session:        session,
		limiter:        limiter,
		onUnauthorized: opts.OnUnauthorized,
		logger:         logging.OrNop(opts.Logger).Named("apiclient"),
	}, nil
}

// FetchConversation returns the authoritative message list for a room.
func (c *Client) FetchConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	const op = "fetch_conversation"

	var conv types.Conversation
	path := "/api/conversations/" + url.PathEscape(roomKey)
	if err := c.do(ctx, op, http.MethodGet, path, nil, &conv); err != nil {
		return nil, err
	}
	if conv.RoomKey != "" && conv.RoomKey != roomKey {
		return nil, &Error{Kind: KindInvalidResponse, Op: op, Err: ErrRoomMismatch}
	}
	conv.RoomKey = roomKey

	msgs, err := sanitizeMessages(conv.Messages)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: op, Err: err}
	}
	conv.Messages = msgs
	return &conv, nil
}

// ListConversations returns the signed-in user's rooms with unread counts.
func (c *Client) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// SendMessage persists one message and returns it with the updated conversation.
func (c *Client) SendMessage(ctx context.Context, req types.SendRequest) (*types.SendResponse, error) {
	const op = "send_message"

	var resp types.SendResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/messages", req, &resp); err != nil {
		return nil, err
	}
	if !validServerID(resp.Message.ID) {
		return nil, &Error{Kind: KindInvalidResponse, Op: op, Err: ErrInvalidMessageID}
	}

	msgs, err := sanitizeMessages(resp.Conversation.Messages)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: op, Err: err}
	}
	resp.Conversation.Messages = msgs
	return &resp, nil
}

// MarkRead marks every message in the room not sent by userID as read.
func (c *Client) MarkRead(ctx context.Context, roomKey, userID string) (int, error) {
	const op = "mark_read"

	var resp types.ReadResponse
	path := "/api/conversations/" + url.PathEscape(roomKey) + "/read"
	if err := c.do(ctx, op, http.MethodPost, path, types.ReadRequest{UserID: userID}, &resp); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindNetwork, Op: op, Err: err}
		}
	}

	token, err := c.session.Token()
	if err != nil {
		return &Error{Kind: KindUnauthorized, Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.Error(err))
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Err: err}
	}
	return decodeEnvelope(op, resp.StatusCode, raw, out)
}

// decodeEnvelope validates the envelope shape and unmarshals data into out.
func decodeEnvelope(op string, status int, raw []byte, out interface{}) error {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status >= 400 {
			return &Error{Kind: kindForStatus(status, ""), Op: op, Status: status, Err: ErrMalformedEnvelope}
		}
		return &Error{Kind: KindInvalidResponse, Op: op, Status: status, Err: ErrMalformedEnvelope}
	}

	if !env.Success || status >= 400 {
		e := &Error{Kind: kindForStatus(status, ""), Op: op, Status: status}
		if env.Error != nil {
			e.Kind = kindForStatus(status, env.Error.Code)
			e.Code = env.Error.Code
			e.Err = fmt.Errorf("%s", env.Error.Message)
		} else if status < 400 {
			e.Kind = KindInvalidResponse
			e.Err = ErrMalformedEnvelope
		}
		return e
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &Error{Kind: KindInvalidResponse, Op: op, Status: status, Err: ErrMissingData}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Kind: KindInvalidResponse, Op: op, Status: status, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func kindForStatus(status int, code string) Kind {
	switch {
	case status == http.StatusUnauthorized || code == types.CodeUnauthorized:
		return KindUnauthorized
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindRejected
	case code == types.CodeInternal:
		return KindServer
	case code != "":
		return KindRejected
	default:
		return KindServer
	}
}

// sanitizeMessages enforces the ID contract on server lists and drops repeats.
func sanitizeMessages(msgs []types.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if !validServerID(m.ID) {
			return nil, ErrInvalidMessageID
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

func validServerID(id string) bool {
	return id != "" && !strings.HasPrefix(id, types.TempIDPrefix)
}
