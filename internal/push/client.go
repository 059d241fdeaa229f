package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"counselchat/internal/auth"
	"counselchat/internal/logging"
	"counselchat/pkg/types"
)

const (
	writeTimeout      = 5 * time.Second
	defaultReadWindow = 60 * time.Second
	defaultAckTimeout = 5 * time.Second
	subscriberBuffer  = 64
)

// Options configures a push Client.
type Options struct {
	// URL is the relay base URL; the scheme is switched to ws/wss and the
	// path set to /ws.
	URL string
	// ReadWindow is how long the socket may stay silent before it is
	// considered dead. Server pings extend it.
	ReadWindow time.Duration
	AckTimeout time.Duration
	Logger     *zap.Logger
	Dialer     *websocket.Dialer
}

// Client is a socket connection to the relay push channel
// ARCHITECTURAL DISCOVERY: One writer goroutine owns all data frames and one
// reader goroutine fans new_message frames out to per-room subscribers
type Client struct {
	conn    *websocket.Conn
	writeCh chan []byte
	logger  *zap.Logger

	readWindow time.Duration
	ackTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	subs    map[string]map[int]chan types.Message
	nextID  int
	nextReq uint64
	acks    map[string]chan error // request ID -> waiter
	err     error
}

// Dial opens the push socket using the session's bearer token.
func Dial(ctx context.Context, session *auth.Session, opts Options) (*Client, error) {
	token, err := session.Token()
	if err != nil {
		return nil, err
	}

	u, err := socketURL(opts.URL, token)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := newClient(conn, opts)
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func newClient(conn *websocket.Conn, opts Options) *Client {
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		writeCh:    make(chan []byte, 100),
		logger:     logging.OrNop(opts.Logger).Named("push"),
		readWindow: opts.ReadWindow,
		ackTimeout: opts.AckTimeout,
		ctx:        cctx,
		cancel:     cancel,
		subs:       make(map[string]map[int]chan types.Message),
		acks:       make(map[string]chan error),
	}
	if c.readWindow <= 0 {
		c.readWindow = defaultReadWindow
	}
	if c.ackTimeout <= 0 {
		c.ackTimeout = defaultAckTimeout
	}
	return c
}

func socketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", ErrInvalidURL
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// JoinRoom subscribes the socket to a room and waits for the server ack.
func (c *Client) JoinRoom(ctx context.Context, roomKey string) error {
	return c.roomRequest(ctx, types.FrameJoinRoom, roomKey)
}

// LeaveRoom unsubscribes the socket from a room and waits for the server ack.
func (c *Client) LeaveRoom(ctx context.Context, roomKey string) error {
	return c.roomRequest(ctx, types.FrameLeaveRoom, roomKey)
}

func (c *Client) roomRequest(ctx context.Context, frameType, roomKey string) error {
	if roomKey == "" {
		return ErrEmptyRoomKey
	}

	// TECHNICAL DISCOVERY: Acks are matched by request ID; an ack that arrives
	// after its waiter timed out must not resolve a later request for the room
	ack := make(chan error, 1)
	c.mu.Lock()
	c.nextReq++
	reqID := strconv.FormatUint(c.nextReq, 10)
	c.acks[reqID] = ack
	c.mu.Unlock()

	frame := types.Frame{Type: frameType, RoomKey: roomKey, RequestID: reqID}
	if err := c.writeFrame(ctx, frame); err != nil {
		c.dropAck(reqID)
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-timer.C:
		c.dropAck(reqID)
		return ErrAckTimeout
	case <-ctx.Done():
		c.dropAck(reqID)
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Client) dropAck(reqID string) {
	c.mu.Lock()
	delete(c.acks, reqID)
	c.mu.Unlock()
}

// Subscribe returns a channel of new messages for roomKey and a cancel func.
// The channel is closed by cancel or when the socket goes away.
func (c *Client) Subscribe(roomKey string) (<-chan types.Message, func()) {
	ch := make(chan types.Message, subscriberBuffer)

	c.mu.Lock()
	select {
	case <-c.ctx.Done():
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextID
	c.nextID++
	if c.subs[roomKey] == nil {
		c.subs[roomKey] = make(map[int]chan types.Message)
	}
	c.subs[roomKey][id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			room, ok := c.subs[roomKey]
			if !ok {
				return
			}
			if sub, ok := room[id]; ok {
				delete(room, id)
				close(sub)
			}
			if len(room) == 0 {
				delete(c.subs, roomKey)
			}
		})
	}
}

// Done is closed when the socket stops reading.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the read error that ended the socket, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the socket down and waits for both pumps to exit. Err stays nil
// after a Close that was not preceded by a read failure.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.shutdown(nil)
		c.wg.Wait()
	})
	return nil
}

func (c *Client) writeFrame(ctx context.Context, f types.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.shutdown(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	// TECHNICAL DISCOVERY: The relay pings every 30s; each ping extends the
	// read window and is answered with a pong
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readWindow))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readWindow))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		var f types.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			c.shutdown(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readWindow))
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f types.Frame) {
	switch f.Type {
	case types.FrameNewMessage:
		if f.Message == nil {
			return
		}
		roomKey := f.Message.RoomKey
		if roomKey == "" {
			roomKey = f.RoomKey
		}
		c.deliver(roomKey, *f.Message)
	case types.FrameAck:
		c.resolveAck(f.RequestID, nil)
	case types.FrameError:
		if f.RequestID != "" {
			c.resolveAck(f.RequestID, fmt.Errorf("%w: %s", ErrJoinRejected, f.Error))
			return
		}
		c.logger.Warn("server error frame", zap.String("error", f.Error))
	}
}

func (c *Client) deliver(roomKey string, msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[roomKey] {
		select {
		case ch <- msg:
		default:
			c.logger.Warn("subscriber buffer full, dropping message",
				zap.String("room_key", roomKey),
				zap.String("message_id", msg.ID))
		}
	}
}

func (c *Client) resolveAck(reqID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ack, ok := c.acks[reqID]
	if !ok {
		c.logger.Debug("dropping ack without waiter", zap.String("request_id", reqID))
		return
	}
	delete(c.acks, reqID)
	ack <- err
}

// shutdown records the first terminal error and closes every subscriber.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	select {
	case <-c.ctx.Done():
		c.mu.Unlock()
		return
	default:
	}
	c.err = err
	c.cancel()
	for roomKey, room := range c.subs {
		for id, ch := range room {
			close(ch)
			delete(room, id)
		}
		delete(c.subs, roomKey)
	}
	c.mu.Unlock()

	_ = c.conn.Close()
	if err != nil {
		c.logger.Debug("push socket closed", zap.Error(err))
	}
}
