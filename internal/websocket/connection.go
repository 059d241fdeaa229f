package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"counselchat/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte        // FUNCTIONAL DISCOVERY: 100 buffer absorbs bursts in busy rooms
	userID        string             // Set after authentication
	role          string             // Set after authentication
	authenticated bool               // Authentication status
	ctx           context.Context    // For cancellation
	cancel        context.CancelFunc // For cleanup
	closeOnce     sync.Once          // Ensure single close
	mu            sync.RWMutex       // Protect auth fields
	writeTimeout  time.Duration
}

// Connection defaults
const (
	DefaultBufferSize   = 100
	DefaultWriteTimeout = 5 * time.Second
)

// NewConnection creates a new WebSocket connection wrapper
func NewConnection(conn *websocket.Conn) *Connection {
	return NewConnectionSize(conn, DefaultBufferSize, DefaultWriteTimeout)
}

// NewConnectionSize creates a wrapper with an explicit queue size and write timeout.
func NewConnectionSize(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *Connection {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, buffer),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
// TECHNICAL DISCOVERY: writeCh is never closed; senders select on ctx instead,
// so a late WriteJSON cannot panic on a closed channel
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			// FUNCTIONAL DISCOVERY: The write timeout bounds how long one slow reader holds its writer
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON implementation with timeout and error handling
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Authentication state management
func (c *Connection) SetCredentials(userID, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
