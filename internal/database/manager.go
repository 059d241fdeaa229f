package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"counselchat/internal/logging"
	dbconfig "counselchat/pkg/database"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

var _ interfaces.DatabaseManager = (*Manager)(nil)

// Manager implements interfaces.DatabaseManager on SQLite
// ARCHITECTURAL DISCOVERY: Reads run concurrently on the pool while every write
// is funneled through one goroutine, which is what SQLite wants
type Manager struct {
	db           *sql.DB
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer. Migrations are applied
// by the caller.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:           db,
		logger:       logging.OrNop(logger).Named("database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			// FUNCTIONAL DISCOVERY: Only lock contention is worth one delayed
			// retry; constraint violations fail immediately
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", zap.Duration("delay", m.retryDelay), zap.Error(err))
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(op.ctx, m.db)
				case <-op.ctx.Done():
					err = op.ctx.Err()
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(30 * time.Second)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// UpsertConversation inserts the room when it is new.
func (m *Manager) UpsertConversation(ctx context.Context, roomKey string, participantIDs []string) error {
	if !types.IsValidRoomKey(roomKey, participantIDs) {
		return types.ErrInvalidRoomKey
	}
	a, b := participantIDs[0], participantIDs[1]
	if b < a {
		a, b = b, a
	}
	now := time.Now().UTC()

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO conversations (room_key, participant_a, participant_b, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(room_key) DO NOTHING
		`, roomKey, a, b, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", err)
		}
		return nil
	})
}

// GetConversation returns room metadata without messages.
func (m *Manager) GetConversation(ctx context.Context, roomKey string) (*types.Conversation, error) {
	var conv types.Conversation
	var a, b string
	err := m.db.QueryRowContext(ctx, `
		SELECT room_key, participant_a, participant_b, updated_at
		FROM conversations
		WHERE room_key = ?
	`, roomKey).Scan(&conv.RoomKey, &a, &b, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.ParticipantIDs = []string{a, b}
	return &conv, nil
}

// ListConversations returns userID's rooms, most recently active first.
func (m *Manager) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.room_key, c.participant_a, c.participant_b, c.updated_at,
			(SELECT COUNT(*) FROM messages msg
			 WHERE msg.room_key = c.room_key
			   AND msg.sender_id != ?
			   AND NOT EXISTS (
			       SELECT 1 FROM message_reads r
			       WHERE r.message_id = msg.id AND r.user_id = ?)) AS unread
		FROM conversations c
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.updated_at DESC
	`, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []*types.Conversation
	for rows.Next() {
		var conv types.Conversation
		var a, b string
		if err := rows.Scan(&conv.RoomKey, &a, &b, &conv.UpdatedAt, &conv.Unread); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conv.ParticipantIDs = []string{a, b}
		convs = append(convs, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return convs, nil
}

// StoreMessage persists a message and touches its room.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, room_key, sender, sender_id, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, message.ID, message.RoomKey, message.Sender, message.SenderID, message.Text, message.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE room_key = ?`,
			message.CreatedAt.UTC(), message.RoomKey)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		return nil
	})
}

// GetConversationHistory returns the room's messages oldest first.
// TECHNICAL DISCOVERY: rowid breaks ties between messages stored in the same
// clock tick so order matches insertion
func (m *Manager) GetConversationHistory(ctx context.Context, roomKey string) ([]types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_key, sender, sender_id, text, created_at
		FROM messages
		WHERE room_key = ?
		ORDER BY created_at ASC, rowid ASC
	`, roomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.Message{}
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.RoomKey, &msg.Sender, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// MarkRead records reads for every peer message in the room.
func (m *Manager) MarkRead(ctx context.Context, roomKey, userID string, at time.Time) (int, error) {
	var marked int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
			SELECT id, ?, ? FROM messages
			WHERE room_key = ? AND sender_id != ?
		`, userID, at.UTC(), roomKey, userID)
		if err != nil {
			return fmt.Errorf("failed to mark read: %w", err)
		}
		marked, err = res.RowsAffected()
		return err
	})
	return int(marked), err
}

// PurgeMessagesBefore deletes old messages; their reads cascade.
func (m *Manager) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to purge messages: %w", err)
		}
		purged, err = res.RowsAffected()
		return err
	})
	return purged, err
}

// HealthCheck validates connectivity and that the schema is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
