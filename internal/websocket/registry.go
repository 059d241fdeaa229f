package websocket

import (
	"sync"

	"go.uber.org/zap"

	"counselchat/internal/logging"
	"counselchat/internal/metrics"
)

// Registry manages WebSocket connections and their room joins
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu                sync.RWMutex                        // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out lookups
	globalConnections map[string]*Connection              // userID -> Connection for O(1) global lookup
	rooms             map[string]map[*Connection]struct{} // roomKey -> joined connections
	joined            map[*Connection]map[string]struct{} // Connection -> joined room keys
	metrics           *metrics.Relay
	logger            *zap.Logger
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRegistry(m *metrics.Relay, logger *zap.Logger) *Registry {
	if m == nil {
		m = metrics.NewRelay(nil)
	}
	return &Registry{
		globalConnections: make(map[string]*Connection),
		rooms:             make(map[string]map[*Connection]struct{}),
		joined:            make(map[*Connection]map[string]struct{}),
		metrics:           m,
		logger:            logging.OrNop(logger).Named("registry"),
	}
}

// RegisterConnection makes conn the user's current socket
// ARCHITECTURAL DISCOVERY: Connection replacement pattern coordinates with cleanup
// to prevent resource leaks while maintaining immediate registration
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close existing connection asynchronously to prevent deadlock
	// during registration while ensuring immediate replacement
	if existingConn, exists := r.globalConnections[userID]; exists && existingConn != conn {
		r.dropRoomsLocked(existingConn)
		go func() {
			if err := existingConn.Close(); err != nil {
				r.logger.Debug("failed to close replaced connection", zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}

	r.globalConnections[userID] = conn
	r.metrics.ActiveSockets.Set(float64(len(r.globalConnections)))

	return nil
}

// UnregisterConnection removes a specific connection and its room joins
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
// RACE CONDITION FIX: Only removes the connection if it matches the one currently registered
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	userID := conn.GetUserID()
	r.mu.Lock()
	defer r.mu.Unlock()

	registeredConn, exists := r.globalConnections[userID]
	if !exists || registeredConn != conn {
		return
	}

	delete(r.globalConnections, userID)
	r.dropRoomsLocked(conn)
	r.metrics.ActiveSockets.Set(float64(len(r.globalConnections)))
}

// JoinRoom adds conn to roomKey's fan-out set. Joining twice is a no-op.
func (r *Registry) JoinRoom(conn *Connection, roomKey string) error {
	if conn == nil {
		return ErrNilConnection
	}
	if roomKey == "" {
		return ErrEmptyRoomKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.globalConnections[conn.GetUserID()] != conn {
		return ErrConnectionNotRegistered
	}

	if r.rooms[roomKey] == nil {
		r.rooms[roomKey] = make(map[*Connection]struct{})
	}
	r.rooms[roomKey][conn] = struct{}{}

	if r.joined[conn] == nil {
		r.joined[conn] = make(map[string]struct{})
	}
	r.joined[conn][roomKey] = struct{}{}
	return nil
}

// LeaveRoom removes conn from roomKey. Leaving a room never joined is a no-op.
func (r *Registry) LeaveRoom(conn *Connection, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn, roomKey)
}

func (r *Registry) leaveLocked(conn *Connection, roomKey string) {
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if members, ok := r.rooms[roomKey]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, roomKey)
		}
	}
	if keys, ok := r.joined[conn]; ok {
		delete(keys, roomKey)
		if len(keys) == 0 {
			delete(r.joined, conn)
		}
	}
}

func (r *Registry) dropRoomsLocked(conn *Connection) {
	for roomKey := range r.joined[conn] {
		r.leaveLocked(conn, roomKey)
	}
}

// GetUserConnection returns the current connection for a user with O(1) lookup
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.globalConnections[userID]
	return conn, exists
}

// RoomConnections returns every connection joined to roomKey
// FUNCTIONAL DISCOVERY: Returns a copy so callers write without holding the lock
func (r *Registry) RoomConnections(roomKey string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.rooms[roomKey]))
	for conn := range r.rooms[roomKey] {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.globalConnections),
		"active_rooms":      len(r.rooms),
	}
}

// CloseAll closes every registered connection. Their handlers unregister them.
// TECHNICAL DISCOVERY: http.Server.Shutdown does not track hijacked sockets,
// so the registry closes them explicitly on shutdown
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.globalConnections))
	for _, conn := range r.globalConnections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}
