package interfaces

// Connection represents a push socket client
// ARCHITECTURAL DISCOVERY: Pure abstraction so the hub and registry can be
// tested with in-memory connections
type Connection interface {
	// WriteJSON sends a JSON frame to the client. Implementations must be safe
	// for concurrent use.
	WriteJSON(v interface{}) error

	Close() error

	GetUserID() string
	GetRole() string

	IsAuthenticated() bool

	// SetCredentials records the identity resolved from the bearer token.
	SetCredentials(userID, role string) error
}
