package chatsync

import "errors"

// Send no-op outcomes. Neither appends to the store nor calls the backend.
var (
	ErrEmptyText    = errors.New("message text is empty")
	ErrTextTooLarge = errors.New("message text exceeds limit")
	ErrSendInFlight = errors.New("a send is already in flight")
)

var (
	ErrNotOpen        = errors.New("no conversation is open")
	ErrPushClosed     = errors.New("push channel closed")
	ErrInvalidPolicy  = errors.New("rollback policy must be remove or refetch")
	ErrMissingRemote  = errors.New("remote backend is required")
	ErrMissingSession = errors.New("session is required")
)
