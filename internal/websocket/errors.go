package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
	ErrConnectionNotRegistered    = errors.New("connection is not registered")
	ErrEmptyRoomKey               = errors.New("room key is required")
)

// Handler-related errors
var (
	ErrUnsupportedFrame = errors.New("unsupported frame type")
	ErrMalformedFrame   = errors.New("malformed frame")
)
