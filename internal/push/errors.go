package push

import "errors"

var (
	ErrClosed       = errors.New("push channel closed")
	ErrWriteTimeout = errors.New("write timeout after 5 seconds")
	ErrAckTimeout   = errors.New("timed out waiting for room acknowledgement")
	ErrInvalidURL   = errors.New("push URL must use http, https, ws or wss")
	ErrEmptyRoomKey = errors.New("room key is required")
	ErrJoinRejected = errors.New("server rejected room request")
)
