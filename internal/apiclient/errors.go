package apiclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed backend call.
type Kind int

const (
	// KindNetwork means the request never produced an HTTP response.
	KindNetwork Kind = iota + 1
	// KindServer is a 5xx or an envelope error without a more specific class.
	KindServer
	// KindUnauthorized is a 401; the session is no longer valid.
	KindUnauthorized
	// KindRejected is a 4xx the caller caused (validation, forbidden, rate limit).
	KindRejected
	// KindInvalidResponse means the body did not match the envelope contract.
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindUnauthorized:
		return "unauthorized"
	case KindRejected:
		return "rejected"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by Client methods.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind so callers can write
// errors.Is(err, &apiclient.Error{Kind: apiclient.KindUnauthorized}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

var (
	ErrMalformedEnvelope = errors.New("malformed response envelope")
	ErrMissingData       = errors.New("success envelope without data")
	ErrInvalidMessageID  = errors.New("server message with empty or temporary ID")
	ErrRoomMismatch      = errors.New("conversation room key does not match request")
	ErrNoBaseURL         = errors.New("base URL is required")
)
