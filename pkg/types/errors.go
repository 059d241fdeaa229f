package types

import "errors"

var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + hyphen only")
	ErrInvalidRole        = errors.New("role must be 'student' or 'counselor'")
	ErrEmptyText          = errors.New("message text cannot be empty")
	ErrTextTooLarge       = errors.New("message text exceeds 4000 byte limit")
	ErrMissingParticipant = errors.New("both participant IDs are required")
	ErrSameParticipant    = errors.New("a conversation needs two distinct participants")
	ErrInvalidRoomKey     = errors.New("invalid room key")
	ErrNotParticipant     = errors.New("sender is not a participant of the conversation")
)
