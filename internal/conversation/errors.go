package conversation

import "errors"

var (
	ErrInvalidParticipants = errors.New("conversation needs two distinct valid user IDs")
	ErrNotParticipant      = errors.New("user is not a participant of this conversation")
	ErrParticipantMismatch = errors.New("room is stored with different participants")
)
