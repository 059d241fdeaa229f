package types

import (
	"strings"
	"time"
)

// Participant roles
const (
	RoleStudent   = "student"
	RoleCounselor = "counselor"
)

// TempIDPrefix marks identifiers fabricated locally for optimistic messages.
// FUNCTIONAL DISCOVERY: Server IDs are UUIDs and never carry this prefix,
// so a prefix check is enough to derive the pending state
const TempIDPrefix = "temp-"

// MaxTextBytes bounds a single message body.
const MaxTextBytes = 4000

// Message represents one chat message in a two-party conversation
// ARCHITECTURAL DISCOVERY: Optimistic and confirmed messages share one type;
// pending state is derived from the ID rather than stored
type Message struct {
	ID        string    `json:"id"`
	RoomKey   string    `json:"room_key"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Pending reports whether the message is still an optimistic placeholder.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Conversation is the authoritative server view of a room
// FUNCTIONAL DISCOVERY: Messages are ordered oldest first
type Conversation struct {
	RoomKey        string    `json:"room_key"`
	ParticipantIDs []string  `json:"participant_ids"`
	Messages       []Message `json:"messages"`
	UpdatedAt      time.Time `json:"updated_at"`
	// Unread is filled only in conversation listings.
	Unread int `json:"unread,omitempty"`
}

// SendRequest is the payload for persisting a new message.
type SendRequest struct {
	Sender         string   `json:"sender"`
	SenderID       string   `json:"sender_id"`
	Text           string   `json:"text"`
	ParticipantIDs []string `json:"participant_ids"`
}

// SendResponse carries the created message and the full updated conversation.
type SendResponse struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
}

// ReadRequest marks a room read for one user.
type ReadRequest struct {
	UserID string `json:"user_id"`
}

// ReadResponse reports how many messages were newly marked read.
type ReadResponse struct {
	Marked int `json:"marked"`
}

// Push frame types exchanged over the socket channel
const (
	FrameJoinRoom   = "join_room"
	FrameLeaveRoom  = "leave_room"
	FrameNewMessage = "new_message"
	FrameAck        = "ack"
	FrameError      = "error"
)

// Frame is the single wire shape used on the push channel
// TECHNICAL DISCOVERY: Message is a pointer so join/leave/ack frames omit it.
// RequestID is set by the client on join/leave and echoed on the reply
type Frame struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id,omitempty"`
	RoomKey   string   `json:"room_key,omitempty"`
	Message   *Message `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
}
