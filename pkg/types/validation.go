package types

import (
	"regexp"
	"strings"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization.
// The room key separator is excluded so a key maps back to exactly one pair
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks the role is one of the two conversation roles.
func IsValidRole(role string) bool {
	return role == RoleStudent || role == RoleCounselor
}

// NormalizeText trims surrounding whitespace from a message body.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// Validate checks a send request before it leaves the client or enters the relay.
// ARCHITECTURAL DISCOVERY: Text is normalized in place so every path stores
// the same trimmed body
func (r *SendRequest) Validate() error {
	r.Text = NormalizeText(r.Text)
	if r.Text == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxTextBytes {
		return ErrTextTooLarge
	}
	if !IsValidRole(r.Sender) {
		return ErrInvalidRole
	}
	if !IsValidUserID(r.SenderID) {
		return ErrInvalidUserID
	}
	if len(r.ParticipantIDs) != 2 {
		return ErrMissingParticipant
	}
	for _, id := range r.ParticipantIDs {
		if !IsValidUserID(id) {
			return ErrInvalidUserID
		}
	}
	if r.ParticipantIDs[0] == r.ParticipantIDs[1] {
		return ErrSameParticipant
	}
	if r.ParticipantIDs[0] != r.SenderID && r.ParticipantIDs[1] != r.SenderID {
		return ErrNotParticipant
	}
	return nil
}

// Validate checks a message that is about to be stored or appended.
func (m *Message) Validate() error {
	if NormalizeText(m.Text) == "" {
		return ErrEmptyText
	}
	if len(m.Text) > MaxTextBytes {
		return ErrTextTooLarge
	}
	if !IsValidRole(m.Sender) {
		return ErrInvalidRole
	}
	return nil
}
