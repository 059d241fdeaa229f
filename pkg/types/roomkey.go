package types

import (
	"sort"
	"strings"
)

// RoomKeySeparator joins the two sorted participant IDs.
// TECHNICAL DISCOVERY: User IDs never contain the separator, otherwise
// ("a", "b_c") and ("a_b", "c") would share the key "a_b_c"
const RoomKeySeparator = "_"

// RoomKey derives the order-independent key for a two-party conversation.
// Both participants compute the same key without negotiating.
func RoomKey(a, b string) (string, error) {
	ids, err := Participants(a, b)
	if err != nil {
		return "", err
	}
	return strings.Join(ids, RoomKeySeparator), nil
}

// Participants returns the pair sorted lexicographically.
func Participants(a, b string) ([]string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, ErrMissingParticipant
	}
	if strings.Contains(a, RoomKeySeparator) || strings.Contains(b, RoomKeySeparator) {
		return nil, ErrInvalidUserID
	}
	if a == b {
		return nil, ErrSameParticipant
	}
	ids := []string{a, b}
	sort.Strings(ids)
	return ids, nil
}

// IsValidRoomKey reports whether roomKey is the key derived from participantIDs.
func IsValidRoomKey(roomKey string, participantIDs []string) bool {
	if len(participantIDs) != 2 {
		return false
	}
	key, err := RoomKey(participantIDs[0], participantIDs[1])
	if err != nil {
		return false
	}
	return key == roomKey
}
