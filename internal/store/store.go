package store

import (
	"strings"
	"sync"

	"counselchat/pkg/types"
)

// Listener receives a copy of the message list after every mutation.
type Listener func(messages []types.Message)

// MessageStore holds the ordered message list for one open conversation
// ARCHITECTURAL DISCOVERY: Store is owned by exactly one conversation view and
// dropped with it, so no cross-view mutation is possible
type MessageStore struct {
	mu        sync.RWMutex
	messages  []types.Message
	listeners []Listener
}

// Snapshot is an opaque copy of the store contents.
type Snapshot struct {
	messages []types.Message
}

// Len returns the number of messages in the snapshot.
func (s Snapshot) Len() int {
	return len(s.messages)
}

// New creates an empty store.
func New() *MessageStore {
	return &MessageStore{}
}

// Subscribe registers a listener. Listeners run synchronously after the lock
// is released, in registration order.
func (s *MessageStore) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Append inserts a message at the end.
// FUNCTIONAL DISCOVERY: Only non-empty text is required; a confirmed ID that is
// already present is refused so push delivery can never duplicate a message
func (s *MessageStore) Append(msg types.Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyText
	}
	if msg.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	if s.indexOfLocked(msg.ID) >= 0 {
		s.mu.Unlock()
		return ErrDuplicateID
	}
	s.messages = append(s.messages, msg)
	out := s.copyLocked()
	s.mu.Unlock()

	s.notify(out)
	return nil
}

// ReplaceAll discards the current list and adopts msgs as-is.
func (s *MessageStore) ReplaceAll(msgs []types.Message) {
	s.mu.Lock()
	s.messages = append(make([]types.Message, 0, len(msgs)), msgs...)
	out := s.copyLocked()
	s.mu.Unlock()

	s.notify(out)
}

// Reconcile adopts the server list returned for a confirmed send and drops
// the optimistic message tempID. Messages the store holds that the server
// list lacks are kept after it in their current order.
// FUNCTIONAL DISCOVERY: Push delivery can append a newer message while the
// send is in flight; the send response was built before it and must not
// erase it
func (s *MessageStore) Reconcile(server []types.Message, tempID string) {
	seen := make(map[string]struct{}, len(server))
	for _, m := range server {
		seen[m.ID] = struct{}{}
	}

	s.mu.Lock()
	next := make([]types.Message, 0, len(server)+len(s.messages))
	next = append(next, server...)
	for _, m := range s.messages {
		if m.ID == tempID {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		next = append(next, m)
	}
	s.messages = next
	out := s.copyLocked()
	s.mu.Unlock()

	s.notify(out)
}

// RemoveByID removes the message with the given ID and reports whether it existed.
func (s *MessageStore) RemoveByID(id string) bool {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	out := s.copyLocked()
	s.mu.Unlock()

	s.notify(out)
	return true
}

// AdoptIfLonger adopts fetched when it holds more messages than the store
// currently knows as confirmed. Pending messages are carried over after the
// fetched list.
// TECHNICAL DISCOVERY: Visible count never shrinks here; a shorter or equal
// list is ignored rather than treated as authoritative truncation
func (s *MessageStore) AdoptIfLonger(fetched []types.Message) bool {
	s.mu.Lock()
	confirmed := 0
	var pending []types.Message
	for _, m := range s.messages {
		if m.Pending() {
			pending = append(pending, m)
		} else {
			confirmed++
		}
	}
	if len(fetched) <= confirmed {
		s.mu.Unlock()
		return false
	}

	next := make([]types.Message, 0, len(fetched)+len(pending))
	next = append(next, fetched...)
	next = append(next, pending...)
	s.messages = next
	out := s.copyLocked()
	s.mu.Unlock()

	s.notify(out)
	return true
}

// Snapshot captures the current contents for a later Restore.
func (s *MessageStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{messages: s.copyLocked()}
}

// Restore reverts the store to a snapshot.
func (s *MessageStore) Restore(snap Snapshot) {
	s.ReplaceAll(snap.messages)
}

// Messages returns a copy of the ordered list.
func (s *MessageStore) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Len returns the visible message count (pending included).
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// PendingCount returns how many messages still carry a temporary ID.
func (s *MessageStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.Pending() {
			n++
		}
	}
	return n
}

// Contains reports whether a message with id is present.
func (s *MessageStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfLocked(id) >= 0
}

func (s *MessageStore) indexOfLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) copyLocked() []types.Message {
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) notify(messages []types.Message) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(messages)
	}
}
