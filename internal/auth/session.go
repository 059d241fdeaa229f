package auth

import (
	"sync"

	"counselchat/pkg/types"
)

// Principal identifies the signed-in user.
type Principal struct {
	UserID      string `json:"user_id" yaml:"user_id"`
	Role        string `json:"role" yaml:"role"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

// Session is the authentication context handed to every view at construction
// ARCHITECTURAL DISCOVERY: "Who am I" is an explicit dependency populated at
// login and cleared at logout, never read from ambient storage
type Session struct {
	mu        sync.RWMutex
	principal Principal
	token     string
	active    bool
	onLogout  []func()
}

// NewSession returns an empty (logged out) session.
func NewSession() *Session {
	return &Session{}
}

// Login populates the session.
func (s *Session) Login(p Principal, token string) error {
	if !types.IsValidUserID(p.UserID) || !types.IsValidRole(p.Role) || token == "" {
		return ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p
	s.token = token
	s.active = true
	return nil
}

// Logout clears the session and runs logout hooks once per active session.
func (s *Session) Logout() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.principal = Principal{}
	s.token = ""
	s.active = false
	hooks := make([]func(), len(s.onLogout))
	copy(hooks, s.onLogout)
	s.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}

// OnLogout registers a hook run after Logout clears the session.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.mu.Unlock()
}

// Principal returns the current user or ErrNotLoggedIn.
func (s *Session) Principal() (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return Principal{}, ErrNotLoggedIn
	}
	return s.principal, nil
}

// Token returns the bearer token or ErrNotLoggedIn.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return "", ErrNotLoggedIn
	}
	return s.token, nil
}

// Active reports whether the session is logged in.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}
