package auth

import "errors"

var (
	ErrNotLoggedIn    = errors.New("no active session")
	ErrInvalidToken   = errors.New("invalid or unknown token")
	ErrMissingToken   = errors.New("missing bearer token")
	ErrInvalidProfile = errors.New("session requires a valid user ID, role and token")
)
