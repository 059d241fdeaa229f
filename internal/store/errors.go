package store

import "errors"

var (
	ErrEmptyText   = errors.New("message text cannot be empty")
	ErrEmptyID     = errors.New("message ID cannot be empty")
	ErrDuplicateID = errors.New("message ID already present")
)
