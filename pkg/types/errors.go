package types

import "errors"

// Validation errors shared across components.
var (
	ErrEmptyMessage    = errors.New("message text cannot be blank")
	ErrInvalidEncoding = errors.New("text must be valid UTF-8")
	ErrInvalidRoomName = errors.New("room name must be 1-128 characters")
	ErrInvalidRole     = errors.New("invalid role: must be 'student' or 'teacher'")
)
