package interfaces

import "errors"

// Common errors shared across component boundaries.
var (
	// ErrUnauthenticated means no session token was presented.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrUnknownIdentity means a token or email resolved to no stored record.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrNoActiveTopic means no teacher has set a teaching topic yet, so
	// no conversation can be started.
	ErrNoActiveTopic = errors.New("no active topic")

	// ErrConversationNotFound means the conversation id resolved to no row.
	ErrConversationNotFound = errors.New("conversation not found")
)
