package gateway

import "errors"

// Connection-related errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Error codes carried on outbound error events. Clients key recovery
// behavior off the code, not the human-readable message.
const (
	CodeNoActiveConversation = "no_active_conversation"
	CodeTurnFailed           = "turn_failed"
	CodeRateLimited          = "rate_limited"
	CodeBadEvent             = "bad_event"
)
