package types

import (
	"strings"
	"unicode/utf8"
)

// MaxRoomNameLength bounds free-form room identifiers.
const MaxRoomNameLength = 128

// IsValidRole reports whether role is one of the identity roles.
func IsValidRole(role string) bool {
	return role == RoleStudent || role == RoleTeacher
}

// IsValidMessageRole reports whether role is a valid message-log role.
func IsValidMessageRole(role string) bool {
	switch role {
	case MessageRoleSystem, MessageRoleUser, MessageRoleAssistant:
		return true
	default:
		return false
	}
}

// ValidateMessageText checks an inbound message body. Text must be
// non-blank, valid UTF-8, and is otherwise unbounded; the completion
// service enforces its own prompt limits.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(text) {
		return ErrInvalidEncoding
	}
	return nil
}

// ValidateRoomName checks a join/leave room identifier.
func ValidateRoomName(room string) error {
	if room == "" || len(room) > MaxRoomNameLength {
		return ErrInvalidRoomName
	}
	if !utf8.ValidString(room) {
		return ErrInvalidEncoding
	}
	return nil
}
