package types

import (
	"time"
)

// Identity roles issued by the external identity provider.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Message roles used in conversation history and completion prompts.
const (
	MessageRoleSystem    = "system"
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Identity is an already-authenticated user recovered from the shared
// session store. The engine consumes identities; it never creates them.
type Identity struct {
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name"`
	Points      int       `json:"points"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation pairs one student with the standing teacher topic.
// At most one conversation exists per student; the row is refreshed
// (topic, updated_at) on every session re-entry and never hard-deleted.
type Conversation struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	TeacherID string    `json:"teacher_id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is a single prompt entry: one role plus its content.
// The JSON shape matches the chat-completions wire format so a prompt
// window can be submitted to the completion service without conversion.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is one append-only row of a conversation's message log.
// QuestionHash is set only on assistant rows and backs the
// (conversation_id, question_hash) idempotent-insert constraint.
type StoredMessage struct {
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	QuestionHash   string    `json:"question_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CompletionResult is the parsed outcome of one completion call.
// Points is already coerced and clamped to the valid scoring range.
type CompletionResult struct {
	Reply  string `json:"reply"`
	Points int    `json:"points"`
}
