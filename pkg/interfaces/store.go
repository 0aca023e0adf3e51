package interfaces

import (
	"context"

	"tutorhub/pkg/types"
)

// ConversationStore is the durable record of identities, conversations,
// and the append-only message log. It is shared infrastructure: every
// turn controller touches it concurrently, so all write operations must
// be safe under concurrent invocation via row constraints and atomic
// updates rather than caller-side locks.
type ConversationStore interface {
	// EnsureConversation returns the student's standing conversation id,
	// creating the row if none exists and refreshing teacher/topic/updated_at
	// if one does.
	EnsureConversation(ctx context.Context, studentID, teacherID, topic string) (string, error)

	// AppendMessage appends one message row. Assistant rows are keyed by
	// (conversationID, questionHash): a duplicate insert is silently
	// absorbed and reported as stored=false, never as an error.
	AppendMessage(ctx context.Context, conversationID, role, content, questionHash string) (stored bool, err error)

	// RecentMessages returns up to limit most recent messages for the
	// conversation in chronological order, for window reconstruction.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.ChatMessage, error)

	// IncrementPoints atomically adds delta to the identity's score ledger
	// and returns the new total. Unknown emails yield ErrUnknownIdentity.
	IncrementPoints(ctx context.Context, email string, delta int) (int, error)

	// GetUserByEmail looks up a stored identity.
	GetUserByEmail(ctx context.Context, email string) (*types.Identity, error)

	// ResolveToken maps an opaque session token to the identity email it
	// was minted for. Unknown tokens yield ErrUnknownIdentity.
	ResolveToken(ctx context.Context, token string) (string, error)

	// ActiveTopic returns the current teaching topic and the email of the
	// teacher who set it. ErrNoActiveTopic when no teacher has set one.
	ActiveTopic(ctx context.Context) (topic string, teacherEmail string, err error)

	// SetTopic records the teacher's standing topic. Non-teacher emails
	// yield ErrUnknownIdentity.
	SetTopic(ctx context.Context, email, topic string) error

	// Leaderboard returns students ordered by points, highest first.
	Leaderboard(ctx context.Context, limit int) ([]types.Identity, error)

	// HealthCheck validates store connectivity.
	HealthCheck(ctx context.Context) error
}
