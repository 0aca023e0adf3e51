package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tutorhub/pkg/interfaces"
	storecfg "tutorhub/pkg/store"
	"tutorhub/pkg/types"
)

// Store implements the ConversationStore interface on SQLite.
// All writes are funneled through a single goroutine; reads run
// concurrently against the WAL. Consistency across turn controllers
// comes from row constraints (the assistant dedup index, the unique
// student conversation) and atomic updates, never from caller locks.
type Store struct {
	db           *sql.DB
	config       *storecfg.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one queued write and its completion channel.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// New opens the database, applies pragmas, and starts the write loop.
func New(config *storecfg.Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := storecfg.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all write operations in a single goroutine.
// Transient failures are retried exactly once after retryDelay; domain
// errors (unknown identity, missing conversation) are final.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil && !isDomainError(err) {
				log.Printf("store: write failed, retrying in %s: %v", s.retryDelay, err)
				time.Sleep(s.retryDelay)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("store: write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, interfaces.ErrUnknownIdentity) ||
		errors.Is(err, interfaces.ErrConversationNotFound) ||
		errors.Is(err, interfaces.ErrNoActiveTopic)
}

// executeWrite queues a write operation and waits for completion.
func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}

	// Close may win the race between enqueue and dequeue; the write
	// loop has exited then and nothing will ever answer on result.
	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// EnsureConversation returns the student's standing conversation id,
// creating it if necessary. Re-entry refreshes teacher, topic, and
// updated_at on the existing row; the UNIQUE(student_id) constraint is
// what makes concurrent first connections collapse to one row.
func (s *Store) EnsureConversation(ctx context.Context, studentID, teacherID, topic string) (string, error) {
	newID := uuid.New().String()

	err := s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO conversations (id, student_id, teacher_id, topic)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(student_id) DO UPDATE SET
				teacher_id = excluded.teacher_id,
				topic      = excluded.topic,
				updated_at = CURRENT_TIMESTAMP
		`, newID, studentID, teacherID, topic)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to ensure conversation: %w", err)
	}

	// The upsert guarantees a row exists; read back whichever id won.
	var id string
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM conversations WHERE student_id = ?", studentID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to look up conversation: %w", err)
	}
	return id, nil
}

// GetConversation retrieves conversation metadata by id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var conv types.Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, teacher_id, topic, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, conversationID).Scan(
		&conv.ID, &conv.StudentID, &conv.TeacherID, &conv.Topic,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage appends one message row. Assistant rows insert with
// OR IGNORE against the (conversation_id, question_hash) unique index:
// a duplicate reply is absorbed and reported as stored=false. User and
// system rows carry no dedup constraint and insert plainly.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content, questionHash string) (bool, error) {
	if !types.IsValidMessageRole(role) {
		return false, fmt.Errorf("invalid message role %q", role)
	}

	query := `
		INSERT INTO messages (conversation_id, role, content, question_hash)
		VALUES (?, ?, ?, ?)
	`
	if role == types.MessageRoleAssistant {
		query = `
			INSERT OR IGNORE INTO messages (conversation_id, role, content, question_hash)
			VALUES (?, ?, ?, ?)
		`
	}

	var hash any
	if questionHash != "" {
		hash = questionHash
	}

	var stored bool
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, conversationID, role, content, hash)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		stored = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}
	return stored, nil
}

// RecentMessages returns up to limit most recent messages for the
// conversation, chronologically ordered for window reconstruction.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.ChatMessage
	for rows.Next() {
		var m types.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	// Newest-first from the query; callers want chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// IncrementPoints atomically adds delta to the score ledger and returns
// the new total. Single update-and-return, never read-then-write, so
// concurrent turns across conversations cannot lose updates.
func (s *Store) IncrementPoints(ctx context.Context, email string, delta int) (int, error) {
	var total int
	err := s.executeWrite(func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, `
			UPDATE users
			SET points = points + ?
			WHERE email = ?
			RETURNING points
		`, delta, email).Scan(&total)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrUnknownIdentity
		}
		return err
	})
	if err != nil {
		if isDomainError(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to increment points: %w", err)
	}
	return total, nil
}

// GetUserByEmail looks up a stored identity.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.Identity, error) {
	var id types.Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT email, display_name, role, points, created_at
		FROM users
		WHERE email = ?
	`, email).Scan(&id.Email, &id.DisplayName, &id.Role, &id.Points, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUnknownIdentity
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &id, nil
}

// ResolveToken maps a session token to the email it was minted for.
func (s *Store) ResolveToken(ctx context.Context, token string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx,
		"SELECT email FROM session_tokens WHERE token = ?", token,
	).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", interfaces.ErrUnknownIdentity
		}
		return "", fmt.Errorf("failed to resolve token: %w", err)
	}
	return email, nil
}

// ActiveTopic returns the standing teaching topic and the teacher who
// set it. The earliest-enrolled teacher with a topic wins, matching the
// one-active-teacher design.
func (s *Store) ActiveTopic(ctx context.Context) (string, string, error) {
	var topic, email string
	err := s.db.QueryRowContext(ctx, `
		SELECT topic, email
		FROM users
		WHERE role = 'teacher' AND topic IS NOT NULL AND TRIM(topic) != ''
		ORDER BY created_at ASC, email ASC
		LIMIT 1
	`).Scan(&topic, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", interfaces.ErrNoActiveTopic
		}
		return "", "", fmt.Errorf("failed to query active topic: %w", err)
	}
	return topic, email, nil
}

// Leaderboard returns students ordered by points, highest first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]types.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, display_name, role, points, created_at
		FROM users
		WHERE role = 'student'
		ORDER BY points DESC, display_name ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var students []types.Identity
	for rows.Next() {
		var id types.Identity
		if err := rows.Scan(&id.Email, &id.DisplayName, &id.Role, &id.Points, &id.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		students = append(students, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard rows: %w", err)
	}
	return students, nil
}

// CreateUser inserts an identity record if none exists for the email.
// Enrollment is owned by the external identity flow; this exists for
// seeding and tests.
func (s *Store) CreateUser(ctx context.Context, email, displayName, role string) error {
	if !types.IsValidRole(role) {
		return types.ErrInvalidRole
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO users (email, display_name, role)
			VALUES (?, ?, ?)
		`, email, displayName, role)
		return err
	})
}

// PutSessionToken records a minted session token for an identity.
func (s *Store) PutSessionToken(ctx context.Context, token, email string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR REPLACE INTO session_tokens (token, email)
			VALUES (?, ?)
		`, token, email)
		return err
	})
}

// SetTopic updates a teacher's standing topic.
func (s *Store) SetTopic(ctx context.Context, email, topic string) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE users SET topic = ? WHERE email = ? AND role = 'teacher'", topic, email)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return interfaces.ErrUnknownIdentity
		}
		return nil
	})
}

// HealthCheck validates database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying connection pool for migrations and schema
// validation.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close shuts down the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
