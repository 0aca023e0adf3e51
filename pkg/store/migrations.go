package store

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are embedded in the binary so a deployment never depends on
// a migrations directory being shipped alongside it. Append-only: never
// edit an applied migration, add a new version.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				email        TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				role         TEXT NOT NULL CHECK (role IN ('student', 'teacher')),
				points       INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
				topic        TEXT,
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS session_tokens (
				token      TEXT PRIMARY KEY,
				email      TEXT NOT NULL REFERENCES users(email),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS conversations (
				id         TEXT PRIMARY KEY,
				student_id TEXT NOT NULL UNIQUE,
				teacher_id TEXT NOT NULL,
				topic      TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS messages (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				role            TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
				content         TEXT NOT NULL,
				question_hash   TEXT,
				created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_dedup
				ON messages(conversation_id, question_hash) WHERE role = 'assistant';
			CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
				ON messages(conversation_id, id);
			CREATE INDEX IF NOT EXISTS idx_users_role
				ON users(role, created_at);
			CREATE INDEX IF NOT EXISTS idx_session_tokens_email
				ON session_tokens(email);
		`,
	},
}

// MigrationManager applies embedded migrations in version order.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a migration manager for db.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations, each inside its own
// transaction so a failure leaves the schema at a known version.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
