package store

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies the database matches the expected structure.
// Used by deployment checks and tests without coupling to the migration
// machinery itself.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a schema validator for db.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"users":             "identity and score ledger",
		"session_tokens":    "shared session store",
		"conversations":     "conversation metadata",
		"messages":          "append-only message log",
		"schema_migrations": "migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateIndexes verifies the dedup constraint and lookup indexes exist.
// idx_messages_dedup is load-bearing: it is the idempotent-insert
// guarantee for assistant rows, not a performance hint.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_dedup":             "assistant reply deduplication",
		"idx_messages_conversation_time": "window reconstruction",
		"idx_users_role":                 "active topic and leaderboard queries",
		"idx_session_tokens_email":       "session lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
