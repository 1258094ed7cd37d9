// ABOUTME: SQLite implementation of the ConsentLedger interface using modernc.org/sqlite
// ABOUTME: Provides grant/audit persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the ConsentLedger interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS access_grants (
			grant_id     TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			client_id    TEXT NOT NULL,
			scopes_json  TEXT NOT NULL,
			domains_json TEXT NOT NULL,
			expires_at   TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_access_grants_user ON access_grants(user_id);
		CREATE INDEX IF NOT EXISTS idx_access_grants_client ON access_grants(client_id);
		CREATE INDEX IF NOT EXISTS idx_access_grants_expires ON access_grants(expires_at)
			WHERE expires_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS consent_audit_log (
			audit_id     TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			client_id    TEXT NOT NULL,
			action       TEXT NOT NULL,
			details_json TEXT,
			ts           TEXT NOT NULL,

			CHECK (action IN ('grant', 'revoke', 'access'))
		);

		CREATE INDEX IF NOT EXISTS idx_consent_audit_user ON consent_audit_log(user_id);
		CREATE INDEX IF NOT EXISTS idx_consent_audit_ts ON consent_audit_log(ts DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Ensure SQLiteStore implements ConsentLedger interface
var _ ConsentLedger = (*SQLiteStore)(nil)
