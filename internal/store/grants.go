// ABOUTME: AccessGrant store methods: creation, active-grant queries, revocation
// ABOUTME: Scope and domain sets are stored as JSON arrays; expiry is evaluated at read time

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// execer is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting grant and audit writes run standalone or inside one transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertGrant writes a grant row. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) insertGrant(ctx context.Context, q execer, grant *AccessGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}

	scopesJSON, err := json.Marshal(emptyIfNilSlice(grant.Scopes))
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}
	domainsJSON, err := json.Marshal(emptyIfNilSlice(grant.Domains))
	if err != nil {
		return fmt.Errorf("marshaling domains: %w", err)
	}

	var expiresAt *string
	if grant.ExpiresAt != nil {
		str := grant.ExpiresAt.UTC().Format(time.RFC3339)
		expiresAt = &str
	}

	query := `
		INSERT INTO access_grants (grant_id, user_id, client_id, scopes_json, domains_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, query,
		grant.ID,
		grant.UserID,
		grant.ClientID,
		string(scopesJSON),
		string(domainsJSON),
		expiresAt,
		grant.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("grant %q already exists", grant.ID)
		}
		return fmt.Errorf("inserting grant: %w", err)
	}

	s.logger.Debug("created grant", "id", grant.ID, "user", grant.UserID, "client", grant.ClientID)
	return nil
}

// CreateGrantWithAudit inserts a grant and its audit entry atomically.
// If the audit append fails the grant insert is rolled back, so a grant
// never exists without its audit record.
func (s *SQLiteStore) CreateGrantWithAudit(ctx context.Context, grant *AccessGrant, entry *AuditEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertGrant(ctx, tx, grant); err != nil {
			return err
		}
		return s.insertAuditEntry(ctx, tx, entry)
	})
}

// GetGrant retrieves a grant row by ID regardless of expiry.
// Returns ErrNotFound if the grant doesn't exist.
func (s *SQLiteStore) GetGrant(ctx context.Context, id string) (*AccessGrant, error) {
	query := `
		SELECT grant_id, user_id, client_id, scopes_json, domains_json, expires_at, created_at
		FROM access_grants
		WHERE grant_id = ?
	`
	return scanGrant(s.db.QueryRowContext(ctx, query, id))
}

// ListActiveGrants returns the user's grants that have no expiry or whose
// expiry is in the future, newest first.
func (s *SQLiteStore) ListActiveGrants(ctx context.Context, userID string) ([]*AccessGrant, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		SELECT grant_id, user_id, client_id, scopes_json, domains_json, expires_at, created_at
		FROM access_grants
		WHERE user_id = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("querying active grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var grants []*AccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grant rows: %w", err)
	}
	return grants, nil
}

// DeleteGrantWithAudit removes a grant and, if a row was actually removed,
// appends the audit entry in the same transaction. Returns whether a row
// was removed; absent grants are not an error.
func (s *SQLiteStore) DeleteGrantWithAudit(ctx context.Context, grantID string, entry *AuditEntry) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM access_grants WHERE grant_id = ?`, grantID)
		if err != nil {
			return fmt.Errorf("deleting grant: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		removed = rowsAffected > 0
		if !removed {
			return nil
		}
		return s.insertAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.logger.Debug("deleted grant", "id", grantID)
	}
	return removed, nil
}

// HasActiveGrant reports whether any active, unexpired grant for
// (user, client) covers both the domain and the scope.
func (s *SQLiteStore) HasActiveGrant(ctx context.Context, userID, clientID, domain, scope string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		SELECT COUNT(*)
		FROM access_grants
		WHERE user_id = ?
		  AND client_id = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND EXISTS (SELECT 1 FROM json_each(access_grants.domains_json) AS d WHERE d.value = ?)
		  AND EXISTS (SELECT 1 FROM json_each(access_grants.scopes_json) AS sc WHERE sc.value = ?)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, clientID, now, domain, scope).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying grant membership: %w", err)
	}
	return count > 0, nil
}

// scanGrant scans a row into an AccessGrant.
func scanGrant(scanner interface{ Scan(dest ...any) error }) (*AccessGrant, error) {
	var grant AccessGrant
	var scopesJSON, domainsJSON, createdAtStr string
	var expiresAtStr sql.NullString

	err := scanner.Scan(
		&grant.ID,
		&grant.UserID,
		&grant.ClientID,
		&scopesJSON,
		&domainsJSON,
		&expiresAtStr,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning grant row: %w", err)
	}

	if err := json.Unmarshal([]byte(scopesJSON), &grant.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(domainsJSON), &grant.Domains); err != nil {
		return nil, fmt.Errorf("unmarshaling domains: %w", err)
	}

	grant.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if expiresAtStr.Valid {
		t, err := time.Parse(time.RFC3339, expiresAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		grant.ExpiresAt = &t
	}

	return &grant, nil
}

// emptyIfNilSlice keeps JSON columns as [] rather than null.
func emptyIfNilSlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
