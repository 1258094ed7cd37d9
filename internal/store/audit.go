// ABOUTME: Append-only audit trail of consent decisions and data accesses
// ABOUTME: Records who granted, revoked, or accessed what; entries are never mutated or deleted

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// insertAuditEntry writes an audit row. Generates ID and Timestamp if not set.
func (s *SQLiteStore) insertAuditEntry(ctx context.Context, q execer, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailsJSON *string
	if e.Details != nil {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
		str := string(data)
		detailsJSON = &str
	}

	query := `
		INSERT INTO consent_audit_log (audit_id, user_id, client_id, action, details_json, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.ClientID,
		e.Action,
		detailsJSON,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"user", e.UserID,
		"client", e.ClientID,
		"action", e.Action,
	)
	return nil
}

// AppendAuditLog appends a new entry to the audit log.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	return s.insertAuditEntry(ctx, s.db, e)
}

// normalizeAuditLimit applies default (50) and cap (1000) to the audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListAuditLog returns a user's audit entries, newest first.
// Limit defaults to 50 (capped at 1000); negative offsets are treated as 0.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, userID string, limit, offset int) ([]*AuditEntry, error) {
	limit = normalizeAuditLimit(limit)
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT audit_id, user_id, client_id, action, details_json, ts
		FROM consent_audit_log
		WHERE user_id = ?
		ORDER BY ts DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var actionStr, tsStr string
		var detailsJSON *string

		if err := rows.Scan(&e.ID, &e.UserID, &e.ClientID, &actionStr, &detailsJSON, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = AuditAction(actionStr)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}

		if detailsJSON != nil {
			if err := json.Unmarshal([]byte(*detailsJSON), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling details: %w", err)
			}
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []*AuditEntry{}
	}
	return entries, nil
}
