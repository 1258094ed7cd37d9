// ABOUTME: Store interface and data types for context-vault consent persistence
// ABOUTME: Defines AccessGrant, AuditEntry and the ledger interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AuditAction represents a consent-relevant auditable action.
type AuditAction string

const (
	AuditGrant  AuditAction = "grant"
	AuditRevoke AuditAction = "revoke"
	AuditAccess AuditAction = "access"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditGrant,
	AuditRevoke,
	AuditAccess,
}

// AccessGrant represents a user's authorization for a client to touch a
// set of context domains with a set of scopes. Grants are immutable after
// creation; the update path is revoke-and-recreate.
type AccessGrant struct {
	ID        string
	UserID    string
	ClientID  string
	Scopes    []string
	Domains   []string
	ExpiresAt *time.Time // nil = never expires
	CreatedAt time.Time
}

// Expired reports whether the grant's expiry, if any, has passed.
// Expiry is a read-time property: expired rows stay in the ledger until
// revoked and are simply never returned by the active-grant queries.
func (g *AccessGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// AuditEntry represents a single consent audit log entry.
// The audit log is append-only: no update or delete methods exist.
type AuditEntry struct {
	ID        string
	UserID    string
	ClientID  string
	Action    AuditAction
	Details   map[string]any
	Timestamp time.Time
}

// ConsentLedger defines the row-store operations the consent manager needs.
// Grant mutations that must be audited run the ledger write and the audit
// append inside a single transaction.
type ConsentLedger interface {
	// Grants
	CreateGrantWithAudit(ctx context.Context, grant *AccessGrant, entry *AuditEntry) error
	GetGrant(ctx context.Context, id string) (*AccessGrant, error)
	ListActiveGrants(ctx context.Context, userID string) ([]*AccessGrant, error)
	DeleteGrantWithAudit(ctx context.Context, grantID string, entry *AuditEntry) (bool, error)
	HasActiveGrant(ctx context.Context, userID, clientID, domain, scope string) (bool, error)

	// Audit trail
	AppendAuditLog(ctx context.Context, entry *AuditEntry) error
	ListAuditLog(ctx context.Context, userID string, limit, offset int) ([]*AuditEntry, error)

	// Close releases any resources held by the ledger
	Close() error
}
