// ABOUTME: ConsentManager orchestrates grant lifecycle: policy check, ledger write, audit append
// ABOUTME: Every state change is policy-gated beforehand and audited afterwards

package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/context-vault/internal/policy"
	"github.com/2389/context-vault/internal/store"
)

// ErrPolicyDenied is returned when the consent policy rejects an action.
// No ledger write and no audit entry happen for denied actions.
var ErrPolicyDenied = errors.New("policy denied")

// consentPolicy is the policy name every grant/revoke decision is
// evaluated against.
const consentPolicy = "consent"

// GrantInput describes an access grant to be created.
type GrantInput struct {
	UserID    string
	ClientID  string
	Scopes    []string
	Domains   []string
	ExpiresAt *time.Time // nil = never expires
}

// Manager coordinates the consent ledger, the policy evaluator, and the
// audit trail. Grants move absent -> active -> absent; expiry is a derived
// read-time property, never a transition.
type Manager struct {
	ledger    store.ConsentLedger
	evaluator policy.Evaluator
	logger    *slog.Logger
}

// NewManager creates a consent manager over the given ledger and evaluator.
func NewManager(ledger store.ConsentLedger, evaluator policy.Evaluator) *Manager {
	return &Manager{
		ledger:    ledger,
		evaluator: evaluator,
		logger:    slog.Default().With("component", "consent"),
	}
}

// GrantAccess creates an access grant after the consent policy allows it.
// The grant insert and its audit entry are written atomically; if the audit
// append fails, the grant is not created.
func (m *Manager) GrantAccess(ctx context.Context, input GrantInput) (*store.AccessGrant, error) {
	allowed, err := m.evaluator.Evaluate(ctx, consentPolicy, policy.GrantRequest{
		UserID:  input.UserID,
		Client:  input.ClientID,
		Domains: input.Domains,
		Scopes:  input.Scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating grant policy: %w", err)
	}
	if !allowed {
		m.logger.Info("grant denied by policy", "user", input.UserID, "client", input.ClientID)
		return nil, fmt.Errorf("%w: grant for client %q", ErrPolicyDenied, input.ClientID)
	}

	// The audit entry must name the grant it records, so the ID is
	// generated here rather than by the ledger insert.
	grant := &store.AccessGrant{
		ID:        uuid.New().String(),
		UserID:    input.UserID,
		ClientID:  input.ClientID,
		Scopes:    input.Scopes,
		Domains:   input.Domains,
		ExpiresAt: input.ExpiresAt,
	}

	var expiresAt any
	if input.ExpiresAt != nil {
		expiresAt = input.ExpiresAt.UTC().Format(time.RFC3339)
	}
	entry := &store.AuditEntry{
		UserID:   input.UserID,
		ClientID: input.ClientID,
		Action:   store.AuditGrant,
		Details: map[string]any{
			"grant_id":   grant.ID,
			"scopes":     grant.Scopes,
			"domains":    grant.Domains,
			"expires_at": expiresAt,
		},
	}

	if err := m.ledger.CreateGrantWithAudit(ctx, grant, entry); err != nil {
		return nil, fmt.Errorf("creating grant: %w", err)
	}

	m.logger.Info("access granted",
		"grant", grant.ID,
		"user", grant.UserID,
		"client", grant.ClientID,
		"domains", grant.Domains,
		"scopes", grant.Scopes,
	)
	return grant, nil
}

// GetActiveGrants returns the user's unexpired grants.
func (m *Manager) GetActiveGrants(ctx context.Context, userID string) ([]*store.AccessGrant, error) {
	return m.ledger.ListActiveGrants(ctx, userID)
}

// RevokeAccess revokes a grant owned by the user. Revoking a grant that is
// not currently active (absent, expired, or owned by someone else) returns
// false without evaluating policy or writing an audit entry.
func (m *Manager) RevokeAccess(ctx context.Context, grantID, userID, clientID string) (bool, error) {
	active, err := m.ledger.ListActiveGrants(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("listing active grants: %w", err)
	}

	var grant *store.AccessGrant
	for _, g := range active {
		if g.ID == grantID {
			grant = g
			break
		}
	}
	if grant == nil {
		return false, nil
	}

	allowed, err := m.evaluator.Evaluate(ctx, consentPolicy, policy.RevokeRequest{
		UserID:  userID,
		Client:  clientID,
		GrantID: grantID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating revoke policy: %w", err)
	}
	if !allowed {
		m.logger.Info("revoke denied by policy", "grant", grantID, "user", userID)
		return false, fmt.Errorf("%w: revoke of grant %q", ErrPolicyDenied, grantID)
	}

	entry := &store.AuditEntry{
		UserID:   userID,
		ClientID: clientID,
		Action:   store.AuditRevoke,
		Details: map[string]any{
			"grant_id": grantID,
			"scopes":   grant.Scopes,
			"domains":  grant.Domains,
		},
	}

	removed, err := m.ledger.DeleteGrantWithAudit(ctx, grantID, entry)
	if err != nil {
		return false, fmt.Errorf("revoking grant: %w", err)
	}

	if removed {
		m.logger.Info("access revoked", "grant", grantID, "user", userID, "client", clientID)
	}
	return removed, nil
}

// CheckAccess reports whether an active, unexpired grant lets the client
// touch the domain with the required scope. Successful checks append an
// audit entry; failed checks do not.
func (m *Manager) CheckAccess(ctx context.Context, userID, clientID, domain, scope string) (bool, error) {
	hasAccess, err := m.ledger.HasActiveGrant(ctx, userID, clientID, domain, scope)
	if err != nil {
		return false, fmt.Errorf("checking access: %w", err)
	}
	if !hasAccess {
		return false, nil
	}

	entry := &store.AuditEntry{
		UserID:   userID,
		ClientID: clientID,
		Action:   store.AuditAccess,
		Details: map[string]any{
			"domain":  domain,
			"scope":   scope,
			"success": true,
		},
	}
	if err := m.ledger.AppendAuditLog(ctx, entry); err != nil {
		return false, fmt.Errorf("auditing access: %w", err)
	}

	return true, nil
}

// GetAuditLogs returns the user's audit entries, newest first.
// Limit defaults to 50; offset defaults to 0.
func (m *Manager) GetAuditLogs(ctx context.Context, userID string, limit, offset int) ([]*store.AuditEntry, error) {
	return m.ledger.ListAuditLog(ctx, userID, limit, offset)
}
