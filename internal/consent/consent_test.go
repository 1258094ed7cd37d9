package consent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/context-vault/internal/policy"
	"github.com/2389/context-vault/internal/store"
)

func setupManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "consent.db")

	ledger, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	rules, err := policy.NewRuleSet()
	require.NoError(t, err)

	return NewManager(ledger, rules), ledger
}

// denyAll is an Evaluator that rejects everything.
type denyAll struct{}

func (denyAll) Evaluate(context.Context, string, policy.Request) (bool, error) {
	return false, nil
}

func TestManager_GrantAccess(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	grant, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:   "user-1",
		ClientID: "app1",
		Scopes:   []string{"read"},
		Domains:  []string{"travel"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ID)
	assert.Equal(t, "user-1", grant.UserID)

	entries, err := mgr.GetAuditLogs(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditGrant, entries[0].Action)
	assert.Equal(t, grant.ID, entries[0].Details["grant_id"])
}

func TestManager_GrantAccess_PolicyDenied(t *testing.T) {
	mgr, ledger := setupManager(t)
	ctx := context.Background()

	// The built-in consent policy denies grants without a user.
	_, err := mgr.GrantAccess(ctx, GrantInput{
		ClientID: "app1",
		Scopes:   []string{"read"},
		Domains:  []string{"travel"},
	})
	assert.ErrorIs(t, err, ErrPolicyDenied)

	// Denied actions leave no trace: no grant, no audit entry.
	grants, err := ledger.ListActiveGrants(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, grants)

	entries, err := ledger.ListAuditLog(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_RevokeAccess(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	grant, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:   "user-1",
		ClientID: "app1",
		Scopes:   []string{"read", "write"},
		Domains:  []string{"travel"},
	})
	require.NoError(t, err)

	removed, err := mgr.RevokeAccess(ctx, grant.ID, "user-1", "app1")
	require.NoError(t, err)
	assert.True(t, removed)

	grants, err := mgr.GetActiveGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, grants)

	entries, err := mgr.GetAuditLogs(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.AuditRevoke, entries[0].Action)
	assert.ElementsMatch(t, []any{"read", "write"}, entries[0].Details["scopes"])
}

func TestManager_RevokeAccess_NotActiveIsNoOp(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	removed, err := mgr.RevokeAccess(ctx, "nonexistent", "user-1", "app1")
	require.NoError(t, err)
	assert.False(t, removed)

	entries, err := mgr.GetAuditLogs(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "no-op revoke must not write an audit entry")
}

func TestManager_RevokeAccess_ForeignGrantIsNoOp(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	grant, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:   "user-1",
		ClientID: "app1",
		Scopes:   []string{"read"},
		Domains:  []string{"travel"},
	})
	require.NoError(t, err)

	// Another user cannot revoke user-1's grant.
	removed, err := mgr.RevokeAccess(ctx, grant.ID, "user-2", "app1")
	require.NoError(t, err)
	assert.False(t, removed)

	grants, err := mgr.GetActiveGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestManager_RevokeAccess_ExpiredGrantIsNoOp(t *testing.T) {
	mgr, ledger := setupManager(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	grant := &store.AccessGrant{
		UserID:    "user-1",
		ClientID:  "app1",
		Scopes:    []string{"read"},
		Domains:   []string{"travel"},
		ExpiresAt: &past,
	}
	require.NoError(t, ledger.CreateGrantWithAudit(ctx, grant, &store.AuditEntry{
		UserID:   "user-1",
		ClientID: "app1",
		Action:   store.AuditGrant,
	}))

	removed, err := mgr.RevokeAccess(ctx, grant.ID, "user-1", "app1")
	require.NoError(t, err)
	assert.False(t, removed, "expired grants are not active, so revoke is a no-op")
}

func TestManager_RevokeAccess_PolicyDenied(t *testing.T) {
	mgr, ledger := setupManager(t)
	ctx := context.Background()

	grant, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:   "user-1",
		ClientID: "app1",
		Scopes:   []string{"read"},
		Domains:  []string{"travel"},
	})
	require.NoError(t, err)

	denying := NewManager(ledger, denyAll{})
	_, err = denying.RevokeAccess(ctx, grant.ID, "user-1", "app1")
	assert.ErrorIs(t, err, ErrPolicyDenied)

	// The grant survives a denied revocation.
	grants, err := mgr.GetActiveGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestManager_CheckAccess_AuditsOnlySuccess(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:   "user-1",
		ClientID: "app1",
		Scopes:   []string{"read"},
		Domains:  []string{"travel"},
	})
	require.NoError(t, err)

	ok, err := mgr.CheckAccess(ctx, "user-1", "app1", "travel", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mgr.CheckAccess(ctx, "user-1", "app1", "shopping", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := mgr.GetAuditLogs(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	// One grant entry plus exactly one access entry; the failed check is
	// not recorded.
	require.Len(t, entries, 2)
	assert.Equal(t, store.AuditAccess, entries[0].Action)
	assert.Equal(t, "travel", entries[0].Details["domain"])
	assert.Equal(t, true, entries[0].Details["success"])
}

func TestManager_GrantExpiry(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	_, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:    "user-1",
		ClientID:  "app1",
		Scopes:    []string{"read"},
		Domains:   []string{"travel"},
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	grants, err := mgr.GetActiveGrants(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, grants, "expired grant must not appear as active")

	ok, err := mgr.CheckAccess(ctx, "user-1", "app1", "travel", "read")
	require.NoError(t, err)
	assert.False(t, ok, "expired grant must not satisfy access checks")
}

func TestManager_EndToEndScenario(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	grant, err := mgr.GrantAccess(ctx, GrantInput{
		UserID:   "user-U",
		ClientID: "app1",
		Scopes:   []string{"read"},
		Domains:  []string{"travel"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, grant.ID)

	ok, err := mgr.CheckAccess(ctx, "user-U", "app1", "travel", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mgr.CheckAccess(ctx, "user-U", "app1", "shopping", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := mgr.RevokeAccess(ctx, grant.ID, "user-U", "app1")
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err = mgr.CheckAccess(ctx, "user-U", "app1", "travel", "read")
	require.NoError(t, err)
	assert.False(t, ok, "revoked grant must not satisfy access checks")

	entries, err := mgr.GetAuditLogs(ctx, "user-U", 0, 0)
	require.NoError(t, err)
	// grant + one successful access + revoke
	require.Len(t, entries, 3)
	assert.Equal(t, store.AuditRevoke, entries[0].Action)
	assert.Equal(t, store.AuditAccess, entries[1].Action)
	assert.Equal(t, store.AuditGrant, entries[2].Action)
}
