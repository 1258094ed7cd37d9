// ABOUTME: Authorized read path over the unit store, gated by consent checks
// ABOUTME: Makes the store/consent coupling an explicit seam instead of an implicit caller duty

package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/context-vault/internal/vault"
)

// ErrAccessDenied is returned when no active grant covers a third-party
// read. Failed checks are not audited; only successful accesses reach the
// audit trail.
var ErrAccessDenied = errors.New("access denied")

// Scope constants for grant capability strings.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// UnitReader is the unit-store surface the guard mediates.
type UnitReader interface {
	Get(ctx context.Context, id string) (*vault.Unit, error)
	ReadWithContent(ctx context.Context, id string) (*vault.Unit, []byte, error)
	Search(ctx context.Context, ownerID, query, domain string, limit int) ([]*vault.Unit, error)
	ByDomain(ctx context.Context, ownerID, domain string, limit int) ([]*vault.Unit, error)
}

// AccessChecker decides whether a client may touch a domain of a user's
// data. Satisfied by the consent manager.
type AccessChecker interface {
	CheckAccess(ctx context.Context, userID, clientID, domain, scope string) (bool, error)
}

// Guard wraps a unit reader with consent checks. Owners reading their own
// data bypass the check; every other caller needs an active grant covering
// the unit's domain with the read scope.
type Guard struct {
	units   UnitReader
	consent AccessChecker
	logger  *slog.Logger
}

// NewGuard creates a guard over the given unit reader and access checker.
func NewGuard(units UnitReader, consent AccessChecker) *Guard {
	return &Guard{
		units:   units,
		consent: consent,
		logger:  slog.Default().With("component", "authz"),
	}
}

// ReadUnit returns a unit with decrypted content if the calling client is
// the owner or holds an active read grant for the unit's domain. Returns
// (nil, nil, nil) when the unit is absent; authorization is only evaluated
// for units that exist.
func (g *Guard) ReadUnit(ctx context.Context, clientID, unitID string) (*vault.Unit, []byte, error) {
	unit, err := g.units.Get(ctx, unitID)
	if err != nil {
		return nil, nil, err
	}
	if unit == nil {
		return nil, nil, nil
	}

	if err := g.authorize(ctx, clientID, unit.OwnerID, unit.Domain); err != nil {
		return nil, nil, err
	}

	return g.units.ReadWithContent(ctx, unitID)
}

// SearchUnits runs a consent-gated search over an owner's units. Third
// parties must name a domain; a search across all domains would bypass
// the per-domain grant model.
func (g *Guard) SearchUnits(ctx context.Context, clientID, ownerID, query, domain string, limit int) ([]*vault.Unit, error) {
	if clientID != ownerID && domain == "" {
		return nil, fmt.Errorf("%w: cross-party search requires a domain", ErrAccessDenied)
	}
	if err := g.authorize(ctx, clientID, ownerID, domain); err != nil {
		return nil, err
	}
	return g.units.Search(ctx, ownerID, query, domain, limit)
}

// UnitsByDomain lists an owner's units in one domain, consent-gated for
// third parties.
func (g *Guard) UnitsByDomain(ctx context.Context, clientID, ownerID, domain string, limit int) ([]*vault.Unit, error) {
	if err := g.authorize(ctx, clientID, ownerID, domain); err != nil {
		return nil, err
	}
	return g.units.ByDomain(ctx, ownerID, domain, limit)
}

func (g *Guard) authorize(ctx context.Context, clientID, ownerID, domain string) error {
	if clientID == ownerID {
		return nil
	}

	allowed, err := g.consent.CheckAccess(ctx, ownerID, clientID, domain, ScopeRead)
	if err != nil {
		return fmt.Errorf("checking access: %w", err)
	}
	if !allowed {
		g.logger.Info("access denied", "owner", ownerID, "client", clientID, "domain", domain)
		return fmt.Errorf("%w: client %q has no read grant for domain %q", ErrAccessDenied, clientID, domain)
	}
	return nil
}
