// ABOUTME: ContextUnitStore: encrypted CRUD and search over context units
// ABOUTME: Encrypts via CipherBox, persists via the item-store collaborator, enforces optimistic concurrency

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/context-vault/internal/crypt"
	"github.com/2389/context-vault/internal/mem0"
)

// ErrVersionConflict is returned when an update presents a stale version.
// The stored unit is left untouched.
var ErrVersionConflict = errors.New("version conflict")

// ErrDecryption is returned when stored content fails to decrypt. It wraps
// the underlying CipherBox failure and must surface to the caller rather
// than degrade into an empty result.
var ErrDecryption = errors.New("decryption failed")

// defaultListLimit bounds search and domain listings when the caller
// passes no limit.
const defaultListLimit = 50

// ItemStore is the remote item-store collaborator the unit store persists
// through. *mem0.Client implements it; tests substitute fakes.
type ItemStore interface {
	CreateItem(ctx context.Context, item *mem0.Item) (*mem0.Item, error)
	GetItem(ctx context.Context, id string) (*mem0.Item, error)
	UpdateItem(ctx context.Context, id string, fields map[string]any) (*mem0.Item, error)
	DeleteItem(ctx context.Context, id string) (bool, error)
	SearchItems(ctx context.Context, userID, query, domain string, limit int) ([]*mem0.Item, error)
	ListByDomain(ctx context.Context, userID, domain string, limit int) ([]*mem0.Item, error)
}

// Store manages encrypted context units. It performs no authorization
// checks of its own; callers gate cross-party access through the consent
// manager (see the authz package).
type Store struct {
	items  ItemStore
	box    *crypt.CipherBox
	logger *slog.Logger
}

// NewStore creates a unit store over the given collaborator and cipher box.
func NewStore(items ItemStore, box *crypt.CipherBox) *Store {
	return &Store{
		items:  items,
		box:    box,
		logger: slog.Default().With("component", "vault"),
	}
}

// Create encrypts the input content under the owner's key and persists a
// new unit at version 1. The returned unit carries encrypted content;
// callers needing plaintext use ReadWithContent.
func (s *Store) Create(ctx context.Context, input CreateInput) (*Unit, error) {
	encrypted, err := s.box.Encrypt(input.OwnerID, input.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypting content: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	item := &mem0.Item{
		ID:          uuid.New().String(),
		UserID:      input.OwnerID,
		Domain:      input.Domain,
		ContentType: input.ContentType,
		Embedding:   input.Vector,
		Metadata:    input.Metadata,
		Content:     encrypted,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	stored, err := s.items.CreateItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("storing unit: %w", err)
	}

	unit, err := unitFromItem(stored)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created unit", "id", unit.ID, "owner", unit.OwnerID, "domain", unit.Domain)
	return unit, nil
}

// Get fetches a unit by ID. Returns (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*Unit, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching unit: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	return unitFromItem(item)
}

// ReadWithContent fetches a unit and decrypts its content under the
// owner's key. Returns (nil, nil, nil) when absent. A blob that fails
// verification surfaces as ErrDecryption.
func (s *Store) ReadWithContent(ctx context.Context, id string) (*Unit, []byte, error) {
	unit, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if unit == nil {
		return nil, nil, nil
	}

	plaintext, err := s.box.Decrypt(unit.OwnerID, unit.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unit %s: %s", ErrDecryption, id, err)
	}
	return unit, plaintext, nil
}

// Update applies a patch to a unit. The caller must present the stored
// version; a stale version fails with ErrVersionConflict and mutates
// nothing. On success the version increments by 1 and updated_at
// refreshes, regardless of which fields changed.
func (s *Store) Update(ctx context.Context, id string, patch Patch, currentVersion int) (*Unit, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching unit: %w", err)
	}
	if item == nil {
		return nil, nil
	}

	if item.Version != currentVersion {
		return nil, fmt.Errorf("%w: unit %s is at version %d, caller presented %d",
			ErrVersionConflict, id, item.Version, currentVersion)
	}

	fields := map[string]any{
		"version":    item.Version + 1,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if patch.Domain != nil {
		fields["domain"] = *patch.Domain
	}
	if patch.ContentType != nil {
		fields["content_type"] = *patch.ContentType
	}
	if patch.Vector != nil {
		fields["embedding"] = patch.Vector
	}
	if patch.Metadata != nil {
		fields["metadata"] = patch.Metadata
	}
	if patch.Content != nil {
		// Re-encrypt under the owner's key, never a derived one.
		encrypted, err := s.box.Encrypt(item.UserID, patch.Content)
		if err != nil {
			return nil, fmt.Errorf("encrypting content: %w", err)
		}
		fields["content"] = encrypted
	}

	updated, err := s.items.UpdateItem(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("updating unit: %w", err)
	}

	unit, err := unitFromItem(updated)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("updated unit", "id", id, "version", unit.Version)
	return unit, nil
}

// Delete removes a unit permanently. Returns true if a unit existed and
// was removed; absent units are not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := s.items.DeleteItem(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting unit: %w", err)
	}
	if removed {
		s.logger.Debug("deleted unit", "id", id)
	}
	return removed, nil
}

// Search finds an owner's units matching a text query, optionally scoped
// to a domain. Match semantics belong to the collaborator.
func (s *Store) Search(ctx context.Context, ownerID, query, domain string, limit int) ([]*Unit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	items, err := s.items.SearchItems(ctx, ownerID, query, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("searching units: %w", err)
	}
	return unitsFromItems(items)
}

// ByDomain returns an owner's units within one domain.
func (s *Store) ByDomain(ctx context.Context, ownerID, domain string, limit int) ([]*Unit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	items, err := s.items.ListByDomain(ctx, ownerID, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	return unitsFromItems(items)
}

// Ensure the mem0 client satisfies the collaborator interface.
var _ ItemStore = (*mem0.Client)(nil)
