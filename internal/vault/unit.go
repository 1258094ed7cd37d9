// ABOUTME: ContextUnit data model and conversions to the item-store wire format
// ABOUTME: Units are versioned, per-owner encrypted records partitioned by domain

package vault

import (
	"fmt"
	"time"

	"github.com/2389/context-vault/internal/mem0"
)

// Unit is one encrypted, versioned record of user data under a domain.
// Content holds the encrypted blob; metadata is unencrypted and used for
// filtering. OwnerID is immutable after creation. Version starts at 1 and
// increments by exactly 1 on every successful update.
type Unit struct {
	ID          string
	OwnerID     string
	Domain      string
	ContentType string
	Vector      []float32
	Metadata    map[string]any
	Content     []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
}

// CreateInput describes a new context unit. Content is plaintext; the
// store encrypts it before anything leaves the process.
type CreateInput struct {
	OwnerID     string
	Domain      string
	ContentType string
	Vector      []float32
	Metadata    map[string]any
	Content     []byte
}

// Patch describes an update to an existing unit. Nil fields are left
// unchanged; set fields replace the stored value wholesale (no per-key
// metadata merge). Content, when set, is plaintext and re-encrypted.
type Patch struct {
	Domain      *string
	ContentType *string
	Vector      []float32
	Metadata    map[string]any
	Content     []byte
}

// unitFromItem converts an item-store record into a Unit.
func unitFromItem(item *mem0.Item) (*Unit, error) {
	createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &Unit{
		ID:          item.ID,
		OwnerID:     item.UserID,
		Domain:      item.Domain,
		ContentType: item.ContentType,
		Vector:      item.Embedding,
		Metadata:    item.Metadata,
		Content:     item.Content,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		Version:     item.Version,
	}, nil
}

func unitsFromItems(items []*mem0.Item) ([]*Unit, error) {
	units := make([]*Unit, 0, len(items))
	for _, item := range items {
		unit, err := unitFromItem(item)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}
