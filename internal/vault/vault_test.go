package vault

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/context-vault/internal/crypt"
	"github.com/2389/context-vault/internal/mem0"
)

// fakeItemStore is an in-memory ItemStore that applies patches the way the
// remote collaborator would.
type fakeItemStore struct {
	items     map[string]*mem0.Item
	lastLimit int
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: make(map[string]*mem0.Item)}
}

func (f *fakeItemStore) CreateItem(_ context.Context, item *mem0.Item) (*mem0.Item, error) {
	stored := *item
	f.items[item.ID] = &stored
	return &stored, nil
}

func (f *fakeItemStore) GetItem(_ context.Context, id string) (*mem0.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (f *fakeItemStore) UpdateItem(_ context.Context, id string, fields map[string]any) (*mem0.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("updating item: mem0 returned 404 Not Found")
	}
	for key, value := range fields {
		switch key {
		case "domain":
			item.Domain = value.(string)
		case "content_type":
			item.ContentType = value.(string)
		case "embedding":
			item.Embedding = value.([]float32)
		case "metadata":
			item.Metadata = value.(map[string]any)
		case "content":
			item.Content = value.([]byte)
		case "version":
			item.Version = value.(int)
		case "updated_at":
			item.UpdatedAt = value.(string)
		}
	}
	copied := *item
	return &copied, nil
}

func (f *fakeItemStore) DeleteItem(_ context.Context, id string) (bool, error) {
	if _, ok := f.items[id]; !ok {
		return false, nil
	}
	delete(f.items, id)
	return true, nil
}

func (f *fakeItemStore) SearchItems(_ context.Context, userID, query, domain string, limit int) ([]*mem0.Item, error) {
	f.lastLimit = limit
	var out []*mem0.Item
	for _, item := range f.items {
		if item.UserID == userID && (domain == "" || item.Domain == domain) {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeItemStore) ListByDomain(_ context.Context, userID, domain string, limit int) ([]*mem0.Item, error) {
	return f.SearchItems(context.Background(), userID, "", domain, limit)
}

func setupStore(t *testing.T) (*Store, *fakeItemStore) {
	t.Helper()
	items := newFakeItemStore()
	box := crypt.NewCipherBox(crypt.NewMemoryKeyVault())
	return NewStore(items, box), items
}

func testInput(owner string) CreateInput {
	return CreateInput{
		OwnerID:     owner,
		Domain:      "travel",
		ContentType: "preferences",
		Metadata:    map[string]any{"source": "test"},
		Content:     []byte(`{"seat":"window"}`),
	}
}

func TestStore_Create(t *testing.T) {
	store, items := setupStore(t)
	ctx := context.Background()

	unit, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	assert.NotEmpty(t, unit.ID)
	assert.Equal(t, "user-1", unit.OwnerID)
	assert.Equal(t, 1, unit.Version)
	assert.NotEqual(t, []byte(`{"seat":"window"}`), unit.Content, "content must be encrypted")

	stored := items.items[unit.ID]
	require.NotNil(t, stored)
	assert.NotContains(t, string(stored.Content), "window", "plaintext must never reach the collaborator")
}

func TestStore_Get_Absent(t *testing.T) {
	store, _ := setupStore(t)

	unit, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, unit)
}

func TestStore_ReadWithContent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	unit, plaintext, err := store.ReadWithContent(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, unit)
	assert.Equal(t, []byte(`{"seat":"window"}`), plaintext)
}

func TestStore_ReadWithContent_Absent(t *testing.T) {
	store, _ := setupStore(t)

	unit, plaintext, err := store.ReadWithContent(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, unit)
	assert.Nil(t, plaintext)
}

func TestStore_ReadWithContent_TamperedBlobSurfaces(t *testing.T) {
	store, items := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	stored := items.items[created.ID]
	stored.Content[len(stored.Content)-1] ^= 0xff

	_, _, err = store.ReadWithContent(ctx, created.ID)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestStore_Update(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	newDomain := "travel-history"
	updated, err := store.Update(ctx, created.ID, Patch{
		Domain:  &newDomain,
		Content: []byte(`{"seat":"aisle"}`),
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "travel-history", updated.Domain)
	assert.Equal(t, "preferences", updated.ContentType, "unpatched fields keep their value")

	_, plaintext, err := store.ReadWithContent(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"seat":"aisle"}`), plaintext, "new content must be re-encrypted under the owner key")
}

func TestStore_Update_MetadataFullReplace(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	input := testInput("user-1")
	input.Metadata = map[string]any{"a": "1", "b": "2"}
	created, err := store.Create(ctx, input)
	require.NoError(t, err)

	updated, err := store.Update(ctx, created.ID, Patch{
		Metadata: map[string]any{"c": "3"},
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"c": "3"}, updated.Metadata, "metadata replace is wholesale, not a merge")
}

func TestStore_Update_VersionConflict(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	wrong := "shopping"
	_, err = store.Update(ctx, created.ID, Patch{Domain: &wrong}, 7)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The stored unit is unchanged.
	unit, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unit.Version)
	assert.Equal(t, "travel", unit.Domain)
}

func TestStore_Update_StaleSecondUpdate(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)

	domain := "travel-history"
	first, err := store.Update(ctx, created.ID, Patch{Domain: &domain}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Version)

	// Same stale version presented again must be rejected.
	_, err = store.Update(ctx, created.ID, Patch{Domain: &domain}, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestStore_Update_VersionsIncrementByOne(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	version := created.Version
	for i := 0; i < 4; i++ {
		updated, err := store.Update(ctx, created.ID, Patch{
			Content: []byte(fmt.Sprintf(`{"round":%d}`, i)),
		}, version)
		require.NoError(t, err)
		assert.Equal(t, version+1, updated.Version)
		version = updated.Version
	}
}

func TestStore_Update_Absent(t *testing.T) {
	store, _ := setupStore(t)

	unit, err := store.Update(context.Background(), "nonexistent", Patch{}, 1)
	require.NoError(t, err)
	assert.Nil(t, unit)
}

func TestStore_Update_RefreshesUpdatedAt(t *testing.T) {
	store, items := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	// Backdate the stored timestamp so the refresh is observable at
	// RFC3339 second granularity.
	items.items[created.ID].UpdatedAt = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	updated, err := store.Update(ctx, created.ID, Patch{}, 1)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(created.CreatedAt.Add(-time.Minute)))
	assert.Equal(t, 2, updated.Version, "version increments even when no fields changed")
}

func TestStore_Delete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	removed, err := store.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, removed, "deleting an absent unit is not an error")
}

func TestStore_SearchDefaultsLimit(t *testing.T) {
	store, items := setupStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	units, err := store.Search(ctx, "user-1", "seat", "", 0)
	require.NoError(t, err)
	assert.Len(t, units, 1)
	assert.Equal(t, 50, items.lastLimit)
}

func TestStore_ByDomain(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testInput("user-1"))
	require.NoError(t, err)

	other := testInput("user-1")
	other.Domain = "shopping"
	_, err = store.Create(ctx, other)
	require.NoError(t, err)

	units, err := store.ByDomain(ctx, "user-1", "travel", 0)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "travel", units[0].Domain)
}
