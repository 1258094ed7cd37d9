// ABOUTME: Per-user symmetric key management with sharded locking
// ABOUTME: In-memory KeyVault implementation; production bindings swap in a KMS behind the same interface

package crypt

import (
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"sync"
)

// KeySize is the symmetric key length in bytes (NaCl secretbox).
const KeySize = 32

// Key is a per-user symmetric encryption key.
type Key [KeySize]byte

// KeyVault provides per-user symmetric keys. Implementations must return
// the same key for the same user until Rotate is called.
//
// The in-memory implementation is a development placeholder: keys never
// leave process memory and are lost on restart. Production deployments
// must bind a durable, access-controlled key store behind this interface.
type KeyVault interface {
	// KeyFor returns the key for a user, generating one on first use.
	KeyFor(userID string) (Key, error)

	// Rotate replaces the user's key with a fresh one. Ciphertext produced
	// under the old key becomes permanently undecryptable unless the caller
	// re-encrypted all affected content first.
	Rotate(userID string) (Key, error)
}

// keyShardCount must be a power of two.
const keyShardCount = 16

type keyShard struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// MemoryKeyVault holds per-user keys in process memory. Keys are sharded
// by user ID so that unrelated users never contend on the same lock.
type MemoryKeyVault struct {
	shards [keyShardCount]keyShard
}

// NewMemoryKeyVault creates an empty in-memory key vault.
func NewMemoryKeyVault() *MemoryKeyVault {
	v := &MemoryKeyVault{}
	for i := range v.shards {
		v.shards[i].keys = make(map[string]Key)
	}
	return v
}

func (v *MemoryKeyVault) shardFor(userID string) *keyShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &v.shards[h.Sum32()&(keyShardCount-1)]
}

// KeyFor returns the user's key, generating one uniformly at random on
// first use.
func (v *MemoryKeyVault) KeyFor(userID string) (Key, error) {
	shard := v.shardFor(userID)

	shard.mu.RLock()
	key, ok := shard.keys[userID]
	shard.mu.RUnlock()
	if ok {
		return key, nil
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Another goroutine may have created the key between the two locks.
	if key, ok := shard.keys[userID]; ok {
		return key, nil
	}

	key, err := generateKey()
	if err != nil {
		return Key{}, err
	}
	shard.keys[userID] = key
	return key, nil
}

// Rotate replaces the user's key with a freshly generated one.
func (v *MemoryKeyVault) Rotate(userID string) (Key, error) {
	key, err := generateKey()
	if err != nil {
		return Key{}, err
	}

	shard := v.shardFor(userID)
	shard.mu.Lock()
	shard.keys[userID] = key
	shard.mu.Unlock()

	return key, nil
}

func generateKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Ensure MemoryKeyVault implements KeyVault.
var _ KeyVault = (*MemoryKeyVault)(nil)
