// ABOUTME: Authenticated encryption of context unit content using NaCl secretbox
// ABOUTME: Wire format is nonce||box; nonces are random per call and stored inline

package crypt

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the secretbox nonce length in bytes.
const NonceSize = 24

// Ciphertext errors. These are distinct on purpose: a short blob is a
// malformed input, while an authentication failure means the blob was
// corrupted, tampered with, or encrypted under a different key.
var (
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
)

// CipherBox encrypts and decrypts byte content under per-user keys from
// a KeyVault. Output blobs are nonce||box where box carries the Poly1305
// authentication tag, so decryption fails loudly on any modification.
type CipherBox struct {
	vault KeyVault
}

// NewCipherBox creates a CipherBox over the given key vault.
func NewCipherBox(vault KeyVault) *CipherBox {
	return &CipherBox{vault: vault}
}

// Encrypt seals plaintext under the user's key with a fresh random nonce.
// The nonce is prepended to the returned blob.
func (c *CipherBox) Encrypt(userID string, plaintext []byte) ([]byte, error) {
	key, err := c.vault.KeyFor(userID)
	if err != nil {
		return nil, fmt.Errorf("fetching key: %w", err)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	keyBytes := [KeySize]byte(key)
	return secretbox.Seal(nonce[:], plaintext, &nonce, &keyBytes), nil
}

// Decrypt opens a nonce||box blob under the user's key.
// Returns ErrInvalidCiphertext for blobs shorter than one nonce and
// ErrAuthenticationFailed when the authentication tag does not verify.
func (c *CipherBox) Decrypt(userID string, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, ErrInvalidCiphertext
	}

	key, err := c.vault.KeyFor(userID)
	if err != nil {
		return nil, fmt.Errorf("fetching key: %w", err)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], blob[:NonceSize])

	keyBytes := [KeySize]byte(key)
	plaintext, ok := secretbox.Open(nil, blob[NonceSize:], &nonce, &keyBytes)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
