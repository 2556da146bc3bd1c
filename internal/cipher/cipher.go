// Package cipher provides authenticated encryption for individual field
// values. Every field of an accepted record is encrypted independently with
// the single process-wide key, so storage never sees per-row structure
// beyond ciphertext lengths.
//
// Tokens are AES-256-GCM: a fresh random 12-byte nonce is prepended to the
// sealed ciphertext and the whole value is base64url-encoded. Decryption of
// anything not produced by Encrypt under the current key fails; it never
// returns a value.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// ErrDecryptionFailed is returned when a token is malformed, truncated,
// tampered with, or was sealed under a different key.
var ErrDecryptionFailed = errors.New("decryption failed")

// ErrInvalidKey is returned when the key material is not KeySize bytes.
var ErrInvalidKey = errors.New("invalid key: need 32 bytes")

// Cipher encrypts and decrypts single field values. It is immutable after
// construction and safe for concurrent use; the key is loaded once at
// process start and never changes for the process lifetime.
type Cipher struct {
	aead stdcipher.AEAD
}

// New builds a Cipher from 32 bytes of key material.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals one plaintext field value into a self-contained token.
// Two calls on the same plaintext produce different tokens because the
// nonce is random per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt under the same key.
// Any failure - bad encoding, short token, tamper, wrong key, or a
// plaintext value passed in by mistake - yields ErrDecryptionFailed.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: not a valid token", ErrDecryptionFailed)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: token too short", ErrDecryptionFailed)
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}
