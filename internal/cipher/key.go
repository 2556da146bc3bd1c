package cipher

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KeyFromBase64 decodes key material from its environment representation.
// Both url-safe and standard alphabets are accepted, with or without
// padding, since keys generated elsewhere vary.
func KeyFromBase64(encoded string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding,
		base64.StdEncoding, base64.RawStdEncoding,
	} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != KeySize {
				return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: not valid base64", ErrInvalidKey)
}

// KeyFromPassphrase derives key material from a passphrase and salt with
// argon2id. The same passphrase and salt always derive the same key, so a
// deployment can rotate hosts without shipping raw key bytes.
func KeyFromPassphrase(passphrase, salt string) []byte {
	return argon2.IDKey([]byte(passphrase), []byte(salt), 1, 64*1024, 4, KeySize)
}
