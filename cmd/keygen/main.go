// Command keygen prints a fresh base64 encryption key suitable for the
// ENCRYPTION_KEY environment variable.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/calyptra/etlvault/internal/cipher"
)

func main() {
	key := make([]byte, cipher.KeySize)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ENCRYPTION_KEY=%s\n", base64.URLEncoding.EncodeToString(key))
}
