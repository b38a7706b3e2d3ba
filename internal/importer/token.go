package importer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy of a provisioning token. 32 bytes = 256 bits.
const tokenBytes = 32

// NewToken returns a URL-safe provisioning token with 256 bits of
// cryptographic randomness. The token lets a new account holder set their
// own credential once, within the configured validity window.
func NewToken() (string, error) {
	var b [tokenBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read token bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
