package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NonceSize is the number of random bytes in a flow nonce.
const NonceSize = 16

// GenerateNonce returns NonceSize random bytes rendered as lowercase hex.
// The nonce makes each encoded state token unique; it is not a secret.
func GenerateNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
