package encryption

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewChaCha20 creates a ChaCha20-Poly1305 sealer.
func NewChaCha20(key string) (Sealer, error) {
	aead, err := chacha20poly1305.New(deriveKey(key))
	if err != nil {
		return nil, fmt.Errorf("create chacha20: %w", err)
	}
	return &aeadSealer{aead: aead, alg: AlgorithmChaCha20}, nil
}
