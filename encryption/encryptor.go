package encryption

import (
	"fmt"
	"strings"

	apperrors "github.com/kbukum/stagekit/errors"
)

// Sealer encrypts and authenticates item payloads. The associated data is
// authenticated but not encrypted; sealing with an item's key binds the
// ciphertext to that item.
type Sealer interface {
	Seal(plaintext, associated []byte) ([]byte, error)
	Open(sealed, associated []byte) ([]byte, error)
	Algorithm() Algorithm
}

// Algorithm represents supported encryption algorithms.
type Algorithm string

const (
	// AlgorithmChaCha20 is ChaCha20-Poly1305 (default, fast on CPUs without AES-NI).
	AlgorithmChaCha20 Algorithm = "chacha20-poly1305"

	// AlgorithmAESGCM is AES-256-GCM.
	AlgorithmAESGCM Algorithm = "aes-256-gcm"
)

// ParseAlgorithm maps a configuration value to an Algorithm. Empty selects
// the default.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", AlgorithmChaCha20, "chacha20":
		return AlgorithmChaCha20, nil
	case AlgorithmAESGCM, "aes-gcm", "aes":
		return AlgorithmAESGCM, nil
	default:
		return "", apperrors.InvalidConfig("algorithm", fmt.Sprintf("unsupported algorithm %q", name))
	}
}

// Option configures New.
type Option func(*options)

type options struct {
	algorithm Algorithm
}

// WithAlgorithm selects the encryption algorithm.
func WithAlgorithm(alg Algorithm) Option {
	return func(o *options) { o.algorithm = alg }
}

// New creates a Sealer for key. The key is hashed to the length the
// algorithm needs. An empty key is rejected.
func New(key string, opts ...Option) (Sealer, error) {
	if key == "" {
		return nil, apperrors.InvalidConfig("key", "encryption key must not be empty")
	}
	o := &options{algorithm: AlgorithmChaCha20}
	for _, opt := range opts {
		opt(o)
	}

	switch o.algorithm {
	case AlgorithmChaCha20:
		return NewChaCha20(key)
	case AlgorithmAESGCM:
		return NewAESGCM(key)
	default:
		return nil, apperrors.InvalidConfig("algorithm", fmt.Sprintf("unsupported algorithm %q", o.algorithm))
	}
}
