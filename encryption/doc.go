// Package encryption seals pipeline payloads with an AEAD cipher.
//
// ChaCha20-Poly1305 is the default; AES-256-GCM is available for hosts with
// AES hardware. Keys are passphrases hashed with SHA-256.
//
//	s, err := encryption.New(passphrase)
//	sealed, err := s.Seal(image, []byte(url))
//	image, err = s.Open(sealed, []byte(url))
package encryption
