// Package crypto implements the authenticated symmetric encryption envelope
// used to protect credential records at rest. It is deliberately generic
// (plain []byte in, []byte out) so storage backends decide what gets
// encrypted and how the envelope is laid out on disk.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope seals and opens byte slices with a 256-bit-class AEAD cipher.
// ChaCha20-Poly1305 is used rather than hand-rolled AES-CBC+HMAC: it is an
// AEAD construction with authenticated-encryption guarantees, and
// golang.org/x/crypto is already part of this module's dependency graph
// rather than a new import.
type Envelope struct {
	key [chacha20poly1305.KeySize]byte
}

// NewEnvelope returns an Envelope sealing with the given 32-byte key.
func NewEnvelope(key [32]byte) *Envelope {
	return &Envelope{key: key}
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(e.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: construct aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. Any failure — corruption, wrong
// key, or tampering — surfaces as a single opaque error; callers must
// treat all of these identically (a CredentialDecryptionFailure), never
// distinguishing "wrong key" from "corrupted" in a way that would help an
// attacker.
func (e *Envelope) Open(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(e.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: construct aead: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return plaintext, nil
}
