package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a sealing key.
const KeySize = chacha20poly1305.KeySize

// Sealer encrypts short-lived payloads held in process memory.
// Output format: nonce(24) || ciphertext+tag
type Sealer struct {
	key [KeySize]byte
}

// NewSealer returns a Sealer with a freshly generated random key.
func NewSealer() (*Sealer, error) {
	s := &Sealer{}
	if _, err := rand.Read(s.key[:]); err != nil {
		return nil, fmt.Errorf("generate sealing key: %w", err)
	}
	return s, nil
}

// NewSealerWithKey returns a Sealer using the given key.
func NewSealerWithKey(key [KeySize]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal encrypts plaintext. additionalData is authenticated but not encrypted.
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts data produced by Seal with the same additionalData.
func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed payload too short")
	}

	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}
