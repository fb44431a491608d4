package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Codec seals and unseals record bytes. It is a constructed value owned by
// the Store, not ambient process state, so stores with different keys can
// coexist (and tests can build their own).
//
// Sealed format: 12-byte random nonce || AES-256-GCM ciphertext. The key is
// derived by stretching the configured secret with SHA-256.
//
// A plaintext codec exists for local development only; it stores raw JSON.
type Codec struct {
	aead      cipher.AEAD
	plaintext bool
}

var errEmptySealKey = errors.New("seal key must not be empty")

// NewCodec builds a sealing codec from a secret string.
func NewCodec(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errEmptySealKey
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("seal cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal aead init: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewPlaintextCodec builds the dev-mode codec. Records are stored as raw
// JSON bytes. Never the default in a deployed instance.
func NewPlaintextCodec() *Codec {
	return &Codec{plaintext: true}
}

// Plaintext reports whether this codec stores unsealed bytes.
func (c *Codec) Plaintext() bool { return c.plaintext }

func (c *Codec) Seal(b []byte) ([]byte, error) {
	if c.plaintext {
		return b, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, b, nil), nil
}

func (c *Codec) Unseal(b []byte) ([]byte, error) {
	if c.plaintext {
		return b, nil
	}
	ns := c.aead.NonceSize()
	if len(b) < ns {
		return nil, errors.New("sealed blob too short")
	}
	out, err := c.aead.Open(nil, b[:ns], b[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}
	return out, nil
}
