// Package secretbox seals small secrets (TOTP shared secrets) with the
// service master key before they are persisted. NaCl secretbox gives
// authenticated encryption with a 24-byte nonce prepended to the ciphertext.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var (
	ErrBadKey        = errors.New("secretbox: master key must be 32 bytes")
	ErrBadCiphertext = errors.New("secretbox: ciphertext invalid or tampered")
)

type Box struct {
	key [KeySize]byte
}

// New builds a Box from raw key bytes.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// NewFromBase64 builds a Box from a base64-encoded key, the form the master
// key takes in the environment (openssl rand -base64 32).
func NewFromBase64(k string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode master key: %w", err)
	}
	return New(raw)
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secretbox: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open decrypts nonce||ciphertext produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrBadCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrBadCiphertext
	}
	return out, nil
}
