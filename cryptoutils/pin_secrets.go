// Package cryptoutils provides the client-side cryptography of the recovery
// protocol: hardening a low-entropy PIN into an OPRF input element and
// sealing the secret share under a key derived from the OPRF evaluation.
// The server never sees any of this; it only ever handles blinded elements
// and opaque ciphertexts.
package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for PIN stretching. PINs carry very little entropy,
// so the cost here is the only thing standing between a leaked record and
// an offline search once the realm's key is also compromised.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ShareKeySize is the size of the share sealing key.
const ShareKeySize = 32

// ErrShareSealTooShort is returned when a sealed share is shorter than its
// nonce prefix.
var ErrShareSealTooShort = errors.New("sealed share too short")

// PinToElement stretches a PIN into a 32-byte curve element for the OPRF.
// The salt must be stable per user (user and realm identifiers are a good
// choice) so the same PIN always maps to the same element.
func PinToElement(pin, salt []byte) []byte {
	return argon2.IDKey(pin, salt, argonTime, argonMemory, argonThreads, 32)
}

// DeriveShareKey turns an OPRF evaluation into a share sealing key.
func DeriveShareKey(evaluation []byte) []byte {
	key := sha256.Sum256(evaluation)
	return key[:]
}

// SealShare encrypts a secret share with AES-GCM under the derived key. The
// nonce is generated fresh and prepended to the ciphertext.
func SealShare(key, share []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, share, nil), nil
}

// OpenShare decrypts a sealed share. A wrong key, which is what a wrong PIN
// produces, fails authentication here rather than yielding garbage.
func OpenShare(key, sealed []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, ErrShareSealTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	share, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed share: %w", err)
	}
	return share, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != ShareKeySize {
		return nil, fmt.Errorf("share key must be %d bytes, got %d", ShareKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
