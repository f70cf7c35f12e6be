// Package oprf implements the realm side of the oblivious pseudorandom
// function over curve25519. The client sends a blinded group element; the
// realm multiplies it by its per-record private scalar and returns the result
// still blinded. The realm never learns the underlying input, and the client
// never learns the scalar.
package oprf

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ElementSize is the encoded size of a curve25519 group element.
const ElementSize = 32

// KeySize is the size of a private evaluation scalar.
const KeySize = curve25519.ScalarSize

// ErrInvalidElement is returned for blinded inputs that are not valid
// curve25519 elements (wrong length or a low-order point).
var ErrInvalidElement = errors.New("invalid blinded element")

// GenerateKey returns a fresh private evaluation scalar. Clamping is applied
// by the scalar multiplication itself per RFC 7748.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("oprf key generation: %w", err)
	}
	return key, nil
}

// Evaluate multiplies the blinded element by the private scalar. The output
// is the blinded evaluation the client unblinds locally.
func Evaluate(privateKey, blindedElement []byte) ([]byte, error) {
	if len(privateKey) != KeySize {
		return nil, fmt.Errorf("oprf evaluate: private key must be %d bytes, got %d", KeySize, len(privateKey))
	}
	if len(blindedElement) != ElementSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidElement, ElementSize, len(blindedElement))
	}

	// X25519 rejects inputs that would produce the all-zero shared point,
	// which covers the low-order elements an adversarial client could send.
	out, err := curve25519.X25519(privateKey, blindedElement)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return out, nil
}
