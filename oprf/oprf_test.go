package oprf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "two generated keys must differ")
}

func TestEvaluateDeterministic(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	out1, err := Evaluate(key, curve25519.Basepoint)
	require.NoError(t, err)
	out2, err := Evaluate(key, curve25519.Basepoint)
	require.NoError(t, err)
	assert.Equal(t, out1, out2, "evaluation must be deterministic for a fixed key")
}

func TestEvaluateKeySeparation(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	out1, err := Evaluate(k1, curve25519.Basepoint)
	require.NoError(t, err)
	out2, err := Evaluate(k2, curve25519.Basepoint)
	require.NoError(t, err)
	assert.NotEqual(t, out1, out2, "different keys must yield different evaluations")
}

func TestEvaluateRejectsBadElements(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = Evaluate(key, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidElement)

	// The identity element is low-order and must be rejected.
	zero := make([]byte, ElementSize)
	_, err = Evaluate(key, zero)
	assert.ErrorIs(t, err, ErrInvalidElement)
}

func TestEvaluateRejectsBadKey(t *testing.T) {
	_, err := Evaluate([]byte{1}, curve25519.Basepoint)
	assert.Error(t, err)
}
