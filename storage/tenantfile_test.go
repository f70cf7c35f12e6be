package storage

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfission/realm-backend/interfaces"
)

func TestTenantFileResolvesKeys(t *testing.T) {
	keyV1 := base64.StdEncoding.EncodeToString([]byte("key-version-one"))
	keyV2 := base64.StdEncoding.EncodeToString([]byte("key-version-two"))
	path := writeTenantFile(t, `
tenants:
  demo:
    "1": `+keyV1+`
    "2": `+keyV2+`
`)

	backend, err := NewTenantFileBackend(path, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := backend.ResolveTenantKey(ctx, "demo", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("key-version-one"), key)

	key, err = backend.ResolveTenantKey(ctx, "demo", "2")
	require.NoError(t, err)
	assert.Equal(t, []byte("key-version-two"), key)

	_, err = backend.ResolveTenantKey(ctx, "demo", "3")
	assert.ErrorIs(t, err, interfaces.ErrTenantKeyNotFound)

	_, err = backend.ResolveTenantKey(ctx, "stranger", "1")
	assert.ErrorIs(t, err, interfaces.ErrTenantKeyNotFound)
}

func TestTenantFileRejectsBadInput(t *testing.T) {
	_, err := NewTenantFileBackend(writeTenantFile(t, "tenants:\n  bad name:\n    \"1\": AAAA\n"), testLogger())
	assert.ErrorContains(t, err, "invalid tenant name")

	_, err = NewTenantFileBackend(writeTenantFile(t, "tenants:\n  demo:\n    \"1\": '***'\n"), testLogger())
	assert.Error(t, err)

	_, err = NewTenantFileBackend(writeTenantFile(t, "tenants: ["), testLogger())
	assert.ErrorContains(t, err, "parse")

	_, err = NewTenantFileBackend("/nonexistent/tenants.yaml", testLogger())
	assert.ErrorContains(t, err, "read")
}

func TestTenantFileHoldsNoRecords(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("k"))
	backend, err := NewTenantFileBackend(writeTenantFile(t, "tenants:\n  demo:\n    \"1\": "+key+"\n"), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = backend.LoadRecord(ctx, "demo", "u1")
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	err = backend.CompareAndSwapRecord(ctx, "demo", "u1", 0, testRecord(1))
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	err = backend.DeleteRecord(ctx, "demo", "u1")
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
}
