package storage

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTenantFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestFactorySchemeDispatch(t *testing.T) {
	factory := NewStoreBackendFactory(testLogger(), testRealm(t))

	memStore, err := factory.StoreFor("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, memStore)

	redisStore, err := factory.StoreFor("redis://127.0.0.1:6379/0")
	require.NoError(t, err)
	assert.IsType(t, &RedisBackend{}, redisStore)

	dynamoStore, err := factory.StoreFor("dynamodb://realm-records?region=eu-west-1")
	require.NoError(t, err)
	assert.IsType(t, &DynamoBackend{}, dynamoStore)

	vaultStore, err := factory.StoreFor("vault://127.0.0.1:8200/secret/realm?tls=disable")
	require.NoError(t, err)
	assert.IsType(t, &VaultBackend{}, vaultStore)
}

func TestFactoryRejectsBadURIs(t *testing.T) {
	factory := NewStoreBackendFactory(testLogger(), testRealm(t))

	_, err := factory.StoreFor("carrier-pigeon://loft")
	assert.ErrorContains(t, err, "unsupported storage scheme")

	_, err = factory.StoreFor("dynamodb://?region=eu-west-1")
	assert.ErrorContains(t, err, "missing table name")

	_, err = factory.StoreFor("vault://127.0.0.1:8200/secretonly")
	assert.ErrorContains(t, err, "mount and data path")
}

func TestFactoryTenantFile(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("per-tenant-signing-key"))
	path := writeTenantFile(t, "tenants:\n  demo:\n    \"1\": "+key+"\n")

	factory := NewStoreBackendFactory(testLogger(), testRealm(t))
	store, err := factory.StoreFor("file://" + path)
	require.NoError(t, err)
	assert.IsType(t, &TenantFileBackend{}, store)
}

func TestFactorySplitStore(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("per-tenant-signing-key"))
	path := writeTenantFile(t, "tenants:\n  demo:\n    \"1\": "+key+"\n")

	factory := NewStoreBackendFactory(testLogger(), testRealm(t))

	store, err := factory.SplitStoreFor("memory://", "file://"+path)
	require.NoError(t, err)
	assert.IsType(t, &SplitStore{}, store)

	// Without a tenant URI the record backend serves both key spaces.
	store, err = factory.SplitStoreFor("memory://", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, store)
}
