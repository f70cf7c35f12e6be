package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/keyfission/realm-backend/interfaces"
)

// VaultBackend implements the secret store over HashiCorp Vault's KV v2
// engine. KV v2 versions every write and honors a check-and-set option, so
// the conditional-write token maps directly onto the Vault secret version.
//
// Authentication uses the standard Vault environment (VAULT_TOKEN et al.)
// through the client's default configuration.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	realm       interfaces.RealmID
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "realm")
func NewVaultBackend(address, mountPath, dataPath string, realm interfaces.RealmID, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		realm:       realm,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) dataPathFor(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, key)
}

// ResolveTenantKey reads the base64-encoded signing key stored under the
// tenant naming scheme. Keys are provisioned by operators via the Vault CLI.
func (b *VaultBackend) ResolveTenantKey(ctx context.Context, tenant interfaces.TenantName, version string) ([]byte, error) {
	path := b.dataPathFor(TenantKeyID(tenant, version))

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read tenant key from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrTenantKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: unexpected Vault response format", interfaces.ErrStoreUnavailable)
	}
	encoded, ok := data["key"].(string)
	if !ok {
		return nil, interfaces.ErrTenantKeyNotFound
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt tenant key encoding: %v", interfaces.ErrStoreUnavailable, err)
	}
	return key, nil
}

// LoadRecord returns the stored record; the version token is the Vault KV v2
// secret version.
func (b *VaultBackend) LoadRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*interfaces.UserRecord, interfaces.RecordVersion, error) {
	path := b.dataPathFor(RecordKeyID(b.realm, tenant, user))

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, 0, interfaces.ErrRecordAbsent
	}

	version, err := kvSecretVersion(secret)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// A soft-deleted KV v2 version reads back with nil data; the metadata
		// still carries the version so the token chain is preserved.
		return nil, version, interfaces.ErrRecordAbsent
	}
	payload, ok := data["record"].(string)
	if !ok {
		// Tombstone left by DeleteRecord.
		return nil, version, interfaces.ErrRecordAbsent
	}

	var record interfaces.UserRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, 0, fmt.Errorf("%w: corrupt record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &record, version, nil
}

// CompareAndSwapRecord writes the record with the KV v2 check-and-set option
// pinned to the expected version. Vault rejects the write with a 400 when the
// current version differs, which is reported as a conflict.
func (b *VaultBackend) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", interfaces.ErrStoreUnavailable, err)
	}

	path := b.dataPathFor(RecordKeyID(b.realm, tenant, user))
	_, err = b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data":    map[string]interface{}{"record": string(payload)},
		"options": map[string]interface{}{"cas": uint64(expected)},
	})
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 400 {
			return interfaces.ErrRecordConflict
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteRecord writes a tombstone version over the record. A normal KV v2
// write advances the secret version, which keeps the conditional-write token
// monotonic; deleting the metadata would reset the version counter and let a
// stale write commit over a later registration. Absent records are a no-op.
func (b *VaultBackend) DeleteRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	path := b.dataPathFor(RecordKeyID(b.realm, tenant, user))

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil
	}
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		if _, live := data["record"].(string); !live {
			return nil
		}
	}

	_, err = b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{"deleted": true},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// LocationURI returns the URI this backend was created from.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// kvSecretVersion extracts the KV v2 version number from a read response.
func kvSecretVersion(secret *api.Secret) (interfaces.RecordVersion, error) {
	metadata, ok := secret.Data["metadata"].(map[string]interface{})
	if !ok {
		return 0, errors.New("KV v2 metadata missing from response")
	}
	raw, ok := metadata["version"].(json.Number)
	if !ok {
		return 0, errors.New("KV v2 version missing from metadata")
	}
	version, err := raw.Int64()
	if err != nil {
		return 0, fmt.Errorf("unparseable KV v2 version: %w", err)
	}
	return interfaces.RecordVersion(version), nil
}
