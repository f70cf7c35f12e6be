package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keyfission/realm-backend/interfaces"
)

// TenantFileBackend serves tenant signing keys from a static YAML file. It is
// a read-only key source for deployments that rotate keys by shipping a new
// file; user records must live in a writable backend (see SplitStore).
//
// File format:
//
//	tenants:
//	  demo:
//	    "1": cGVyLXRlbmFudC1zaWduaW5nLWtleQ==
//	    "2": bmV3ZXIta2V5LXZlcnNpb24=
type TenantFileBackend struct {
	keys        map[string][]byte
	log         *slog.Logger
	locationURI string
}

type tenantFile struct {
	Tenants map[string]map[string]string `yaml:"tenants"`
}

// NewTenantFileBackend loads and validates the tenant key file. Tenant names
// outside the allowed charset and undecodable keys fail loading outright; a
// half-usable key file is worse than a startup error.
func NewTenantFileBackend(path string, log *slog.Logger) (*TenantFileBackend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant key file: %w", err)
	}

	var parsed tenantFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tenant key file: %w", err)
	}

	keys := make(map[string][]byte)
	for name, versions := range parsed.Tenants {
		tenant, err := interfaces.NewTenantName(name)
		if err != nil {
			return nil, fmt.Errorf("tenant key file: %w", err)
		}
		for version, encoded := range versions {
			key, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("tenant key file: tenant %q version %q: %w", name, version, err)
			}
			if len(key) == 0 {
				return nil, fmt.Errorf("tenant key file: tenant %q version %q: empty key", name, version)
			}
			keys[TenantKeyID(tenant, version)] = key
		}
	}

	log.Info("Loaded tenant signing keys", slog.String("path", path), slog.Int("keys", len(keys)))

	return &TenantFileBackend{
		keys:        keys,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", path),
	}, nil
}

// ResolveTenantKey returns the signing key for (tenant, version).
func (b *TenantFileBackend) ResolveTenantKey(ctx context.Context, tenant interfaces.TenantName, version string) ([]byte, error) {
	key, ok := b.keys[TenantKeyID(tenant, version)]
	if !ok {
		return nil, interfaces.ErrTenantKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

// LoadRecord is unsupported on the read-only key source.
func (b *TenantFileBackend) LoadRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*interfaces.UserRecord, interfaces.RecordVersion, error) {
	return nil, 0, fmt.Errorf("%w: tenant key file holds no user records", interfaces.ErrStoreUnavailable)
}

// CompareAndSwapRecord is unsupported on the read-only key source.
func (b *TenantFileBackend) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	return fmt.Errorf("%w: tenant key file holds no user records", interfaces.ErrStoreUnavailable)
}

// DeleteRecord is unsupported on the read-only key source.
func (b *TenantFileBackend) DeleteRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	return fmt.Errorf("%w: tenant key file holds no user records", interfaces.ErrStoreUnavailable)
}

// LocationURI returns the URI this backend was created from.
func (b *TenantFileBackend) LocationURI() string {
	return b.locationURI
}
