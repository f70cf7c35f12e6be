package storage

import (
	"context"
	"fmt"

	"github.com/keyfission/realm-backend/interfaces"
)

// SplitStore composes two backends: one serving tenant signing keys and one
// holding user records. Typical deployments keep signing keys in Vault or a
// static file while records live in a key-value store with fast conditional
// writes.
type SplitStore struct {
	tenantKeys interfaces.SecretStore
	records    interfaces.SecretStore
}

// NewSplitStore builds a composite store routing tenant key reads to
// tenantKeys and record operations to records.
func NewSplitStore(tenantKeys, records interfaces.SecretStore) *SplitStore {
	return &SplitStore{tenantKeys: tenantKeys, records: records}
}

// ResolveTenantKey delegates to the tenant key backend.
func (s *SplitStore) ResolveTenantKey(ctx context.Context, tenant interfaces.TenantName, version string) ([]byte, error) {
	return s.tenantKeys.ResolveTenantKey(ctx, tenant, version)
}

// LoadRecord delegates to the record backend.
func (s *SplitStore) LoadRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*interfaces.UserRecord, interfaces.RecordVersion, error) {
	return s.records.LoadRecord(ctx, tenant, user)
}

// CompareAndSwapRecord delegates to the record backend.
func (s *SplitStore) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	return s.records.CompareAndSwapRecord(ctx, tenant, user, expected, record)
}

// DeleteRecord delegates to the record backend.
func (s *SplitStore) DeleteRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	return s.records.DeleteRecord(ctx, tenant, user)
}

// LocationURI describes both halves of the composite.
func (s *SplitStore) LocationURI() string {
	return fmt.Sprintf("split://(tenants=%s,records=%s)", s.tenantKeys.LocationURI(), s.records.LocationURI())
}
