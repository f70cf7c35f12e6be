package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/keyfission/realm-backend/interfaces"
)

// MemoryBackend implements the secret store with in-process maps. It is used
// for tests and single-node development deployments; records do not survive a
// restart.
type MemoryBackend struct {
	realm interfaces.RealmID
	log   *slog.Logger

	mu         sync.RWMutex
	tenantKeys map[string][]byte
	records    map[string]memoryRecord
}

// memoryRecord holds one version chain entry. A nil payload is the tombstone
// DeleteRecord leaves behind so the version token keeps advancing across
// delete/re-register cycles.
type memoryRecord struct {
	version interfaces.RecordVersion
	payload []byte
}

// NewMemoryBackend creates an empty in-memory backend for the given realm.
func NewMemoryBackend(realm interfaces.RealmID, log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		realm:      realm,
		log:        log,
		tenantKeys: make(map[string][]byte),
		records:    make(map[string]memoryRecord),
	}
}

// SetTenantKey installs a signing key for (tenant, version). Key installation
// is an administrative action; it exists on the memory backend so tests and
// dev setups can provision tenants without an external store.
func (b *MemoryBackend) SetTenantKey(tenant interfaces.TenantName, version string, key []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenantKeys[TenantKeyID(tenant, version)] = append([]byte(nil), key...)
}

// ResolveTenantKey returns the signing key for (tenant, version).
func (b *MemoryBackend) ResolveTenantKey(ctx context.Context, tenant interfaces.TenantName, version string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	key, ok := b.tenantKeys[TenantKeyID(tenant, version)]
	if !ok {
		return nil, interfaces.ErrTenantKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

// LoadRecord returns the stored record and its version token.
func (b *MemoryBackend) LoadRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*interfaces.UserRecord, interfaces.RecordVersion, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.records[RecordKeyID(b.realm, tenant, user)]
	if !ok {
		return nil, 0, interfaces.ErrRecordAbsent
	}
	if entry.payload == nil {
		return nil, entry.version, interfaces.ErrRecordAbsent
	}

	var record interfaces.UserRecord
	if err := json.Unmarshal(entry.payload, &record); err != nil {
		return nil, 0, fmt.Errorf("%w: corrupt record: %v", interfaces.ErrStoreUnavailable, err)
	}
	return &record, entry.version, nil
}

// CompareAndSwapRecord writes the record under the per-store mutex, which
// gives the exclusive read-modify-write section the CAS contract requires.
func (b *MemoryBackend) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", interfaces.ErrStoreUnavailable, err)
	}

	key := RecordKeyID(b.realm, tenant, user)

	b.mu.Lock()
	defer b.mu.Unlock()

	var current interfaces.RecordVersion
	if entry, ok := b.records[key]; ok {
		current = entry.version
	}
	if current != expected {
		return interfaces.ErrRecordConflict
	}

	b.records[key] = memoryRecord{version: expected + 1, payload: payload}
	return nil
}

// DeleteRecord erases the record, leaving a tombstone that advances the
// version token. Absent records are a no-op.
func (b *MemoryBackend) DeleteRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	key := RecordKeyID(b.realm, tenant, user)

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.records[key]
	if !ok || entry.payload == nil {
		return nil
	}
	b.records[key] = memoryRecord{version: entry.version + 1}
	return nil
}

// LocationURI returns the URI this backend was created from.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
