package interfaces

import "context"

// RecordVersion is the backend's conditional-write token for a user record.
// Zero means the key has never held a record. The token is whatever the
// backend can compare atomically (a counter, a Vault KV version, a DynamoDB
// attribute); callers treat it as opaque and pass it back unchanged.
//
// Tokens are per-key monotonic and survive deletion: DeleteRecord advances
// the token instead of resetting it, so no token observed before a delete
// can ever commit afterwards. Without this a write prepared against the old
// record could land on a fresh registration that reused the token values.
type RecordVersion uint64

// TenantKeyResolver resolves per-tenant, per-version signing keys. Key
// rotation is an external administrative action: multiple versions coexist
// and older ones stay valid until retired out-of-band.
type TenantKeyResolver interface {
	// ResolveTenantKey returns the raw signing key for (tenant, version), or
	// ErrTenantKeyNotFound if no such key exists.
	ResolveTenantKey(ctx context.Context, tenant TenantName, version string) ([]byte, error)
}

// RecordStore persists user records keyed by (tenant, user) within this
// realm. The compare-and-swap contract is mandatory: it is what makes the
// engine's increment-then-evaluate sequence atomic under concurrent requests
// for the same user. Backends without native conditional writes must emulate
// one with a per-key exclusive section around the read-modify-write.
type RecordStore interface {
	// LoadRecord returns the record and its current version token. When no
	// record exists it returns ErrRecordAbsent together with the current
	// token: zero for a key that never held a record, the tombstone's token
	// after a deletion. Creation must use that token as expected.
	LoadRecord(ctx context.Context, tenant TenantName, user UserID) (*UserRecord, RecordVersion, error)

	// CompareAndSwapRecord writes record if and only if the stored version
	// still equals expected, the token LoadRecord reported. Returns
	// ErrRecordConflict when the condition fails; the caller retries its
	// whole read-compute-commit cycle.
	CompareAndSwapRecord(ctx context.Context, tenant TenantName, user UserID, expected RecordVersion, record *UserRecord) error

	// DeleteRecord erases the record and advances its version token, so a
	// write prepared against the deleted record can never commit over a
	// later registration. Deleting an absent record is not an error.
	DeleteRecord(ctx context.Context, tenant TenantName, user UserID) error
}

// SecretStore is the full storage adapter consumed by the realm: tenant
// signing keys and user records, two independent key spaces behind one
// pluggable boundary. Implementations carry no business logic.
type SecretStore interface {
	TenantKeyResolver
	RecordStore

	// LocationURI returns the URI this backend was created from, for logs.
	LocationURI() string
}
