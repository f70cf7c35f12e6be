package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/keyfission/realm-backend/interfaces"
)

// RedisBackend implements the secret store over a Redis-compatible managed
// key-value service. Conditional writes are emulated with WATCH/MULTI/EXEC:
// the transaction aborts if the record key changed between the read and the
// commit, which is exactly the conflict signal the CAS contract needs.
type RedisBackend struct {
	client      *redis.Client
	realm       interfaces.RealmID
	log         *slog.Logger
	locationURI string
}

// redisEnvelope wraps a record with its version token. The token counts
// committed writes; WATCH makes the read-compare-write of it atomic. A nil
// Record is the tombstone DeleteRecord leaves so the token keeps advancing
// across delete/re-register cycles.
type redisEnvelope struct {
	Version interfaces.RecordVersion `json:"version"`
	Record  *interfaces.UserRecord   `json:"record,omitempty"`
}

// NewRedisBackend creates a backend using the given client. The caller owns
// client construction so tests can point it at miniredis.
func NewRedisBackend(client *redis.Client, realm interfaces.RealmID, log *slog.Logger) *RedisBackend {
	return &RedisBackend{
		client:      client,
		realm:       realm,
		log:         log,
		locationURI: fmt.Sprintf("redis://%s", client.Options().Addr),
	}
}

// ResolveTenantKey reads the raw signing key stored under the tenant naming
// scheme. Keys are provisioned by the operator tooling, not by the realm.
func (b *RedisBackend) ResolveTenantKey(ctx context.Context, tenant interfaces.TenantName, version string) ([]byte, error) {
	key, err := b.client.Get(ctx, TenantKeyID(tenant, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrTenantKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return key, nil
}

// LoadRecord returns the stored record and its version token.
func (b *RedisBackend) LoadRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*interfaces.UserRecord, interfaces.RecordVersion, error) {
	data, err := b.client.Get(ctx, RecordKeyID(b.realm, tenant, user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, interfaces.ErrRecordAbsent
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	var envelope redisEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, 0, fmt.Errorf("%w: corrupt record: %v", interfaces.ErrStoreUnavailable, err)
	}
	if envelope.Record == nil {
		return nil, envelope.Version, interfaces.ErrRecordAbsent
	}
	return envelope.Record, envelope.Version, nil
}

// CompareAndSwapRecord commits the record iff the stored version still equals
// expected. A concurrent write between the watched read and EXEC surfaces as
// redis.TxFailedErr and is reported as a conflict.
func (b *RedisBackend) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	key := RecordKeyID(b.realm, tenant, user)

	payload, err := json.Marshal(redisEnvelope{Version: expected + 1, Record: record})
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", interfaces.ErrStoreUnavailable, err)
	}

	err = b.client.Watch(ctx, func(tx *redis.Tx) error {
		var current interfaces.RecordVersion

		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = 0
		case err != nil:
			return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		default:
			var envelope redisEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil {
				return fmt.Errorf("%w: corrupt record: %v", interfaces.ErrStoreUnavailable, err)
			}
			current = envelope.Version
		}

		if current != expected {
			return interfaces.ErrRecordConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return interfaces.ErrRecordConflict
	case errors.Is(err, interfaces.ErrRecordConflict), errors.Is(err, interfaces.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
}

// deleteAttempts bounds the WATCH retries of DeleteRecord under contention.
const deleteAttempts = 4

// DeleteRecord replaces the record with a tombstone envelope, advancing the
// version token so a write prepared against the deleted record can never
// commit over a later registration. Absent records are a no-op.
func (b *RedisBackend) DeleteRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	key := RecordKeyID(b.realm, tenant, user)

	for attempt := 0; attempt < deleteAttempts; attempt++ {
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
			}

			var envelope redisEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil {
				return fmt.Errorf("%w: corrupt record: %v", interfaces.ErrStoreUnavailable, err)
			}
			if envelope.Record == nil {
				return nil
			}

			tombstone, err := json.Marshal(redisEnvelope{Version: envelope.Version + 1})
			if err != nil {
				return fmt.Errorf("%w: encode tombstone: %v", interfaces.ErrStoreUnavailable, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, tombstone, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, interfaces.ErrStoreUnavailable):
			return err
		default:
			return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
	}

	return fmt.Errorf("%w: delete contention not resolved after %d attempts", interfaces.ErrStoreUnavailable, deleteAttempts)
}

// LocationURI returns the URI this backend was created from.
func (b *RedisBackend) LocationURI() string {
	return b.locationURI
}
