package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/keyfission/realm-backend/interfaces"
)

// StoreBackendFactory creates secret store backends from URI strings.
type StoreBackendFactory struct {
	log   *slog.Logger
	realm interfaces.RealmID
}

// NewStoreBackendFactory creates a factory producing backends scoped to the
// given realm identifier.
func NewStoreBackendFactory(log *slog.Logger, realm interfaces.RealmID) *StoreBackendFactory {
	return &StoreBackendFactory{log: log, realm: realm}
}

// StoreFor creates a secret store backend from a location URI.
//
// Supported schemes:
//   - memory:// - In-process storage (tests, single-node development)
//   - redis://host:port/db - Redis-compatible key-value service
//   - dynamodb://table?region=us-east-1&endpoint=... - DynamoDB table
//   - vault://host:port/mount/path?tls=disable - HashiCorp Vault KV v2
//   - file:///path/tenants.yaml - Read-only tenant signing key file
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StoreBackendFactory) StoreFor(locationURI string) (interfaces.SecretStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid storage URI %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBackend(sf.realm, sf.log), nil
	case "redis":
		return sf.createRedisBackend(locationURI)
	case "dynamodb":
		return sf.createDynamoBackend(u)
	case "vault":
		return sf.createVaultBackend(u)
	case "file":
		return sf.createTenantFileBackend(u)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", u.Scheme)
	}
}

// SplitStoreFor builds the composite store for the common deployment shape:
// records in recordURI, tenant keys in tenantURI. An empty tenantURI serves
// both key spaces from the record backend.
func (sf *StoreBackendFactory) SplitStoreFor(recordURI, tenantURI string) (interfaces.SecretStore, error) {
	records, err := sf.StoreFor(recordURI)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	if tenantURI == "" {
		return records, nil
	}

	tenantKeys, err := sf.StoreFor(tenantURI)
	if err != nil {
		return nil, fmt.Errorf("tenant key store: %w", err)
	}
	return NewSplitStore(tenantKeys, records), nil
}

// createRedisBackend connects a go-redis client from a standard redis URI.
func (sf *StoreBackendFactory) createRedisBackend(locationURI string) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating redis backend", slog.String("uri", locationURI))

	opts, err := redis.ParseURL(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URI: %w", err)
	}
	return NewRedisBackend(redis.NewClient(opts), sf.realm, sf.log), nil
}

// createDynamoBackend creates a DynamoDB backend.
// URI format: dynamodb://table-name?region=us-west-2&endpoint=http://localhost:8000
func (sf *StoreBackendFactory) createDynamoBackend(u *url.URL) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating dynamodb backend", slog.String("uri", u.String()))

	table := u.Host
	if table == "" {
		return nil, fmt.Errorf("dynamodb URI missing table name")
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	return NewDynamoBackend(table, region, query.Get("endpoint"), sf.realm, sf.log)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://host:port/mount/data-path?tls=disable
func (sf *StoreBackendFactory) createVaultBackend(u *url.URL) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating vault backend", slog.String("uri", u.String()))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault URI must include mount and data path: vault://host:port/mount/path")
	}

	scheme := "https"
	if u.Query().Get("tls") == "disable" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultBackend(address, parts[0], parts[1], sf.realm, sf.log)
}

// createTenantFileBackend loads a read-only tenant key file.
// URI format: file:///etc/realm/tenants.yaml
func (sf *StoreBackendFactory) createTenantFileBackend(u *url.URL) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating tenant key file backend", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("file URI missing path")
	}
	return NewTenantFileBackend(path, sf.log)
}
