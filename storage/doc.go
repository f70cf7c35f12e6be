/*
Package storage implements the secret store backends of the realm.

A backend persists user records and resolves tenant signing keys behind the
interfaces.SecretStore contract. Backends are interchangeable and are created
from location URIs by StoreBackendFactory:

  - memory:// - in-process map, for tests and single-node development
  - redis://host:port/db - Redis-compatible key-value service
  - dynamodb://table?region=... - DynamoDB table
  - vault://host:port/mount/path - HashiCorp Vault KV v2
  - file:///path/tenants.yaml - read-only tenant signing key file

# Compare-and-Swap

Every backend provides an atomic compare-and-swap on user records, keyed by
an opaque version token returned from LoadRecord. The engine's guess
accounting is only correct if two concurrent writers can never both commit
against the same version, so a backend without a native conditional write
cannot be supported. Version 0 means the record must not exist yet.

# Key Naming

Records are stored under a SHA-256 digest of realm, tenant and user, so
tenants and realms sharing a backend cannot collide. Tenant signing keys use
readable names since operators provision them by hand.

# Split Deployments

SplitStore composes two backends so tenant keys can live somewhere more
tightly controlled than the record store, typically a read-only file or a
Vault mount while records go to Redis or DynamoDB.
*/
package storage
