package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/keyfission/realm-backend/interfaces"
)

// The naming scheme is a pure mapping from domain identifiers to storage
// keys. It lives here, inside the adapter, so no other component ever sees or
// depends on key layout.

// recordKeySeparator keeps the hash preimage unambiguous when realm, tenant
// and user identifiers are concatenated.
const recordKeySeparator = 0x1f

// TenantKeyID maps a (tenant, version) pair to the storage key holding the
// tenant's raw signing key. Versions coexist under distinct keys so rotation
// never invalidates older tokens until the old key is retired.
func TenantKeyID(tenant interfaces.TenantName, version string) string {
	return fmt.Sprintf("tenant-%s-%s", tenant, version)
}

// RecordKeyID maps (realm, tenant, user) to the storage key holding the user
// record. Hashing keeps arbitrary user identifiers out of key namespaces and
// makes cross-tenant collisions impossible.
func RecordKeyID(realm interfaces.RealmID, tenant interfaces.TenantName, user interfaces.UserID) string {
	h := sha256.New()
	h.Write(realm.Bytes())
	h.Write([]byte{recordKeySeparator})
	h.Write([]byte(tenant))
	h.Write([]byte{recordKeySeparator})
	h.Write([]byte(user))
	return "record-" + hex.EncodeToString(h.Sum(nil))
}
