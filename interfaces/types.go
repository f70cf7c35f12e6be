// Package interfaces defines the core types and capability interfaces of the
// realm backend. It provides the contract between components without
// implementation details.
package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RealmID is the fixed 128-bit identifier of a realm. It is set once at
// process start and is identical across all instances of the same logical
// realm. Its lowercase hex form is used as the token audience.
type RealmID [16]byte

// NewRealmIDFromHex parses a realm identifier from a 32-character hex string.
func NewRealmIDFromHex(source string) (RealmID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 32 {
		return RealmID{}, errors.New("invalid realm ID length: hex string must be 32 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return RealmID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id RealmID
	copy(id[:], idBytes)
	return id, nil
}

// String returns the lowercase hex representation.
func (id RealmID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 16-byte identifier.
func (id RealmID) Bytes() []byte {
	return id[:]
}

// Equal compares two realm identifiers.
func (id RealmID) Equal(other RealmID) bool {
	return bytes.Equal(id[:], other[:])
}

// tenantNamePattern constrains tenant names to a single alphanumeric label.
// The name is embedded in storage keys and token key IDs, so nothing beyond
// [A-Za-z0-9] is ever accepted.
var tenantNamePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// TenantName identifies a customer namespace on this realm.
type TenantName string

// NewTenantName validates and returns a tenant name.
func NewTenantName(source string) (TenantName, error) {
	if !tenantNamePattern.MatchString(source) {
		return "", fmt.Errorf("invalid tenant name %q: must match %s", source, tenantNamePattern.String())
	}
	return TenantName(source), nil
}

// String returns the raw tenant name.
func (t TenantName) String() string {
	return string(t)
}

// UserID identifies a principal within a tenant. The value is opaque to the
// realm; it is compared byte-for-byte against the token subject.
type UserID string

// String returns the raw user identifier.
func (u UserID) String() string {
	return string(u)
}
