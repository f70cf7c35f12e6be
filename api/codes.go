package api

import (
	"errors"

	"github.com/keyfission/realm-backend/interfaces"
)

// Stable error codes of the protocol. Servers emit them in ErrorDetail.Code
// and clients fold them back onto the sentinel errors, so the pairing below
// must stay bijective.
const (
	CodeMalformedCredential  = "malformed_credential"
	CodeUnknownTenant        = "unknown_tenant"
	CodeInvalidSignature     = "invalid_signature"
	CodeExpiredCredential    = "expired_credential"
	CodeAudienceMismatch     = "audience_mismatch"
	CodeSubjectMismatch      = "subject_mismatch"
	CodeWrongRealm           = "wrong_realm"
	CodeUnsupportedOperation = "unsupported_operation"
	CodeStaleGeneration      = "stale_generation"
	CodeNotRegistered        = "not_registered"
	CodeLockedOut            = "locked_out"
	CodeInvalidPayload       = "invalid_payload"
	CodeStoreUnavailable     = "store_unavailable"
	CodeInternal             = "internal"
)

var codeToError = map[string]error{
	CodeMalformedCredential:  interfaces.ErrMalformedCredential,
	CodeUnknownTenant:        interfaces.ErrUnknownTenant,
	CodeInvalidSignature:     interfaces.ErrInvalidSignature,
	CodeExpiredCredential:    interfaces.ErrExpired,
	CodeAudienceMismatch:     interfaces.ErrAudienceMismatch,
	CodeSubjectMismatch:      interfaces.ErrSubjectMismatch,
	CodeWrongRealm:           interfaces.ErrWrongRealm,
	CodeUnsupportedOperation: interfaces.ErrUnsupportedOperation,
	CodeStaleGeneration:      interfaces.ErrStaleGeneration,
	CodeNotRegistered:        interfaces.ErrNotRegistered,
	CodeLockedOut:            interfaces.ErrLockedOut,
	CodeInvalidPayload:       interfaces.ErrInvalidPayload,
	CodeStoreUnavailable:     interfaces.ErrStoreUnavailable,
}

// CodeOf names the error for the wire. Unrecognized errors collapse to
// CodeInternal so internals never leak through the envelope.
func CodeOf(err error) string {
	for code, sentinel := range codeToError {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// ErrorOf resolves a wire code back to its sentinel, or nil for codes this
// build does not know.
func ErrorOf(code string) error {
	return codeToError[code]
}
