package interfaces

import "errors"

// Authentication errors. Always surfaced to the caller as a rejection and
// never retried by the realm.
var (
	// ErrMalformedCredential means the bearer credential could not be decoded,
	// carried no usable key ID, or named a tenant outside the allowed charset.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrUnknownTenant means no signing key exists for the (tenant, version)
	// named by the credential.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrInvalidSignature means the credential signature did not verify under
	// the resolved tenant key.
	ErrInvalidSignature = errors.New("invalid credential signature")

	// ErrExpired means the credential expiry has passed.
	ErrExpired = errors.New("credential expired")

	// ErrAudienceMismatch means the credential audience is not this realm.
	ErrAudienceMismatch = errors.New("credential audience mismatch")

	// ErrSubjectMismatch means the authenticated subject attempted to operate
	// on another principal's record.
	ErrSubjectMismatch = errors.New("credential subject mismatch")
)

// Protocol errors. The caller may legitimately retry after re-registering.
var (
	// ErrWrongRealm means the request named a realm identifier other than
	// this process's own.
	ErrWrongRealm = errors.New("request addressed to a different realm")

	// ErrUnsupportedOperation means the request kind is not one of register,
	// recover, delete or status.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrStaleGeneration means the recovery attempt targeted a generation
	// that has been superseded by a newer registration.
	ErrStaleGeneration = errors.New("stale registration generation")

	// ErrNotRegistered means no record exists for the user.
	ErrNotRegistered = errors.New("user not registered")

	// ErrInvalidPayload means an operation payload failed validation (wrong
	// blinded element size, malformed body).
	ErrInvalidPayload = errors.New("invalid operation payload")
)

// ErrLockedOut means the guess budget of the current generation is exhausted.
// Permanent for the generation; distinct from ErrNotRegistered so clients can
// tell "never registered" from "exhausted".
var ErrLockedOut = errors.New("guess limit exhausted")

// Store errors.
var (
	// ErrTenantKeyNotFound means the (tenant, version) signing key is absent.
	ErrTenantKeyNotFound = errors.New("tenant key not found")

	// ErrRecordAbsent means no user record exists at the requested key.
	ErrRecordAbsent = errors.New("record absent")

	// ErrRecordConflict means a conditional write lost a race. Retried
	// internally by the engine's optimistic-concurrency loop and never
	// surfaced to callers.
	ErrRecordConflict = errors.New("record version conflict")

	// ErrStoreUnavailable means the backend failed or the engine's bounded
	// retries were exhausted. Safe for the caller to retry: no guess is ever
	// consumed unless its commit succeeded.
	ErrStoreUnavailable = errors.New("secret store unavailable")
)
