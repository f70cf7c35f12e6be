// Package tenantauth verifies the bearer credentials that gate every request
// to a realm. Credentials are compact JWTs signed with a per-tenant,
// per-version symmetric key; the key ID header names the tenant and key
// version, and keys are resolved through the secret store adapter. This is
// the only path by which a tenant or user identity enters the system.
package tenantauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keyfission/realm-backend/interfaces"
)

// Claim is the verified identity extracted from a bearer credential.
type Claim struct {
	// Tenant is the issuing tenant (token issuer and kid prefix agree).
	Tenant interfaces.TenantName

	// KeyVersion is the signing key version the token named.
	KeyVersion string

	// Subject is the user the token authorizes operations for.
	Subject interfaces.UserID

	// Realm is the audience the token was verified against.
	Realm interfaces.RealmID

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time
}

// Authenticator verifies bearer credentials against tenant signing keys.
type Authenticator struct {
	keys interfaces.TenantKeyResolver
	log  *slog.Logger
}

// New creates an authenticator resolving keys through the given resolver.
func New(keys interfaces.TenantKeyResolver, log *slog.Logger) *Authenticator {
	return &Authenticator{keys: keys, log: log}
}

// Authenticate verifies rawCredential and returns the claim it carries.
//
// Verification order: decode the header and key ID, resolve the (tenant,
// version) signing key, verify the HS256 signature, then validate claim
// semantics (audience equals expectedRealm, expiry required and in the
// future, issuer equals the kid tenant, subject present). Each failure maps
// onto one error of the authentication taxonomy in the interfaces package.
func (a *Authenticator) Authenticate(ctx context.Context, rawCredential string, expectedRealm interfaces.RealmID) (*Claim, error) {
	if rawCredential == "" {
		return nil, fmt.Errorf("%w: empty credential", interfaces.ErrMalformedCredential)
	}

	var tenant interfaces.TenantName
	var keyVersion string

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(expectedRealm.String()),
	)

	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(rawCredential, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: missing key ID", interfaces.ErrMalformedCredential)
		}

		name, version, found := strings.Cut(kid, ":")
		if !found || version == "" {
			return nil, fmt.Errorf("%w: key ID must be tenant:version", interfaces.ErrMalformedCredential)
		}

		parsedTenant, err := interfaces.NewTenantName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedCredential, err)
		}

		key, err := a.keys.ResolveTenantKey(ctx, parsedTenant, version)
		if errors.Is(err, interfaces.ErrTenantKeyNotFound) {
			return nil, fmt.Errorf("%w: no key for %s version %s", interfaces.ErrUnknownTenant, parsedTenant, version)
		}
		if err != nil {
			return nil, err
		}

		tenant, keyVersion = parsedTenant, version
		return key, nil
	})
	if err != nil {
		return nil, mapTokenError(err)
	}

	// The issuer must be the tenant whose key signed the token; a token
	// claiming one tenant while signed under another's kid is rejected even
	// though the signature itself verifies.
	if claims.Issuer != tenant.String() {
		return nil, fmt.Errorf("%w: issuer does not match key ID tenant", interfaces.ErrMalformedCredential)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", interfaces.ErrMalformedCredential)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &Claim{
		Tenant:     tenant,
		KeyVersion: keyVersion,
		Subject:    interfaces.UserID(claims.Subject),
		Realm:      expectedRealm,
		ExpiresAt:  expiresAt,
	}, nil
}

// mapTokenError folds the jwt library's error set onto the authentication
// taxonomy. Errors originating in our own keyfunc pass through unchanged.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, interfaces.ErrMalformedCredential),
		errors.Is(err, interfaces.ErrUnknownTenant),
		errors.Is(err, interfaces.ErrStoreUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", interfaces.ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", interfaces.ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", interfaces.ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", interfaces.ErrMalformedCredential, err)
	default:
		return fmt.Errorf("%w: %v", interfaces.ErrMalformedCredential, err)
	}
}
