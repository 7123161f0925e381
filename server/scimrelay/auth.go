package scimrelay

import (
	"context"
	"crypto/rsa"
)

// SigningKey is the current private key of a tenant's issuer, identified by
// the kid published in the tenant's JWKS.
type SigningKey struct {
	Kid string
	Key *rsa.PrivateKey
}

// TenantAuthority is the external collaborator that owns issuer identity and
// signing keys per tenant. The core uses it to mint outbound bearer tokens;
// JWKS publication and key rotation live outside this module.
type TenantAuthority interface {
	// IssuerURL returns the tenant's issuer URL, used as the iss claim.
	IssuerURL(ctx context.Context, tenantID uint) (string, error)

	// SigningKey returns the tenant's current signing key.
	SigningKey(ctx context.Context, tenantID uint) (*SigningKey, error)
}
