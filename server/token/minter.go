// Package token mints the short-lived bearer tokens the provisioning core
// presents to downstream SCIM servers. A fresh token is minted for every
// delivery attempt; tokens are never cached across retries.
package token

import (
	"context"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/golang-jwt/jwt/v4"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// Minter signs bearer tokens with a tenant's current signing key.
type Minter struct {
	authority scimrelay.TenantAuthority
	lifetime  time.Duration
	clock     clock.Clock
}

// NewMinter returns a Minter producing tokens valid for lifetime.
func NewMinter(authority scimrelay.TenantAuthority, lifetime time.Duration, c clock.Clock) *Minter {
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	if c == nil {
		c = clock.C
	}
	return &Minter{
		authority: authority,
		lifetime:  lifetime,
		clock:     c,
	}
}

// MintForDestination produces a signed bearer token for one delivery attempt
// against the destination, carrying exactly the provided scopes.
func (m *Minter) MintForDestination(ctx context.Context, d *scimrelay.Destination, scopes []string) (string, error) {
	issuer, err := m.authority.IssuerURL(ctx, d.TenantID)
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "resolve tenant issuer")
	}
	key, err := m.authority.SigningKey(ctx, d.TenantID)
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "resolve tenant signing key")
	}

	now := m.clock.Now().UTC()
	claims := jwt.MapClaims{
		"iss":       issuer,
		"sub":       d.ClientAppID,
		"aud":       d.BaseURL,
		"client_id": d.ClientAppID,
		"scope":     strings.Join(scopes, " "),
		"iat":       now.Unix(),
		"exp":       now.Add(m.lifetime).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.Kid

	signed, err := tok.SignedString(key.Key)
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "sign bearer token")
	}
	return signed, nil
}
