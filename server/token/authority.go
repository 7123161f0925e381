package token

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// StaticAuthority is a TenantAuthority that serves one issuer URL and one
// signing key for every tenant. It backs single-key deployments; anything
// fancier (per-tenant keys, rotation) implements scimrelay.TenantAuthority
// directly.
type StaticAuthority struct {
	issuer string
	key    *scimrelay.SigningKey
}

var _ scimrelay.TenantAuthority = (*StaticAuthority)(nil)

// NewStaticAuthority returns an authority answering with the given issuer and
// key regardless of tenant.
func NewStaticAuthority(issuerURL, kid string, key *rsa.PrivateKey) *StaticAuthority {
	return &StaticAuthority{
		issuer: issuerURL,
		key:    &scimrelay.SigningKey{Kid: kid, Key: key},
	}
}

func (a *StaticAuthority) IssuerURL(ctx context.Context, tenantID uint) (string, error) {
	return a.issuer, nil
}

func (a *StaticAuthority) SigningKey(ctx context.Context, tenantID uint) (*scimrelay.SigningKey, error) {
	return a.key, nil
}

// LoadSigningKey reads a PEM-encoded RSA private key (PKCS#1 or PKCS#8) from
// path.
func LoadSigningKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read signing key file")
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.Errorf("no PEM block in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse signing key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, expected RSA", parsed)
	}
	return key, nil
}
