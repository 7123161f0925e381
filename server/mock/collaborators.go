package mock

import (
	"context"

	"github.com/scimrelay/scimrelay/server/scimrelay"
)

var _ scimrelay.ScopeStore = (*ScopeStore)(nil)

// ScopeStore is a mock implementation of scimrelay.ScopeStore.
type ScopeStore struct {
	EnsureScopesFunc        func(ctx context.Context, tenantID uint, names []string) error
	EnsureScopesFuncInvoked bool

	ApplicationScopesFunc        func(ctx context.Context, appID string) ([]string, error)
	ApplicationScopesFuncInvoked bool
}

func (s *ScopeStore) EnsureScopes(ctx context.Context, tenantID uint, names []string) error {
	s.EnsureScopesFuncInvoked = true
	return s.EnsureScopesFunc(ctx, tenantID, names)
}

func (s *ScopeStore) ApplicationScopes(ctx context.Context, appID string) ([]string, error) {
	s.ApplicationScopesFuncInvoked = true
	return s.ApplicationScopesFunc(ctx, appID)
}

var _ scimrelay.AppProvisioner = (*AppProvisioner)(nil)

// AppProvisioner is a mock implementation of scimrelay.AppProvisioner.
type AppProvisioner struct {
	CreateApplicationFunc        func(ctx context.Context, tenantID uint, name string, scopes []string) (string, string, error)
	CreateApplicationFuncInvoked bool
}

func (p *AppProvisioner) CreateApplication(ctx context.Context, tenantID uint, name string, scopes []string) (string, string, error) {
	p.CreateApplicationFuncInvoked = true
	return p.CreateApplicationFunc(ctx, tenantID, name, scopes)
}

var _ scimrelay.TenantAuthority = (*TenantAuthority)(nil)

// TenantAuthority is a mock implementation of scimrelay.TenantAuthority.
type TenantAuthority struct {
	IssuerURLFunc        func(ctx context.Context, tenantID uint) (string, error)
	IssuerURLFuncInvoked bool

	SigningKeyFunc        func(ctx context.Context, tenantID uint) (*scimrelay.SigningKey, error)
	SigningKeyFuncInvoked bool
}

func (a *TenantAuthority) IssuerURL(ctx context.Context, tenantID uint) (string, error) {
	a.IssuerURLFuncInvoked = true
	return a.IssuerURLFunc(ctx, tenantID)
}

func (a *TenantAuthority) SigningKey(ctx context.Context, tenantID uint) (*scimrelay.SigningKey, error) {
	a.SigningKeyFuncInvoked = true
	return a.SigningKeyFunc(ctx, tenantID)
}
