package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// DestinationPayload is the input to CreateDestination and
// ModifyDestination. A nil field on modify means "leave unchanged".
type DestinationPayload struct {
	TenantID          uint                       `json:"tenant_id"`
	Name              *string                    `json:"name"`
	BaseURL           *string                    `json:"base_url"`
	ClientAppID       *string                    `json:"client_app_id"`
	AttributeMapping  scimrelay.AttributeMapping `json:"attribute_mapping"`
	EnabledOperations scimrelay.OperationList    `json:"enabled_operations"`
	DeleteAction      *scimrelay.DeleteAction    `json:"delete_action"`
	RetryPolicy       *scimrelay.RetryPolicy     `json:"retry_policy"`
	Enabled           *bool                      `json:"enabled"`
}

// CreatedDestination is the response of CreateDestination. ClientSecret is
// set only when a client-application was auto-provisioned, and only in this
// response: the secret is never persisted and cannot be read again.
type CreatedDestination struct {
	Destination  *scimrelay.Destination `json:"destination"`
	ClientSecret string                 `json:"client_secret,omitempty"`
}

// MissingScopesError reports a caller-supplied client-application that lacks
// scopes required by the destination's enabled operations.
type MissingScopesError struct {
	AppID   string
	Missing []string
}

func (e *MissingScopesError) Error() string {
	return fmt.Sprintf("client application %s is missing required scopes: %s",
		e.AppID, strings.Join(e.Missing, ", "))
}

// InvalidDestinationError reports a validation failure on the payload.
type InvalidDestinationError struct {
	Field   string
	Message string
}

func (e *InvalidDestinationError) Error() string {
	return fmt.Sprintf("invalid destination: %s %s", e.Field, e.Message)
}

// CreateDestination validates the payload, ensures the tenant's SCIM scopes
// exist and either validates the caller-supplied client-application or
// auto-provisions one named "<name> SCIM Client" holding exactly the
// required scopes.
func (svc *Service) CreateDestination(ctx context.Context, p DestinationPayload) (*CreatedDestination, error) {
	if p.Name == nil || *p.Name == "" {
		return nil, &InvalidDestinationError{Field: "name", Message: "must be present"}
	}
	if p.BaseURL == nil || *p.BaseURL == "" {
		return nil, &InvalidDestinationError{Field: "base_url", Message: "must be present"}
	}
	if !strings.HasPrefix(*p.BaseURL, "http://") && !strings.HasPrefix(*p.BaseURL, "https://") {
		return nil, &InvalidDestinationError{Field: "base_url", Message: "must be an absolute http(s) URL"}
	}
	for _, op := range p.EnabledOperations {
		if scimrelay.ScopeForOperation(op) == "" {
			return nil, &InvalidDestinationError{Field: "enabled_operations", Message: fmt.Sprintf("unknown operation %q", op)}
		}
	}

	if err := svc.EnsureTenantScopes(ctx, p.TenantID); err != nil {
		return nil, err
	}

	dest := &scimrelay.Destination{
		TenantID:          p.TenantID,
		Name:              *p.Name,
		BaseURL:           *p.BaseURL,
		AttributeMapping:  p.AttributeMapping,
		EnabledOperations: p.EnabledOperations,
		DeleteAction:      scimrelay.DeleteActionDeactivate,
		RetryPolicy:       scimrelay.DefaultRetryPolicy(),
		Enabled:           true,
	}
	if p.DeleteAction != nil {
		dest.DeleteAction = *p.DeleteAction
	}
	if p.RetryPolicy != nil {
		dest.RetryPolicy = *p.RetryPolicy
	}
	if p.Enabled != nil {
		dest.Enabled = *p.Enabled
	}

	required := scimrelay.RequiredScopes(p.EnabledOperations)

	var secret string
	if p.ClientAppID != nil && *p.ClientAppID != "" {
		if err := svc.validateApplication(ctx, *p.ClientAppID, required); err != nil {
			return nil, err
		}
		dest.ClientAppID = *p.ClientAppID
	} else {
		appID, appSecret, err := svc.provisioner.CreateApplication(ctx, p.TenantID, *p.Name+" SCIM Client", required)
		if err != nil {
			return nil, ctxerr.Wrap(ctx, err, "auto-provision client application")
		}
		dest.ClientAppID = appID
		secret = appSecret
	}

	created, err := svc.ds.NewDestination(ctx, dest)
	if err != nil {
		return nil, err
	}

	level.Info(svc.log).Log("msg", "created destination", "destination_id", created.ID, "tenant_id", created.TenantID)
	return &CreatedDestination{Destination: created, ClientSecret: secret}, nil
}

// Destination retrieves one destination. The response never carries a
// client secret.
func (svc *Service) Destination(ctx context.Context, id uint) (*scimrelay.Destination, error) {
	return svc.ds.Destination(ctx, id)
}

// ListDestinations lists a tenant's destinations.
func (svc *Service) ListDestinations(ctx context.Context, tenantID uint) ([]*scimrelay.Destination, error) {
	return svc.ds.ListDestinations(ctx, tenantID, false)
}

// ModifyDestination applies the non-nil payload fields to the destination.
// Changing enabled operations re-validates the client-application's scopes.
func (svc *Service) ModifyDestination(ctx context.Context, id uint, p DestinationPayload) (*scimrelay.Destination, error) {
	dest, err := svc.ds.Destination(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return nil, &InvalidDestinationError{Field: "name", Message: "must not be empty"}
		}
		dest.Name = *p.Name
	}
	if p.BaseURL != nil {
		if !strings.HasPrefix(*p.BaseURL, "http://") && !strings.HasPrefix(*p.BaseURL, "https://") {
			return nil, &InvalidDestinationError{Field: "base_url", Message: "must be an absolute http(s) URL"}
		}
		dest.BaseURL = *p.BaseURL
	}
	if p.AttributeMapping != nil {
		dest.AttributeMapping = p.AttributeMapping
	}
	if p.DeleteAction != nil {
		dest.DeleteAction = *p.DeleteAction
	}
	if p.RetryPolicy != nil {
		dest.RetryPolicy = *p.RetryPolicy
	}
	if p.Enabled != nil {
		dest.Enabled = *p.Enabled
	}
	if p.ClientAppID != nil && *p.ClientAppID != "" {
		dest.ClientAppID = *p.ClientAppID
	}

	if p.EnabledOperations != nil {
		dest.EnabledOperations = p.EnabledOperations
	}
	if p.EnabledOperations != nil || (p.ClientAppID != nil && *p.ClientAppID != "") {
		required := scimrelay.RequiredScopes(dest.EnabledOperations)
		if err := svc.validateApplication(ctx, dest.ClientAppID, required); err != nil {
			return nil, err
		}
	}

	if err := svc.ds.SaveDestination(ctx, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

// DeleteDestination removes the destination and its resource mappings.
// Historical deliveries are retained for the status listing.
func (svc *Service) DeleteDestination(ctx context.Context, id uint) error {
	if err := svc.ds.DeleteDestination(ctx, id); err != nil {
		return err
	}
	level.Info(svc.log).Log("msg", "deleted destination", "destination_id", id)
	return nil
}

// ListDeliveries returns a destination's delivery records, newest first.
func (svc *Service) ListDeliveries(ctx context.Context, destinationID uint, opt scimrelay.ListOptions) ([]*scimrelay.Delivery, error) {
	if _, err := svc.ds.Destination(ctx, destinationID); err != nil {
		return nil, err
	}
	return svc.ds.ListDeliveriesByDestination(ctx, destinationID, opt)
}

// EnsureTenantScopes idempotently creates the named SCIM scopes for the
// tenant.
func (svc *Service) EnsureTenantScopes(ctx context.Context, tenantID uint) error {
	if err := svc.scopes.EnsureScopes(ctx, tenantID, scimrelay.AllScopes); err != nil {
		return ctxerr.Wrap(ctx, err, "ensure tenant scopes")
	}
	return nil
}

// ValidateApplication reports whether the application holds every scope the
// operations require.
func (svc *Service) ValidateApplication(ctx context.Context, appID string, ops []scimrelay.OperationKind) error {
	return svc.validateApplication(ctx, appID, scimrelay.RequiredScopes(ops))
}

func (svc *Service) validateApplication(ctx context.Context, appID string, required []string) error {
	held, err := svc.scopes.ApplicationScopes(ctx, appID)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "load application scopes")
	}
	if missing := scimrelay.MissingScopes(required, held); len(missing) > 0 {
		return &MissingScopesError{AppID: appID, Missing: missing}
	}
	return nil
}
