package scimrelay

import (
	"context"
	"sort"
)

// Scope names a destination's client-application may hold. Tokens minted for
// outbound SCIM calls carry the subset required by the operation performed.
const (
	ScopeUsersRead   = "scim:users:read"
	ScopeUsersWrite  = "scim:users:write"
	ScopeGroupsRead  = "scim:groups:read"
	ScopeGroupsWrite = "scim:groups:write"
)

// AllScopes lists every SCIM scope, in a stable order.
var AllScopes = []string{
	ScopeUsersRead,
	ScopeUsersWrite,
	ScopeGroupsRead,
	ScopeGroupsWrite,
}

var operationScopes = map[OperationKind]string{
	OpCreateUser:        ScopeUsersWrite,
	OpUpdateUser:        ScopeUsersWrite,
	OpDeactivateUser:    ScopeUsersWrite,
	OpDeleteUser:        ScopeUsersWrite,
	OpCreateGroup:       ScopeGroupsWrite,
	OpUpdateGroup:       ScopeGroupsWrite,
	OpDeleteGroup:       ScopeGroupsWrite,
	OpAddGroupMember:    ScopeGroupsWrite,
	OpRemoveGroupMember: ScopeGroupsWrite,
}

// ScopeForOperation returns the scope required to perform op.
func ScopeForOperation(op OperationKind) string {
	return operationScopes[op]
}

// RequiredScopes returns the deduplicated, sorted set of scopes required to
// perform all of the given operations.
func RequiredScopes(ops []OperationKind) []string {
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if s, ok := operationScopes[op]; ok {
			seen[s] = struct{}{}
		}
	}
	scopes := make([]string, 0, len(seen))
	for s := range seen {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// MissingScopes returns the members of required that are absent from held.
func MissingScopes(required, held []string) []string {
	have := make(map[string]struct{}, len(held))
	for _, s := range held {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// ScopeStore is the external collaborator that owns scope definitions and
// client-application scope sets. The provisioning core only needs to ensure
// named scopes exist for a tenant and to read an application's scopes.
type ScopeStore interface {
	// EnsureScopes creates any of the named scopes that do not yet exist for
	// the tenant. It is idempotent.
	EnsureScopes(ctx context.Context, tenantID uint, names []string) error

	// ApplicationScopes returns the scopes granted to a client-application.
	ApplicationScopes(ctx context.Context, appID string) ([]string, error)
}

// AppProvisioner is the external collaborator that can create a
// client-application with a fresh secret. The secret is returned exactly
// once and never persisted by the core.
type AppProvisioner interface {
	CreateApplication(ctx context.Context, tenantID uint, name string, scopes []string) (appID, secret string, err error)
}
