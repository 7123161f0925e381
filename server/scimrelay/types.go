package scimrelay

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DeleteAction controls how a local user deletion is propagated to a
// destination: either as a SCIM PATCH setting active=false, or as a hard
// HTTP DELETE of the resource.
type DeleteAction string

const (
	DeleteActionDeactivate DeleteAction = "DEACTIVATE"
	DeleteActionHardDelete DeleteAction = "HARD_DELETE"
)

// OperationKind identifies one of the SCIM operations the core may emit
// against a destination.
type OperationKind string

const (
	OpCreateUser        OperationKind = "CREATE_USER"
	OpUpdateUser        OperationKind = "UPDATE_USER"
	OpDeactivateUser    OperationKind = "DEACTIVATE_USER"
	OpDeleteUser        OperationKind = "DELETE_USER"
	OpCreateGroup       OperationKind = "CREATE_GROUP"
	OpUpdateGroup       OperationKind = "UPDATE_GROUP"
	OpDeleteGroup       OperationKind = "DELETE_GROUP"
	OpAddGroupMember    OperationKind = "ADD_GROUP_MEMBER"
	OpRemoveGroupMember OperationKind = "REMOVE_GROUP_MEMBER"
)

// AllOperations lists every operation kind, in a stable order.
var AllOperations = []OperationKind{
	OpCreateUser,
	OpUpdateUser,
	OpDeactivateUser,
	OpDeleteUser,
	OpCreateGroup,
	OpUpdateGroup,
	OpDeleteGroup,
	OpAddGroupMember,
	OpRemoveGroupMember,
}

// OperationList is the set of operations enabled for a destination. It is
// persisted as a JSON array.
type OperationList []OperationKind

func (ol OperationList) Contains(op OperationKind) bool {
	for _, o := range ol {
		if o == op {
			return true
		}
	}
	return false
}

func (ol OperationList) Value() (driver.Value, error) {
	return json.Marshal(ol)
}

func (ol *OperationList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*ol = nil
		return nil
	case []byte:
		return json.Unmarshal(v, ol)
	case string:
		return json.Unmarshal([]byte(v), ol)
	default:
		return fmt.Errorf("unsupported type for OperationList: %T", src)
	}
}

// AttributeMapping maps a SCIM attribute path (e.g. "name.givenName",
// "emails[0].value") to a source expression. Source expressions are either
// the literals "true"/"false" or a "$."-prefixed path resolved against the
// event snapshot view. An empty mapping means the default mapping applies.
// Persisted as a JSON object.
type AttributeMapping map[string]string

func (am AttributeMapping) Value() (driver.Value, error) {
	if am == nil {
		return json.Marshal(AttributeMapping{})
	}
	return json.Marshal(am)
}

func (am *AttributeMapping) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*am = nil
		return nil
	case []byte:
		return json.Unmarshal(v, am)
	case string:
		return json.Unmarshal([]byte(v), am)
	default:
		return fmt.Errorf("unsupported type for AttributeMapping: %T", src)
	}
}

// Destination is a downstream SCIM service provider configured for a tenant.
// Some admin surfaces call this a "SCIM application".
type Destination struct {
	ID                uint             `json:"id" db:"id"`
	TenantID          uint             `json:"tenant_id" db:"tenant_id"`
	ClientAppID       string           `json:"client_app_id" db:"client_app_id"`
	Name              string           `json:"name" db:"name"`
	BaseURL           string           `json:"base_url" db:"base_url"`
	AttributeMapping  AttributeMapping `json:"attribute_mapping" db:"attribute_mapping"`
	EnabledOperations OperationList    `json:"enabled_operations" db:"enabled_operations"`
	DeleteAction      DeleteAction     `json:"delete_action" db:"delete_action"`
	RetryPolicy       RetryPolicy      `json:"retry_policy" db:"retry_policy"`
	Enabled           bool             `json:"enabled" db:"enabled"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// ResourceMapping binds a local resource to the opaque id assigned to it by
// one destination's SCIM server. It is required to address the downstream
// resource on updates, deletes and membership patches.
type ResourceMapping struct {
	ID              uint         `json:"id" db:"id"`
	DestinationID   uint         `json:"destination_id" db:"destination_id"`
	ResourceType    ResourceType `json:"resource_type" db:"resource_type"`
	LocalResourceID string       `json:"local_resource_id" db:"local_resource_id"`
	SCIMResourceID  string       `json:"scim_resource_id" db:"scim_resource_id"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// ListOptions controls pagination of list operations. Page is zero-based.
type ListOptions struct {
	Page    uint
	PerPage uint
}
