package scimrelay

import (
	"context"
	"encoding/json"
	"time"
)

// ResourceType is the kind of local entity an event refers to.
type ResourceType string

const (
	ResourceTypeUser        ResourceType = "USER"
	ResourceTypeGroup       ResourceType = "GROUP"
	ResourceTypeGroupMember ResourceType = "GROUP_MEMBER"
)

// EventKind is the lifecycle transition recorded by an event.
type EventKind string

const (
	EventCreate EventKind = "CREATE"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// LocalEvent is a lifecycle event recorded for a local user, group or group
// membership. Producers publish it on the in-process event bus after their
// primary write commits; the core persists it and fans it out to the
// tenant's enabled destinations.
//
// Snapshot is a structural dump of the entity at event time, e.g. for a
// user: {"user":{"id":...,"username":...,"email":...},"profile":{...}}, for
// a group: {"group":{...}} and for a membership:
// {"groupMember":{"groupId":...,"userId":...}}.
type LocalEvent struct {
	ID           string          `json:"id" db:"id"`
	TenantID     uint            `json:"tenant_id" db:"tenant_id"`
	ResourceType ResourceType    `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Kind         EventKind       `json:"kind" db:"kind"`
	OccurredAt   time.Time       `json:"occurred_at" db:"occurred_at"`
	Snapshot     json.RawMessage `json:"snapshot" db:"snapshot"`
}

// SCIMRelevant reports whether the event's resource type is one the
// provisioning core propagates. Other events are dropped at intake.
func (e *LocalEvent) SCIMRelevant() bool {
	switch e.ResourceType {
	case ResourceTypeUser, ResourceTypeGroup, ResourceTypeGroupMember:
		return true
	default:
		return false
	}
}

// SnapshotView decodes the snapshot into the generic view the translator and
// attribute-mapping expressions operate on.
func (e *LocalEvent) SnapshotView() (map[string]interface{}, error) {
	view := make(map[string]interface{})
	if len(e.Snapshot) == 0 {
		return view, nil
	}
	if err := json.Unmarshal(e.Snapshot, &view); err != nil {
		return nil, err
	}
	return view, nil
}

// GroupMember is the decoded form of a GROUP_MEMBER event snapshot.
type GroupMember struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// GroupMemberFromSnapshot extracts the membership pair from a GROUP_MEMBER
// event snapshot.
func GroupMemberFromSnapshot(snapshot json.RawMessage) (*GroupMember, error) {
	var wrapper struct {
		GroupMember GroupMember `json:"groupMember"`
	}
	if err := json.Unmarshal(snapshot, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.GroupMember, nil
}

// EventPublisher is the producer side of the in-process event bus.
type EventPublisher interface {
	Publish(event *LocalEvent) error
}

// EventSubscriber is the consumer side of the in-process event bus. The
// returned channel is closed when ctx is cancelled.
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan *LocalEvent, error)
}
