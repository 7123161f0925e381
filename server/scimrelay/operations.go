package scimrelay

// SCIM resource collection paths, relative to a destination's base URL.
const (
	UsersPath  = "Users"
	GroupsPath = "Groups"
)

// ResolveOperation maps an event to the SCIM operation kind it implies for a
// destination. The second return value is false when the event requires no
// downstream call at all (currently only membership UPDATE events, which
// have no SCIM equivalent).
func ResolveOperation(resourceType ResourceType, kind EventKind, action DeleteAction) (OperationKind, bool) {
	switch resourceType {
	case ResourceTypeUser:
		switch kind {
		case EventCreate:
			return OpCreateUser, true
		case EventUpdate:
			return OpUpdateUser, true
		case EventDelete:
			if action == DeleteActionHardDelete {
				return OpDeleteUser, true
			}
			return OpDeactivateUser, true
		}
	case ResourceTypeGroup:
		switch kind {
		case EventCreate:
			return OpCreateGroup, true
		case EventUpdate:
			return OpUpdateGroup, true
		case EventDelete:
			return OpDeleteGroup, true
		}
	case ResourceTypeGroupMember:
		switch kind {
		case EventCreate:
			return OpAddGroupMember, true
		case EventDelete:
			return OpRemoveGroupMember, true
		}
	}
	return "", false
}

// ResourcePath returns the SCIM collection path an operation addresses.
func (op OperationKind) ResourcePath() string {
	switch op {
	case OpCreateUser, OpUpdateUser, OpDeactivateUser, OpDeleteUser:
		return UsersPath
	default:
		return GroupsPath
	}
}
