package scimrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeForOperation(t *testing.T) {
	for _, op := range AllOperations {
		require.NotEmpty(t, ScopeForOperation(op), "operation %s", op)
	}
	assert.Empty(t, ScopeForOperation(OperationKind("BOGUS")))

	assert.Equal(t, ScopeUsersWrite, ScopeForOperation(OpDeactivateUser))
	assert.Equal(t, ScopeGroupsWrite, ScopeForOperation(OpAddGroupMember))
}

func TestRequiredScopes(t *testing.T) {
	testCases := []struct {
		name string
		ops  []OperationKind
		want []string
	}{
		{"empty", nil, []string{}},
		{"users only", []OperationKind{OpCreateUser, OpUpdateUser, OpDeleteUser}, []string{ScopeUsersWrite}},
		{"groups only", []OperationKind{OpCreateGroup, OpRemoveGroupMember}, []string{ScopeGroupsWrite}},
		{
			"mixed dedupes and sorts",
			[]OperationKind{OpAddGroupMember, OpCreateUser, OpDeleteGroup, OpDeactivateUser},
			[]string{ScopeGroupsWrite, ScopeUsersWrite},
		},
		{"unknown ops ignored", []OperationKind{OperationKind("BOGUS")}, []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RequiredScopes(tc.ops))
		})
	}
}

func TestRequiredScopesStable(t *testing.T) {
	// The result must not depend on input order.
	a := RequiredScopes([]OperationKind{OpCreateUser, OpCreateGroup})
	b := RequiredScopes([]OperationKind{OpCreateGroup, OpCreateUser, OpCreateGroup})
	assert.Equal(t, a, b)
}

func TestMissingScopes(t *testing.T) {
	required := []string{ScopeUsersWrite, ScopeGroupsWrite}

	assert.Empty(t, MissingScopes(required, AllScopes))
	assert.Empty(t, MissingScopes(nil, nil))
	assert.Equal(t, []string{ScopeGroupsWrite},
		MissingScopes(required, []string{ScopeUsersWrite, ScopeUsersRead}))
	assert.Equal(t, required, MissingScopes(required, nil))
}
