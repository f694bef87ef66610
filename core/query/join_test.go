package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureJoined_MergesSharedPrefix(t *testing.T) {
	resolver, section := testResolver(t)

	root := newJoinRoot("Section")
	sub, err := resolver.ResolveRelationship(section, "subsections")
	require.NoError(t, err)
	subStatus, err := resolver.ResolveRelationship(section, "subsections__status")
	require.NoError(t, err)

	root = ensureJoined(root, sub, joinRequest{kind: JoinInner})
	root = ensureJoined(root, subStatus, joinRequest{kind: JoinInner})

	children := root.Children()
	require.Len(t, children, 1)
	assert.Equal(t, "subsections", children[0].Rel.Name)
	require.Len(t, children[0].Children(), 1)
	assert.Equal(t, "status", children[0].Children()[0].Rel.Name)
}

func TestEnsureJoined_ExplicitKindOnTerminalHop(t *testing.T) {
	resolver, section := testResolver(t)
	subStatus, err := resolver.ResolveRelationship(section, "subsections__status")
	require.NoError(t, err)

	// Outer applies to the terminal hop only; the intermediate hop stays
	// inner.
	root := ensureJoined(newJoinRoot("Section"), subStatus, joinRequest{kind: JoinOuter, explicit: true})
	sub := root.Child("subsections")
	require.NotNil(t, sub)
	assert.Equal(t, JoinInner, sub.Kind)
	assert.Equal(t, JoinOuter, sub.Child("status").Kind)
}

func TestEnsureJoined_LastExplicitCallWins(t *testing.T) {
	resolver, section := testResolver(t)
	sub, err := resolver.ResolveRelationship(section, "subsections")
	require.NoError(t, err)

	root := ensureJoined(newJoinRoot("Section"), sub, joinRequest{kind: JoinOuter, explicit: true})
	assert.Equal(t, JoinOuter, root.Child("subsections").Kind)

	// An implicit reference (a filter traversal) never narrows the join.
	root = ensureJoined(root, sub, joinRequest{kind: JoinInner})
	assert.Equal(t, JoinOuter, root.Child("subsections").Kind)

	// A later explicit call does.
	root = ensureJoined(root, sub, joinRequest{kind: JoinInner, explicit: true})
	assert.Equal(t, JoinInner, root.Child("subsections").Kind)
}

func TestEnsureJoined_EagerMarking(t *testing.T) {
	resolver, section := testResolver(t)
	sub, err := resolver.ResolveRelationship(section, "subsections")
	require.NoError(t, err)
	subStatus, err := resolver.ResolveRelationship(section, "subsections__status")
	require.NoError(t, err)

	// A join introduced by filtering is not eager-owned even when a later
	// options call marks it eager.
	root := ensureJoined(newJoinRoot("Section"), sub, joinRequest{kind: JoinInner})
	root = ensureJoined(root, subStatus, joinRequest{kind: JoinInner, eager: true})

	subNode := root.Child("subsections")
	assert.True(t, subNode.Eager)
	assert.False(t, subNode.EagerOwn)
	statusNode := subNode.Child("status")
	assert.True(t, statusNode.Eager)
	assert.True(t, statusNode.EagerOwn)
}

func TestEnsureJoined_BranchIsolation(t *testing.T) {
	resolver, section := testResolver(t)
	sub, err := resolver.ResolveRelationship(section, "subsections")
	require.NoError(t, err)
	status, err := resolver.ResolveRelationship(section, "status")
	require.NoError(t, err)

	base := ensureJoined(newJoinRoot("Section"), sub, joinRequest{kind: JoinInner})
	left := ensureJoined(base, status, joinRequest{kind: JoinInner})
	right := ensureJoined(base, sub, joinRequest{kind: JoinOuter, explicit: true})

	// base never observes either branch's changes.
	assert.Len(t, base.Children(), 1)
	assert.Equal(t, JoinInner, base.Child("subsections").Kind)

	assert.Len(t, left.Children(), 2)
	assert.Nil(t, right.Child("status"))
	assert.Equal(t, JoinOuter, right.Child("subsections").Kind)
	assert.Equal(t, JoinInner, left.Child("subsections").Kind)
}
