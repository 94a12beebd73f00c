package ident

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDs_TimeOrdered(t *testing.T) {
	ids := make([]NodeID, 200)
	for i := range ids {
		ids[i] = NewNodeID()
	}
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i].Less(ids[j]) }),
		"ids generated in sequence must sort in creation order")

	seen := make(map[NodeID]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestID_TextRoundTrip(t *testing.T) {
	id := NewChangeSetID()

	parsed, err := ParseChangeSetID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	data, err := json.Marshal(map[string]ChangeSetID{"id": id})
	require.NoError(t, err)
	var back map[string]ChangeSetID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back["id"])
}

func TestParse_Invalid(t *testing.T) {
	_, err := ParseNodeID("not-an-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node")
}

func TestIsNil(t *testing.T) {
	var id ActorID
	assert.True(t, id.IsNil())
	assert.False(t, NewActorID().IsNil())
}

func TestLineageOf(t *testing.T) {
	id := NewNodeID()
	assert.Equal(t, id.String(), LineageOf(id).String())
}

func TestScope_TickIsMonotonic(t *testing.T) {
	scope := NewScope(NewWorkspaceID(), NewChangeSetID(), NewActorID())

	prev := scope.Tick()
	for i := 0; i < 100; i++ {
		next := scope.Tick()
		assert.Greater(t, next.Stamp, prev.Stamp)
		assert.Equal(t, scope.ChangeSet, next.ChangeSet)
		assert.Equal(t, scope.Actor, next.Actor)
		prev = next
	}
}

func TestScope_CounterClock(t *testing.T) {
	scope := NewScope(NewWorkspaceID(), NewChangeSetID(), NewActorID()).WithClock(NewCounterClock(10))
	assert.Equal(t, int64(10), scope.Tick().Stamp)
	assert.Equal(t, int64(11), scope.Tick().Stamp)

	other := scope.WithChangeSet(NewChangeSetID())
	assert.Equal(t, int64(12), other.Tick().Stamp, "copies share the clock")
}

func TestClockEntry_Compare(t *testing.T) {
	cs := NewChangeSetID()
	actor := NewActorID()
	a := ClockEntry{ChangeSet: cs, Actor: actor, Stamp: 1}
	b := ClockEntry{ChangeSet: cs, Actor: actor, Stamp: 2}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}
