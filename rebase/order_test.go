package rebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgraph/ident"
)

func ids(n int) []ident.NodeID {
	out := make([]ident.NodeID, n)
	for i := range out {
		out[i] = ident.NewNodeID()
	}
	return out
}

func stamps(m map[ident.NodeID]int64) additionKey {
	return func(id ident.NodeID) int64 { return m[id] }
}

func TestMergeOrder_FastPaths(t *testing.T) {
	n := ids(4)
	a := []ident.NodeID{n[0], n[1], n[2]}
	b := []ident.NodeID{n[2], n[0], n[1]}
	c := []ident.NodeID{n[0], n[1], n[2], n[3]}
	none := stamps(nil)

	got, oc := mergeOrder(a, b, a, none)
	require.Nil(t, oc)
	assert.Equal(t, b, got)

	got, oc = mergeOrder(a, a, c, none)
	require.Nil(t, oc)
	assert.Equal(t, c, got)

	got, oc = mergeOrder(a, c, c, none)
	require.Nil(t, oc)
	assert.Equal(t, c, got)
}

func TestMergeOrder_InsertionsAnchorOnOwnSide(t *testing.T) {
	n := ids(5)
	x, y, z, p, q := n[0], n[1], n[2], n[3], n[4]
	a := []ident.NodeID{x, y, z}
	b := []ident.NodeID{x, p, y, z}
	c := []ident.NodeID{q, x, y, z}

	got, oc := mergeOrder(a, b, c, stamps(nil))
	require.Nil(t, oc)
	assert.Equal(t, []ident.NodeID{q, x, p, y, z}, got)
}

func TestMergeOrder_SamePlaceSortsByStamp(t *testing.T) {
	n := ids(5)
	x, y, z, p, q := n[0], n[1], n[2], n[3], n[4]
	a := []ident.NodeID{x, y, z}
	b := []ident.NodeID{x, p, y, z}
	c := []ident.NodeID{x, q, y, z}

	got, oc := mergeOrder(a, b, c, stamps(map[ident.NodeID]int64{p: 20, q: 10}))
	require.Nil(t, oc)
	assert.Equal(t, []ident.NodeID{x, q, p, y, z}, got)

	got, oc = mergeOrder(a, c, b, stamps(map[ident.NodeID]int64{p: 20, q: 10}))
	require.Nil(t, oc)
	assert.Equal(t, []ident.NodeID{x, q, p, y, z}, got)
}

func TestMergeOrder_ReorderWithRemoval(t *testing.T) {
	n := ids(4)
	w, x, y, z := n[0], n[1], n[2], n[3]
	a := []ident.NodeID{w, x, y, z}
	b := []ident.NodeID{z, y, x, w}
	c := []ident.NodeID{x, y, z}

	// Reversal moves w; the other side removed it.
	_, oc := mergeOrder(a, b, c, stamps(nil))
	require.NotNil(t, oc)
	assert.Equal(t, ConflictOrderMoveVsRemove, oc.kind)
	assert.Contains(t, oc.children, w)
}

func TestMergeOrder_RemovalOfUnmovedChild(t *testing.T) {
	n := ids(4)
	w, x, y, z := n[0], n[1], n[2], n[3]
	a := []ident.NodeID{w, x, y, z}
	b := []ident.NodeID{w, x, z, y}
	c := []ident.NodeID{x, y, z}

	got, oc := mergeOrder(a, b, c, stamps(nil))
	require.Nil(t, oc)
	assert.Equal(t, []ident.NodeID{x, z, y}, got)
}

func TestMergeOrder_ConflictingReorders(t *testing.T) {
	n := ids(3)
	x, y, z := n[0], n[1], n[2]
	a := []ident.NodeID{x, y, z}

	_, oc := mergeOrder(a, []ident.NodeID{y, x, z}, []ident.NodeID{x, z, y}, stamps(nil))
	require.NotNil(t, oc)
	assert.Equal(t, ConflictChildOrder, oc.kind)
	assert.NotEmpty(t, oc.children)
}

func TestMergeOrder_FreshList(t *testing.T) {
	n := ids(2)
	got, oc := mergeOrder(nil, []ident.NodeID{n[0]}, []ident.NodeID{n[1]}, stamps(map[ident.NodeID]int64{n[0]: 2, n[1]: 1}))
	require.Nil(t, oc)
	assert.Equal(t, []ident.NodeID{n[1], n[0]}, got)
}

func TestMergeOrder_SwapAgainstRemoval(t *testing.T) {
	n := ids(2)
	a, b := n[0], n[1]
	anc := []ident.NodeID{a, b}
	swapped := []ident.NodeID{b, a}

	for _, tc := range []struct {
		name    string
		removed ident.NodeID
		kept    ident.NodeID
	}{
		{"remove second", b, a},
		{"remove first", a, b},
	} {
		t.Run(tc.name, func(t *testing.T) {
			from := []ident.NodeID{tc.kept}
			_, oc := mergeOrder(anc, swapped, from, stamps(nil))
			require.NotNil(t, oc)
			assert.Equal(t, ConflictOrderMoveVsRemove, oc.kind)
			assert.Equal(t, []ident.NodeID{tc.removed}, oc.children)

			// Same outcome with the sides exchanged.
			_, oc = mergeOrder(anc, from, swapped, stamps(nil))
			require.NotNil(t, oc)
			assert.Equal(t, ConflictOrderMoveVsRemove, oc.kind)
			assert.Equal(t, []ident.NodeID{tc.removed}, oc.children)
		})
	}
}

func TestMoved_CountsEveryInvertedChild(t *testing.T) {
	n := ids(4)
	w, x, y, z := n[0], n[1], n[2], n[3]
	anc := []ident.NodeID{w, x, y, z}
	all := set(anc)

	assert.Empty(t, moved(anc, anc, all, all))
	assert.Equal(t, []ident.NodeID{y, z}, moved(anc, []ident.NodeID{w, x, z, y}, all, all))
	assert.Equal(t, []ident.NodeID{w, x, y, z}, moved(anc, []ident.NodeID{z, w, x, y}, all, all))

	// Children only one list holds are ignored.
	side := []ident.NodeID{x, w, z}
	assert.Equal(t, []ident.NodeID{w, x}, moved(anc, side, all, set(side)))
}
