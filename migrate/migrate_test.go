package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgraph/cas"
	"snapgraph/graph"
	"snapgraph/ident"
)

func testScope() ident.Scope {
	return ident.NewScope(ident.NewWorkspaceID(), ident.NewChangeSetID(), ident.NewActorID()).
		WithClock(ident.NewCounterClock(1))
}

// sample builds root -> components -> {list(ordered: a, b), c}, with c also
// holding a func reference.
func sample(t *testing.T) *graph.Graph {
	t.Helper()
	scope := testScope()
	g := graph.New(scope)
	cat, err := g.AddCategory(scope, graph.CategoryComponents)
	require.NoError(t, err)
	funcs, err := g.AddCategory(scope, graph.CategoryFuncs)
	require.NoError(t, err)

	list, err := g.AddChild(cat, graph.NewEdge(scope, graph.EdgeUse),
		graph.NewOrderingNode(scope, graph.ContentAddress{Kind: graph.ContentView, Hash: cas.Sum([]byte("list"))}))
	require.NoError(t, err)
	for _, name := range []string{"a", "b"} {
		_, err := g.AddChild(list, graph.NewEdge(scope, graph.EdgeOrdinal),
			graph.NewContentNode(scope, graph.ContentAddress{Kind: graph.ContentComponent, Hash: cas.Sum([]byte(name))}))
		require.NoError(t, err)
	}
	c, err := g.AddChild(cat, graph.NewEdge(scope, graph.EdgeUse),
		graph.NewContentNode(scope, graph.ContentAddress{Kind: graph.ContentComponent, Hash: cas.Sum([]byte("c"))}))
	require.NoError(t, err)
	fn, err := g.AddChild(funcs, graph.NewEdge(scope, graph.EdgeUse),
		graph.NewContentNode(scope, graph.ContentAddress{Kind: graph.ContentFunc, Hash: cas.Sum([]byte("fn"))}))
	require.NoError(t, err)
	_, err = g.AddEdge(c, graph.NewEdge(scope, graph.EdgeFuncRef), fn)
	require.NoError(t, err)
	return g
}

// writeLegacy stores g with every node for which legacy returns true in the
// v1 encoding and returns the root hash.
func writeLegacy(t *testing.T, store cas.Store, g *graph.Graph, legacy func(graph.NodeWeight) bool) cas.Hash {
	t.Helper()
	ctx := context.Background()
	memo := make(map[ident.NodeID]cas.Hash)
	var write func(id ident.NodeID) cas.Hash
	write = func(id ident.NodeID) cas.Hash {
		if h, ok := memo[id]; ok {
			return h
		}
		idx, ok := g.Lookup(id)
		require.True(t, ok)
		w, err := g.Node(idx)
		require.NoError(t, err)

		var edges []graph.ObjectEdge
		for _, e := range g.Outgoing(idx) {
			edges = append(edges, graph.ObjectEdge{Weight: e.Weight, To: write(e.Destination), ToID: e.Destination})
		}
		edges = graph.SortObjectEdges(w.Order, edges)

		var data []byte
		if legacy(w) {
			data, err = graph.EncodeLegacyObject(w, edges)
		} else {
			data, err = graph.EncodeObject(w, edges)
		}
		require.NoError(t, err)
		h, err := store.Put(ctx, data)
		require.NoError(t, err)
		memo[id] = h
		return h
	}
	root, err := g.Node(g.Root())
	require.NoError(t, err)
	return write(root.ID)
}

func all(graph.NodeWeight) bool { return true }

func TestGraph_UpgradesToCurrentEncoding(t *testing.T) {
	ctx := context.Background()
	g := sample(t)
	want, err := g.RootHash()
	require.NoError(t, err)

	store := cas.NewMemoryStore()
	old := writeLegacy(t, store, g, all)
	require.NotEqual(t, want, old)

	_, err = graph.Load(ctx, store, old)
	require.True(t, graph.IsMigrationNeeded(err))

	root, report, err := Graph(ctx, store, old)
	require.NoError(t, err)
	assert.Equal(t, want, root, "migrated graph must hash like a freshly written one")
	assert.Equal(t, g.Len(), report.Objects)
	assert.Equal(t, g.Len(), report.Upgraded)
	assert.Equal(t, g.Len(), report.Written)
	assert.Equal(t, map[int]int{1: g.Len()}, report.Versions)
	assert.True(t, report.Changed())

	snap, err := graph.Load(ctx, store, root)
	require.NoError(t, err)
	assert.Equal(t, g.NodeIDs(), snap.Graph().NodeIDs())
	for _, id := range g.NodeIDs() {
		before, _ := g.NodeByID(id)
		after, ok := snap.Graph().NodeByID(id)
		require.True(t, ok)
		assert.Equal(t, before.ContentHash(), after.ContentHash())
	}
}

func TestGraph_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := cas.NewMemoryStore()
	snap, err := sample(t).Write(ctx, store)
	require.NoError(t, err)
	writes := store.Writes()

	root, report, err := Graph(ctx, store, snap.Hash())
	require.NoError(t, err)
	assert.Equal(t, snap.Hash(), root)
	assert.Zero(t, report.Upgraded)
	assert.Zero(t, report.Written)
	assert.False(t, report.Changed())
	assert.Equal(t, writes, store.Writes())

	again, _, err := Graph(ctx, store, root)
	require.NoError(t, err)
	assert.Equal(t, root, again)
}

func TestGraph_MixedVersions(t *testing.T) {
	ctx := context.Background()
	g := sample(t)
	want, err := g.RootHash()
	require.NoError(t, err)

	store := cas.NewMemoryStore()
	old := writeLegacy(t, store, g, func(w graph.NodeWeight) bool {
		return w.Kind == graph.KindOrdering
	})

	root, report, err := Graph(ctx, store, old)
	require.NoError(t, err)
	assert.Equal(t, want, root)
	assert.Equal(t, 1, report.Upgraded)
	assert.Equal(t, 1, report.Versions[1])
	// The list, the components category above it and root are rewritten.
	assert.Equal(t, 3, report.Written)
}

func TestGraph_FailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	g := sample(t)
	full := cas.NewMemoryStore()
	old := writeLegacy(t, full, g, all)

	// Copy everything except the func leaf.
	var leaf cas.Hash
	for _, id := range g.NodeIDs() {
		w, _ := g.NodeByID(id)
		if w.Content.Kind != graph.ContentFunc {
			continue
		}
		data, err := graph.EncodeLegacyObject(w, nil)
		require.NoError(t, err)
		leaf = cas.Sum(data)
	}
	require.False(t, leaf.IsZero())

	partial := cas.NewMemoryStore()
	for _, h := range full.Hashes() {
		if h == leaf {
			continue
		}
		data, err := full.Get(ctx, h)
		require.NoError(t, err)
		_, err = partial.Put(ctx, data)
		require.NoError(t, err)
	}
	before := partial.Len()

	_, _, err := Graph(ctx, partial, old)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.ErrorIs(t, err, cas.ErrNotFound)
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, leaf, me.Object)
	assert.Equal(t, before, partial.Len())
}

func TestGraph_RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	store := cas.NewMemoryStore()
	h, err := store.Put(ctx, []byte(`{"v":9,"node":{}}`))
	require.NoError(t, err)

	_, _, err = Graph(ctx, store, h)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.ErrorIs(t, err, graph.ErrInvalidContent)
}

func TestLoadOrMigrate(t *testing.T) {
	ctx := context.Background()
	g := sample(t)
	store := cas.NewMemoryStore()
	old := writeLegacy(t, store, g, all)

	snap, err := LoadOrMigrate(ctx, store, old)
	require.NoError(t, err)
	want, err := g.RootHash()
	require.NoError(t, err)
	assert.Equal(t, want, snap.Hash())
	assert.True(t, snap.Graph().ReadOnly())

	again, err := LoadOrMigrate(ctx, store, snap.Hash())
	require.NoError(t, err)
	assert.Equal(t, snap.Hash(), again.Hash())
}
