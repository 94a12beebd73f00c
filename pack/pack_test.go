package pack

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgraph/cas"
	"snapgraph/graph"
	"snapgraph/ident"
)

func sampleSnapshot(t *testing.T, store cas.Store) *graph.Snapshot {
	t.Helper()
	ctx := context.Background()
	scope := ident.NewScope(ident.NewWorkspaceID(), ident.NewChangeSetID(), ident.NewActorID())
	g := graph.New(scope)
	cat, err := g.AddCategory(scope, graph.CategoryComponents)
	require.NoError(t, err)

	for _, body := range []string{`{"name":"api"}`, `{"name":"db"}`} {
		h, err := store.Put(ctx, []byte(body))
		require.NoError(t, err)
		_, err = g.AddChild(cat, graph.NewEdge(scope, graph.EdgeUse),
			graph.NewContentNode(scope, graph.ContentAddress{Kind: graph.ContentComponent, Hash: h}))
		require.NoError(t, err)
	}
	// Content that was never stored.
	_, err = g.AddChild(cat, graph.NewEdge(scope, graph.EdgeUse),
		graph.NewContentNode(scope, graph.ContentAddress{Kind: graph.ContentComponent, Hash: cas.Sum([]byte("ghost"))}))
	require.NoError(t, err)

	snap, err := g.Write(ctx, store)
	require.NoError(t, err)
	return snap
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := cas.NewMemoryStore()
	snap := sampleSnapshot(t, src)

	var buf bytes.Buffer
	exported, err := Export(ctx, src, snap.Hash(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 5, exported.Nodes)
	assert.Equal(t, 2, exported.Content)
	assert.Equal(t, 1, exported.MissingContent)

	dst := cas.NewMemoryStore()
	header, imported, err := Import(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, snap.Hash(), header.Root)
	assert.Equal(t, exported.Nodes, imported.Nodes)
	assert.Equal(t, exported.Content, imported.Content)
	assert.Equal(t, exported.Bytes, imported.Bytes)
	assert.Equal(t, src.Len(), dst.Len())

	loaded, err := graph.Load(ctx, dst, snap.Hash())
	require.NoError(t, err)
	assert.Equal(t, snap.Graph().NodeIDs(), loaded.Graph().NodeIDs())
}

func TestExport_ChildrenBeforeParents(t *testing.T) {
	ctx := context.Background()
	src := cas.NewMemoryStore()
	snap := sampleSnapshot(t, src)

	var buf bytes.Buffer
	_, err := Export(ctx, src, snap.Hash(), &buf)
	require.NoError(t, err)
	header, _, err := Import(ctx, cas.NewMemoryStore(), &buf)
	require.NoError(t, err)

	last := header.Objects[len(header.Objects)-1]
	assert.Equal(t, snap.Hash(), last.Digest)
	assert.Equal(t, KindNode, last.Kind)
}

func TestImport_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := cas.NewMemoryStore()
	snap := sampleSnapshot(t, src)
	var buf bytes.Buffer
	_, err := Export(ctx, src, snap.Hash(), &buf)
	require.NoError(t, err)
	packed := buf.Bytes()

	dst := cas.NewMemoryStore()
	_, _, err = Import(ctx, dst, bytes.NewReader(packed))
	require.NoError(t, err)
	writes := dst.Writes()
	_, _, err = Import(ctx, dst, bytes.NewReader(packed))
	require.NoError(t, err)
	assert.Equal(t, writes, dst.Writes())
}

func TestImport_RejectsTamperedObject(t *testing.T) {
	ctx := context.Background()
	src := cas.NewMemoryStore()
	snap := sampleSnapshot(t, src)
	var buf bytes.Buffer
	_, err := Export(ctx, src, snap.Hash(), &buf)
	require.NoError(t, err)

	dec, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	raw, err := io.ReadAll(dec)
	dec.Close()
	require.NoError(t, err)
	raw[len(raw)-2] ^= 0xff

	var tampered bytes.Buffer
	enc, err := zstd.NewWriter(&tampered)
	require.NoError(t, err)
	_, err = enc.Write(raw)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dst := cas.NewMemoryStore()
	_, _, err = Import(ctx, dst, &tampered)
	assert.ErrorIs(t, err, ErrInvalidPack)
	assert.Zero(t, dst.Len())
}

func TestImport_RejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte{0, 0})
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	_, _, err = Import(context.Background(), cas.NewMemoryStore(), &buf)
	assert.ErrorIs(t, err, ErrInvalidPack)
}

func TestExport_MissingRoot(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(context.Background(), cas.NewMemoryStore(), cas.Sum([]byte("nope")), &buf)
	assert.ErrorIs(t, err, cas.ErrNotFound)
}
