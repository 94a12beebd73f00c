package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgraph/cas"
	"snapgraph/changeset"
	"snapgraph/graph"
	"snapgraph/ident"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db"), Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "snapgraph.db")
	db, err := Open(SQLiteConfig{Path: path, Logger: quietLogger()})
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, db.Path())
}

func TestContent_PutGetDedup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	data := []byte(`{"name":"web"}`)
	h, err := db.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, cas.Sum(data), h)

	again, err := db.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, h, again)

	got, err := db.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := db.Has(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Objects)
	assert.EqualValues(t, len(data), stats.Bytes)
}

func TestContent_Missing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	h := cas.Sum([]byte("absent"))

	_, err := db.Get(ctx, h)
	assert.ErrorIs(t, err, cas.ErrNotFound)
	ok, err := db.Has(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContent_CompressesLargeObjects(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	large := bytes.Repeat([]byte("snapgraph "), 1000)
	h, err := db.Put(ctx, large)
	require.NoError(t, err)
	small, err := db.Put(ctx, []byte("tiny"))
	require.NoError(t, err)

	var codec string
	var size int
	require.NoError(t, db.conn.QueryRow(`SELECT codec, length(data) FROM content WHERE hash = ?`, h.String()).Scan(&codec, &size))
	assert.Equal(t, CodecZstd, codec)
	assert.Less(t, size, len(large))
	require.NoError(t, db.conn.QueryRow(`SELECT codec FROM content WHERE hash = ?`, small.String()).Scan(&codec))
	assert.Equal(t, CodecRaw, codec)

	got, err := db.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, large, got)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Compressed)
}

func TestContent_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	h, err := db.Put(ctx, []byte("original"))
	require.NoError(t, err)
	_, err = db.conn.Exec(`UPDATE content SET data = ? WHERE hash = ?`, []byte("tampered"), h.String())
	require.NoError(t, err)

	_, err = db.Get(ctx, h)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestContent_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	scope := ident.NewScope(ident.NewWorkspaceID(), ident.NewChangeSetID(), ident.NewActorID())

	g := graph.New(scope)
	cat, err := g.AddCategory(scope, graph.CategoryComponents)
	require.NoError(t, err)
	content, err := db.Put(ctx, []byte(`{"name":"db"}`))
	require.NoError(t, err)
	_, err = g.AddChild(cat, graph.NewEdge(scope, graph.EdgeUse),
		graph.NewContentNode(scope, graph.ContentAddress{Kind: graph.ContentComponent, Hash: content}))
	require.NoError(t, err)

	snap, err := g.Write(ctx, db)
	require.NoError(t, err)
	loaded, err := graph.Load(ctx, db, snap.Hash())
	require.NoError(t, err)
	assert.Equal(t, g.NodeIDs(), loaded.Graph().NodeIDs())
}

func newDBManager(t *testing.T, db *DB) (*changeset.Manager, *changeset.Workspace, *changeset.ChangeSet) {
	t.Helper()
	m := changeset.NewManager(db, changeset.ManagerConfig{Logger: quietLogger()})
	ws, head, err := m.CreateWorkspace(context.Background(), "prod", cas.Sum([]byte("root-0")))
	require.NoError(t, err)
	return m, ws, head
}

func TestRepository_WorkspaceAndHead(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m, ws, head := newDBManager(t, db)

	got, err := db.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws, got)

	all, err := db.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	h, err := m.Head(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, head.ID, h.ID)
	assert.True(t, h.IsHead())
	assert.Equal(t, head.RootHash, h.RootHash)

	_, err = db.GetWorkspace(ctx, ident.NewWorkspaceID())
	assert.ErrorIs(t, err, changeset.ErrWorkspaceNotFound)
	_, err = db.GetChangeSet(ctx, ident.NewChangeSetID())
	assert.ErrorIs(t, err, changeset.ErrNotFound)
}

func TestRepository_ForkListAndUpdate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m, ws, head := newDBManager(t, db)

	cs, err := m.Create(ctx, "feature", head.ID)
	require.NoError(t, err)
	assert.Equal(t, head.RootHash, cs.RootHash)
	assert.Equal(t, head.ID, cs.BaseChangeSetID)

	requester, approver := ident.NewActorID(), ident.NewActorID()
	require.NoError(t, m.BeginApprovalFlow(ctx, cs.ID, requester))
	require.NoError(t, m.RequestApproval(ctx, cs.ID, approver))

	got, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusNeedsApproval, got.Status)
	assert.Equal(t, requester, got.MergeRequestedBy)
	assert.Equal(t, []ident.ActorID{approver}, got.Approvals)

	pending, err := db.ListChangeSets(ctx, ws.ID, changeset.StatusNeedsApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cs.ID, pending[0].ID)

	all, err := db.ListChangeSets(ctx, ws.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// UpdateChangeSet never moves the pointer.
	got.RootHash = cas.Sum([]byte("sneaky"))
	got.Name = "renamed"
	require.NoError(t, db.UpdateChangeSet(ctx, got))
	after, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", after.Name)
	assert.Equal(t, head.RootHash, after.RootHash)

	missing := got.Clone()
	missing.ID = ident.NewChangeSetID()
	assert.ErrorIs(t, db.UpdateChangeSet(ctx, missing), changeset.ErrNotFound)

	orphan := changeset.New("orphan", head)
	orphan.WorkspaceID = ident.NewWorkspaceID()
	assert.ErrorIs(t, db.CreateChangeSet(ctx, orphan), changeset.ErrWorkspaceNotFound)
}

func TestRepository_SwapPointerAndHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m, _, head := newDBManager(t, db)
	cs, err := m.Create(ctx, "feature", head.ID)
	require.NoError(t, err)
	actor := ident.NewActorID()

	roots := []cas.Hash{cs.RootHash}
	for i := 1; i <= 3; i++ {
		next := cas.Sum([]byte{byte(i)})
		require.NoError(t, db.SwapPointer(ctx, cs.ID, roots[len(roots)-1], next, actor))
		roots = append(roots, next)
	}

	err = db.SwapPointer(ctx, cs.ID, roots[0], cas.Sum([]byte("late")), actor)
	assert.ErrorIs(t, err, changeset.ErrPointerMoved)

	got, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, roots[3], got.RootHash)

	history, err := db.PointerHistory(ctx, cs.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.NoError(t, changeset.VerifyChain(history))
	for i, e := range history {
		assert.Equal(t, roots[i], e.Old)
		assert.Equal(t, roots[i+1], e.New)
		assert.Equal(t, actor, e.Actor)
	}

	last, err := db.PointerHistory(ctx, cs.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, history[1].ID, last[0].ID)
	assert.Equal(t, history[2].ID, last[1].ID)

	_, err = db.PointerHistory(ctx, ident.NewChangeSetID(), 0)
	assert.ErrorIs(t, err, changeset.ErrNotFound)
}

func TestRepository_RevisionGuardsUpdates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m, _, head := newDBManager(t, db)
	cs, err := m.Create(ctx, "feature", head.ID)
	require.NoError(t, err)

	first, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	second, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)

	first.Name = "first"
	require.NoError(t, db.UpdateChangeSet(ctx, first))
	second.Name = "second"
	assert.ErrorIs(t, db.UpdateChangeSet(ctx, second), changeset.ErrStaleChangeSet)

	got, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, first.Revision, got.Revision)

	require.NoError(t, db.SwapPointer(ctx, cs.ID, got.RootHash, cas.Sum([]byte("moved")), ident.NewActorID()))
	assert.ErrorIs(t, db.UpdateChangeSet(ctx, got), changeset.ErrStaleChangeSet)
}

func TestRepository_SwapPointerRequiresOpen(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m, _, head := newDBManager(t, db)
	cs, err := m.Create(ctx, "feature", head.ID)
	require.NoError(t, err)
	require.NoError(t, m.BeginApprovalFlow(ctx, cs.ID, ident.NewActorID()))

	err = db.SwapPointer(ctx, cs.ID, cs.RootHash, cas.Sum([]byte("x")), ident.NewActorID())
	assert.ErrorIs(t, err, changeset.ErrNotOpen)

	history, err := db.PointerHistory(ctx, cs.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRepository_ConcurrentApprovals(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m, _, head := newDBManager(t, db)
	cs, err := m.Create(ctx, "feature", head.ID)
	require.NoError(t, err)
	require.NoError(t, m.BeginApprovalFlow(ctx, cs.ID, ident.NewActorID()))

	const voters = 8
	var wg sync.WaitGroup
	errs := make([]error, voters)
	for i := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.RequestApproval(ctx, cs.ID, ident.NewActorID())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := db.GetChangeSet(ctx, cs.ID)
	require.NoError(t, err)
	assert.Len(t, got.Approvals, voters)
}

func TestRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapgraph.db")
	db, err := Open(SQLiteConfig{Path: path, Logger: quietLogger()})
	require.NoError(t, err)
	_, ws, head := newDBManager(t, db)
	h, err := db.Put(ctx, []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(SQLiteConfig{Path: path, Logger: quietLogger()})
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, head.ID, got.HeadChangeSetID)
	data, err := db.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)
}
