package rebaser

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgraph/cas"
	"snapgraph/changeset"
	"snapgraph/graph"
	"snapgraph/ident"
	"snapgraph/proto"
)

type env struct {
	ctx     context.Context
	store   *cas.MemoryStore
	repo    changeset.Repository
	manager *changeset.Manager
	actor   ident.ActorID

	ws      *changeset.Workspace
	head    *changeset.ChangeSet
	base    *graph.Snapshot
	n       ident.NodeID
	feature *changeset.ChangeSet
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEnv(t *testing.T, wrap func(changeset.Repository) changeset.Repository) *env {
	t.Helper()
	e := &env{
		ctx:   context.Background(),
		store: cas.NewMemoryStore(),
		actor: ident.NewActorID(),
	}
	var repo changeset.Repository = changeset.NewMemoryRepository()
	if wrap != nil {
		repo = wrap(repo)
	}
	e.repo = repo
	policy, err := changeset.NewPolicy(changeset.Rule{Pattern: "components/**", Approvals: 1})
	require.NoError(t, err)
	e.manager = changeset.NewManager(repo, changeset.ManagerConfig{Policy: policy, Logger: quietLogger()})

	scope := ident.NewScope(ident.NewWorkspaceID(), ident.NewChangeSetID(), e.actor)
	g := graph.New(scope)
	_, err = g.AddCategory(scope, graph.CategorySchemas)
	require.NoError(t, err)
	comps, err := g.AddCategory(scope, graph.CategoryComponents)
	require.NoError(t, err)
	nw := graph.NewContentNode(scope, e.content(t, `{"name":"n"}`))
	_, err = g.AddChild(comps, graph.NewEdge(scope, graph.EdgeUse), nw)
	require.NoError(t, err)
	e.n = nw.ID
	e.base, err = g.Write(e.ctx, e.store)
	require.NoError(t, err)

	e.ws, e.head, err = e.manager.CreateWorkspace(e.ctx, "main", e.base.Hash())
	require.NoError(t, err)
	e.feature, err = e.manager.ForkHead(e.ctx, e.ws.ID, "feature")
	require.NoError(t, err)
	return e
}

func (e *env) content(t *testing.T, body string) graph.ContentAddress {
	t.Helper()
	h, err := e.store.Put(e.ctx, []byte(body))
	require.NoError(t, err)
	return graph.ContentAddress{Kind: graph.ContentComponent, Hash: h}
}

func (e *env) scope(cs *changeset.ChangeSet) ident.Scope {
	return ident.NewScope(e.ws.ID, cs.ID, e.actor)
}

// commit edits cs's current snapshot and advances its pointer.
func (e *env) commit(t *testing.T, cs *changeset.ChangeSet, fn func(g *graph.Graph, scope ident.Scope)) *graph.Snapshot {
	t.Helper()
	cur, err := e.manager.Get(e.ctx, cs.ID)
	require.NoError(t, err)
	snap, err := graph.Load(e.ctx, e.store, cur.RootHash)
	require.NoError(t, err)
	g := snap.Checkout()
	fn(g, e.scope(cs))
	next, err := g.Write(e.ctx, e.store)
	require.NoError(t, err)
	require.NoError(t, e.manager.UpdatePointer(e.ctx, cs.ID, cur.RootHash, next.Hash(), e.actor))
	return next
}

func (e *env) addUnder(t *testing.T, cat graph.CategoryKind, body string) func(*graph.Graph, ident.Scope) {
	return func(g *graph.Graph, scope ident.Scope) {
		parent, ok := g.Category(cat)
		require.True(t, ok)
		_, err := g.AddChild(parent, graph.NewEdge(scope, graph.EdgeUse), graph.NewContentNode(scope, e.content(t, body)))
		require.NoError(t, err)
	}
}

func (e *env) setN(t *testing.T, body string) func(*graph.Graph, ident.Scope) {
	return func(g *graph.Graph, scope ident.Scope) {
		idx, ok := g.Lookup(e.n)
		require.True(t, ok)
		require.NoError(t, g.UpdateContent(scope, idx, e.content(t, body)))
	}
}

func (e *env) approve(t *testing.T) {
	t.Helper()
	require.NoError(t, e.manager.BeginApprovalFlow(e.ctx, e.feature.ID, e.actor))
	require.NoError(t, e.manager.RequestApproval(e.ctx, e.feature.ID, ident.NewActorID()))
}

func (e *env) request(onto, from *graph.Snapshot) proto.RebaseRequest {
	id := e.feature.ID
	return proto.RebaseRequest{
		WorkspaceID:      e.ws.ID,
		ChangeSetID:      e.head.ID,
		FromSnapshotHash: from.Hash(),
		OntoSnapshotHash: onto.Hash(),
		FromChangeSetID:  &id,
		Actor:            e.actor,
	}
}

func (e *env) rebaser(t *testing.T, cfg Config) *Rebaser {
	t.Helper()
	cfg.Store = e.store
	cfg.Manager = e.manager
	cfg.Logger = quietLogger()
	r := New(cfg)
	t.Cleanup(r.Close)
	return r
}

func TestRebaser_Success(t *testing.T) {
	e := newEnv(t, nil)
	onto := e.commit(t, e.head, e.addUnder(t, graph.CategorySchemas, `{"name":"s"}`))
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))
	e.approve(t)

	r := e.rebaser(t, Config{})
	resp, err := r.Rebase(e.ctx, e.request(onto, from))
	require.NoError(t, err)
	require.Equal(t, proto.StatusSuccess, resp.Status, resp.Message)
	assert.Empty(t, resp.Message)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 1, resp.Stats.NodesAdded)

	head, err := e.manager.Get(e.ctx, e.head.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.NewSnapshotHash, head.RootHash)

	merged, err := graph.Load(e.ctx, e.store, resp.NewSnapshotHash)
	require.NoError(t, err)
	schemas, ok := merged.Graph().Category(graph.CategorySchemas)
	require.True(t, ok)
	assert.Len(t, merged.Graph().Outgoing(schemas), 1)

	feature, err := e.manager.Get(e.ctx, e.feature.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusApplied, feature.Status)

	history, err := e.manager.History(e.ctx, e.head.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, resp.NewSnapshotHash, history[1].New)
	assert.NoError(t, changeset.VerifyChain(history))
}

func TestRebaser_ApprovalRequired(t *testing.T) {
	e := newEnv(t, nil)
	onto := e.commit(t, e.head, e.addUnder(t, graph.CategorySchemas, `{"name":"s"}`))
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))
	require.NoError(t, e.manager.BeginApprovalFlow(e.ctx, e.feature.ID, e.actor))

	r := e.rebaser(t, Config{})
	resp, err := r.Rebase(e.ctx, e.request(onto, from))
	require.NoError(t, err)
	assert.Equal(t, proto.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "approvals")

	head, err := e.manager.Get(e.ctx, e.head.ID)
	require.NoError(t, err)
	assert.Equal(t, onto.Hash(), head.RootHash)
}

func TestRebaser_NotInApprovalFlow(t *testing.T) {
	e := newEnv(t, nil)
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))

	r := e.rebaser(t, Config{})
	resp, err := r.Rebase(e.ctx, e.request(e.base, from))
	require.NoError(t, err)
	assert.Equal(t, proto.StatusError, resp.Status)
}

func TestRebaser_Conflict(t *testing.T) {
	e := newEnv(t, nil)
	onto := e.commit(t, e.head, e.setN(t, `{"name":"foo"}`))
	from := e.commit(t, e.feature, e.setN(t, `{"name":"bar"}`))
	e.approve(t)

	r := e.rebaser(t, Config{})
	resp, err := r.Rebase(e.ctx, e.request(onto, from))
	require.NoError(t, err)
	require.Equal(t, proto.StatusConflict, resp.Status)
	require.Len(t, resp.Conflicts, 1)
	require.NotNil(t, resp.Conflicts[0].Node)
	assert.Equal(t, e.n, *resp.Conflicts[0].Node)

	head, err := e.manager.Get(e.ctx, e.head.ID)
	require.NoError(t, err)
	assert.Equal(t, onto.Hash(), head.RootHash)
	feature, err := e.manager.Get(e.ctx, e.feature.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusNeedsApproval, feature.Status)
}

func TestRebaser_RetryWhenOntoIsStale(t *testing.T) {
	e := newEnv(t, nil)
	e.commit(t, e.head, e.addUnder(t, graph.CategorySchemas, `{"name":"s"}`))
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))
	e.approve(t)

	r := e.rebaser(t, Config{})
	resp, err := r.Rebase(e.ctx, e.request(e.base, from))
	require.NoError(t, err)
	assert.Equal(t, proto.StatusRetry, resp.Status)
}

// racingRepo moves the pointer to `to` underneath the next swap once armed.
type racingRepo struct {
	changeset.Repository
	armed atomic.Bool
	to    cas.Hash
}

func (r *racingRepo) SwapPointer(ctx context.Context, id ident.ChangeSetID, old, new cas.Hash, actor ident.ActorID) error {
	if r.armed.CompareAndSwap(true, false) {
		if err := r.Repository.SwapPointer(ctx, id, old, r.to, actor); err != nil {
			return err
		}
	}
	return r.Repository.SwapPointer(ctx, id, old, new, actor)
}

func TestRebaser_RetryWhenPointerMovesDuringRebase(t *testing.T) {
	var racer *racingRepo
	e := newEnv(t, func(inner changeset.Repository) changeset.Repository {
		racer = &racingRepo{Repository: inner}
		return racer
	})
	onto := e.commit(t, e.head, e.addUnder(t, graph.CategorySchemas, `{"name":"s"}`))
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))
	e.approve(t)

	racer.to = e.base.Hash()
	racer.armed.Store(true)

	r := e.rebaser(t, Config{})
	resp, err := r.Rebase(e.ctx, e.request(onto, from))
	require.NoError(t, err)
	assert.Equal(t, proto.StatusRetry, resp.Status)

	head, err := e.manager.Get(e.ctx, e.head.ID)
	require.NoError(t, err)
	assert.Equal(t, e.base.Hash(), head.RootHash)
	feature, err := e.manager.Get(e.ctx, e.feature.ID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusNeedsApproval, feature.Status)
}

func TestRebaser_SerializesPerWorkspace(t *testing.T) {
	e := newEnv(t, nil)
	onto := e.commit(t, e.head, e.addUnder(t, graph.CategorySchemas, `{"name":"s"}`))
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))

	r := e.rebaser(t, Config{})
	ancestor := e.base.Hash()
	req := proto.RebaseRequest{
		WorkspaceID:          e.ws.ID,
		ChangeSetID:          e.head.ID,
		FromSnapshotHash:     from.Hash(),
		OntoSnapshotHash:     onto.Hash(),
		AncestorSnapshotHash: &ancestor,
		Actor:                e.actor,
	}

	var replies []<-chan proto.RebaseResponse
	for range 5 {
		replies = append(replies, r.Enqueue(e.ctx, req))
	}
	statuses := make([]proto.Status, 0, len(replies))
	for _, ch := range replies {
		statuses = append(statuses, (<-ch).Status)
	}
	assert.Equal(t, []proto.Status{
		proto.StatusSuccess,
		proto.StatusRetry,
		proto.StatusRetry,
		proto.StatusRetry,
		proto.StatusRetry,
	}, statuses)
	assert.Equal(t, 1, r.Workers())
}

func TestRebaser_InvalidRequest(t *testing.T) {
	e := newEnv(t, nil)
	r := e.rebaser(t, Config{})

	resp := <-r.Enqueue(e.ctx, proto.RebaseRequest{WorkspaceID: e.ws.ID})
	assert.Equal(t, proto.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "change_set_id")
	assert.Equal(t, 0, r.Workers())
}

func TestRebaser_ReapsIdleWorkers(t *testing.T) {
	e := newEnv(t, nil)
	onto := e.commit(t, e.head, e.addUnder(t, graph.CategorySchemas, `{"name":"s"}`))
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))
	e.approve(t)

	r := e.rebaser(t, Config{IdleTTL: 20 * time.Millisecond})
	resp, err := r.Rebase(e.ctx, e.request(onto, from))
	require.NoError(t, err)
	require.Equal(t, proto.StatusSuccess, resp.Status, resp.Message)

	assert.Eventually(t, func() bool { return r.Workers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRebaser_Closed(t *testing.T) {
	e := newEnv(t, nil)
	from := e.commit(t, e.feature, e.addUnder(t, graph.CategoryComponents, `{"name":"c"}`))
	e.approve(t)

	r := e.rebaser(t, Config{})
	r.Close()

	resp := <-r.Enqueue(e.ctx, e.request(e.base, from))
	assert.Equal(t, proto.StatusError, resp.Status)
	assert.Contains(t, resp.Message, ErrClosed.Error())
}
