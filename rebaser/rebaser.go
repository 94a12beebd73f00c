// Package rebaser serializes rebase requests per workspace and advances
// change set pointers with the merged snapshots.
package rebaser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snapgraph/cas"
	"snapgraph/changeset"
	"snapgraph/graph"
	"snapgraph/ident"
	"snapgraph/metrics"
	"snapgraph/migrate"
	"snapgraph/proto"
	"snapgraph/rebase"
)

var ErrClosed = errors.New("rebaser closed")

// Config configures a Rebaser.
type Config struct {
	Store   cas.Store
	Manager *changeset.Manager
	// Engine defaults to one built on Store.
	Engine *rebase.Engine
	// QueueSize bounds each workspace's pending requests.
	QueueSize int
	// IdleTTL is how long a workspace worker may sit idle before it exits.
	IdleTTL time.Duration
	// CacheSnapshots bounds the loaded snapshot cache.
	CacheSnapshots int
	Logger         *logrus.Logger
}

// Rebaser runs one worker goroutine per active workspace. Requests for the
// same workspace are processed one at a time in arrival order.
type Rebaser struct {
	cfg    Config
	engine *rebase.Engine
	cache  *graph.SnapshotCache
	log    *logrus.Logger

	mu      sync.Mutex
	workers map[ident.WorkspaceID]*worker
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

type job struct {
	ctx   context.Context
	req   proto.RebaseRequest
	reply chan proto.RebaseResponse
}

type worker struct {
	workspace ident.WorkspaceID
	jobs      chan *job
	quit      chan struct{}

	// guarded by Rebaser.mu
	pending  int
	lastUsed time.Time
}

// New creates a rebaser and starts its idle reaper.
func New(cfg Config) *Rebaser {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.CacheSnapshots <= 0 {
		cfg.CacheSnapshots = 32
	}
	engine := cfg.Engine
	if engine == nil {
		engine = rebase.NewEngine(rebase.Config{Store: cfg.Store, Logger: cfg.Logger})
	}
	r := &Rebaser{
		cfg:     cfg,
		engine:  engine,
		cache:   graph.NewSnapshotCache(cfg.Store, cfg.CacheSnapshots),
		log:     cfg.Logger,
		workers: make(map[ident.WorkspaceID]*worker),
		stop:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.reapLoop()
	return r
}

// Enqueue queues req on its workspace and returns a channel that receives
// exactly one response.
func (r *Rebaser) Enqueue(ctx context.Context, req proto.RebaseRequest) <-chan proto.RebaseResponse {
	reply := make(chan proto.RebaseResponse, 1)
	if err := req.Validate(); err != nil {
		reply <- r.respond(req, proto.Error(err))
		return reply
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		reply <- r.respond(req, proto.Error(ErrClosed))
		return reply
	}
	w := r.workerLocked(req.WorkspaceID)
	select {
	case w.jobs <- &job{ctx: ctx, req: req, reply: reply}:
		w.pending++
		w.lastUsed = time.Now()
		metrics.QueueDepth.Inc()
	default:
		reply <- r.respond(req, proto.Error(fmt.Errorf("workspace %s rebase queue is full", req.WorkspaceID)))
	}
	return reply
}

// Rebase enqueues req and waits for its response.
func (r *Rebaser) Rebase(ctx context.Context, req proto.RebaseRequest) (proto.RebaseResponse, error) {
	select {
	case resp := <-r.Enqueue(ctx, req):
		return resp, nil
	case <-ctx.Done():
		return proto.RebaseResponse{}, ctx.Err()
	}
}

// Workers returns the number of live workspace workers.
func (r *Rebaser) Workers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Close stops every worker. Queued requests that have not started are
// answered with an Error response.
func (r *Rebaser) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stop)
	for id, w := range r.workers {
		close(w.quit)
		delete(r.workers, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Rebaser) workerLocked(id ident.WorkspaceID) *worker {
	if w, ok := r.workers[id]; ok {
		return w
	}
	w := &worker{
		workspace: id,
		jobs:      make(chan *job, r.cfg.QueueSize),
		quit:      make(chan struct{}),
		lastUsed:  time.Now(),
	}
	r.workers[id] = w
	r.wg.Add(1)
	go r.run(w)
	r.log.WithField("workspace", id).Debug("rebase worker started")
	return w
}

func (r *Rebaser) run(w *worker) {
	defer r.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			metrics.QueueDepth.Dec()
			j.reply <- r.respond(j.req, r.process(j.ctx, j.req))
			r.mu.Lock()
			w.pending--
			w.lastUsed = time.Now()
			r.mu.Unlock()
		case <-w.quit:
			r.drain(w)
			return
		}
	}
}

func (r *Rebaser) drain(w *worker) {
	for {
		select {
		case j := <-w.jobs:
			metrics.QueueDepth.Dec()
			j.reply <- r.respond(j.req, proto.Error(ErrClosed))
		default:
			return
		}
	}
}

// reapLoop periodically stops idle workers.
func (r *Rebaser) reapLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

// reapIdle stops workers with nothing queued that have been idle too long.
func (r *Rebaser) reapIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.cfg.IdleTTL)
	for id, w := range r.workers {
		if w.pending == 0 && w.lastUsed.Before(cutoff) {
			close(w.quit)
			delete(r.workers, id)
			r.log.WithField("workspace", id).Debug("rebase worker reaped")
		}
	}
}

func (r *Rebaser) respond(req proto.RebaseRequest, resp proto.RebaseResponse) proto.RebaseResponse {
	metrics.Rebases.WithLabelValues(string(resp.Status)).Inc()
	fields := logrus.Fields{
		"workspace":  req.WorkspaceID,
		"change_set": req.ChangeSetID,
		"status":     resp.Status,
	}
	switch resp.Status {
	case proto.StatusSuccess:
		fields["root"] = resp.NewSnapshotHash.Short()
		r.log.WithFields(fields).Info("rebase applied")
	case proto.StatusConflict:
		fields["conflicts"] = len(resp.Conflicts)
		r.log.WithFields(fields).Info("rebase conflicted")
	default:
		fields["message"] = resp.Message
		r.log.WithFields(fields).Warn("rebase not applied")
	}
	return resp
}

func (r *Rebaser) process(ctx context.Context, req proto.RebaseRequest) proto.RebaseResponse {
	if err := ctx.Err(); err != nil {
		return proto.Error(err)
	}
	onto, err := r.cfg.Manager.Get(ctx, req.ChangeSetID)
	if err != nil {
		return proto.Error(err)
	}
	if onto.WorkspaceID != req.WorkspaceID {
		return proto.Error(fmt.Errorf("change set %s is not in workspace %s", onto.ID, req.WorkspaceID))
	}
	if onto.RootHash != req.OntoSnapshotHash {
		return proto.Retry(fmt.Sprintf("change set %s moved to %s", onto.ID, onto.RootHash.Short()))
	}

	var applied *changeset.ChangeSet
	ancestorHash := cas.ZeroHash
	if req.FromChangeSetID != nil {
		applied, err = r.cfg.Manager.Get(ctx, *req.FromChangeSetID)
		if err != nil {
			return proto.Error(err)
		}
		if applied.Status != changeset.StatusNeedsApproval {
			return proto.Error(fmt.Errorf("%w: %s is %s", changeset.ErrInvalidStatusTransition, applied.ID, applied.Status))
		}
		ancestorHash = applied.AncestorHash
	}
	if req.AncestorSnapshotHash != nil {
		ancestorHash = *req.AncestorSnapshotHash
	}

	ontoSnap, err := r.load(ctx, req.OntoSnapshotHash)
	if err != nil {
		return proto.Error(err)
	}
	fromSnap, err := r.load(ctx, req.FromSnapshotHash)
	if err != nil {
		return proto.Error(err)
	}
	ancestorSnap, err := r.load(ctx, ancestorHash)
	if err != nil {
		return proto.Error(err)
	}

	var paths []string
	if applied != nil {
		paths = rebase.ChangedPaths(ancestorSnap.Graph(), fromSnap.Graph())
		if err := r.cfg.Manager.CheckApprovals(ctx, applied.ID, paths); err != nil {
			return proto.Error(err)
		}
	}

	res, merged, err := r.engine.RebaseAndWrite(ctx, r.cfg.Store, ontoSnap, fromSnap, ancestorSnap)
	if err != nil {
		return proto.Error(err)
	}
	if !res.Ok() {
		return proto.Conflict(res.Conflicts)
	}
	r.cache.Add(merged)

	err = r.cfg.Manager.UpdatePointer(ctx, req.ChangeSetID, req.OntoSnapshotHash, merged.Hash(), req.Actor)
	if errors.Is(err, changeset.ErrPointerMoved) {
		return proto.Retry(err.Error())
	}
	if err != nil {
		return proto.Error(err)
	}

	resp := proto.Success(merged.Hash(), res.Stats)
	if applied != nil {
		if err := r.cfg.Manager.MarkApplied(ctx, applied.ID, paths); err != nil {
			resp.Message = fmt.Sprintf("merged, but marking %s applied failed: %v", applied.ID, err)
		}
	}
	return resp
}

// load reads a snapshot, upgrading it first if it was stored in an older
// encoding.
func (r *Rebaser) load(ctx context.Context, root cas.Hash) (*graph.Snapshot, error) {
	snap, err := r.cache.Load(ctx, root)
	if err == nil || !graph.IsMigrationNeeded(err) {
		return snap, err
	}
	snap, report, err := migrate.Load(ctx, r.cfg.Store, root)
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{
		"old_root": root.Short(),
		"new_root": snap.Hash().Short(),
		"upgraded": report.Upgraded,
	}).Info("snapshot migrated for rebase")
	r.cache.Add(snap)
	return snap, nil
}
