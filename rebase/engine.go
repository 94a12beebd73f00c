package rebase

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"

	"snapgraph/cas"
	"snapgraph/graph"
	"snapgraph/metrics"
)

// DefaultDetailBytes caps the content size the engine will diff for a
// conflict detail.
const DefaultDetailBytes = 64 << 10

// Config configures an Engine.
type Config struct {
	// Store, when set, is used to fetch entity content for conflict details.
	Store       cas.Store
	DetailBytes int
	Logger      *logrus.Logger
}

// Engine runs rebases and writes their results.
type Engine struct {
	store       cas.Store
	detailBytes int
	log         *logrus.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.DetailBytes <= 0 {
		cfg.DetailBytes = DefaultDetailBytes
	}
	return &Engine{store: cfg.Store, detailBytes: cfg.DetailBytes, log: cfg.Logger}
}

// Rebase runs the merge and, on conflict, attaches content diffs where the
// store has both sides' content.
func (e *Engine) Rebase(ctx context.Context, onto, from, ancestor *graph.Snapshot) (*Result, error) {
	start := time.Now()
	res, err := Rebase(onto, from, ancestor)
	metrics.RebaseDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"onto":     onto.Hash().Short(),
		"from":     from.Hash().Short(),
		"ancestor": ancestor.Hash().Short(),
	}
	if !res.Ok() {
		if e.store != nil {
			for i := range res.Conflicts {
				res.Conflicts[i].Detail = e.detail(ctx, res.Conflicts[i])
			}
		}
		fields["conflicts"] = len(res.Conflicts)
		e.log.WithFields(fields).Info("rebase found conflicts")
		return res, nil
	}
	fields["added"] = res.Stats.NodesAdded
	fields["removed"] = res.Stats.NodesRemoved
	fields["modified"] = res.Stats.NodesModified
	e.log.WithFields(fields).Debug("rebase merged")
	return res, nil
}

// RebaseAndWrite rebases and writes the merged graph to store. The returned
// snapshot is nil when the result has conflicts.
func (e *Engine) RebaseAndWrite(ctx context.Context, store cas.Store, onto, from, ancestor *graph.Snapshot) (*Result, *graph.Snapshot, error) {
	res, err := e.Rebase(ctx, onto, from, ancestor)
	if err != nil || !res.Ok() {
		return res, nil, err
	}
	snap, err := res.Merged.Write(ctx, store)
	if err != nil {
		return nil, nil, err
	}
	return res, snap, nil
}

func (e *Engine) detail(ctx context.Context, c Conflict) string {
	if c.OntoContent == nil || c.FromContent == nil {
		return ""
	}
	before, ok := e.content(ctx, *c.OntoContent)
	if !ok {
		return ""
	}
	after, ok := e.content(ctx, *c.FromContent)
	if !ok {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(before, diffs))
}

func (e *Engine) content(ctx context.Context, addr graph.ContentAddress) (string, bool) {
	if addr.IsRoot() || addr.Hash.IsZero() {
		return "", false
	}
	data, err := e.store.Get(ctx, addr.Hash)
	if err != nil || len(data) > e.detailBytes {
		return "", false
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		return pretty.String() + "\n", true
	}
	return string(data), true
}
