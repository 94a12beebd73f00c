// Package migrate rewrites snapshots stored in older node encodings into the
// current one.
//
// A migration reads every node object reachable from a root, upgrades each
// weight, and re-encodes bottom-up so parents point at their children's new
// hashes. New objects are written only once the whole graph has converted; a
// failure leaves the store as it was.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"snapgraph/cas"
	"snapgraph/graph"
	"snapgraph/metrics"
)

var ErrMigrationFailed = errors.New("migration failed")

// Error reports the object a migration stopped at.
type Error struct {
	Root   cas.Hash
	Object cas.Hash
	Err    error
}

func (e *Error) Error() string {
	if e.Object.IsZero() {
		return fmt.Sprintf("migrate %s: %v", e.Root.Short(), e.Err)
	}
	return fmt.Sprintf("migrate %s: object %s: %v", e.Root.Short(), e.Object.Short(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrMigrationFailed
}

// Report summarizes a migration.
type Report struct {
	OldRoot cas.Hash `json:"old_root"`
	NewRoot cas.Hash `json:"new_root"`
	// Objects is the number of distinct node objects read.
	Objects int `json:"objects"`
	// Upgraded counts nodes stored in an older encoding.
	Upgraded int `json:"upgraded"`
	// Written counts objects actually put to the store.
	Written int `json:"written"`
	// Versions counts the objects read per stored version.
	Versions map[int]int `json:"versions"`
}

// Changed reports whether the migration produced a new root.
func (r Report) Changed() bool {
	return r.OldRoot != r.NewRoot
}

type migrator struct {
	ctx    context.Context
	store  cas.Store
	report *Report

	done    map[cas.Hash]cas.Hash
	pending []pendingObject
}

type pendingObject struct {
	hash cas.Hash
	data []byte
}

// Graph migrates the snapshot under root and returns the root of its current
// encoding. A snapshot already in the current encoding comes back unchanged
// and nothing is written.
func Graph(ctx context.Context, store cas.Store, root cas.Hash) (cas.Hash, Report, error) {
	report := Report{OldRoot: root, Versions: make(map[int]int)}
	m := &migrator{
		ctx:    ctx,
		store:  store,
		report: &report,
		done:   make(map[cas.Hash]cas.Hash),
	}

	newRoot, err := m.object(root)
	if err != nil {
		return cas.ZeroHash, report, wrap(root, err)
	}

	// Children were queued before their parents, so a partial write never
	// leaves a parent pointing at a missing child.
	for _, obj := range m.pending {
		if _, err := store.Put(ctx, obj.data); err != nil {
			return cas.ZeroHash, report, &Error{Root: root, Object: obj.hash, Err: err}
		}
		report.Written++
	}
	report.NewRoot = newRoot
	metrics.Migrations.Add(float64(report.Upgraded))
	return newRoot, report, nil
}

func wrap(root cas.Hash, err error) error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return &Error{Root: root, Err: err}
}

func (m *migrator) object(h cas.Hash) (cas.Hash, error) {
	if out, ok := m.done[h]; ok {
		return out, nil
	}
	if err := m.ctx.Err(); err != nil {
		return cas.ZeroHash, err
	}

	data, err := m.store.Get(m.ctx, h)
	if err != nil {
		return cas.ZeroHash, &Error{Root: m.report.OldRoot, Object: h, Err: err}
	}
	obj, err := graph.DecodeObject(data)
	if err != nil {
		return cas.ZeroHash, &Error{Root: m.report.OldRoot, Object: h, Err: err}
	}
	w, err := graph.Upgrade(obj.Node)
	if err != nil {
		return cas.ZeroHash, &Error{Root: m.report.OldRoot, Object: h, Err: err}
	}
	m.report.Objects++
	m.report.Versions[obj.Node.Version()]++
	if obj.Node.Version() != graph.CurrentVersion {
		m.report.Upgraded++
	}

	edges := make([]graph.ObjectEdge, 0, len(obj.Edges))
	for _, e := range obj.Edges {
		child, err := m.object(e.To)
		if err != nil {
			return cas.ZeroHash, err
		}
		edges = append(edges, graph.ObjectEdge{Weight: e.Weight, To: child, ToID: e.ToID})
	}

	encoded, err := graph.EncodeObject(w, graph.SortObjectEdges(w.Order, edges))
	if err != nil {
		return cas.ZeroHash, &Error{Root: m.report.OldRoot, Object: h, Err: err}
	}
	out := cas.Sum(encoded)
	if out != h {
		m.pending = append(m.pending, pendingObject{hash: out, data: encoded})
	}
	m.done[h] = out
	return out, nil
}

// Load migrates the snapshot under root if needed and loads the result.
func Load(ctx context.Context, store cas.Store, root cas.Hash) (*graph.Snapshot, Report, error) {
	newRoot, report, err := Graph(ctx, store, root)
	if err != nil {
		return nil, report, err
	}
	snap, err := graph.Load(ctx, store, newRoot)
	if err != nil {
		return nil, report, err
	}
	return snap, report, nil
}

// LoadOrMigrate loads root, falling back to a migration only when the stored
// encoding is out of date.
func LoadOrMigrate(ctx context.Context, store cas.Store, root cas.Hash) (*graph.Snapshot, error) {
	snap, err := graph.Load(ctx, store, root)
	if err == nil || !graph.IsMigrationNeeded(err) {
		return snap, err
	}
	snap, _, err = Load(ctx, store, root)
	return snap, err
}
