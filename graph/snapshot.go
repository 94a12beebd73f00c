package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"snapgraph/cas"
	"snapgraph/ident"
)

// loadConcurrency bounds parallel object fetches while loading a snapshot.
const loadConcurrency = 16

// Snapshot is an immutable graph stored under its root hash.
type Snapshot struct {
	root cas.Hash
	g    *Graph
}

// Hash returns the snapshot's root hash.
func (s *Snapshot) Hash() cas.Hash {
	return s.root
}

// Graph returns the snapshot's frozen graph. Every mutation on it fails with
// ErrReadOnly.
func (s *Snapshot) Graph() *Graph {
	return s.g
}

// Checkout returns a mutable working copy of the snapshot.
func (s *Snapshot) Checkout() *Graph {
	return s.g.clone()
}

// Write stores every node object store is missing, children before parents,
// and freezes g into a snapshot. An unchanged node already in store ends the
// walk below it; store may differ from the one g was loaded from.
func (g *Graph) Write(ctx context.Context, store cas.Store) (*Snapshot, error) {
	if err := g.writable(); err != nil {
		return nil, err
	}
	if err := g.checkReachable(); err != nil {
		return nil, err
	}
	root, err := g.RootHash()
	if err != nil {
		return nil, err
	}
	if err := g.flush(ctx, store, g.root, make(map[NodeIndex]bool)); err != nil {
		return nil, err
	}
	g.frozen = true
	return &Snapshot{root: root, g: g}, nil
}

func (g *Graph) flush(ctx context.Context, store cas.Store, idx NodeIndex, seen map[NodeIndex]bool) error {
	if seen[idx] {
		return nil
	}
	seen[idx] = true
	n := g.nodes[idx]
	if n.stored {
		// Objects are written after their children, so a present object
		// means its whole subtree is present.
		ok, err := store.Has(ctx, n.merkle)
		if err != nil {
			return fmt.Errorf("check node %s: %w", n.weight.ID, err)
		}
		if ok {
			return nil
		}
	}
	for _, ei := range n.out {
		if err := g.flush(ctx, store, g.edges[ei].dst, seen); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data := n.encoded
	if data == nil {
		var err error
		if data, err = g.encode(idx); err != nil {
			return err
		}
	}
	h, err := store.Put(ctx, data)
	if err != nil {
		return fmt.Errorf("write node %s: %w", n.weight.ID, err)
	}
	if h != n.merkle {
		return fmt.Errorf("%w: node %s stored under %s, expected %s", ErrInvalidContent, n.weight.ID, h.Short(), n.merkle.Short())
	}
	n.stored = true
	n.encoded = nil
	return nil
}

type loaded struct {
	hash   cas.Hash
	weight NodeWeight
	edges  []ObjectEdge
}

// Load reads the snapshot stored under root. Objects are fetched one
// breadth-first frontier at a time, each frontier in parallel. A node stored
// in an outdated encoding fails the load with ErrNeedsMigration.
func Load(ctx context.Context, store cas.Store, root cas.Hash) (*Snapshot, error) {
	objects := make(map[cas.Hash]*loaded)
	var order []cas.Hash
	frontier := []cas.Hash{root}

	for len(frontier) > 0 {
		batch := make([]*loaded, len(frontier))
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(loadConcurrency)
		for i, h := range frontier {
			eg.Go(func() error {
				obj, err := fetch(egctx, store, h)
				if err != nil {
					return err
				}
				batch[i] = obj
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		for _, obj := range batch {
			objects[obj.hash] = obj
			order = append(order, obj.hash)
		}
		var next []cas.Hash
		queued := make(map[cas.Hash]bool)
		for _, obj := range batch {
			for _, e := range obj.edges {
				if _, ok := objects[e.To]; ok || queued[e.To] {
					continue
				}
				queued[e.To] = true
				next = append(next, e.To)
			}
		}
		frontier = next
	}
	return assemble(root, objects, order)
}

func fetch(ctx context.Context, store cas.Store, h cas.Hash) (*loaded, error) {
	data, err := store.Get(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("load node object %s: %w", h.Short(), err)
	}
	obj, err := DecodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("node object %s: %w", h.Short(), err)
	}
	if v := obj.Node.Version(); v != CurrentVersion {
		return nil, fmt.Errorf("%w: node object %s is version %d", ErrNeedsMigration, h.Short(), v)
	}
	w, err := Upgrade(obj.Node)
	if err != nil {
		return nil, fmt.Errorf("node object %s: %w", h.Short(), err)
	}
	return &loaded{hash: h, weight: w, edges: obj.Edges}, nil
}

func assemble(root cas.Hash, objects map[cas.Hash]*loaded, order []cas.Hash) (*Snapshot, error) {
	g := newGraph()
	at := make(map[cas.Hash]NodeIndex, len(objects))
	for _, h := range order {
		obj := objects[h]
		if prev, ok := g.byID[obj.weight.ID]; ok {
			return nil, fmt.Errorf("%w: node %s stored as both %s and %s",
				ErrInvalidContent, obj.weight.ID, g.nodes[prev].merkle.Short(), h.Short())
		}
		idx := g.insert(obj.weight)
		n := g.nodes[idx]
		n.merkle = h
		n.dirty = false
		n.stored = true
		at[h] = idx
	}
	for _, h := range order {
		src := at[h]
		for _, oe := range objects[h].edges {
			dst := at[oe.To]
			if g.nodes[dst].weight.ID != oe.ToID {
				return nil, fmt.Errorf("%w: edge from %s names %s but points at %s",
					ErrInvalidContent, g.nodes[src].weight.ID, oe.ToID, g.nodes[dst].weight.ID)
			}
			if err := CheckEdge(g.nodes[src].weight, oe.Weight, g.nodes[dst].weight); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
			}
			ei := EdgeIndex(len(g.edges))
			g.edges = append(g.edges, &edge{src: src, dst: dst, weight: oe.Weight.Clone()})
			g.nodes[src].out = append(g.nodes[src].out, ei)
			g.nodes[dst].in = append(g.nodes[dst].in, ei)
		}
	}

	g.root = at[root]
	if w := g.nodes[g.root].weight; w.Kind != KindRoot {
		return nil, fmt.Errorf("%w: snapshot %s starts at a %s node", ErrInvalidContent, root.Short(), w.Kind)
	}
	if err := g.checkOrders(); err != nil {
		return nil, err
	}
	g.frozen = true
	return &Snapshot{root: root, g: g}, nil
}

// checkOrders verifies each order list names exactly the node's Ordinal children.
func (g *Graph) checkOrders() error {
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		var children []ident.NodeID
		for _, ei := range n.out {
			if e := g.edges[ei]; e.weight.Kind == EdgeOrdinal {
				children = append(children, g.nodes[e.dst].weight.ID)
			}
		}
		if !samePermutation(n.weight.Order, children) {
			return fmt.Errorf("%w: order of %s does not match its ordinal edges", ErrInvalidContent, n.weight.ID)
		}
	}
	return nil
}

// SnapshotCache keeps recently loaded snapshots keyed by root hash. Snapshots
// are immutable so one copy can be shared by every reader.
type SnapshotCache struct {
	store cas.Store

	mu    sync.Mutex
	snaps map[cas.Hash]*Snapshot
	keys  []cas.Hash
	max   int
}

// NewSnapshotCache creates a cache holding up to max snapshots.
func NewSnapshotCache(store cas.Store, max int) *SnapshotCache {
	if max <= 0 {
		max = 1
	}
	return &SnapshotCache{store: store, snaps: make(map[cas.Hash]*Snapshot), max: max}
}

// Load returns the cached snapshot for root, loading it on a miss.
func (c *SnapshotCache) Load(ctx context.Context, root cas.Hash) (*Snapshot, error) {
	c.mu.Lock()
	if s, ok := c.snaps[root]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := Load(ctx, c.store, root)
	if err != nil {
		return nil, err
	}
	c.Add(s)
	return s, nil
}

// Add records a freshly written snapshot.
func (c *SnapshotCache) Add(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.snaps[s.root]; ok {
		return
	}
	c.snaps[s.root] = s
	c.keys = append(c.keys, s.root)
	for len(c.keys) > c.max {
		delete(c.snaps, c.keys[0])
		c.keys = slices.Delete(c.keys, 0, 1)
	}
}

// IsMigrationNeeded reports whether err came from loading an outdated snapshot.
func IsMigrationNeeded(err error) bool {
	return errors.Is(err, ErrNeedsMigration)
}
