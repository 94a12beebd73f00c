package rebase

import (
	"slices"

	"snapgraph/cas"
	"snapgraph/graph"
	"snapgraph/ident"
)

// ChangeKind classifies a node or edge difference against the ancestor.
type ChangeKind string

const (
	Added    ChangeKind = "Added"
	Removed  ChangeKind = "Removed"
	Modified ChangeKind = "Modified"
)

// NodeChange describes how one node differs from the ancestor. Hashes are
// data hashes (content without child order); zero means absent.
type NodeChange struct {
	ID   ident.NodeID
	Kind ChangeKind

	Before     *graph.NodeWeight
	After      *graph.NodeWeight
	BeforeHash cas.Hash
	AfterHash  cas.Hash

	// Set for Modified only.
	ContentChanged bool
	OrderChanged   bool
}

// EdgeChange describes an edge present on only one side.
type EdgeChange struct {
	Key    graph.EdgeKey
	Kind   ChangeKind
	Weight graph.EdgeWeight
}

// Diff is the set of changes one snapshot made relative to an ancestor.
type Diff struct {
	Nodes map[ident.NodeID]*NodeChange
	Edges map[graph.EdgeKey]*EdgeChange
}

// Empty reports whether the two snapshots hold the same nodes and edges.
func (d *Diff) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}

// Removed reports whether the diff deletes node id.
func (d *Diff) Removed(id ident.NodeID) bool {
	c, ok := d.Nodes[id]
	return ok && c.Kind == Removed
}

// NodeIDs returns the changed node ids, sorted.
func (d *Diff) NodeIDs() []ident.NodeID {
	ids := make([]ident.NodeID, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ident.NodeID.Compare)
	return ids
}

// EdgeKeys returns the changed edge keys, sorted.
func (d *Diff) EdgeKeys() []graph.EdgeKey {
	keys := make([]graph.EdgeKey, 0, len(d.Edges))
	for k := range d.Edges {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, graph.EdgeKey.Compare)
	return keys
}

func ptr(w graph.NodeWeight) *graph.NodeWeight {
	return &w
}

// Compute diffs side against base.
func Compute(base, side *graph.Graph) *Diff {
	d := &Diff{
		Nodes: make(map[ident.NodeID]*NodeChange),
		Edges: make(map[graph.EdgeKey]*EdgeChange),
	}

	for _, id := range base.NodeIDs() {
		bw, _ := base.NodeByID(id)
		sw, ok := side.NodeByID(id)
		if !ok {
			d.Nodes[id] = &NodeChange{ID: id, Kind: Removed, Before: ptr(bw), BeforeHash: bw.DataHash()}
			continue
		}
		bh, sh := bw.DataHash(), sw.DataHash()
		contentChanged := bh != sh
		orderChanged := !slices.Equal(bw.Order, sw.Order)
		if contentChanged || orderChanged {
			d.Nodes[id] = &NodeChange{
				ID:             id,
				Kind:           Modified,
				Before:         ptr(bw),
				After:          ptr(sw),
				BeforeHash:     bh,
				AfterHash:      sh,
				ContentChanged: contentChanged,
				OrderChanged:   orderChanged,
			}
		}
	}
	for _, id := range side.NodeIDs() {
		if _, ok := base.Lookup(id); ok {
			continue
		}
		sw, _ := side.NodeByID(id)
		d.Nodes[id] = &NodeChange{ID: id, Kind: Added, After: ptr(sw), AfterHash: sw.DataHash()}
	}

	baseEdges := make(map[graph.EdgeKey]graph.EdgeWeight)
	for _, e := range base.Edges() {
		baseEdges[e.Key()] = e.Weight
	}
	sideEdges := make(map[graph.EdgeKey]bool)
	for _, e := range side.Edges() {
		k := e.Key()
		sideEdges[k] = true
		if _, ok := baseEdges[k]; !ok {
			d.Edges[k] = &EdgeChange{Key: k, Kind: Added, Weight: e.Weight}
		}
	}
	for k, w := range baseEdges {
		if !sideEdges[k] {
			d.Edges[k] = &EdgeChange{Key: k, Kind: Removed, Weight: w}
		}
	}
	return d
}

// ChangedPaths lists the policy paths of every node side touched, sorted.
// Removed nodes are named through the ancestor.
func ChangedPaths(ancestor, side *graph.Graph) []string {
	d := Compute(ancestor, side)
	touched := make(map[ident.NodeID]bool)
	for id := range d.Nodes {
		touched[id] = true
	}
	for k := range d.Edges {
		touched[k.Source] = true
	}
	seen := make(map[string]bool)
	var paths []string
	for id := range touched {
		g := side
		idx, ok := side.Lookup(id)
		if !ok {
			g = ancestor
			if idx, ok = ancestor.Lookup(id); !ok {
				continue
			}
		}
		p, err := g.Path(idx)
		if err != nil || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
