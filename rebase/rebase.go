// Package rebase merges the edits of one snapshot onto another given their
// common ancestor. The merge is all-or-nothing: either every change applies
// cleanly or a full conflict report is returned and nothing is produced.
package rebase

import (
	"errors"
	"fmt"
	"slices"

	"snapgraph/graph"
	"snapgraph/ident"
)

var ErrUnrelated = errors.New("snapshots do not share a root")

// Stats counts what a successful rebase applied from the rebased side.
type Stats struct {
	NodesAdded    int `json:"nodes_added"`
	NodesRemoved  int `json:"nodes_removed"`
	NodesModified int `json:"nodes_modified"`
	EdgesAdded    int `json:"edges_added"`
	EdgesRemoved  int `json:"edges_removed"`
	OrdersMerged  int `json:"orders_merged"`
}

// Result is either a merged working copy or a conflict report.
type Result struct {
	Merged    *graph.Graph
	Conflicts []Conflict
	Stats     Stats
}

// Ok reports whether the rebase produced a merged graph.
func (r *Result) Ok() bool {
	return r.Merged != nil && len(r.Conflicts) == 0
}

type orderPlan struct {
	order []ident.NodeID
	clock ident.ClockEntry
}

type plan struct {
	addNodes    []graph.NodeWeight
	removeNodes []ident.NodeID
	replace     []graph.NodeWeight
	addEdges    []*EdgeChange
	removeEdges []graph.EdgeKey
	orders      map[ident.NodeID]orderPlan
}

// Rebase applies the changes from made since ancestor on top of onto.
func Rebase(onto, from, ancestor *graph.Snapshot) (*Result, error) {
	if onto == nil || from == nil || ancestor == nil {
		return nil, errors.New("rebase needs onto, from and ancestor snapshots")
	}
	ag, bg, cg := ancestor.Graph(), onto.Graph(), from.Graph()
	if err := sameRoot(ag, bg, cg); err != nil {
		return nil, err
	}

	dFrom := Compute(ag, cg)
	if dFrom.Empty() {
		return &Result{Merged: onto.Checkout()}, nil
	}
	dOnto := Compute(ag, bg)
	if dOnto.Empty() {
		return &Result{Merged: from.Checkout(), Stats: statsOf(dFrom)}, nil
	}

	p, conflicts := classify(ag, bg, cg, dOnto, dFrom)
	if len(conflicts) > 0 {
		sortConflicts(conflicts)
		return &Result{Conflicts: conflicts}, nil
	}

	merged := onto.Checkout()
	stats, err := apply(merged, p)
	if err != nil {
		return &Result{Conflicts: []Conflict{{
			Kind:    ConflictStructural,
			Message: err.Error(),
		}}}, nil
	}
	return &Result{Merged: merged, Stats: stats}, nil
}

func sameRoot(gs ...*graph.Graph) error {
	var root ident.NodeID
	for i, g := range gs {
		w, err := g.Node(g.Root())
		if err != nil {
			return err
		}
		if i == 0 {
			root = w.ID
		} else if w.ID != root {
			return fmt.Errorf("%w: %s and %s", ErrUnrelated, root, w.ID)
		}
	}
	return nil
}

func statsOf(d *Diff) Stats {
	var s Stats
	for _, c := range d.Nodes {
		switch {
		case c.Kind == Added:
			s.NodesAdded++
		case c.Kind == Removed:
			s.NodesRemoved++
		case c.ContentChanged:
			s.NodesModified++
		}
		if c.OrderChanged {
			s.OrdersMerged++
		}
	}
	for _, c := range d.Edges {
		if c.Kind == Added {
			s.EdgesAdded++
		} else {
			s.EdgesRemoved++
		}
	}
	return s
}

func classify(ancestor, onto, from *graph.Graph, dOnto, dFrom *Diff) (*plan, []Conflict) {
	p := &plan{orders: make(map[ident.NodeID]orderPlan)}
	var conflicts []Conflict
	var reorder []ident.NodeID

	for _, id := range dFrom.NodeIDs() {
		fc, oc := dFrom.Nodes[id], dOnto.Nodes[id]
		switch fc.Kind {
		case Added:
			switch {
			case oc != nil && oc.Kind == Added:
				if oc.AfterHash != fc.AfterHash {
					conflicts = append(conflicts, nodeConflict(ConflictConcurrentCreate, id, oc, fc, ancestor,
						"both sides created this node with different content"))
					continue
				}
			case fc.After.Kind == graph.KindCategory:
				if idx, ok := onto.Category(fc.After.Category); ok {
					existing, _ := onto.Node(idx)
					conflicts = append(conflicts, nodeConflict(ConflictConcurrentCreate, id, nil, fc, ancestor,
						fmt.Sprintf("category %s already exists as %s", fc.After.Category, existing.ID)))
					continue
				}
				p.addNodes = append(p.addNodes, *fc.After)
			default:
				p.addNodes = append(p.addNodes, *fc.After)
			}
			if fc.After.Kind == graph.KindOrdering {
				reorder = append(reorder, id)
			}

		case Removed:
			switch {
			case oc == nil:
				p.removeNodes = append(p.removeNodes, id)
			case oc.Kind == Modified:
				conflicts = append(conflicts, nodeConflict(ConflictRemoveVsModify, id, oc, fc, ancestor,
					"removed here but edited on the target"))
			}

		case Modified:
			if oc != nil && oc.Kind == Removed {
				conflicts = append(conflicts, nodeConflict(ConflictModifyVsRemove, id, oc, fc, ancestor,
					"edited here but removed on the target"))
				continue
			}
			if fc.ContentChanged {
				switch {
				case oc == nil || !oc.ContentChanged:
					p.replace = append(p.replace, *fc.After)
				case oc.AfterHash != fc.AfterHash:
					conflicts = append(conflicts, nodeConflict(ConflictNodeContentDiverged, id, oc, fc, ancestor,
						"both sides changed the content differently"))
				}
			}
			if fc.OrderChanged {
				reorder = append(reorder, id)
			}
		}
	}

	for _, k := range dFrom.EdgeKeys() {
		ec, oc := dFrom.Edges[k], dOnto.Edges[k]
		if oc != nil && oc.Kind == ec.Kind {
			continue
		}
		switch ec.Kind {
		case Added:
			if dOnto.Removed(k.Source) || dOnto.Removed(k.Destination) {
				conflicts = append(conflicts, edgeConflict(ConflictEdgeToRemovedNode, k,
					"edge added here touches a node removed on the target"))
				continue
			}
			p.addEdges = append(p.addEdges, ec)
		case Removed:
			p.removeEdges = append(p.removeEdges, k)
		}
	}
	for _, k := range dOnto.EdgeKeys() {
		if oc := dOnto.Edges[k]; oc.Kind == Added && (dFrom.Removed(k.Source) || dFrom.Removed(k.Destination)) {
			conflicts = append(conflicts, edgeConflict(ConflictEdgeToRemovedNode, k,
				"edge added on the target touches a node removed here"))
		}
	}

	stamps := ordinalStamps(onto, from)
	for _, id := range reorder {
		cw, _ := from.NodeByID(id)
		bw, inOnto := onto.NodeByID(id)
		if !inOnto {
			p.orders[id] = orderPlan{order: cw.Order, clock: cw.Clock}
			continue
		}
		var ancestorOrder []ident.NodeID
		if aw, ok := ancestor.NodeByID(id); ok {
			ancestorOrder = aw.Order
		}
		merged, oc := mergeOrder(ancestorOrder, bw.Order, cw.Order, stamps)
		if oc != nil {
			c := nodeConflict(oc.kind, id, dOnto.Nodes[id], dFrom.Nodes[id], ancestor, orderMessage(oc.kind))
			c.Children = oc.children
			conflicts = append(conflicts, c)
			continue
		}
		clock := bw.Clock
		if cw.Clock.Compare(clock) > 0 {
			clock = cw.Clock
		}
		p.orders[id] = orderPlan{order: merged, clock: clock}
	}
	return p, conflicts
}

func orderMessage(kind ConflictKind) string {
	if kind == ConflictChildOrder {
		return "both sides reordered the same children differently"
	}
	return "a child moved on one side was removed on the other"
}

// ordinalStamps returns the creator stamp of each child's Ordinal edge,
// preferring the edge as seen on the rebased side.
func ordinalStamps(gs ...*graph.Graph) additionKey {
	stamps := make(map[ident.NodeID]int64)
	for _, g := range gs {
		for _, e := range g.Edges() {
			if e.Weight.Kind == graph.EdgeOrdinal {
				stamps[e.Destination] = e.Weight.Clock.Stamp
			}
		}
	}
	return func(id ident.NodeID) int64 { return stamps[id] }
}

func apply(g *graph.Graph, p *plan) (Stats, error) {
	var s Stats
	err := g.Batch(func() error {
		for _, k := range p.removeEdges {
			ei, ok := g.FindEdge(k)
			if !ok {
				continue
			}
			if err := g.RemoveEdge(ei); err != nil {
				return fmt.Errorf("remove edge %s: %w", k, err)
			}
			s.EdgesRemoved++
		}
		for _, id := range p.removeNodes {
			idx, ok := g.Lookup(id)
			if !ok {
				continue
			}
			if err := g.RemoveNode(idx); err != nil {
				return fmt.Errorf("remove node %s: %w", id, err)
			}
			s.NodesRemoved++
		}
		for _, w := range p.addNodes {
			if _, err := g.AddNode(w); err != nil {
				return fmt.Errorf("add node %s: %w", w.ID, err)
			}
			s.NodesAdded++
		}
		for _, w := range p.replace {
			idx, ok := g.Lookup(w.ID)
			if !ok {
				return fmt.Errorf("%w: %s", graph.ErrNodeNotFound, w.ID)
			}
			cur, err := g.Node(idx)
			if err != nil {
				return err
			}
			cur.Category = w.Category
			cur.Content = w.Content
			cur.Clock = w.Clock
			if err := g.ReplaceNode(idx, cur); err != nil {
				return fmt.Errorf("replace node %s: %w", w.ID, err)
			}
			s.NodesModified++
		}
		for _, ec := range sortAdds(p.addEdges) {
			src, ok := g.Lookup(ec.Key.Source)
			if !ok {
				return fmt.Errorf("%w: edge source %s", graph.ErrNodeNotFound, ec.Key.Source)
			}
			dst, ok := g.Lookup(ec.Key.Destination)
			if !ok {
				return fmt.Errorf("%w: edge destination %s", graph.ErrNodeNotFound, ec.Key.Destination)
			}
			if _, err := g.AddEdge(src, ec.Weight, dst); err != nil {
				return fmt.Errorf("add edge %s: %w", ec.Key, err)
			}
			s.EdgesAdded++
		}
		ids := make([]ident.NodeID, 0, len(p.orders))
		for id := range p.orders {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, ident.NodeID.Compare)
		for _, id := range ids {
			op := p.orders[id]
			idx, ok := g.Lookup(id)
			if !ok {
				return fmt.Errorf("%w: ordered node %s", graph.ErrNodeNotFound, id)
			}
			if err := g.Reorder(idx, op.order, op.clock); err != nil {
				return fmt.Errorf("order children of %s: %w", id, err)
			}
			s.OrdersMerged++
		}
		return nil
	})
	return s, err
}

// sortAdds orders edge additions so that Ordinal edges under one source go in
// the order the rebased side lists them; everything else goes by key.
func sortAdds(adds []*EdgeChange) []*EdgeChange {
	pos := func(ec *EdgeChange) int {
		if ec.Weight.Kind != graph.EdgeOrdinal || ec.Weight.Ordinal == nil {
			return -1
		}
		return *ec.Weight.Ordinal
	}
	out := slices.Clone(adds)
	slices.SortStableFunc(out, func(a, b *EdgeChange) int {
		if c := a.Key.Source.Compare(b.Key.Source); c != 0 {
			return c
		}
		if pa, pb := pos(a), pos(b); pa != pb {
			return pa - pb
		}
		return a.Key.Compare(b.Key)
	})
	return out
}
