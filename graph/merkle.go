package graph

import (
	"slices"

	"snapgraph/cas"
	"snapgraph/ident"
)

// SortObjectEdges puts a node object's edges in their canonical stored order:
// ordered children first, in order-list sequence, then everything else by
// child id, edge kind and key.
func SortObjectEdges(order []ident.NodeID, edges []ObjectEdge) []ObjectEdge {
	pos := make(map[ident.NodeID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	ordered := make([]ObjectEdge, 0, len(order))
	rest := make([]ObjectEdge, 0, len(edges))
	for _, e := range edges {
		if _, ok := pos[e.ToID]; ok && e.Weight.Kind == EdgeOrdinal {
			ordered = append(ordered, e)
		} else {
			rest = append(rest, e)
		}
	}
	slices.SortFunc(ordered, func(a, b ObjectEdge) int {
		return pos[a.ToID] - pos[b.ToID]
	})
	slices.SortFunc(rest, func(a, b ObjectEdge) int {
		if c := a.ToID.Compare(b.ToID); c != 0 {
			return c
		}
		if a.Weight.Kind != b.Weight.Kind {
			if a.Weight.Kind < b.Weight.Kind {
				return -1
			}
			return 1
		}
		switch {
		case a.Weight.Key < b.Weight.Key:
			return -1
		case a.Weight.Key > b.Weight.Key:
			return 1
		}
		return 0
	})
	return append(ordered, rest...)
}

// merkle returns idx's object hash, re-encoding it and any stale descendants.
func (g *Graph) merkle(idx NodeIndex) (cas.Hash, error) {
	n := g.nodes[idx]
	if !n.dirty {
		return n.merkle, nil
	}
	data, err := g.encode(idx)
	if err != nil {
		return cas.ZeroHash, err
	}
	n.merkle = cas.Sum(data)
	n.encoded = data
	n.dirty = false
	return n.merkle, nil
}

// encode builds the stored object for idx from its weight and its children's
// hashes.
func (g *Graph) encode(idx NodeIndex) ([]byte, error) {
	n := g.nodes[idx]
	edges := make([]ObjectEdge, 0, len(n.out))
	for _, ei := range n.out {
		e := g.edges[ei]
		child, err := g.merkle(e.dst)
		if err != nil {
			return nil, err
		}
		edges = append(edges, ObjectEdge{Weight: e.weight, To: child, ToID: g.nodes[e.dst].weight.ID})
	}
	return EncodeObject(n.weight, SortObjectEdges(n.weight.Order, edges))
}

// RootHash returns the hash the graph would be stored under. Two graphs with
// the same nodes, edges and child orders hash identically whatever order they
// were built in.
func (g *Graph) RootHash() (cas.Hash, error) {
	return g.merkle(g.root)
}

// NodeHash returns the Merkle hash of the subgraph rooted at idx.
func (g *Graph) NodeHash(idx NodeIndex) (cas.Hash, error) {
	if _, err := g.node(idx); err != nil {
		return cas.ZeroHash, err
	}
	return g.merkle(idx)
}
