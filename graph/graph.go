// Package graph implements the versioned, content-addressed node/edge graph:
// a mutable working copy that is written to the CAS as a Merkle DAG and read
// back as an immutable snapshot.
package graph

import (
	"fmt"
	"slices"

	"snapgraph/cas"
	"snapgraph/ident"
)

// NodeIndex is a node's position in a graph's arena. Indices are stable for
// the life of one graph value; persisted references use node ids.
type NodeIndex int

// EdgeIndex is an edge's position in a graph's arena.
type EdgeIndex int

type node struct {
	weight NodeWeight
	out    []EdgeIndex
	in     []EdgeIndex

	merkle  cas.Hash
	encoded []byte
	dirty   bool // merkle is stale
	stored  bool // object was loaded from or written to some store
}

type edge struct {
	src, dst NodeIndex
	weight   EdgeWeight
}

// Graph is a working copy of a snapshot. It is not safe for concurrent
// mutation; a frozen graph (see Snapshot) may be read concurrently.
type Graph struct {
	nodes     []*node
	edges     []*edge
	byID      map[ident.NodeID]NodeIndex
	byLineage map[ident.LineageID][]NodeIndex
	root      NodeIndex
	live      int

	frozen  bool
	inBatch bool
}

// New creates an empty graph holding only a root node.
func New(scope ident.Scope) *Graph {
	g := newGraph()
	g.root = g.insert(NewRootNode(scope))
	return g
}

func newGraph() *Graph {
	return &Graph{
		byID:      make(map[ident.NodeID]NodeIndex),
		byLineage: make(map[ident.LineageID][]NodeIndex),
		root:      -1,
	}
}

// Root returns the index of the root node.
func (g *Graph) Root() NodeIndex {
	return g.root
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	return g.live
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, e := range g.edges {
		if e != nil {
			n++
		}
	}
	return n
}

// ReadOnly reports whether g belongs to a snapshot.
func (g *Graph) ReadOnly() bool {
	return g.frozen
}

func (g *Graph) node(idx NodeIndex) (*node, error) {
	if idx < 0 || int(idx) >= len(g.nodes) || g.nodes[idx] == nil {
		return nil, fmt.Errorf("%w: index %d", ErrNodeNotFound, idx)
	}
	return g.nodes[idx], nil
}

func (g *Graph) edge(idx EdgeIndex) (*edge, error) {
	if idx < 0 || int(idx) >= len(g.edges) || g.edges[idx] == nil {
		return nil, fmt.Errorf("%w: index %d", ErrEdgeNotFound, idx)
	}
	return g.edges[idx], nil
}

// Node returns a copy of the weight at idx.
func (g *Graph) Node(idx NodeIndex) (NodeWeight, error) {
	n, err := g.node(idx)
	if err != nil {
		return NodeWeight{}, err
	}
	return n.weight.Clone(), nil
}

// Lookup finds a node by id.
func (g *Graph) Lookup(id ident.NodeID) (NodeIndex, bool) {
	idx, ok := g.byID[id]
	return idx, ok
}

// NodeByID returns a copy of the weight of node id.
func (g *Graph) NodeByID(id ident.NodeID) (NodeWeight, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return NodeWeight{}, false
	}
	return g.nodes[idx].weight.Clone(), true
}

// ByLineage returns the nodes sharing a lineage, ordered by id.
func (g *Graph) ByLineage(lineage ident.LineageID) []NodeIndex {
	out := slices.Clone(g.byLineage[lineage])
	slices.SortFunc(out, func(a, b NodeIndex) int {
		return g.nodes[a].weight.ID.Compare(g.nodes[b].weight.ID)
	})
	return out
}

// NodeIDs returns the ids of every live node, sorted.
func (g *Graph) NodeIDs() []ident.NodeID {
	ids := make([]ident.NodeID, 0, g.live)
	for id := range g.byID {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ident.NodeID.Compare)
	return ids
}

// Edge is a resolved edge: both endpoint ids plus its weight.
type Edge struct {
	Index       EdgeIndex
	Source      ident.NodeID
	Destination ident.NodeID
	Weight      EdgeWeight
}

// Key returns the edge's index-independent identity.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Kind: e.Weight.Kind, Key: e.Weight.Key, Destination: e.Destination}
}

func (g *Graph) resolve(idx EdgeIndex) Edge {
	e := g.edges[idx]
	return Edge{
		Index:       idx,
		Source:      g.nodes[e.src].weight.ID,
		Destination: g.nodes[e.dst].weight.ID,
		Weight:      e.weight.Clone(),
	}
}

// Edges returns every live edge, sorted by key.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for i, e := range g.edges {
		if e != nil {
			out = append(out, g.resolve(EdgeIndex(i)))
		}
	}
	slices.SortFunc(out, func(a, b Edge) int { return a.Key().Compare(b.Key()) })
	return out
}

// Outgoing returns the edges leaving idx, sorted by key.
func (g *Graph) Outgoing(idx NodeIndex) []Edge {
	return g.collect(idx, func(n *node) []EdgeIndex { return n.out })
}

// Incoming returns the edges arriving at idx, sorted by key.
func (g *Graph) Incoming(idx NodeIndex) []Edge {
	return g.collect(idx, func(n *node) []EdgeIndex { return n.in })
}

func (g *Graph) collect(idx NodeIndex, pick func(*node) []EdgeIndex) []Edge {
	n, err := g.node(idx)
	if err != nil {
		return nil
	}
	list := pick(n)
	out := make([]Edge, 0, len(list))
	for _, ei := range list {
		out = append(out, g.resolve(ei))
	}
	slices.SortFunc(out, func(a, b Edge) int { return a.Key().Compare(b.Key()) })
	return out
}

// FindEdge looks up an edge by key.
func (g *Graph) FindEdge(key EdgeKey) (EdgeIndex, bool) {
	src, ok := g.byID[key.Source]
	if !ok {
		return -1, false
	}
	for _, ei := range g.nodes[src].out {
		e := g.edges[ei]
		if e.weight.Kind == key.Kind && e.weight.Key == key.Key && g.nodes[e.dst].weight.ID == key.Destination {
			return ei, true
		}
	}
	return -1, false
}

// Category returns the category node of the given kind, if present.
func (g *Graph) Category(kind CategoryKind) (NodeIndex, bool) {
	for _, ei := range g.nodes[g.root].out {
		dst := g.edges[ei].dst
		w := g.nodes[dst].weight
		if w.Kind == KindCategory && w.Category == kind {
			return dst, true
		}
	}
	return -1, false
}

// CategoryOf walks parents breadth-first until it reaches a category node.
func (g *Graph) CategoryOf(idx NodeIndex) (CategoryKind, bool) {
	if _, err := g.node(idx); err != nil {
		return "", false
	}
	seen := map[NodeIndex]bool{idx: true}
	queue := []NodeIndex{idx}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if w := g.nodes[cur].weight; w.Kind == KindCategory {
			return w.Category, true
		}
		parents := slices.Clone(g.nodes[cur].in)
		slices.SortFunc(parents, func(a, b EdgeIndex) int {
			return g.nodes[g.edges[a].src].weight.ID.Compare(g.nodes[g.edges[b].src].weight.ID)
		})
		for _, ei := range parents {
			src := g.edges[ei].src
			if !seen[src] {
				seen[src] = true
				queue = append(queue, src)
			}
		}
	}
	return "", false
}

// Path names a node for policy matching: "<category>/<content kind>/<id>".
// Category nodes are named by their category alone and Root by "root".
func (g *Graph) Path(idx NodeIndex) (string, error) {
	n, err := g.node(idx)
	if err != nil {
		return "", err
	}
	w := n.weight
	switch w.Kind {
	case KindRoot:
		return "root", nil
	case KindCategory:
		return string(w.Category), nil
	}
	cat, ok := g.CategoryOf(idx)
	if !ok {
		cat = "uncategorized"
	}
	return fmt.Sprintf("%s/%s/%s", cat, w.Content.Kind, w.ID), nil
}

func (g *Graph) insert(w NodeWeight) NodeIndex {
	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, &node{weight: w, dirty: true})
	g.byID[w.ID] = idx
	g.byLineage[w.LineageID] = append(g.byLineage[w.LineageID], idx)
	g.live++
	return idx
}

func (g *Graph) writable() error {
	if g.frozen {
		return ErrReadOnly
	}
	return nil
}

// clone deep-copies g into a new working copy.
func (g *Graph) clone() *Graph {
	out := &Graph{
		nodes:     make([]*node, len(g.nodes)),
		edges:     make([]*edge, len(g.edges)),
		byID:      make(map[ident.NodeID]NodeIndex, len(g.byID)),
		byLineage: make(map[ident.LineageID][]NodeIndex, len(g.byLineage)),
		root:      g.root,
		live:      g.live,
	}
	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		out.nodes[i] = &node{
			weight:  n.weight.Clone(),
			out:     slices.Clone(n.out),
			in:      slices.Clone(n.in),
			merkle:  n.merkle,
			encoded: n.encoded,
			dirty:   n.dirty,
			stored:  n.stored,
		}
	}
	for i, e := range g.edges {
		if e != nil {
			out.edges[i] = &edge{src: e.src, dst: e.dst, weight: e.weight.Clone()}
		}
	}
	for id, idx := range g.byID {
		out.byID[id] = idx
	}
	for l, idxs := range g.byLineage {
		out.byLineage[l] = slices.Clone(idxs)
	}
	return out
}

// mutate runs fn and then the reachability check unless a batch is open. On
// any failure g is restored to its state before fn. Outside a batch each call
// copies the graph and walks it once, so every single edit costs O(n); bulk
// edits go through Batch.
func (g *Graph) mutate(fn func() error) error {
	if err := g.writable(); err != nil {
		return err
	}
	if g.inBatch {
		return fn()
	}
	saved := g.clone()
	err := fn()
	if err == nil {
		err = g.checkReachable()
	}
	if err != nil {
		*g = *saved
		return err
	}
	return nil
}

// Batch applies fn as one atomic mutation: per-step reachability checks are
// deferred to the end, and if fn or the final check fails the graph is left
// exactly as it was before the call. The graph is copied and checked once for
// the whole batch, which makes it the way to build or rewrite many nodes.
func (g *Graph) Batch(fn func() error) error {
	if err := g.writable(); err != nil {
		return err
	}
	if g.inBatch {
		return fn()
	}
	saved := g.clone()
	g.inBatch = true
	err := fn()
	g.inBatch = false
	if err == nil {
		err = g.checkReachable()
	}
	if err != nil {
		*g = *saved
		return err
	}
	return nil
}

// reachable returns the set of nodes reachable from root.
func (g *Graph) reachable() []bool {
	seen := make([]bool, len(g.nodes))
	if g.root < 0 {
		return seen
	}
	stack := []NodeIndex{g.root}
	seen[g.root] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ei := range g.nodes[cur].out {
			dst := g.edges[ei].dst
			if !seen[dst] {
				seen[dst] = true
				stack = append(stack, dst)
			}
		}
	}
	return seen
}

func (g *Graph) unreachable() []NodeIndex {
	seen := g.reachable()
	var out []NodeIndex
	for i, n := range g.nodes {
		if n != nil && !seen[i] {
			out = append(out, NodeIndex(i))
		}
	}
	return out
}

func (g *Graph) checkReachable() error {
	orphans := g.unreachable()
	if len(orphans) == 0 {
		return nil
	}
	ids := make([]ident.NodeID, len(orphans))
	for i, idx := range orphans {
		ids[i] = g.nodes[idx].weight.ID
	}
	slices.SortFunc(ids, ident.NodeID.Compare)
	return &OrphanError{Nodes: ids}
}

// reaches reports whether to is reachable from from.
func (g *Graph) reaches(from, to NodeIndex) bool {
	if from == to {
		return true
	}
	seen := map[NodeIndex]bool{from: true}
	stack := []NodeIndex{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ei := range g.nodes[cur].out {
			dst := g.edges[ei].dst
			if dst == to {
				return true
			}
			if !seen[dst] {
				seen[dst] = true
				stack = append(stack, dst)
			}
		}
	}
	return false
}

// touch marks idx and every ancestor as needing a new Merkle hash.
func (g *Graph) touch(idx NodeIndex) {
	stack := []NodeIndex{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := g.nodes[cur]
		if n.dirty && cur != idx {
			continue
		}
		n.dirty = true
		n.stored = false
		n.encoded = nil
		for _, ei := range n.in {
			stack = append(stack, g.edges[ei].src)
		}
	}
}

// AddNode inserts a detached node. Outside a Batch this always fails with
// ErrOrphan since nothing points at the new node yet; use AddChild, or attach
// it with AddEdge inside the same batch.
func (g *Graph) AddNode(w NodeWeight) (NodeIndex, error) {
	idx := NodeIndex(-1)
	err := g.mutate(func() error {
		var err error
		idx, err = g.addNode(w)
		return err
	})
	if err != nil {
		return -1, err
	}
	return idx, nil
}

func (g *Graph) addNode(w NodeWeight) (NodeIndex, error) {
	if err := w.Validate(); err != nil {
		return -1, err
	}
	if w.Kind == KindRoot {
		return -1, fmt.Errorf("%w: graph already has a root", ErrInvalidNodeWeight)
	}
	if _, ok := g.byID[w.ID]; ok {
		return -1, fmt.Errorf("%w: %s", ErrDuplicateID, w.ID)
	}
	w = w.Clone()
	if w.Kind == KindOrdering {
		// Order is derived from Ordinal edges; a fresh node has none yet.
		w.Order = []ident.NodeID{}
	}
	return g.insert(w), nil
}

// AddChild inserts w and attaches it under parent in one mutation.
func (g *Graph) AddChild(parent NodeIndex, ew EdgeWeight, w NodeWeight) (NodeIndex, error) {
	idx := NodeIndex(-1)
	err := g.mutate(func() error {
		var err error
		if idx, err = g.addNode(w); err != nil {
			return err
		}
		if ew.Kind == EdgeOrdinal {
			_, err = g.addOrderedEdge(parent, ew, idx)
		} else {
			_, err = g.addEdge(parent, ew, idx)
		}
		return err
	})
	if err != nil {
		return -1, err
	}
	return idx, nil
}

// AddCategory creates a category node under root.
func (g *Graph) AddCategory(scope ident.Scope, kind CategoryKind) (NodeIndex, error) {
	if idx, ok := g.Category(kind); ok {
		return idx, nil
	}
	return g.AddChild(g.root, NewEdge(scope, EdgeUse), NewCategoryNode(scope, kind))
}

// AddEdge connects src to dst. Ordinal edges go through AddOrderedEdge.
func (g *Graph) AddEdge(src NodeIndex, w EdgeWeight, dst NodeIndex) (EdgeIndex, error) {
	if w.Kind == EdgeOrdinal {
		return g.AddOrderedEdge(src, w, dst)
	}
	ei := EdgeIndex(-1)
	err := g.mutate(func() error {
		var err error
		ei, err = g.addEdge(src, w, dst)
		return err
	})
	if err != nil {
		return -1, err
	}
	return ei, nil
}

func (g *Graph) addEdge(src NodeIndex, w EdgeWeight, dst NodeIndex) (EdgeIndex, error) {
	s, err := g.node(src)
	if err != nil {
		return -1, err
	}
	d, err := g.node(dst)
	if err != nil {
		return -1, err
	}
	w = w.Clone()
	if w.Kind != EdgeOrdinal {
		w.Ordinal = nil
	}
	if err := CheckEdge(s.weight, w, d.weight); err != nil {
		return -1, err
	}
	key := EdgeKey{Source: s.weight.ID, Kind: w.Kind, Key: w.Key, Destination: d.weight.ID}
	if _, ok := g.FindEdge(key); ok {
		return -1, fmt.Errorf("%w: %s", ErrDuplicateEdge, key)
	}
	if g.reaches(dst, src) {
		return -1, &CycleError{Edge: key}
	}
	ei := EdgeIndex(len(g.edges))
	g.edges = append(g.edges, &edge{src: src, dst: dst, weight: w})
	s.out = append(s.out, ei)
	d.in = append(d.in, ei)
	g.touch(src)
	return ei, nil
}

// AddOrderedEdge appends dst to src's child order and links them with an
// Ordinal edge.
func (g *Graph) AddOrderedEdge(src NodeIndex, w EdgeWeight, dst NodeIndex) (EdgeIndex, error) {
	ei := EdgeIndex(-1)
	err := g.mutate(func() error {
		var err error
		ei, err = g.addOrderedEdge(src, w, dst)
		return err
	})
	if err != nil {
		return -1, err
	}
	return ei, nil
}

func (g *Graph) addOrderedEdge(src NodeIndex, w EdgeWeight, dst NodeIndex) (EdgeIndex, error) {
	if w.Kind != EdgeOrdinal {
		return -1, fmt.Errorf("%w: ordered edge must be %s, got %s", ErrInvalidEdgeWeight, EdgeOrdinal, w.Kind)
	}
	ei, err := g.addEdge(src, w, dst)
	if err != nil {
		return -1, err
	}
	s := g.nodes[src]
	s.weight.Order = append(s.weight.Order, g.nodes[dst].weight.ID)
	g.renumber(src)
	return ei, nil
}

// renumber sets every Ordinal edge's ordinal to its child's position in the
// source's order list.
func (g *Graph) renumber(src NodeIndex) {
	s := g.nodes[src]
	pos := make(map[ident.NodeID]int, len(s.weight.Order))
	for i, id := range s.weight.Order {
		pos[id] = i
	}
	for _, ei := range s.out {
		e := g.edges[ei]
		if e.weight.Kind != EdgeOrdinal {
			continue
		}
		if p, ok := pos[g.nodes[e.dst].weight.ID]; ok {
			e.weight.Ordinal = &p
		}
	}
}

// Reorder replaces src's child order with a permutation of it, stamping the
// node with clock.
func (g *Graph) Reorder(src NodeIndex, order []ident.NodeID, clock ident.ClockEntry) error {
	return g.mutate(func() error {
		return g.reorder(src, order, clock)
	})
}

func (g *Graph) reorder(src NodeIndex, order []ident.NodeID, clock ident.ClockEntry) error {
	s, err := g.node(src)
	if err != nil {
		return err
	}
	if s.weight.Kind != KindOrdering {
		return fmt.Errorf("%w: %s node %s has no child order", ErrInvalidOrder, s.weight.Kind, s.weight.ID)
	}
	if !samePermutation(s.weight.Order, order) {
		return fmt.Errorf("%w: new order for %s is not a permutation of its children", ErrInvalidOrder, s.weight.ID)
	}
	s.weight.Order = slices.Clone(order)
	s.weight.Clock = clock
	g.renumber(src)
	g.touch(src)
	return nil
}

func samePermutation(a, b []ident.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[ident.NodeID]int, len(a))
	for _, id := range a {
		count[id]++
	}
	for _, id := range b {
		count[id]--
		if count[id] < 0 {
			return false
		}
	}
	return true
}

// RemoveEdge deletes an edge. It fails if that would orphan a node.
func (g *Graph) RemoveEdge(ei EdgeIndex) error {
	return g.mutate(func() error {
		return g.removeEdge(ei)
	})
}

func (g *Graph) removeEdge(ei EdgeIndex) error {
	e, err := g.edge(ei)
	if err != nil {
		return err
	}
	s, d := g.nodes[e.src], g.nodes[e.dst]
	g.touch(e.src)
	s.out = slices.DeleteFunc(s.out, func(x EdgeIndex) bool { return x == ei })
	d.in = slices.DeleteFunc(d.in, func(x EdgeIndex) bool { return x == ei })
	g.edges[ei] = nil
	if e.weight.Kind == EdgeOrdinal {
		child := d.weight.ID
		s.weight.Order = slices.DeleteFunc(s.weight.Order, func(id ident.NodeID) bool { return id == child })
		g.renumber(e.src)
	}
	return nil
}

// RemoveNode deletes a node and its incident edges. It fails if a child would
// be left unreachable; see RemoveSubgraph.
func (g *Graph) RemoveNode(idx NodeIndex) error {
	return g.mutate(func() error {
		return g.removeNode(idx)
	})
}

func (g *Graph) removeNode(idx NodeIndex) error {
	n, err := g.node(idx)
	if err != nil {
		return err
	}
	if idx == g.root {
		return fmt.Errorf("%w: the root cannot be removed", ErrInvalidNodeWeight)
	}
	for _, ei := range slices.Clone(n.in) {
		if err := g.removeEdge(ei); err != nil {
			return err
		}
	}
	for _, ei := range slices.Clone(n.out) {
		if err := g.removeEdge(ei); err != nil {
			return err
		}
	}
	w := n.weight
	delete(g.byID, w.ID)
	g.byLineage[w.LineageID] = slices.DeleteFunc(g.byLineage[w.LineageID], func(x NodeIndex) bool { return x == idx })
	if len(g.byLineage[w.LineageID]) == 0 {
		delete(g.byLineage, w.LineageID)
	}
	g.nodes[idx] = nil
	g.live--
	return nil
}

// RemoveSubgraph deletes idx together with every descendant that no longer
// has another path from root. It returns the removed ids, sorted.
func (g *Graph) RemoveSubgraph(idx NodeIndex) ([]ident.NodeID, error) {
	var removed []ident.NodeID
	err := g.mutate(func() error {
		var err error
		removed, err = g.removeSubgraph(idx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (g *Graph) removeSubgraph(idx NodeIndex) ([]ident.NodeID, error) {
	n, err := g.node(idx)
	if err != nil {
		return nil, err
	}
	removed := []ident.NodeID{n.weight.ID}
	if err := g.removeNode(idx); err != nil {
		return nil, err
	}
	for _, orphan := range g.unreachable() {
		removed = append(removed, g.nodes[orphan].weight.ID)
		if err := g.removeNode(orphan); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(removed, ident.NodeID.Compare)
	return removed, nil
}

// ReplaceNode installs a new weight for an existing node. The id, lineage and
// kind must not change, the child order is kept (it moves only through
// ordered edges and Reorder), and every incident edge must stay valid.
func (g *Graph) ReplaceNode(idx NodeIndex, w NodeWeight) error {
	return g.mutate(func() error {
		return g.replaceNode(idx, w)
	})
}

func (g *Graph) replaceNode(idx NodeIndex, w NodeWeight) error {
	n, err := g.node(idx)
	if err != nil {
		return err
	}
	old := n.weight
	if w.ID != old.ID || w.LineageID != old.LineageID || w.Kind != old.Kind {
		return fmt.Errorf("%w: replacement for %s changes its identity or kind", ErrInvalidNodeWeight, old.ID)
	}
	w = w.Clone()
	w.Order = slices.Clone(old.Order)
	if err := w.Validate(); err != nil {
		return err
	}
	for _, ei := range n.in {
		e := g.edges[ei]
		if err := CheckEdge(g.nodes[e.src].weight, e.weight, w); err != nil {
			return err
		}
	}
	for _, ei := range n.out {
		e := g.edges[ei]
		if err := CheckEdge(w, e.weight, g.nodes[e.dst].weight); err != nil {
			return err
		}
	}
	n.weight = w
	g.touch(idx)
	return nil
}

// UpdateContent points a node at new content, stamping it with scope.
func (g *Graph) UpdateContent(scope ident.Scope, idx NodeIndex, addr ContentAddress) error {
	n, err := g.node(idx)
	if err != nil {
		return err
	}
	return g.ReplaceNode(idx, n.weight.WithContent(scope, addr))
}

// OrderedChildren returns the child order of an Ordering node.
func (g *Graph) OrderedChildren(idx NodeIndex) ([]ident.NodeID, error) {
	n, err := g.node(idx)
	if err != nil {
		return nil, err
	}
	if n.weight.Kind != KindOrdering {
		return nil, fmt.Errorf("%w: %s node %s has no child order", ErrInvalidOrder, n.weight.Kind, n.weight.ID)
	}
	return slices.Clone(n.weight.Order), nil
}

// RemoveEdgeByKey deletes the edge identified by key.
func (g *Graph) RemoveEdgeByKey(key EdgeKey) error {
	ei, ok := g.FindEdge(key)
	if !ok {
		if err := g.writable(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, key)
	}
	return g.RemoveEdge(ei)
}
