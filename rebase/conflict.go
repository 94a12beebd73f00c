package rebase

import (
	"fmt"
	"slices"
	"strings"

	"snapgraph/cas"
	"snapgraph/graph"
	"snapgraph/ident"
)

// ConflictKind tags why two edits could not be merged. Where the tag names
// two actions, the first is what the rebased (from) side did.
type ConflictKind string

const (
	ConflictNodeContentDiverged ConflictKind = "NODE_CONTENT_DIVERGED"
	ConflictRemoveVsModify      ConflictKind = "REMOVE_vs_MODIFY"
	ConflictModifyVsRemove      ConflictKind = "MODIFY_vs_REMOVE"
	ConflictEdgeToRemovedNode   ConflictKind = "EDGE_TO_REMOVED_NODE"
	ConflictConcurrentCreate    ConflictKind = "CONCURRENT_CREATE"
	ConflictChildOrder          ConflictKind = "CHILD_ORDER"
	ConflictOrderMoveVsRemove   ConflictKind = "ORDER_MOVE_vs_REMOVE"
	ConflictStructural          ConflictKind = "STRUCTURAL"
)

// Conflict is one entry of a conflict report. Hashes are node data hashes in
// each snapshot, zero where the node is absent.
type Conflict struct {
	Kind     ConflictKind   `json:"kind"`
	Node     *ident.NodeID  `json:"node,omitempty"`
	Edge     *graph.EdgeKey `json:"edge,omitempty"`
	Children []ident.NodeID `json:"children,omitempty"`

	Ancestor cas.Hash `json:"ancestor"`
	Onto     cas.Hash `json:"onto"`
	From     cas.Hash `json:"from"`

	OntoContent *graph.ContentAddress `json:"onto_content,omitempty"`
	FromContent *graph.ContentAddress `json:"from_content,omitempty"`

	Message string `json:"message"`
	// Detail is a textual diff of the onto and from content, when available.
	Detail string `json:"detail,omitempty"`
}

// Subject names what the conflict is about.
func (c Conflict) Subject() string {
	switch {
	case c.Node != nil:
		return c.Node.String()
	case c.Edge != nil:
		return c.Edge.String()
	}
	return "graph"
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s %s: %s", c.Kind, c.Subject(), c.Message)
}

func nodeConflict(kind ConflictKind, id ident.NodeID, onto, from *NodeChange, ancestor *graph.Graph, msg string) Conflict {
	c := Conflict{Kind: kind, Node: &id, Message: msg}
	if w, ok := ancestor.NodeByID(id); ok {
		c.Ancestor = w.DataHash()
	}
	if onto != nil && onto.After != nil {
		c.Onto = onto.AfterHash
		addr := onto.After.Content
		c.OntoContent = &addr
	}
	if from != nil && from.After != nil {
		c.From = from.AfterHash
		addr := from.After.Content
		c.FromContent = &addr
	}
	return c
}

func edgeConflict(kind ConflictKind, key graph.EdgeKey, msg string) Conflict {
	return Conflict{Kind: kind, Edge: &key, Message: msg}
}

func sortConflicts(cs []Conflict) {
	slices.SortStableFunc(cs, func(a, b Conflict) int {
		if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
			return c
		}
		return strings.Compare(a.Subject(), b.Subject())
	})
}
