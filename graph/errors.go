package graph

import (
	"errors"
	"fmt"
	"strings"

	"snapgraph/ident"
)

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrDuplicateID       = errors.New("duplicate node id")
	ErrDuplicateEdge     = errors.New("duplicate edge")
	ErrInvalidEdgeWeight = errors.New("invalid edge weight")
	ErrInvalidNodeWeight = errors.New("invalid node weight")
	ErrInvalidOrder      = errors.New("invalid child order")
	ErrOrphan            = errors.New("node not reachable from root")
	ErrCycle             = errors.New("edge would create a cycle")
	ErrReadOnly          = errors.New("snapshot is read-only")
	ErrInvalidContent    = errors.New("invalid content")
	ErrNeedsMigration    = errors.New("snapshot uses an outdated encoding")
)

// OrphanError lists the nodes a mutation would have left unreachable.
type OrphanError struct {
	Nodes []ident.NodeID
}

func (e *OrphanError) Error() string {
	ids := make([]string, len(e.Nodes))
	for i, id := range e.Nodes {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%s: %s", ErrOrphan, strings.Join(ids, ", "))
}

func (e *OrphanError) Is(target error) bool {
	return target == ErrOrphan
}

// CycleError names the edge that would have closed a cycle.
type CycleError struct {
	Edge EdgeKey
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, e.Edge)
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}
