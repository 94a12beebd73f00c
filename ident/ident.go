// Package ident provides the time-ordered identifiers used throughout the
// graph, and the explicit edit scope passed to every mutating call.
//
// Every identifier is a UUIDv7: a millisecond timestamp prefix, a counter
// that keeps ids monotonic within the same millisecond, and a random tail.
// Identifier classes share a representation but are distinct Go types, so a
// NodeID cannot be passed where a LineageID is expected.
package ident

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

type class interface {
	className() string
}

type nodeClass struct{}
type lineageClass struct{}
type changeSetClass struct{}
type actorClass struct{}
type workspaceClass struct{}

func (nodeClass) className() string      { return "node" }
func (lineageClass) className() string   { return "lineage" }
func (changeSetClass) className() string { return "change set" }
func (actorClass) className() string     { return "actor" }
func (workspaceClass) className() string { return "workspace" }

// ID is a 128-bit time-sortable identifier of class C.
type ID[C class] struct {
	u uuid.UUID
}

type (
	NodeID      = ID[nodeClass]
	LineageID   = ID[lineageClass]
	ChangeSetID = ID[changeSetClass]
	ActorID     = ID[actorClass]
	WorkspaceID = ID[workspaceClass]
)

func newID[C class]() ID[C] {
	return ID[C]{u: uuid.Must(uuid.NewV7())}
}

func NewNodeID() NodeID           { return newID[nodeClass]() }
func NewLineageID() LineageID     { return newID[lineageClass]() }
func NewChangeSetID() ChangeSetID { return newID[changeSetClass]() }
func NewActorID() ActorID         { return newID[actorClass]() }
func NewWorkspaceID() WorkspaceID { return newID[workspaceClass]() }

func parse[C class](s string) (ID[C], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		var c C
		return ID[C]{}, fmt.Errorf("invalid %s id %q: %w", c.className(), s, err)
	}
	return ID[C]{u: u}, nil
}

func ParseNodeID(s string) (NodeID, error)           { return parse[nodeClass](s) }
func ParseLineageID(s string) (LineageID, error)     { return parse[lineageClass](s) }
func ParseChangeSetID(s string) (ChangeSetID, error) { return parse[changeSetClass](s) }
func ParseActorID(s string) (ActorID, error)         { return parse[actorClass](s) }
func ParseWorkspaceID(s string) (WorkspaceID, error) { return parse[workspaceClass](s) }

// LineageOf returns a lineage id sharing the node id's value. New entities
// start their lineage with the id of their first node.
func LineageOf(id NodeID) LineageID {
	return LineageID{u: id.u}
}

// String returns the canonical UUID text form.
func (id ID[C]) String() string {
	return id.u.String()
}

// IsNil reports whether id is the zero identifier.
func (id ID[C]) IsNil() bool {
	return id.u == uuid.Nil
}

// Compare orders identifiers by their bytes, which is creation order.
func (id ID[C]) Compare(other ID[C]) int {
	return bytes.Compare(id.u[:], other.u[:])
}

// Less reports whether id sorts before other.
func (id ID[C]) Less(other ID[C]) bool {
	return id.Compare(other) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (id ID[C]) MarshalText() ([]byte, error) {
	return []byte(id.u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID[C]) UnmarshalText(text []byte) error {
	parsed, err := parse[C](string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
