package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"snapgraph/cas"
	"snapgraph/ident"
)

// CurrentVersion is the node encoding every write produces.
const CurrentVersion = 2

// VersionedNodeWeight is one of the closed set of node encodings that may be
// found in a store. Only this package can add members.
type VersionedNodeWeight interface {
	Version() int
	// UpgradeToCurrent converts the stored form into the current logical view.
	UpgradeToCurrent() (NodeWeight, error)
	// ContentHash is the hash of the upgraded weight. It never depends on the
	// encoding the node was stored in.
	ContentHash() (cas.Hash, error)
	sealed()
}

// NodeWeightV1 is the legacy flat encoding. The content address, category and
// root marker share one string field and the writer is a "changeset/actor"
// pair next to a bare timestamp.
type NodeWeightV1 struct {
	ID        string   `json:"id"`
	Lineage   string   `json:"lineage"`
	Content   string   `json:"content"`
	Ordered   bool     `json:"ordered,omitempty"`
	Children  []string `json:"children_order,omitempty"`
	Writer    string   `json:"writer"`
	WrittenAt int64    `json:"written_at"`
}

// NodeWeightV2 is the current encoding.
type NodeWeightV2 struct {
	NodeWeight
}

func (NodeWeightV1) Version() int { return 1 }
func (NodeWeightV2) Version() int { return 2 }
func (NodeWeightV1) sealed()      {}
func (NodeWeightV2) sealed()      {}

func (w NodeWeightV2) UpgradeToCurrent() (NodeWeight, error) {
	out := w.NodeWeight.Clone()
	if err := out.Validate(); err != nil {
		return NodeWeight{}, err
	}
	return out, nil
}

func (w NodeWeightV2) ContentHash() (cas.Hash, error) {
	return contentHashOf(w)
}

func (w NodeWeightV1) ContentHash() (cas.Hash, error) {
	return contentHashOf(w)
}

func contentHashOf(v VersionedNodeWeight) (cas.Hash, error) {
	cur, err := v.UpgradeToCurrent()
	if err != nil {
		return cas.ZeroHash, err
	}
	return cur.ContentHash(), nil
}

func (w NodeWeightV1) UpgradeToCurrent() (NodeWeight, error) {
	id, err := ident.ParseNodeID(w.ID)
	if err != nil {
		return NodeWeight{}, fmt.Errorf("%w: v1 node: %v", ErrInvalidContent, err)
	}
	lineage, err := ident.ParseLineageID(w.Lineage)
	if err != nil {
		return NodeWeight{}, fmt.Errorf("%w: v1 node %s: %v", ErrInvalidContent, w.ID, err)
	}
	clock, err := parseWriterV1(w.Writer, w.WrittenAt)
	if err != nil {
		return NodeWeight{}, fmt.Errorf("%w: v1 node %s: %v", ErrInvalidContent, w.ID, err)
	}

	out := NodeWeight{ID: id, LineageID: lineage, Clock: clock}
	prefix, rest, hasRest := strings.Cut(w.Content, ":")
	switch {
	case w.Content == string(ContentRoot):
		out.Kind = KindRoot
		out.Content = RootAddress()
	case prefix == "Category" && hasRest:
		out.Kind = KindCategory
		out.Category = CategoryKind(rest)
	case hasRest:
		h, err := cas.ParseHash(rest)
		if err != nil {
			return NodeWeight{}, fmt.Errorf("%w: v1 node %s content: %v", ErrInvalidContent, w.ID, err)
		}
		out.Kind = KindContent
		out.Content = ContentAddress{Kind: ContentKind(prefix), Hash: h}
	default:
		return NodeWeight{}, fmt.Errorf("%w: v1 node %s has malformed content %q", ErrInvalidContent, w.ID, w.Content)
	}

	if w.Ordered {
		if out.Kind != KindContent {
			return NodeWeight{}, fmt.Errorf("%w: v1 %s node %s marked ordered", ErrInvalidContent, out.Kind, w.ID)
		}
		out.Kind = KindOrdering
		out.Order = make([]ident.NodeID, 0, len(w.Children))
		for _, c := range w.Children {
			cid, err := ident.ParseNodeID(c)
			if err != nil {
				return NodeWeight{}, fmt.Errorf("%w: v1 node %s order: %v", ErrInvalidContent, w.ID, err)
			}
			out.Order = append(out.Order, cid)
		}
	}
	if err := out.Validate(); err != nil {
		return NodeWeight{}, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return out, nil
}

// LegacyWeight renders w in the v1 encoding.
func LegacyWeight(w NodeWeight) NodeWeightV1 {
	out := NodeWeightV1{
		ID:        w.ID.String(),
		Lineage:   w.LineageID.String(),
		Writer:    formatWriterV1(w.Clock),
		WrittenAt: w.Clock.Stamp,
	}
	switch w.Kind {
	case KindRoot:
		out.Content = string(ContentRoot)
	case KindCategory:
		out.Content = "Category:" + string(w.Category)
	default:
		out.Content = string(w.Content.Kind) + ":" + w.Content.Hash.String()
	}
	if w.Kind == KindOrdering {
		out.Ordered = true
		for _, id := range w.Order {
			out.Children = append(out.Children, id.String())
		}
	}
	return out
}

func formatWriterV1(c ident.ClockEntry) string {
	return c.ChangeSet.String() + "/" + c.Actor.String()
}

func parseWriterV1(writer string, at int64) (ident.ClockEntry, error) {
	cs, actor, ok := strings.Cut(writer, "/")
	if !ok {
		return ident.ClockEntry{}, fmt.Errorf("malformed writer %q", writer)
	}
	csID, err := ident.ParseChangeSetID(cs)
	if err != nil {
		return ident.ClockEntry{}, err
	}
	actorID, err := ident.ParseActorID(actor)
	if err != nil {
		return ident.ClockEntry{}, err
	}
	return ident.ClockEntry{ChangeSet: csID, Actor: actorID, Stamp: at}, nil
}

// Upgrade converts any stored version into the current logical weight.
func Upgrade(v VersionedNodeWeight) (NodeWeight, error) {
	switch w := v.(type) {
	case NodeWeightV1:
		return w.UpgradeToCurrent()
	case NodeWeightV2:
		return w.UpgradeToCurrent()
	default:
		return NodeWeight{}, fmt.Errorf("%w: unknown node encoding %T", ErrInvalidContent, v)
	}
}

// ObjectEdge is one outgoing edge inside a stored node object.
type ObjectEdge struct {
	Weight EdgeWeight   `json:"weight"`
	To     cas.Hash     `json:"to"`
	ToID   ident.NodeID `json:"to_id"`
}

// Object is a decoded node object: a node's weight plus its outgoing edges,
// which point at the children's object hashes.
type Object struct {
	Node  VersionedNodeWeight
	Edges []ObjectEdge
}

type envelope struct {
	Version int `json:"v"`
}

type objectV2 struct {
	Version int          `json:"v"`
	Node    NodeWeight   `json:"node"`
	Edges   []ObjectEdge `json:"edges"`
}

type edgeV1 struct {
	Kind      EdgeKind `json:"kind"`
	Key       string   `json:"key,omitempty"`
	To        string   `json:"to"`
	ToID      string   `json:"to_id"`
	Writer    string   `json:"writer"`
	WrittenAt int64    `json:"at"`
}

type objectV1 struct {
	Version int          `json:"v"`
	Node    NodeWeightV1 `json:"node"`
	Edges   []edgeV1     `json:"edges"`
}

// EncodeObject produces the canonical current encoding of a node object.
func EncodeObject(w NodeWeight, edges []ObjectEdge) ([]byte, error) {
	if edges == nil {
		edges = []ObjectEdge{}
	}
	return cas.CanonicalJSON(objectV2{Version: CurrentVersion, Node: w, Edges: edges})
}

// EncodeLegacyObject produces a v1 node object. Only fixtures and conversion
// tooling write this form.
func EncodeLegacyObject(w NodeWeight, edges []ObjectEdge) ([]byte, error) {
	obj := objectV1{Version: 1, Node: LegacyWeight(w), Edges: []edgeV1{}}
	for _, e := range edges {
		obj.Edges = append(obj.Edges, edgeV1{
			Kind:      e.Weight.Kind,
			Key:       e.Weight.Key,
			To:        e.To.String(),
			ToID:      e.ToID.String(),
			Writer:    formatWriterV1(e.Weight.Clock),
			WrittenAt: e.Weight.Clock.Stamp,
		})
	}
	return cas.CanonicalJSON(obj)
}

// DecodeObject parses a stored node object of any known version. V1 edges are
// normalized on the way in; the node weight keeps its stored version.
func DecodeObject(data []byte) (*Object, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	switch env.Version {
	case 2:
		var obj objectV2
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
		return &Object{Node: NodeWeightV2{NodeWeight: obj.Node}, Edges: obj.Edges}, nil
	case 1:
		var obj objectV1
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
		out := &Object{Node: obj.Node}
		ordinals := map[string]int{}
		for i, c := range obj.Node.Children {
			ordinals[c] = i
		}
		for _, e := range obj.Edges {
			to, err := cas.ParseHash(e.To)
			if err != nil {
				return nil, fmt.Errorf("%w: v1 edge: %v", ErrInvalidContent, err)
			}
			toID, err := ident.ParseNodeID(e.ToID)
			if err != nil {
				return nil, fmt.Errorf("%w: v1 edge: %v", ErrInvalidContent, err)
			}
			clock, err := parseWriterV1(e.Writer, e.WrittenAt)
			if err != nil {
				return nil, fmt.Errorf("%w: v1 edge: %v", ErrInvalidContent, err)
			}
			ew := EdgeWeight{Kind: e.Kind, Key: e.Key, Clock: clock}
			if e.Kind == EdgeOrdinal {
				if pos, ok := ordinals[e.ToID]; ok {
					ew.Ordinal = &pos
				}
			}
			out.Edges = append(out.Edges, ObjectEdge{Weight: ew, To: to, ToID: toID})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown node object version %d", ErrInvalidContent, env.Version)
	}
}
