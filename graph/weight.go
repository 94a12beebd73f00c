package graph

import (
	"fmt"

	"snapgraph/cas"
	"snapgraph/ident"
)

// NodeKind is the structural role of a node.
type NodeKind string

const (
	KindRoot     NodeKind = "Root"
	KindCategory NodeKind = "Category"
	KindContent  NodeKind = "Content"
	KindOrdering NodeKind = "Ordering" // content node with an explicit child order
)

// CategoryKind names a top-level collection hanging off Root.
type CategoryKind string

const (
	CategorySchemas    CategoryKind = "schemas"
	CategoryComponents CategoryKind = "components"
	CategoryFuncs      CategoryKind = "funcs"
	CategorySecrets    CategoryKind = "secrets"
	CategoryViews      CategoryKind = "views"
)

// Categories lists every category kind, in canonical order.
var Categories = []CategoryKind{
	CategorySchemas,
	CategoryComponents,
	CategoryFuncs,
	CategorySecrets,
	CategoryViews,
}

func validCategory(c CategoryKind) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// ContentKind discriminates what a content address points at.
type ContentKind string

const (
	ContentRoot           ContentKind = "Root" // sentinel: the root node has no stored content
	ContentSchema         ContentKind = "Schema"
	ContentSchemaVariant  ContentKind = "SchemaVariant"
	ContentComponent      ContentKind = "Component"
	ContentFunc           ContentKind = "Func"
	ContentSecret         ContentKind = "Secret"
	ContentProp           ContentKind = "Prop"
	ContentAttributeValue ContentKind = "AttributeValue"
	ContentView           ContentKind = "View"
)

var contentKinds = map[ContentKind]bool{
	ContentSchema:         true,
	ContentSchemaVariant:  true,
	ContentComponent:      true,
	ContentFunc:           true,
	ContentSecret:         true,
	ContentProp:           true,
	ContentAttributeValue: true,
	ContentView:           true,
}

// ContentAddress locates a node's entity data in the CAS.
type ContentAddress struct {
	Kind ContentKind `json:"kind"`
	Hash cas.Hash    `json:"hash"`
}

// RootAddress is the content sentinel of the Root node.
func RootAddress() ContentAddress {
	return ContentAddress{Kind: ContentRoot}
}

// IsRoot reports whether a is the root sentinel.
func (a ContentAddress) IsRoot() bool {
	return a.Kind == ContentRoot
}

func (a ContentAddress) String() string {
	if a.IsRoot() {
		return string(ContentRoot)
	}
	if a.Kind == "" {
		return "-"
	}
	return string(a.Kind) + ":" + a.Hash.Short()
}

// NodeWeight is the current logical view of a node, whatever encoding it was
// stored in.
type NodeWeight struct {
	ID        ident.NodeID     `json:"id"`
	LineageID ident.LineageID  `json:"lineage_id"`
	Kind      NodeKind         `json:"kind"`
	Category  CategoryKind     `json:"category,omitempty"`
	Content   ContentAddress   `json:"content"`
	Order     []ident.NodeID   `json:"order,omitempty"`
	Clock     ident.ClockEntry `json:"clock"`
}

// NewContentNode builds a weight for a new entity; its lineage starts at its id.
func NewContentNode(scope ident.Scope, addr ContentAddress) NodeWeight {
	id := ident.NewNodeID()
	return NodeWeight{
		ID:        id,
		LineageID: ident.LineageOf(id),
		Kind:      KindContent,
		Content:   addr,
		Clock:     scope.Tick(),
	}
}

// NewOrderingNode builds a weight for a new content node with ordered children.
func NewOrderingNode(scope ident.Scope, addr ContentAddress) NodeWeight {
	w := NewContentNode(scope, addr)
	w.Kind = KindOrdering
	w.Order = []ident.NodeID{}
	return w
}

// NewCategoryNode builds a weight for a category node.
func NewCategoryNode(scope ident.Scope, kind CategoryKind) NodeWeight {
	id := ident.NewNodeID()
	return NodeWeight{
		ID:        id,
		LineageID: ident.LineageOf(id),
		Kind:      KindCategory,
		Category:  kind,
		Clock:     scope.Tick(),
	}
}

// NewRootNode builds the weight for a graph's single root.
func NewRootNode(scope ident.Scope) NodeWeight {
	id := ident.NewNodeID()
	return NodeWeight{
		ID:        id,
		LineageID: ident.LineageOf(id),
		Kind:      KindRoot,
		Content:   RootAddress(),
		Clock:     scope.Tick(),
	}
}

// WithContent returns an edited copy of w: same id and lineage, new content
// address and a fresh clock entry.
func (w NodeWeight) WithContent(scope ident.Scope, addr ContentAddress) NodeWeight {
	out := w.Clone()
	out.Content = addr
	out.Clock = scope.Tick()
	return out
}

// Clone returns a deep copy of w.
func (w NodeWeight) Clone() NodeWeight {
	if w.Order != nil {
		order := make([]ident.NodeID, len(w.Order))
		copy(order, w.Order)
		w.Order = order
	}
	return w
}

type contentHashInput struct {
	Kind     NodeKind       `json:"kind"`
	Category CategoryKind   `json:"category,omitempty"`
	Content  ContentAddress `json:"content"`
	Order    []ident.NodeID `json:"order,omitempty"`
}

// ContentHash hashes the node's own data: kind, category, content address and
// child order. The id, lineage and clock are excluded, so an edit that changes
// nothing real hashes the same.
func (w NodeWeight) ContentHash() cas.Hash {
	h, err := cas.KindHash("node", contentHashInput{
		Kind:     w.Kind,
		Category: w.Category,
		Content:  w.Content,
		Order:    w.Order,
	})
	if err != nil {
		// Every field marshals; an error here is a programming bug.
		panic(fmt.Sprintf("hashing node weight: %v", err))
	}
	return h
}

// DataHash is ContentHash without the child order. The rebase engine compares
// it to separate content edits from reorderings.
func (w NodeWeight) DataHash() cas.Hash {
	w.Order = nil
	return w.ContentHash()
}

// Validate checks the weight is well formed for its kind.
func (w NodeWeight) Validate() error {
	if w.ID.IsNil() || w.LineageID.IsNil() {
		return fmt.Errorf("%w: missing id or lineage", ErrInvalidNodeWeight)
	}
	switch w.Kind {
	case KindRoot:
		if !w.Content.IsRoot() {
			return fmt.Errorf("%w: root %s must use the root content sentinel", ErrInvalidNodeWeight, w.ID)
		}
	case KindCategory:
		if !validCategory(w.Category) {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidNodeWeight, w.Category)
		}
	case KindContent, KindOrdering:
		if !contentKinds[w.Content.Kind] {
			return fmt.Errorf("%w: node %s has content kind %q", ErrInvalidNodeWeight, w.ID, w.Content.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidNodeWeight, w.Kind)
	}
	if w.Kind != KindOrdering && len(w.Order) > 0 {
		return fmt.Errorf("%w: %s node %s carries a child order", ErrInvalidNodeWeight, w.Kind, w.ID)
	}
	return nil
}

// EdgeKind discriminates relationships.
type EdgeKind string

const (
	EdgeUse       EdgeKind = "Use"
	EdgeOrdinal   EdgeKind = "Ordinal"
	EdgeContain   EdgeKind = "Contain"
	EdgeSchemaRef EdgeKind = "SchemaRef"
	EdgeFuncRef   EdgeKind = "FuncRef"
	EdgeSecretRef EdgeKind = "SecretRef"
)

// EdgeWeight is the metadata on an edge.
type EdgeWeight struct {
	Kind EdgeKind `json:"kind"`
	// Key is the map-entry key of a Contain edge.
	Key string `json:"key,omitempty"`
	// Ordinal is the child's position in the source's order list; Ordinal edges only.
	Ordinal *int             `json:"ordinal,omitempty"`
	Clock   ident.ClockEntry `json:"clock"`
}

// NewEdge builds an edge weight stamped by scope.
func NewEdge(scope ident.Scope, kind EdgeKind) EdgeWeight {
	return EdgeWeight{Kind: kind, Clock: scope.Tick()}
}

// NewContainEdge builds a keyed Contain edge.
func NewContainEdge(scope ident.Scope, key string) EdgeWeight {
	return EdgeWeight{Kind: EdgeContain, Key: key, Clock: scope.Tick()}
}

// Clone returns a copy that shares no pointers with w.
func (w EdgeWeight) Clone() EdgeWeight {
	if w.Ordinal != nil {
		n := *w.Ordinal
		w.Ordinal = &n
	}
	return w
}

// EdgeKey identifies an edge within a snapshot independently of indices.
type EdgeKey struct {
	Source      ident.NodeID `json:"source"`
	Kind        EdgeKind     `json:"kind"`
	Key         string       `json:"key,omitempty"`
	Destination ident.NodeID `json:"destination"`
}

func (k EdgeKey) String() string {
	kind := string(k.Kind)
	if k.Key != "" {
		kind += "(" + k.Key + ")"
	}
	return fmt.Sprintf("%s -%s-> %s", k.Source, kind, k.Destination)
}

// Compare orders keys by source, destination, kind, key.
func (k EdgeKey) Compare(other EdgeKey) int {
	if c := k.Source.Compare(other.Source); c != 0 {
		return c
	}
	if c := k.Destination.Compare(other.Destination); c != 0 {
		return c
	}
	if k.Kind != other.Kind {
		if k.Kind < other.Kind {
			return -1
		}
		return 1
	}
	switch {
	case k.Key < other.Key:
		return -1
	case k.Key > other.Key:
		return 1
	}
	return 0
}

type edgeRule struct {
	sources      map[NodeKind]bool
	destinations map[NodeKind]bool
	contents     map[ContentKind]bool // nil: any content kind
}

func kinds(ks ...NodeKind) map[NodeKind]bool {
	m := make(map[NodeKind]bool, len(ks))
	for _, k := range ks {
		m[k] = true
	}
	return m
}

// edgeRules is the static compatibility table between edge kinds and the node
// kinds at either end. No edge may point at Root.
var edgeRules = map[EdgeKind]edgeRule{
	EdgeUse: {
		sources:      kinds(KindRoot, KindCategory, KindContent, KindOrdering),
		destinations: kinds(KindCategory, KindContent, KindOrdering),
	},
	EdgeOrdinal: {
		sources:      kinds(KindOrdering),
		destinations: kinds(KindContent, KindOrdering),
	},
	EdgeContain: {
		sources:      kinds(KindContent, KindOrdering),
		destinations: kinds(KindContent, KindOrdering),
	},
	EdgeSchemaRef: {
		sources:      kinds(KindContent, KindOrdering),
		destinations: kinds(KindContent, KindOrdering),
		contents:     map[ContentKind]bool{ContentSchema: true, ContentSchemaVariant: true},
	},
	EdgeFuncRef: {
		sources:      kinds(KindContent, KindOrdering),
		destinations: kinds(KindContent, KindOrdering),
		contents:     map[ContentKind]bool{ContentFunc: true},
	},
	EdgeSecretRef: {
		sources:      kinds(KindContent, KindOrdering),
		destinations: kinds(KindContent, KindOrdering),
		contents:     map[ContentKind]bool{ContentSecret: true},
	},
}

// CheckEdge validates an edge kind against the weights at both ends.
func CheckEdge(src NodeWeight, w EdgeWeight, dst NodeWeight) error {
	rule, ok := edgeRules[w.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown edge kind %q", ErrInvalidEdgeWeight, w.Kind)
	}
	if !rule.sources[src.Kind] {
		return fmt.Errorf("%w: %s edge cannot leave a %s node", ErrInvalidEdgeWeight, w.Kind, src.Kind)
	}
	if !rule.destinations[dst.Kind] {
		return fmt.Errorf("%w: %s edge cannot target a %s node", ErrInvalidEdgeWeight, w.Kind, dst.Kind)
	}
	if rule.contents != nil && !rule.contents[dst.Content.Kind] {
		return fmt.Errorf("%w: %s edge cannot target %s content", ErrInvalidEdgeWeight, w.Kind, dst.Content.Kind)
	}
	if dst.Kind == KindCategory && src.Kind != KindRoot {
		return fmt.Errorf("%w: categories hang directly off root", ErrInvalidEdgeWeight)
	}
	if w.Kind == EdgeContain && w.Key == "" {
		return fmt.Errorf("%w: contain edge needs a key", ErrInvalidEdgeWeight)
	}
	if w.Kind != EdgeContain && w.Key != "" {
		return fmt.Errorf("%w: only contain edges carry a key", ErrInvalidEdgeWeight)
	}
	return nil
}
