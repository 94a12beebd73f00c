package changeset

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"snapgraph/cas"
	"snapgraph/ident"
)

// Repository persists workspaces, change sets and pointer history.
type Repository interface {
	CreateWorkspace(ctx context.Context, ws *Workspace, head *ChangeSet) error
	GetWorkspace(ctx context.Context, id ident.WorkspaceID) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*Workspace, error)

	CreateChangeSet(ctx context.Context, cs *ChangeSet) error
	GetChangeSet(ctx context.Context, id ident.ChangeSetID) (*ChangeSet, error)
	ListChangeSets(ctx context.Context, workspace ident.WorkspaceID, statuses ...Status) ([]*ChangeSet, error)
	// UpdateChangeSet saves everything except the root hash, which only
	// SwapPointer moves. It fails with ErrStaleChangeSet unless the stored
	// revision still equals cs.Revision, and bumps cs.Revision on success.
	UpdateChangeSet(ctx context.Context, cs *ChangeSet) error

	// SwapPointer moves the root hash from old to new and appends to the
	// history. It fails with ErrNotOpen unless the change set is Open and with
	// ErrPointerMoved if the root no longer equals old.
	SwapPointer(ctx context.Context, id ident.ChangeSetID, old, new cas.Hash, actor ident.ActorID) error
	PointerHistory(ctx context.Context, id ident.ChangeSetID, limit int) ([]*PointerEntry, error)
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu         sync.RWMutex
	workspaces map[ident.WorkspaceID]*Workspace
	changeSets map[ident.ChangeSetID]*ChangeSet
	history    map[ident.ChangeSetID][]*PointerEntry
	seq        int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workspaces: make(map[ident.WorkspaceID]*Workspace),
		changeSets: make(map[ident.ChangeSetID]*ChangeSet),
		history:    make(map[ident.ChangeSetID][]*PointerEntry),
	}
}

func (r *MemoryRepository) CreateWorkspace(ctx context.Context, ws *Workspace, head *ChangeSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[ws.ID]; ok {
		return fmt.Errorf("workspace %s already exists", ws.ID)
	}
	if _, ok := r.changeSets[head.ID]; ok {
		return fmt.Errorf("change set %s already exists", head.ID)
	}
	w := *ws
	r.workspaces[ws.ID] = &w
	r.changeSets[head.ID] = head.Clone()
	return nil
}

func (r *MemoryRepository) GetWorkspace(ctx context.Context, id ident.WorkspaceID) (*Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	w := *ws
	return &w, nil
}

func (r *MemoryRepository) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		w := *ws
		out = append(out, &w)
	}
	slices.SortFunc(out, func(a, b *Workspace) int { return a.ID.Compare(b.ID) })
	return out, nil
}

func (r *MemoryRepository) CreateChangeSet(ctx context.Context, cs *ChangeSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[cs.WorkspaceID]; !ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, cs.WorkspaceID)
	}
	if _, ok := r.changeSets[cs.ID]; ok {
		return fmt.Errorf("change set %s already exists", cs.ID)
	}
	r.changeSets[cs.ID] = cs.Clone()
	return nil
}

func (r *MemoryRepository) GetChangeSet(ctx context.Context, id ident.ChangeSetID) (*ChangeSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.changeSets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cs.Clone(), nil
}

func (r *MemoryRepository) ListChangeSets(ctx context.Context, workspace ident.WorkspaceID, statuses ...Status) ([]*ChangeSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ChangeSet
	for _, cs := range r.changeSets {
		if cs.WorkspaceID != workspace {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, cs.Status) {
			continue
		}
		out = append(out, cs.Clone())
	}
	slices.SortFunc(out, func(a, b *ChangeSet) int { return a.ID.Compare(b.ID) })
	return out, nil
}

func (r *MemoryRepository) UpdateChangeSet(ctx context.Context, cs *ChangeSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.changeSets[cs.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cs.ID)
	}
	if cur.Revision != cs.Revision {
		return fmt.Errorf("%w: %s is at revision %d, not %d", ErrStaleChangeSet, cs.ID, cur.Revision, cs.Revision)
	}
	next := cs.Clone()
	next.RootHash = cur.RootHash
	next.Revision++
	r.changeSets[cs.ID] = next
	cs.Revision = next.Revision
	return nil
}

func (r *MemoryRepository) SwapPointer(ctx context.Context, id ident.ChangeSetID, old, new cas.Hash, actor ident.ActorID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.changeSets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cs.Status != StatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, id, cs.Status)
	}
	if cs.RootHash != old {
		return fmt.Errorf("%w: %s is at %s, expected %s", ErrPointerMoved, id, cs.RootHash.Short(), old.Short())
	}
	var parent cas.Hash
	if h := r.history[id]; len(h) > 0 {
		parent = h[len(h)-1].ID
	}
	entry, _, err := NewPointerEntry(parent, id, old, new, actor)
	if err != nil {
		return err
	}
	r.seq++
	entry.Seq = r.seq
	r.history[id] = append(r.history[id], entry)
	cs.RootHash = new
	cs.UpdatedAt = entry.Time
	cs.Revision++
	return nil
}

func (r *MemoryRepository) PointerHistory(ctx context.Context, id ident.ChangeSetID, limit int) ([]*PointerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.changeSets[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	h := r.history[id]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*PointerEntry, len(h))
	for i, e := range h {
		c := *e
		out[i] = &c
	}
	return out, nil
}
