package changeset

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"snapgraph/cas"
	"snapgraph/ident"
)

// HeadName is the name given to every workspace's head change set.
const HeadName = "HEAD"

// maxUpdateAttempts bounds how often update re-reads a change set that was
// saved concurrently.
const maxUpdateAttempts = 16

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Policy *Policy
	Logger *logrus.Logger
}

// Manager applies change set operations through a Repository.
type Manager struct {
	repo   Repository
	policy *Policy
	log    *logrus.Logger
}

// NewManager creates a manager. A nil policy requires no approvals.
func NewManager(repo Repository, cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Manager{repo: repo, policy: cfg.Policy, log: cfg.Logger}
}

// Policy returns the approval policy in force.
func (m *Manager) Policy() *Policy {
	return m.policy
}

// CreateWorkspace creates a workspace whose head points at root.
func (m *Manager) CreateWorkspace(ctx context.Context, name string, root cas.Hash) (*Workspace, *ChangeSet, error) {
	now := cas.NowMs()
	ws := &Workspace{ID: ident.NewWorkspaceID(), Name: name, CreatedAt: now}
	head := &ChangeSet{
		ID:           ident.NewChangeSetID(),
		Name:         HeadName,
		WorkspaceID:  ws.ID,
		RootHash:     root,
		AncestorHash: root,
		Status:       StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ws.HeadChangeSetID = head.ID
	if err := m.repo.CreateWorkspace(ctx, ws, head); err != nil {
		return nil, nil, fmt.Errorf("creating workspace %q: %w", name, err)
	}
	m.log.WithFields(logrus.Fields{
		"workspace": ws.ID,
		"head":      head.ID,
		"root":      root.Short(),
	}).Info("workspace created")
	return ws, head, nil
}

// Workspace looks up a workspace.
func (m *Manager) Workspace(ctx context.Context, id ident.WorkspaceID) (*Workspace, error) {
	return m.repo.GetWorkspace(ctx, id)
}

// Workspaces lists every workspace.
func (m *Manager) Workspaces(ctx context.Context) ([]*Workspace, error) {
	return m.repo.ListWorkspaces(ctx)
}

// Head returns the head change set of a workspace.
func (m *Manager) Head(ctx context.Context, workspace ident.WorkspaceID) (*ChangeSet, error) {
	ws, err := m.repo.GetWorkspace(ctx, workspace)
	if err != nil {
		return nil, err
	}
	return m.repo.GetChangeSet(ctx, ws.HeadChangeSetID)
}

// Get looks up a change set.
func (m *Manager) Get(ctx context.Context, id ident.ChangeSetID) (*ChangeSet, error) {
	return m.repo.GetChangeSet(ctx, id)
}

// List returns a workspace's change sets, optionally filtered by status.
func (m *Manager) List(ctx context.Context, workspace ident.WorkspaceID, statuses ...Status) ([]*ChangeSet, error) {
	return m.repo.ListChangeSets(ctx, workspace, statuses...)
}

// ListOpen returns the change sets still being worked on.
func (m *Manager) ListOpen(ctx context.Context, workspace ident.WorkspaceID) ([]*ChangeSet, error) {
	return m.repo.ListChangeSets(ctx, workspace, StatusOpen, StatusNeedsApproval)
}

// Create forks base into a new open change set.
func (m *Manager) Create(ctx context.Context, name string, base ident.ChangeSetID) (*ChangeSet, error) {
	parent, err := m.repo.GetChangeSet(ctx, base)
	if err != nil {
		return nil, err
	}
	if !parent.Status.Active() {
		return nil, fmt.Errorf("%w: cannot fork %s in status %s", ErrNotOpen, base, parent.Status)
	}
	cs := New(name, parent)
	if err := m.repo.CreateChangeSet(ctx, cs); err != nil {
		return nil, fmt.Errorf("creating change set %q: %w", name, err)
	}
	m.log.WithFields(logrus.Fields{
		"change_set": cs.ID,
		"base":       base,
		"root":       cs.RootHash.Short(),
	}).Info("change set forked")
	return cs, nil
}

// ForkHead forks the workspace head.
func (m *Manager) ForkHead(ctx context.Context, workspace ident.WorkspaceID, name string) (*ChangeSet, error) {
	ws, err := m.repo.GetWorkspace(ctx, workspace)
	if err != nil {
		return nil, err
	}
	return m.Create(ctx, name, ws.HeadChangeSetID)
}

// UpdatePointer moves an open change set from old to new. The status check
// and the swap happen together in the repository.
func (m *Manager) UpdatePointer(ctx context.Context, id ident.ChangeSetID, old, new cas.Hash, actor ident.ActorID) error {
	if err := m.repo.SwapPointer(ctx, id, old, new, actor); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"change_set": id,
		"old":        old.Short(),
		"new":        new.Short(),
	}).Debug("pointer updated")
	return nil
}

// SetAncestor records a new merge base for a change set.
func (m *Manager) SetAncestor(ctx context.Context, id ident.ChangeSetID, ancestor cas.Hash) error {
	return m.update(ctx, id, "set ancestor", func(cs *ChangeSet) error {
		cs.AncestorHash = ancestor
		cs.UpdatedAt = cas.NowMs()
		return nil
	})
}

// History returns the most recent pointer moves, oldest first.
func (m *Manager) History(ctx context.Context, id ident.ChangeSetID, limit int) ([]*PointerEntry, error) {
	return m.repo.PointerHistory(ctx, id, limit)
}

// update reads a change set, applies fn and saves the result. A save that
// loses to a concurrent writer is retried on a fresh read, so fn sees the
// latest status every time it runs.
func (m *Manager) update(ctx context.Context, id ident.ChangeSetID, action string, fn func(*ChangeSet) error) error {
	for attempt := 1; ; attempt++ {
		cs, err := m.repo.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		from := cs.Status
		if err := fn(cs); err != nil {
			return err
		}
		err = m.repo.UpdateChangeSet(ctx, cs)
		if errors.Is(err, ErrStaleChangeSet) && attempt < maxUpdateAttempts {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.log.WithFields(logrus.Fields{
				"change_set": id,
				"action":     action,
				"attempt":    attempt,
			}).Debug("change set saved concurrently, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("saving change set %s: %w", id, err)
		}
		m.log.WithFields(logrus.Fields{
			"change_set": id,
			"action":     action,
			"from":       from,
			"to":         cs.Status,
		}).Info("change set updated")
		return nil
	}
}

func (m *Manager) BeginApprovalFlow(ctx context.Context, id ident.ChangeSetID, requester ident.ActorID) error {
	return m.update(ctx, id, "begin approval flow", func(cs *ChangeSet) error {
		return cs.BeginApprovalFlow(requester)
	})
}

func (m *Manager) CancelApprovalFlow(ctx context.Context, id ident.ChangeSetID) error {
	return m.update(ctx, id, "cancel approval flow", (*ChangeSet).CancelApprovalFlow)
}

func (m *Manager) RequestApproval(ctx context.Context, id ident.ChangeSetID, approver ident.ActorID) error {
	return m.update(ctx, id, "approve", func(cs *ChangeSet) error {
		return cs.RequestApproval(approver)
	})
}

func (m *Manager) Reject(ctx context.Context, id ident.ChangeSetID) error {
	return m.update(ctx, id, "reject", (*ChangeSet).Reject)
}

func (m *Manager) Reopen(ctx context.Context, id ident.ChangeSetID) error {
	return m.update(ctx, id, "reopen", (*ChangeSet).Reopen)
}

// Abandon retires a change set. A workspace head cannot be abandoned.
func (m *Manager) Abandon(ctx context.Context, id ident.ChangeSetID) error {
	return m.update(ctx, id, "abandon", func(cs *ChangeSet) error {
		if cs.IsHead() {
			return &TransitionError{ChangeSet: cs.ID, Action: "abandon head", From: cs.Status}
		}
		return cs.Abandon()
	})
}

// CheckApprovals reports whether MarkApplied would pass the policy for paths.
func (m *Manager) CheckApprovals(ctx context.Context, id ident.ChangeSetID, paths []string) error {
	cs, err := m.repo.GetChangeSet(ctx, id)
	if err != nil {
		return err
	}
	return m.policy.Check(cs, paths)
}

// MarkApplied closes a change set whose changes reached its base. paths are
// the node paths the change set touched.
func (m *Manager) MarkApplied(ctx context.Context, id ident.ChangeSetID, paths []string) error {
	return m.update(ctx, id, "apply", func(cs *ChangeSet) error {
		return cs.MarkApplied(m.policy, paths)
	})
}
