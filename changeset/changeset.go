// Package changeset tracks change sets: named, isolated pointers into the
// snapshot history of a workspace, and the status machine that moves them
// from open editing to applied.
package changeset

import (
	"errors"
	"fmt"
	"slices"

	"snapgraph/cas"
	"snapgraph/ident"
)

var (
	ErrNotFound                = errors.New("change set not found")
	ErrWorkspaceNotFound       = errors.New("workspace not found")
	ErrInvalidStatusTransition = errors.New("invalid change set status transition")
	ErrPointerMoved            = errors.New("change set pointer moved")
	ErrApprovalRequired        = errors.New("change set needs more approvals")
	ErrNotOpen                 = errors.New("change set is not open")
	// ErrStaleChangeSet means the change set was saved by someone else since
	// it was read.
	ErrStaleChangeSet = errors.New("change set changed since it was read")
)

// Status is a change set's lifecycle state.
type Status string

const (
	StatusOpen          Status = "Open"
	StatusNeedsApproval Status = "NeedsApproval"
	StatusApplied       Status = "Applied"
	StatusRejected      Status = "Rejected"
	StatusAbandoned     Status = "Abandoned"
)

// Active reports whether a change set in this state can still change.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusNeedsApproval || s == StatusRejected
}

// ChangeSet is a named pointer to a snapshot root.
type ChangeSet struct {
	ID              ident.ChangeSetID `json:"id"`
	Name            string            `json:"name"`
	WorkspaceID     ident.WorkspaceID `json:"workspace_id"`
	BaseChangeSetID ident.ChangeSetID `json:"base_change_set_id"` // nil for a workspace head
	RootHash        cas.Hash          `json:"root_hash"`
	// AncestorHash is the merge base: the snapshot this change set was forked
	// from or last rebased onto.
	AncestorHash     cas.Hash        `json:"ancestor_hash"`
	Status           Status          `json:"status"`
	MergeRequestedBy ident.ActorID   `json:"merge_requested_by"`
	Approvals        []ident.ActorID `json:"approvals,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	UpdatedAt        int64           `json:"updated_at"`
	// Revision counts saves; a write carrying an older revision is refused.
	Revision int64 `json:"revision"`
}

// New forks base: the new change set points at base's current root, which is
// also its merge base.
func New(name string, base *ChangeSet) *ChangeSet {
	now := cas.NowMs()
	return &ChangeSet{
		ID:              ident.NewChangeSetID(),
		Name:            name,
		WorkspaceID:     base.WorkspaceID,
		BaseChangeSetID: base.ID,
		RootHash:        base.RootHash,
		AncestorHash:    base.RootHash,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsHead reports whether cs is a workspace head (it has no base).
func (cs *ChangeSet) IsHead() bool {
	return cs.BaseChangeSetID.IsNil()
}

// Clone returns a deep copy.
func (cs *ChangeSet) Clone() *ChangeSet {
	out := *cs
	out.Approvals = slices.Clone(cs.Approvals)
	return &out
}

// TransitionError reports an action that is illegal in the current status.
type TransitionError struct {
	ChangeSet ident.ChangeSetID
	Action    string
	From      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s change set %s in status %s", ErrInvalidStatusTransition, e.Action, e.ChangeSet, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

type transition struct {
	from []Status
	to   Status
}

var transitions = map[string]transition{
	"begin approval flow":  {from: []Status{StatusOpen}, to: StatusNeedsApproval},
	"cancel approval flow": {from: []Status{StatusNeedsApproval}, to: StatusOpen},
	"reject":               {from: []Status{StatusNeedsApproval}, to: StatusRejected},
	"reopen":               {from: []Status{StatusRejected}, to: StatusOpen},
	"abandon":              {from: []Status{StatusOpen, StatusNeedsApproval, StatusRejected}, to: StatusAbandoned},
	"apply":                {from: []Status{StatusNeedsApproval}, to: StatusApplied},
}

func (cs *ChangeSet) move(action string) error {
	t, ok := transitions[action]
	if !ok || !slices.Contains(t.from, cs.Status) {
		return &TransitionError{ChangeSet: cs.ID, Action: action, From: cs.Status}
	}
	cs.Status = t.to
	cs.UpdatedAt = cas.NowMs()
	return nil
}

// BeginApprovalFlow asks for cs to be merged; approvals start from zero.
func (cs *ChangeSet) BeginApprovalFlow(requester ident.ActorID) error {
	if err := cs.move("begin approval flow"); err != nil {
		return err
	}
	cs.MergeRequestedBy = requester
	cs.Approvals = nil
	return nil
}

// CancelApprovalFlow returns cs to editing.
func (cs *ChangeSet) CancelApprovalFlow() error {
	if err := cs.move("cancel approval flow"); err != nil {
		return err
	}
	cs.MergeRequestedBy = ident.ActorID{}
	cs.Approvals = nil
	return nil
}

// RequestApproval records approver's vote. Repeat votes count once.
func (cs *ChangeSet) RequestApproval(approver ident.ActorID) error {
	if cs.Status != StatusNeedsApproval {
		return &TransitionError{ChangeSet: cs.ID, Action: "approve", From: cs.Status}
	}
	if !slices.Contains(cs.Approvals, approver) {
		cs.Approvals = append(cs.Approvals, approver)
		slices.SortFunc(cs.Approvals, ident.ActorID.Compare)
	}
	cs.UpdatedAt = cas.NowMs()
	return nil
}

func (cs *ChangeSet) Reject() error {
	return cs.move("reject")
}

// Reopen returns a rejected change set to editing.
func (cs *ChangeSet) Reopen() error {
	if err := cs.move("reopen"); err != nil {
		return err
	}
	cs.MergeRequestedBy = ident.ActorID{}
	cs.Approvals = nil
	return nil
}

func (cs *ChangeSet) Abandon() error {
	return cs.move("abandon")
}

// MarkApplied moves cs to Applied once policy is satisfied for the node
// paths it touched.
func (cs *ChangeSet) MarkApplied(policy *Policy, paths []string) error {
	if cs.Status != StatusNeedsApproval {
		return &TransitionError{ChangeSet: cs.ID, Action: "apply", From: cs.Status}
	}
	if err := policy.Check(cs, paths); err != nil {
		return err
	}
	return cs.move("apply")
}

// Workspace groups the change sets sharing one history.
type Workspace struct {
	ID              ident.WorkspaceID `json:"id"`
	Name            string            `json:"name"`
	HeadChangeSetID ident.ChangeSetID `json:"head_change_set_id"`
	CreatedAt       int64             `json:"created_at"`
}
