// Package proto defines the wire DTOs exchanged with the rebaser.
package proto

import (
	"errors"
	"fmt"

	"snapgraph/cas"
	"snapgraph/ident"
	"snapgraph/rebase"
)

var ErrInvalidRequest = errors.New("invalid rebase request")

// RebaseRequest asks for the changes in FromSnapshotHash to be rebased onto
// the change set ChangeSetID, whose pointer the caller last saw at
// OntoSnapshotHash.
type RebaseRequest struct {
	// WorkspaceID selects the queue the request is serialized on.
	WorkspaceID ident.WorkspaceID `json:"workspace_id"`
	// ChangeSetID is the change set whose pointer advances on success.
	ChangeSetID ident.ChangeSetID `json:"change_set_id"`
	// FromSnapshotHash is the snapshot carrying the changes to apply.
	FromSnapshotHash cas.Hash `json:"from_snapshot_hash"`
	// OntoSnapshotHash is the caller's view of the change set pointer.
	OntoSnapshotHash cas.Hash `json:"onto_snapshot_hash"`
	// FromChangeSetID, when set, is marked Applied once the merge lands.
	FromChangeSetID *ident.ChangeSetID `json:"from_change_set_id,omitempty"`
	// AncestorSnapshotHash overrides the merge base recorded on FromChangeSetID.
	AncestorSnapshotHash *cas.Hash `json:"ancestor_snapshot_hash,omitempty"`
	// Actor is recorded in the pointer history.
	Actor ident.ActorID `json:"actor"`
}

// Validate checks that every required field is set.
func (r *RebaseRequest) Validate() error {
	switch {
	case r.WorkspaceID.IsNil():
		return fmt.Errorf("%w: missing workspace_id", ErrInvalidRequest)
	case r.ChangeSetID.IsNil():
		return fmt.Errorf("%w: missing change_set_id", ErrInvalidRequest)
	case r.FromSnapshotHash.IsZero():
		return fmt.Errorf("%w: missing from_snapshot_hash", ErrInvalidRequest)
	case r.OntoSnapshotHash.IsZero():
		return fmt.Errorf("%w: missing onto_snapshot_hash", ErrInvalidRequest)
	case r.AncestorSnapshotHash == nil && r.FromChangeSetID == nil:
		return fmt.Errorf("%w: need ancestor_snapshot_hash or from_change_set_id", ErrInvalidRequest)
	}
	return nil
}

// Status is the outcome of a rebase request.
type Status string

const (
	StatusSuccess  Status = "Success"
	StatusConflict Status = "Conflict"
	// StatusRetry means the onto pointer moved; resubmit against the new head.
	StatusRetry Status = "Retry"
	StatusError Status = "Error"
)

// RebaseResponse reports how a request was resolved.
type RebaseResponse struct {
	Status Status `json:"status"`
	// NewSnapshotHash is the merged root (Success only).
	NewSnapshotHash cas.Hash `json:"new_snapshot_hash"`
	// Conflicts lists every conflict found (Conflict only).
	Conflicts []rebase.Conflict `json:"conflicts,omitempty"`
	// Stats counts what the merge applied (Success only).
	Stats *rebase.Stats `json:"stats,omitempty"`
	// Message explains an Error or Retry, or warns about a Success.
	Message string `json:"message,omitempty"`
}

func Success(root cas.Hash, stats rebase.Stats) RebaseResponse {
	return RebaseResponse{Status: StatusSuccess, NewSnapshotHash: root, Stats: &stats}
}

func Conflict(conflicts []rebase.Conflict) RebaseResponse {
	return RebaseResponse{Status: StatusConflict, Conflicts: conflicts}
}

func Retry(msg string) RebaseResponse {
	return RebaseResponse{Status: StatusRetry, Message: msg}
}

func Error(err error) RebaseResponse {
	return RebaseResponse{Status: StatusError, Message: err.Error()}
}
