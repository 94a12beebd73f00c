package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"snapgraph/cas"
	"snapgraph/changeset"
	"snapgraph/ident"
)

var _ changeset.Repository = (*DB)(nil)

// ----- Workspaces -----

// CreateWorkspace inserts a workspace together with its head change set.
func (db *DB) CreateWorkspace(ctx context.Context, ws *changeset.Workspace, head *changeset.ChangeSet) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, head_change_set_id, created_at) VALUES (?, ?, ?, ?)`,
		ws.ID.String(), ws.Name, ws.HeadChangeSetID.String(), ws.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}
	if err := insertChangeSet(ctx, tx, head); err != nil {
		return err
	}
	return tx.Commit()
}

// GetWorkspace retrieves a workspace by id.
func (db *DB) GetWorkspace(ctx context.Context, id ident.WorkspaceID) (*changeset.Workspace, error) {
	ws, err := scanWorkspace(db.conn.QueryRowContext(ctx,
		`SELECT id, name, head_change_set_id, created_at FROM workspaces WHERE id = ?`, id.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", changeset.ErrWorkspaceNotFound, id)
	}
	return ws, err
}

// ListWorkspaces returns every workspace, oldest first.
func (db *DB) ListWorkspaces(ctx context.Context) ([]*changeset.Workspace, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, head_change_set_id, created_at FROM workspaces ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var out []*changeset.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row scanner) (*changeset.Workspace, error) {
	var (
		ws       changeset.Workspace
		id, head string
	)
	if err := row.Scan(&id, &ws.Name, &head, &ws.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	var err error
	if ws.ID, err = ident.ParseWorkspaceID(id); err != nil {
		return nil, err
	}
	if ws.HeadChangeSetID, err = ident.ParseChangeSetID(head); err != nil {
		return nil, err
	}
	return &ws, nil
}

// ----- Change sets -----

const changeSetColumns = `id, workspace_id, name, base_change_set_id, root_hash, ancestor_hash,
	status, merge_requested_by, approvals, created_at, updated_at, revision`

// CreateChangeSet inserts a new change set into an existing workspace.
func (db *DB) CreateChangeSet(ctx context.Context, cs *changeset.ChangeSet) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspaces WHERE id = ?`, cs.WorkspaceID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking workspace: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", changeset.ErrWorkspaceNotFound, cs.WorkspaceID)
	}
	if err := insertChangeSet(ctx, tx, cs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChangeSet(ctx context.Context, tx *sql.Tx, cs *changeset.ChangeSet) error {
	approvals, err := json.Marshal(approvalList(cs.Approvals))
	if err != nil {
		return fmt.Errorf("encoding approvals: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO change_sets (`+changeSetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ID.String(), cs.WorkspaceID.String(), cs.Name, optionalID(cs.BaseChangeSetID),
		cs.RootHash.String(), cs.AncestorHash.String(), string(cs.Status),
		optionalID(cs.MergeRequestedBy), string(approvals), cs.CreatedAt, cs.UpdatedAt, cs.Revision,
	)
	if err != nil {
		return fmt.Errorf("inserting change set: %w", err)
	}
	return nil
}

// GetChangeSet retrieves a change set by id.
func (db *DB) GetChangeSet(ctx context.Context, id ident.ChangeSetID) (*changeset.ChangeSet, error) {
	cs, err := scanChangeSet(db.conn.QueryRowContext(ctx,
		`SELECT `+changeSetColumns+` FROM change_sets WHERE id = ?`, id.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", changeset.ErrNotFound, id)
	}
	return cs, err
}

// ListChangeSets returns a workspace's change sets, oldest first, optionally
// filtered by status.
func (db *DB) ListChangeSets(ctx context.Context, workspace ident.WorkspaceID, statuses ...changeset.Status) ([]*changeset.ChangeSet, error) {
	query := `SELECT ` + changeSetColumns + ` FROM change_sets WHERE workspace_id = ?`
	args := []any{workspace.String()}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change sets: %w", err)
	}
	defer rows.Close()

	var out []*changeset.ChangeSet
	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// UpdateChangeSet saves cs if nobody has saved it since it was read. The
// root hash is left alone; see SwapPointer.
func (db *DB) UpdateChangeSet(ctx context.Context, cs *changeset.ChangeSet) error {
	approvals, err := json.Marshal(approvalList(cs.Approvals))
	if err != nil {
		return fmt.Errorf("encoding approvals: %w", err)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE change_sets SET name = ?, base_change_set_id = ?, ancestor_hash = ?, status = ?,
		 merge_requested_by = ?, approvals = ?, updated_at = ?, revision = revision + 1
		 WHERE id = ? AND revision = ?`,
		cs.Name, optionalID(cs.BaseChangeSetID), cs.AncestorHash.String(), string(cs.Status),
		optionalID(cs.MergeRequestedBy), string(approvals), cs.UpdatedAt, cs.ID.String(), cs.Revision,
	)
	if err != nil {
		return fmt.Errorf("updating change set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating change set: %w", err)
	}
	if n == 0 {
		var revision int64
		err := db.conn.QueryRowContext(ctx,
			`SELECT revision FROM change_sets WHERE id = ?`, cs.ID.String(),
		).Scan(&revision)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", changeset.ErrNotFound, cs.ID)
		}
		if err != nil {
			return fmt.Errorf("checking change set revision: %w", err)
		}
		return fmt.Errorf("%w: %s is at revision %d, not %d", changeset.ErrStaleChangeSet, cs.ID, revision, cs.Revision)
	}
	cs.Revision++
	return nil
}

func scanChangeSet(row scanner) (*changeset.ChangeSet, error) {
	var (
		cs                       changeset.ChangeSet
		id, workspace, root, anc string
		status, approvals        string
		base, requester          sql.NullString
	)
	err := row.Scan(&id, &workspace, &cs.Name, &base, &root, &anc,
		&status, &requester, &approvals, &cs.CreatedAt, &cs.UpdatedAt, &cs.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning change set: %w", err)
	}
	cs.Status = changeset.Status(status)
	if cs.ID, err = ident.ParseChangeSetID(id); err != nil {
		return nil, err
	}
	if cs.WorkspaceID, err = ident.ParseWorkspaceID(workspace); err != nil {
		return nil, err
	}
	if base.Valid {
		if cs.BaseChangeSetID, err = ident.ParseChangeSetID(base.String); err != nil {
			return nil, err
		}
	}
	if requester.Valid {
		if cs.MergeRequestedBy, err = ident.ParseActorID(requester.String); err != nil {
			return nil, err
		}
	}
	if cs.RootHash, err = cas.ParseHash(root); err != nil {
		return nil, fmt.Errorf("change set %s root: %w", id, err)
	}
	if cs.AncestorHash, err = cas.ParseHash(anc); err != nil {
		return nil, fmt.Errorf("change set %s ancestor: %w", id, err)
	}
	var votes []ident.ActorID
	if err := json.Unmarshal([]byte(approvals), &votes); err != nil {
		return nil, fmt.Errorf("change set %s approvals: %w", id, err)
	}
	if len(votes) > 0 {
		cs.Approvals = votes
	}
	return &cs, nil
}

func approvalList(votes []ident.ActorID) []ident.ActorID {
	if votes == nil {
		return []ident.ActorID{}
	}
	return votes
}

type idString interface {
	IsNil() bool
	String() string
}

func optionalID(id idString) any {
	if id.IsNil() {
		return nil
	}
	return id.String()
}

// ----- Pointer history -----

// SwapPointer moves an open change set's root hash from old to new and
// appends a chained history entry, atomically.
func (db *DB) SwapPointer(ctx context.Context, id ident.ChangeSetID, old, new cas.Hash, actor ident.ActorID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current, status string
	err = tx.QueryRowContext(ctx,
		`SELECT root_hash, status FROM change_sets WHERE id = ?`, id.String(),
	).Scan(&current, &status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", changeset.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("checking current pointer: %w", err)
	}
	if changeset.Status(status) != changeset.StatusOpen {
		return fmt.Errorf("%w: %s is %s", changeset.ErrNotOpen, id, status)
	}
	if current != old.String() {
		return fmt.Errorf("%w: %s is at %.12s, expected %s", changeset.ErrPointerMoved, id, current, old.Short())
	}

	var parent cas.Hash
	var parentHex string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM pointer_history WHERE change_set_id = ? ORDER BY seq DESC LIMIT 1`, id.String(),
	).Scan(&parentHex)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("getting parent history: %w", err)
	default:
		if parent, err = cas.ParseHash(parentHex); err != nil {
			return fmt.Errorf("parent history entry: %w", err)
		}
	}

	entry, meta, err := changeset.NewPointerEntry(parent, id, old, new, actor)
	if err != nil {
		return err
	}
	var parentCol any
	if !parent.IsZero() {
		parentCol = parent.String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pointer_history (id, parent, change_set_id, old, new, actor, time, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), parentCol, id.String(), old.String(), new.String(), actor.String(), entry.Time, string(meta),
	)
	if err != nil {
		return fmt.Errorf("inserting pointer history: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE change_sets SET root_hash = ?, updated_at = ?, revision = revision + 1
		 WHERE id = ? AND root_hash = ? AND status = ?`,
		new.String(), entry.Time, id.String(), old.String(), string(changeset.StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("updating pointer: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("updating pointer: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s changed while swapping", changeset.ErrPointerMoved, id)
	}
	return tx.Commit()
}

// PointerHistory returns the last limit moves of a change set's pointer,
// oldest first. A limit of zero or less returns them all.
func (db *DB) PointerHistory(ctx context.Context, id ident.ChangeSetID, limit int) ([]*changeset.PointerEntry, error) {
	if _, err := db.GetChangeSet(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT seq, id, meta FROM pointer_history WHERE change_set_id = ? ORDER BY seq DESC LIMIT ?`,
		id.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pointer history: %w", err)
	}
	defer rows.Close()

	var out []*changeset.PointerEntry
	for rows.Next() {
		var (
			e     changeset.PointerEntry
			hexID string
			meta  string
		)
		if err := rows.Scan(&e.Seq, &hexID, &meta); err != nil {
			return nil, fmt.Errorf("scanning pointer history: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e); err != nil {
			return nil, fmt.Errorf("decoding pointer history %d: %w", e.Seq, err)
		}
		if e.ID, err = cas.ParseHash(hexID); err != nil {
			return nil, fmt.Errorf("pointer history %d id: %w", e.Seq, err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
