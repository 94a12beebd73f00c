package changeset

import (
	"fmt"

	"snapgraph/cas"
	"snapgraph/ident"
)

// PointerEntry records one move of a change set pointer. Entries of a change
// set form a hash chain: each ID covers the entry's fields and its parent.
type PointerEntry struct {
	Seq       int64             `json:"-"`
	ID        cas.Hash          `json:"-"`
	Parent    cas.Hash          `json:"parent"`
	ChangeSet ident.ChangeSetID `json:"change_set"`
	Old       cas.Hash          `json:"old"`
	New       cas.Hash          `json:"new"`
	Actor     ident.ActorID     `json:"actor"`
	Time      int64             `json:"time"`
}

// NewPointerEntry builds the entry following parent (zero for the first move).
func NewPointerEntry(parent cas.Hash, cs ident.ChangeSetID, old, new cas.Hash, actor ident.ActorID) (*PointerEntry, []byte, error) {
	e := &PointerEntry{
		Parent:    parent,
		ChangeSet: cs,
		Old:       old,
		New:       new,
		Actor:     actor,
		Time:      cas.NowMs(),
	}
	id, meta, err := cas.HashJSON(e)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding pointer history entry: %w", err)
	}
	e.ID = id
	return e, meta, nil
}

// VerifyChain checks that entries, oldest first, link up and hash correctly.
func VerifyChain(entries []*PointerEntry) error {
	var parent cas.Hash
	for i, e := range entries {
		if e.Parent != parent {
			return fmt.Errorf("pointer history entry %d: parent %s, expected %s", i, e.Parent.Short(), parent.Short())
		}
		id, _, err := cas.HashJSON(e)
		if err != nil {
			return err
		}
		if id != e.ID {
			return fmt.Errorf("pointer history entry %d: id %s does not match content %s", i, e.ID.Short(), id.Short())
		}
		if i > 0 && e.Old != entries[i-1].New {
			return fmt.Errorf("pointer history entry %d: starts at %s, previous ended at %s", i, e.Old.Short(), entries[i-1].New.Short())
		}
		parent = e.ID
	}
	return nil
}
