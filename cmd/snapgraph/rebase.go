package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapgraph/ident"
	"snapgraph/proto"
)

var rebaseCmd = &cobra.Command{
	Use:   "rebase <change-set>",
	Short: "Merge an approved change set into its base",
	Long: `Rebase the change set's edits onto the current root of its base change set,
advance the base pointer to the merged snapshot, and mark the change set Applied.

The change set must be awaiting approval and satisfy the approval policy for
every path it changed. A Retry outcome means the base moved while the rebase
ran; run the command again.`,
	Args: cobra.ExactArgs(1),
	RunE: runRebase,
}

var updateCmd = &cobra.Command{
	Use:   "update <change-set>",
	Short: "Bring a change set up to date with its base",
	Long: `Rebase the edits made on the base since the change set's merge base onto
the change set, then record the base's root as the new merge base.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(rebaseCmd, updateCmd)
}

func runRebase(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	id, err := ident.ParseChangeSetID(args[0])
	if err != nil {
		return err
	}
	cs, err := a.manager.Get(ctx, id)
	if err != nil {
		return err
	}
	if cs.IsHead() {
		return fmt.Errorf("%s is a workspace head and has no base", cs.ID)
	}
	base, err := a.manager.Get(ctx, cs.BaseChangeSetID)
	if err != nil {
		return err
	}

	r := a.rebaser()
	defer r.Close()
	resp, err := r.Rebase(ctx, proto.RebaseRequest{
		WorkspaceID:      cs.WorkspaceID,
		ChangeSetID:      base.ID,
		FromSnapshotHash: cs.RootHash,
		OntoSnapshotHash: base.RootHash,
		FromChangeSetID:  &cs.ID,
		Actor:            a.actor,
	})
	if err != nil {
		return err
	}
	return report(resp)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	id, err := ident.ParseChangeSetID(args[0])
	if err != nil {
		return err
	}
	cs, err := a.manager.Get(ctx, id)
	if err != nil {
		return err
	}
	if cs.IsHead() {
		return fmt.Errorf("%s is a workspace head and has no base", cs.ID)
	}
	base, err := a.manager.Get(ctx, cs.BaseChangeSetID)
	if err != nil {
		return err
	}
	if base.RootHash == cs.AncestorHash {
		fmt.Println("Already up to date.")
		return nil
	}

	r := a.rebaser()
	defer r.Close()
	ancestor := cs.AncestorHash
	resp, err := r.Rebase(ctx, proto.RebaseRequest{
		WorkspaceID:          cs.WorkspaceID,
		ChangeSetID:          cs.ID,
		FromSnapshotHash:     base.RootHash,
		OntoSnapshotHash:     cs.RootHash,
		AncestorSnapshotHash: &ancestor,
		Actor:                a.actor,
	})
	if err != nil {
		return err
	}
	if resp.Status == proto.StatusSuccess {
		if err := a.manager.SetAncestor(ctx, cs.ID, base.RootHash); err != nil {
			return err
		}
	}
	return report(resp)
}

// report prints a rebase response and turns anything but Success into an error.
func report(resp proto.RebaseResponse) error {
	if jsonFlag {
		if err := printJSON(resp); err != nil {
			return err
		}
	} else {
		switch resp.Status {
		case proto.StatusSuccess:
			fmt.Printf("Merged: %s\n", resp.NewSnapshotHash)
			if s := resp.Stats; s != nil {
				fmt.Printf("  nodes +%d -%d ~%d, edges +%d -%d, orders merged %d\n",
					s.NodesAdded, s.NodesRemoved, s.NodesModified, s.EdgesAdded, s.EdgesRemoved, s.OrdersMerged)
			}
			if resp.Message != "" {
				fmt.Printf("warning: %s\n", resp.Message)
			}
		case proto.StatusConflict:
			fmt.Printf("%d conflict(s):\n", len(resp.Conflicts))
			for _, c := range resp.Conflicts {
				fmt.Printf("  %s\n", c)
				if c.Detail != "" {
					fmt.Println(c.Detail)
				}
			}
		}
	}
	switch resp.Status {
	case proto.StatusSuccess:
		return nil
	case proto.StatusConflict:
		return fmt.Errorf("rebase stopped on %d conflict(s)", len(resp.Conflicts))
	case proto.StatusRetry:
		return fmt.Errorf("base moved during rebase, try again: %s", resp.Message)
	}
	return fmt.Errorf("rebase failed: %s", resp.Message)
}
