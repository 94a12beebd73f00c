package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"snapgraph/changeset"
	"snapgraph/ident"
	"snapgraph/migrate"
	"snapgraph/rebase"
)

var (
	forkBase     string
	listStatuses []string
	historyLimit int
	changesOnly  bool
)

var changesetCmd = &cobra.Command{
	Use:     "changeset",
	Aliases: []string{"cs"},
	Short:   "Change set commands",
}

var csForkCmd = &cobra.Command{
	Use:   "fork <workspace> <name>",
	Short: "Fork a new change set from the workspace head (or --base)",
	Args:  cobra.ExactArgs(2),
	RunE:  runFork,
}

var csListCmd = &cobra.Command{
	Use:   "list <workspace>",
	Short: "List change sets",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangeSetList,
}

var csShowCmd = &cobra.Command{
	Use:   "show <change-set>",
	Short: "Show a change set",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangeSetShow,
}

var csChangesCmd = &cobra.Command{
	Use:   "changes <change-set>",
	Short: "List node paths changed since the merge base and the approvals they need",
	Args:  cobra.ExactArgs(1),
	RunE:  runChanges,
}

var csHistoryCmd = &cobra.Command{
	Use:   "history <change-set>",
	Short: "Show pointer history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

// transitionCmd builds a command that applies one status transition.
func transitionCmd(use, short string, fn func(a *app, ctx context.Context, id ident.ChangeSetID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <change-set>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			id, err := ident.ParseChangeSetID(args[0])
			if err != nil {
				return err
			}
			if err := fn(a, cmd.Context(), id); err != nil {
				return err
			}
			return showChangeSet(a, cmd.Context(), id)
		},
	}
}

func init() {
	csForkCmd.Flags().StringVar(&forkBase, "base", "", "Change set to fork instead of the workspace head")
	csListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Only list change sets in these statuses")
	csHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of entries to show (0 for all)")
	csChangesCmd.Flags().BoolVar(&changesOnly, "paths-only", false, "Print only the changed paths")

	changesetCmd.AddCommand(
		csForkCmd, csListCmd, csShowCmd, csChangesCmd, csHistoryCmd,
		transitionCmd("request-merge", "Ask for a change set to be merged", func(a *app, ctx context.Context, id ident.ChangeSetID) error {
			return a.manager.BeginApprovalFlow(ctx, id, a.actor)
		}),
		transitionCmd("approve", "Approve a change set awaiting approval", func(a *app, ctx context.Context, id ident.ChangeSetID) error {
			return a.manager.RequestApproval(ctx, id, a.actor)
		}),
		transitionCmd("cancel", "Withdraw a merge request", func(a *app, ctx context.Context, id ident.ChangeSetID) error {
			return a.manager.CancelApprovalFlow(ctx, id)
		}),
		transitionCmd("reject", "Reject a merge request", func(a *app, ctx context.Context, id ident.ChangeSetID) error {
			return a.manager.Reject(ctx, id)
		}),
		transitionCmd("reopen", "Reopen a rejected change set", func(a *app, ctx context.Context, id ident.ChangeSetID) error {
			return a.manager.Reopen(ctx, id)
		}),
		transitionCmd("abandon", "Abandon a change set", func(a *app, ctx context.Context, id ident.ChangeSetID) error {
			return a.manager.Abandon(ctx, id)
		}),
	)
	rootCmd.AddCommand(changesetCmd)
}

func runFork(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	ws, err := a.resolveWorkspace(ctx, args[0])
	if err != nil {
		return err
	}
	base := ws.HeadChangeSetID
	if forkBase != "" {
		if base, err = ident.ParseChangeSetID(forkBase); err != nil {
			return fmt.Errorf("--base: %w", err)
		}
		parent, err := a.manager.Get(ctx, base)
		if err != nil {
			return err
		}
		if parent.WorkspaceID != ws.ID {
			return fmt.Errorf("change set %s is not in workspace %s", base, ws.Name)
		}
	}
	cs, err := a.manager.Create(ctx, args[1], base)
	if err != nil {
		return err
	}
	return showChangeSet(a, ctx, cs.ID)
}

func runChangeSetList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	ws, err := a.resolveWorkspace(ctx, args[0])
	if err != nil {
		return err
	}
	statuses := make([]changeset.Status, 0, len(listStatuses))
	for _, s := range listStatuses {
		statuses = append(statuses, changeset.Status(s))
	}
	list, err := a.manager.List(ctx, ws.ID, statuses...)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(list)
	}
	for _, cs := range list {
		fmt.Printf("%s  %-14s %-20s %s\n", cs.ID, cs.Status, cs.Name, cs.RootHash.Short())
	}
	return nil
}

func runChangeSetShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	id, err := ident.ParseChangeSetID(args[0])
	if err != nil {
		return err
	}
	return showChangeSet(a, cmd.Context(), id)
}

func showChangeSet(a *app, ctx context.Context, id ident.ChangeSetID) error {
	cs, err := a.manager.Get(ctx, id)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(cs)
	}
	fmt.Printf("Change set %s (%s)\n", cs.Name, cs.ID)
	fmt.Printf("  status:    %s\n", cs.Status)
	fmt.Printf("  workspace: %s\n", cs.WorkspaceID)
	if !cs.IsHead() {
		fmt.Printf("  base:      %s\n", cs.BaseChangeSetID)
	}
	fmt.Printf("  root:      %s\n", cs.RootHash)
	fmt.Printf("  ancestor:  %s\n", cs.AncestorHash)
	if cs.Status == changeset.StatusNeedsApproval {
		fmt.Printf("  requested: %s\n", cs.MergeRequestedBy)
		fmt.Printf("  approvals: %d\n", len(cs.Approvals))
	}
	return nil
}

func runChanges(cmd *cobra.Command, args []string) error {
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
	ancestor, err := migrate.LoadOrMigrate(ctx, a.backends.Content, cs.AncestorHash)
	if err != nil {
		return err
	}
	current, err := migrate.LoadOrMigrate(ctx, a.backends.Content, cs.RootHash)
	if err != nil {
		return err
	}
	paths := rebase.ChangedPaths(ancestor.Graph(), current.Graph())
	need := a.manager.Policy().Required(paths)

	if jsonFlag {
		return printJSON(map[string]any{"paths": paths, "approvals_required": need})
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	if !changesOnly {
		fmt.Printf("\n%d changed, %d approval(s) required, %d given\n", len(paths), need, len(cs.Approvals))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := ident.ParseChangeSetID(args[0])
	if err != nil {
		return err
	}
	entries, err := a.manager.History(cmd.Context(), id, historyLimit)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(entries)
	}
	// A truncated window starts mid-chain.
	if historyLimit <= 0 || len(entries) < historyLimit {
		if err := changeset.VerifyChain(entries); err != nil {
			fmt.Printf("warning: %v\n", err)
		}
	}
	for _, e := range entries {
		fmt.Printf("%s  %s -> %s  by %s\n", e.ID.Short(), e.Old.Short(), e.New.Short(), e.Actor)
	}
	return nil
}
