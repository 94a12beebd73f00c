package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"snapgraph/cas"
	"snapgraph/changeset"
	"snapgraph/ident"
	"snapgraph/metrics"
	"snapgraph/migrate"
	"snapgraph/pack"
)

var (
	exportOut       string
	importWorkspace string
	statsMetrics    bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [change-set...]",
	Short: "Upgrade snapshots stored in older encodings",
	Long: `Rewrite every node object reachable from the given change sets (default:
all open change sets) in the current encoding and move their pointers to the
migrated roots. Migration is all-or-nothing per snapshot and safe to repeat.`,
	RunE: runMigrate,
}

var exportCmd = &cobra.Command{
	Use:   "export <change-set|root-hash>",
	Short: "Write a snapshot and its content to a pack file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <pack-file>",
	Short: "Load a pack file into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default stdout)")
	importCmd.Flags().StringVar(&importWorkspace, "workspace", "", "Create a workspace with this name headed at the imported root")
	statsCmd.Flags().BoolVar(&statsMetrics, "metrics", false, "Also print process metrics")
	rootCmd.AddCommand(migrateCmd, exportCmd, importCmd, statsCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	var targets []*changeset.ChangeSet
	if len(args) > 0 {
		for _, arg := range args {
			id, err := ident.ParseChangeSetID(arg)
			if err != nil {
				return err
			}
			cs, err := a.manager.Get(ctx, id)
			if err != nil {
				return err
			}
			targets = append(targets, cs)
		}
	} else {
		workspaces, err := a.manager.Workspaces(ctx)
		if err != nil {
			return err
		}
		for _, ws := range workspaces {
			list, err := a.manager.List(ctx, ws.ID, changeset.StatusOpen)
			if err != nil {
				return err
			}
			targets = append(targets, list...)
		}
	}

	for _, cs := range targets {
		root, rep, err := migrate.Graph(ctx, a.backends.Content, cs.RootHash)
		if err != nil {
			return fmt.Errorf("migrating %s: %w", cs.ID, err)
		}
		if !rep.Changed() {
			fmt.Printf("%s  up to date (%d objects)\n", cs.ID, rep.Objects)
			continue
		}
		if cs.Status != changeset.StatusOpen {
			fmt.Printf("%s  migrated to %s, pointer left at %s (%s)\n", cs.ID, root.Short(), cs.RootHash.Short(), cs.Status)
			continue
		}
		if err := a.manager.UpdatePointer(ctx, cs.ID, cs.RootHash, root, a.actor); err != nil {
			return err
		}
		fmt.Printf("%s  %s -> %s (%d of %d objects upgraded)\n", cs.ID, cs.RootHash.Short(), root.Short(), rep.Upgraded, rep.Objects)
	}
	return nil
}

// resolveRoot accepts a change set ID or a root hash.
func (a *app) resolveRoot(ctx context.Context, arg string) (cas.Hash, error) {
	if id, err := ident.ParseChangeSetID(arg); err == nil {
		cs, err := a.manager.Get(ctx, id)
		if err != nil {
			return cas.ZeroHash, err
		}
		return cs.RootHash, nil
	}
	return cas.ParseHash(arg)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	root, err := a.resolveRoot(ctx, args[0])
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("creating pack file: %w", err)
		}
		defer f.Close()
		w = f
	}
	stats, err := pack.Export(ctx, a.backends.Content, root, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %s: %d nodes, %d content objects, %d bytes",
		root.Short(), stats.Nodes, stats.Content, stats.Bytes)
	if stats.MissingContent > 0 {
		fmt.Fprintf(os.Stderr, " (%d content objects missing)", stats.MissingContent)
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening pack file: %w", err)
	}
	defer f.Close()
	hdr, stats, err := pack.Import(ctx, a.backends.Content, f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s: %d nodes, %d content objects\n", hdr.Root, stats.Nodes, stats.Content)

	if importWorkspace == "" {
		return nil
	}
	snap, err := migrate.LoadOrMigrate(ctx, a.backends.Content, hdr.Root)
	if err != nil {
		return fmt.Errorf("imported root does not load: %w", err)
	}
	ws, head, err := a.manager.CreateWorkspace(ctx, importWorkspace, snap.Hash())
	if err != nil {
		return err
	}
	fmt.Printf("Created workspace %s (%s), head %s\n", ws.Name, ws.ID, head.ID)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	out := map[string]any{"backend": a.cfg.Backend}
	switch {
	case a.backends.Badger != nil:
		n, err := a.backends.Badger.Count()
		if err != nil {
			return err
		}
		out["objects"] = n
	case a.backends.DB != nil:
		s, err := a.backends.DB.Stats(ctx)
		if err != nil {
			return err
		}
		out["objects"] = s.Objects
		out["bytes"] = s.Bytes
		out["compressed"] = s.Compressed
	}

	workspaces, err := a.manager.Workspaces(ctx)
	if err != nil {
		return err
	}
	byStatus := make(map[changeset.Status]int)
	for _, ws := range workspaces {
		list, err := a.manager.List(ctx, ws.ID)
		if err != nil {
			return err
		}
		for _, cs := range list {
			byStatus[cs.Status]++
		}
	}
	out["workspaces"] = len(workspaces)
	out["change_sets"] = byStatus

	if jsonFlag {
		if err := printJSON(out); err != nil {
			return err
		}
	} else {
		fmt.Printf("backend:     %s\n", a.cfg.Backend)
		if n, ok := out["objects"]; ok {
			fmt.Printf("objects:     %v\n", n)
		}
		if b, ok := out["bytes"]; ok {
			fmt.Printf("bytes:       %v (%v compressed objects)\n", b, out["compressed"])
		}
		fmt.Printf("workspaces:  %d\n", len(workspaces))
		for _, s := range []changeset.Status{
			changeset.StatusOpen, changeset.StatusNeedsApproval, changeset.StatusApplied,
			changeset.StatusRejected, changeset.StatusAbandoned,
		} {
			fmt.Printf("  %-14s %d\n", s, byStatus[s])
		}
	}
	if statsMetrics {
		return metrics.Write(os.Stdout)
	}
	return nil
}
