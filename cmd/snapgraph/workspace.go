package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"snapgraph/changeset"
	"snapgraph/graph"
	"snapgraph/ident"
)

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create a workspace with an empty graph",
	Long: `Create a workspace whose head points at a new graph holding only the
root and its category nodes (schemas, components, funcs, secrets, views).`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace commands",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Args:  cobra.NoArgs,
	RunE:  runWorkspaceList,
}

var initCategories = []graph.CategoryKind{
	graph.CategorySchemas,
	graph.CategoryComponents,
	graph.CategoryFuncs,
	graph.CategorySecrets,
	graph.CategoryViews,
}

func init() {
	workspaceCmd.AddCommand(workspaceListCmd)
	rootCmd.AddCommand(initCmd, workspaceCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	scope := ident.NewScope(ident.NewWorkspaceID(), ident.NewChangeSetID(), a.actor)
	g := graph.New(scope)
	err = g.Batch(func() error {
		for _, kind := range initCategories {
			if _, err := g.AddCategory(scope, kind); err != nil {
				return fmt.Errorf("adding %s category: %w", kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	snap, err := g.Write(ctx, a.backends.Content)
	if err != nil {
		return fmt.Errorf("writing initial snapshot: %w", err)
	}
	ws, head, err := a.manager.CreateWorkspace(ctx, args[0], snap.Hash())
	if err != nil {
		return err
	}

	if jsonFlag {
		return printJSON(map[string]any{"workspace": ws, "head": head})
	}
	fmt.Printf("Created workspace %s (%s)\n", ws.Name, ws.ID)
	fmt.Printf("  head: %s\n", head.ID)
	fmt.Printf("  root: %s\n", snap.Hash())
	return nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.manager.Workspaces(cmd.Context())
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No workspaces.")
		return nil
	}
	for _, ws := range list {
		fmt.Printf("%s  %-20s head %s\n", ws.ID, ws.Name, ws.HeadChangeSetID)
	}
	return nil
}

// resolveWorkspace accepts a workspace ID or name.
func (a *app) resolveWorkspace(ctx context.Context, arg string) (*changeset.Workspace, error) {
	if id, err := ident.ParseWorkspaceID(arg); err == nil {
		return a.manager.Workspace(ctx, id)
	}
	list, err := a.manager.Workspaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, ws := range list {
		if ws.Name == arg {
			return ws, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", changeset.ErrWorkspaceNotFound, arg)
}
