// Package main provides the snapgraph CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snapgraph/changeset"
	"snapgraph/config"
	"snapgraph/ident"
	"snapgraph/rebase"
	"snapgraph/rebaser"
	"snapgraph/store"
)

// Version is the current snapgraph CLI version
var Version = "0.3.0"

var (
	configPath  string
	dataDir     string
	backendFlag string
	actorFlag   string
	jsonFlag    bool
)

var rootCmd = &cobra.Command{
	Use:           "snapgraph",
	Short:         "snapgraph - versioned, content-addressed graph store",
	Long:          `snapgraph stores graphs as Merkle snapshots, tracks change sets against them, and rebases concurrent edits.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Content backend: sqlite, badger or memory")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", os.Getenv("SNAPGRAPH_ACTOR"), "Actor ID recorded on pointer moves")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what a command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	backends *store.Backends
	manager  *changeset.Manager
	actor    ident.ActorID
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	actor := ident.NewActorID()
	if actorFlag != "" {
		if actor, err = ident.ParseActorID(actorFlag); err != nil {
			return nil, fmt.Errorf("--actor: %w", err)
		}
	}

	log := cfg.Logger()
	log.SetOutput(os.Stderr)
	backends, err := store.OpenBackends(cfg.Store(log))
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		backends.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		log:      log,
		backends: backends,
		manager:  changeset.NewManager(backends.Repo, changeset.ManagerConfig{Policy: policy, Logger: log}),
		actor:    actor,
	}, nil
}

func (a *app) Close() error {
	return a.backends.Close()
}

func (a *app) rebaser() *rebaser.Rebaser {
	return rebaser.New(rebaser.Config{
		Store:   a.backends.Content,
		Manager: a.manager,
		Engine: rebase.NewEngine(rebase.Config{
			Store:       a.backends.Content,
			DetailBytes: a.cfg.Rebaser.DetailMaxBytes,
			Logger:      a.log,
		}),
		QueueSize:      a.cfg.Rebaser.QueueSize,
		IdleTTL:        a.cfg.Rebaser.IdleTTL,
		CacheSnapshots: a.cfg.Rebaser.SnapshotCache,
		Logger:         a.log,
	})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
