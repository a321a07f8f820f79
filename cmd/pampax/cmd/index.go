package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/config"
	"github.com/pampax/pampax/internal/index"
	"github.com/pampax/pampax/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		offline bool
		force   bool
		noTUI   bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a repository for hybrid search and graph traversal",
		Long: `index scans a repository, chunks its code and docs, extracts
symbol spans and call/inherit edges, generates embeddings, and builds
the BM25 and vector indices the other commands query.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd.Context(), cmd, path, offline, force, noTUI)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index data and rebuild from scratch")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, offline, force, noTUI bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	dataDir := filepath.Join(root, ".pampax")

	if force {
		for _, p := range []string{
			filepath.Join(dataDir, "metadata.db"),
			filepath.Join(dataDir, "metadata.db-shm"),
			filepath.Join(dataDir, "metadata.db-wal"),
			filepath.Join(dataDir, "fts"),
			filepath.Join(dataDir, "vectors"),
		} {
			if rmErr := os.RemoveAll(p); rmErr != nil && !os.IsNotExist(rmErr) {
				return fmt.Errorf("clear %s: %w", filepath.Base(p), rmErr)
			}
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...")
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "progress renderer unavailable: %v\n", err)
	}
	defer func() { _ = renderer.Stop() }()

	env, err := openEnvironment(ctx, root, offline)
	if err != nil {
		return err
	}
	defer env.Close()
	if env.Embedder == nil {
		return fmt.Errorf("no embedder available; pass --offline to index with static embeddings")
	}

	pipeline := index.NewPipeline(env.Storage, env.Embedder)
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Config:   env.Config,
		Storage:  env.Storage,
		Pipeline: pipeline,
	})
	if err != nil {
		return fmt.Errorf("create index runner: %w", err)
	}
	defer func() { _ = runner.Close() }()

	_, err = runner.Run(ctx, index.RunnerConfig{
		RootDir: root,
		DataDir: dataDir,
		Offline: offline,
	})
	return err
}
