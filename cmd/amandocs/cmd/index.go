package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/amandocs/internal/output"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

func newIndexCmd() *cobra.Command {
	var (
		embedder string
		branch   string
		external bool
	)

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Force one document through the indexing pipeline",
		Args:  cobra.ExactArgs(1),
		Long: `index reads, hashes, validates, chunks, and embeds a single
document and upserts it into the store, bypassing the unchanged-hash
skip that reconcile and the watcher apply. Useful for re-indexing a
file after editing its doc type schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], embedder, branch, external)
		},
	}

	cmd.Flags().StringVar(&embedder, "embedder", "", "Embedding backend override (mlx, ollama, static)")
	cmd.Flags().StringVar(&branch, "branch", "main", "Branch name to record the document under")
	cmd.Flags().BoolVar(&external, "external", false, "Index into the external-docs collection instead of the project collection")
	return cmd
}

func runIndex(cmd *cobra.Command, path, embedder, branch string, external bool) error {
	ctx := cmd.Context()
	logger := slog.Default()

	root, err := findRoot()
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	out := output.New(cmd.OutOrStdout())

	comps, cleanup, err := buildComponents(ctx, root, embedder, logger)
	if err != nil {
		return fmt.Errorf("build index components: %w", err)
	}
	defer cleanup()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	tc := tenant.New(comps.Config().ProjectName, branch, root)
	collection := store.CollectionProject
	if external {
		collection = store.CollectionExternal
	}

	if err := comps.Pipeline.Process(ctx, tc, collection, absPath); err != nil {
		out.Errorf("index %s: %v", path, err)
		return fmt.Errorf("index %s: %w", path, err)
	}

	out.Successf("indexed %s", path)
	return nil
}
