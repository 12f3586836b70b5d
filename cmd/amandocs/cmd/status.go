package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		branch     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and storage status",
		Long: `status reports the current index size, storage footprint and
configured embedder, without starting the watcher or the RPC server.
The deferred retry queue of a running serve process is not visible
to this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOutput, branch)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&branch, "branch", "main", "Branch name the index was built under")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool, branch string) error {
	ctx := cmd.Context()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := config.ProjectDataDir(root)
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'amandocs reconcile' to create one", root)
	}

	info, err := collectStatus(ctx, root, dataDir, branch)
	if err != nil {
		return fmt.Errorf("collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root, dataDir, branch string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{ProjectName: filepath.Base(root)}

	logger := slog.Default()
	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteMetadataStore(metadataPath, logger)
	if err != nil {
		return info, fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	tc := store.TenantKey{
		Project:  cfg.ProjectName,
		Branch:   branch,
		PathHash: store.PathHash(root),
	}

	docs, err := metadata.ListAll(ctx, tc, store.CollectionProject)
	if err == nil {
		info.TotalFiles = len(docs)
		var chunkTotal int
		for _, d := range docs {
			chunks, chunkErr := metadata.GetChunksByDocument(ctx, d.ID)
			if chunkErr == nil {
				chunkTotal += len(chunks)
			}
			if d.UpdatedAt.After(info.LastIndexed) {
				info.LastIndexed = d.UpdatedAt
			}
		}
		info.TotalChunks = chunkTotal
	}

	info.MetadataSize = fileSize(metadataPath)
	info.VectorSize = dirSize(filepath.Join(dataDir, "store"))
	info.TotalSize = info.MetadataSize + info.VectorSize

	info.EmbedderType = os.Getenv("AMANDOCS_EMBEDDER")
	if info.EmbedderType == "" {
		info.EmbedderType = "auto"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	info.EmbedderStatus = "unknown"

	info.WatcherStatus = "n/a"
	return info, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			size += fi.Size()
		}
		return nil
	})
	return size
}
