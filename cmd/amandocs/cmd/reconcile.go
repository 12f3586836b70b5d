package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/amandocs/internal/async"
	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/reconcile"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
	"github.com/aman-cerp/amandocs/internal/ui"
)

func newReconcileCmd() *cobra.Command {
	var (
		embedder string
		branch   string
		plain    bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Diff the docs directory against the index and bring it current",
		Long: `reconcile scans the project's authored documentation, embeds and
stores anything new or changed, and removes index entries for files
that have since been deleted from disk. It does not start the file
watcher - use 'amandocs serve' for continuous indexing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, embedder, branch, plain)
		},
	}

	cmd.Flags().StringVar(&embedder, "embedder", "", "Embedding backend override (mlx, ollama, static)")
	cmd.Flags().StringVar(&branch, "branch", "main", "Branch name to record documents under")
	cmd.Flags().BoolVar(&plain, "plain", false, "Force plain text progress output")
	return cmd
}

func runReconcile(cmd *cobra.Command, embedder, branch string, plain bool) error {
	ctx := cmd.Context()
	logger := slog.Default()

	root, err := findRoot()
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	comps, cleanup, err := buildComponents(ctx, root, embedder, logger)
	if err != nil {
		return fmt.Errorf("build reconcile components: %w", err)
	}
	defer cleanup()

	rec := reconcile.New(comps.Pipeline, comps.Store, comps.Scanner, nil, logger)
	tc := tenant.New(comps.Config().ProjectName, branch, root)

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(plain), ui.WithProjectDir(root)))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start progress renderer: %w", err)
	}

	// BackgroundIndexer brackets the pass with a lock file under the data
	// dir, so a reconcile killed mid-run leaves evidence 'serve' reports
	// at its next startup, instead of silently leaving a
	// partial index with no trace of the interruption.
	var summary *reconcile.Summary
	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: config.ProjectDataDir(root)})
	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		s, runErr := rec.Run(ctx, tc, store.CollectionProject, progress)
		summary = s
		return runErr
	}

	done := make(chan struct{})
	go pollProgress(indexer.Progress(), renderer, done)

	started := time.Now()
	indexer.Start(ctx)
	err = indexer.Wait()
	close(done)
	if err != nil {
		_ = renderer.Stop()
		return fmt.Errorf("reconcile project docs: %w", err)
	}

	if cfg := comps.Config(); cfg.ExternalDocs != nil && cfg.ExternalDocs.Path != "" {
		extSummary, extErr := rec.Run(ctx, tc, store.CollectionExternal, nil)
		if extErr != nil {
			logger.Warn("external docs reconciliation failed", "error", extErr)
		} else {
			summary.Indexed += extSummary.Indexed
			summary.Deleted += extSummary.Deleted
			summary.Errors = append(summary.Errors, extSummary.Errors...)
		}
	}

	for _, fe := range summary.Errors {
		renderer.AddError(ui.ErrorEvent{File: fe.RelPath, Err: fe.Err})
	}
	renderer.Complete(ui.CompletionStats{
		Files:    summary.Indexed + summary.Unchanged,
		Errors:   len(summary.Errors),
		Duration: time.Since(started),
		Embedder: ui.EmbedderInfo{
			Backend:    comps.EmbedderBackend,
			Model:      comps.Embedder.ModelName(),
			Dimensions: comps.Embedder.Dimensions(),
		},
	})
	return renderer.Stop()
}

// pollProgress bridges the pipeline's async.IndexProgress tracker
// (shared with the RPC status tools) to a ui.Renderer's event-driven
// API, until done is closed.
func pollProgress(progress *async.IndexProgress, renderer ui.Renderer, done <-chan struct{}) {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := progress.Snapshot()
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   stageFromString(snap.Stage),
				Current: snap.FilesProcessed,
				Total:   snap.FilesTotal,
			})
		}
	}
}

func stageFromString(s string) ui.Stage {
	switch s {
	case string(async.StageScanning):
		return ui.StageScanning
	case string(async.StageChunking):
		return ui.StageChunking
	case string(async.StageEmbedding):
		return ui.StageEmbedding
	case string(async.StageIndexing):
		return ui.StageIndexing
	default:
		return ui.StageScanning
	}
}
