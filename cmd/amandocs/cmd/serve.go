package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/amandocs/internal/async"
	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/dispatch"
	amerrors "github.com/aman-cerp/amandocs/internal/errors"
	"github.com/aman-cerp/amandocs/internal/health"
	"github.com/aman-cerp/amandocs/internal/queue"
	"github.com/aman-cerp/amandocs/internal/reconcile"
	"github.com/aman-cerp/amandocs/internal/retrieval"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
	"github.com/aman-cerp/amandocs/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var embedder string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC index and retrieval server over stdio",
		Long: `serve starts the line-delimited JSON-RPC dispatcher on stdin/stdout
that an orchestrating coding assistant drives: activate_project,
rag_query, semantic_search, index_document, and the rest of the tool
table. It watches the active project's docs directory and keeps the
index current until a client sends activate_project to switch tenant,
and diverts failed embeddings to a deferred queue for later replay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, embedder)
		},
	}

	cmd.Flags().StringVar(&embedder, "embedder", "", "Embedding backend override (mlx, ollama, static)")
	return cmd
}

func runServe(cmd *cobra.Command, embedder string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	root, err := findRoot()
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	comps, cleanup, err := buildComponents(ctx, root, embedder, logger)
	if err != nil {
		return fmt.Errorf("build server components: %w", err)
	}
	defer cleanup()

	if async.HasIncompleteLock(config.ProjectDataDir(root)) {
		logger.Warn("previous reconcile did not finish cleanly, the index may be partial; run 'amandocs reconcile' to repair it")
	}

	reg := tenant.NewRegistry(logger)

	hw, err := watcher.NewHybridWatcher(watcher.Options{}.WithDefaults())
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	rec := reconcile.New(comps.Pipeline, comps.Store, comps.Scanner, hw, logger)
	retr := retrieval.New(comps.Store, comps.Vectors, comps.Embedder, retrieval.NoopGenerator{}, comps.Config, logger)

	healthMon := health.New(comps.Embedder, comps.Deferred, drainFunc(comps.Pipeline, reg, logger), health.WithLogger(logger))

	hw.Handler = watcherHandler(comps.Pipeline, comps.Deferred, reg, rec, logger)

	handlers := dispatch.NewHandlers(reg, comps.Pipeline, rec, retr, comps.Store, comps.Validator, comps.Config, logger)
	d := dispatch.New(os.Stdout, logger)
	handlers.Register(d)

	docsRoot := config.DocsDir(root)
	if err := os.MkdirAll(docsRoot, 0o755); err != nil {
		return fmt.Errorf("ensure docs dir: %w", err)
	}
	if err := hw.Start(ctx, docsRoot); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = hw.Stop() }()

	go func() {
		if err := healthMon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("health monitor stopped", "error", err)
		}
	}()

	logger.Info("amandocs serving", "root", root)
	return d.Run(ctx, os.Stdin)
}

// watcherHandler builds the hybrid watcher's per-event callback: it
// runs the document through the active tenant's pipeline, and when
// the failure is an unavailable embedding sidecar, defers the file to
// the retry queue instead of letting it surface as a watcher error.
func watcherHandler(pl interface {
	Process(ctx context.Context, tc tenant.Context, collection store.Collection, absPath string) error
}, deferred *queue.Deferred, reg *tenant.Registry, rec *reconcile.Reconciler, logger *slog.Logger) watcher.Handler {
	return func(ctx context.Context, event watcher.FileEvent) error {
		tc, ok := reg.Active()
		if !ok {
			return nil
		}
		if event.IsDir {
			return nil
		}

		switch event.Operation {
		case watcher.OpGitignoreChange, watcher.OpConfigChange:
			// Reconciler.Run suspends the watcher itself; doing that inline here
			// would deadlock against the read-lock dispatch already holds
			// for this callback, so hand it to its own goroutine instead.
			go func() {
				if _, err := rec.Run(context.Background(), tc, store.CollectionProject, nil); err != nil {
					logger.Warn("reconciliation after config/gitignore change failed", "error", err)
				}
			}()
			return nil
		case watcher.OpDelete:
			return nil
		case watcher.OpCreate, watcher.OpModify, watcher.OpRename:
		default:
			return nil
		}

		absPath := filepath.Join(config.DocsDir(tc.RootPath), event.Path)
		err := pl.Process(ctx, tc, store.CollectionProject, absPath)
		if err == nil {
			return nil
		}

		var amerr *amerrors.AmanError
		if errors.As(err, &amerr) && amerr.Code == amerrors.ErrCodeEmbeddingServiceUnavailable {
			hash, hashErr := contentHash(absPath)
			if hashErr != nil {
				// File vanished between Process failing and us hashing it;
				// nothing to defer.
				return nil
			}
			pushErr := deferred.Push(queue.Item{
				TenantKey:   tc.String(),
				Collection:  string(store.CollectionProject),
				AbsPath:     absPath,
				ContentHash: hash,
			})
			if pushErr != nil {
				logger.Warn("failed to defer embedding failure", "path", absPath, "error", pushErr)
			}
			return nil
		}

		return err
	}
}

// drainFunc is the health monitor's recovery callback: replay one
// deferred item through the pipeline now that the embedding sidecar
// is reachable again.
func drainFunc(pl interface {
	Process(ctx context.Context, tc tenant.Context, collection store.Collection, absPath string) error
}, reg *tenant.Registry, logger *slog.Logger) health.DrainFunc {
	return func(ctx context.Context, item queue.Item) error {
		tc, ok := reg.Active()
		if !ok || tc.String() != item.TenantKey {
			// The tenant that deferred this item is no longer active;
			// the next activation's reconciliation pass will pick it
			// back up from disk, so there is nothing to replay here.
			return nil
		}
		return pl.Process(ctx, tc, store.Collection(item.Collection), item.AbsPath)
	}
}

func contentHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
