package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/embed"
	"github.com/aman-cerp/amandocs/internal/pipeline"
	"github.com/aman-cerp/amandocs/internal/platform"
	"github.com/aman-cerp/amandocs/internal/queue"
	"github.com/aman-cerp/amandocs/internal/scanner"
	"github.com/aman-cerp/amandocs/internal/schema"
	"github.com/aman-cerp/amandocs/internal/store"
)

// components bundles the collaborators every amandocs subcommand needs,
// built once per invocation from the project's resolved configuration.
type components struct {
	Root            string
	Reloader        *config.Reloader
	Config          func() *config.Config
	Store           *store.SQLiteMetadataStore
	Vectors         *store.PartitionRegistry
	Embedder        *embed.Client
	EmbedderBackend string
	Validator       *schema.Validator
	Scanner         *scanner.Scanner
	Pipeline        *pipeline.Pipeline
	Deferred        *queue.Deferred
	Logger          *slog.Logger
}

// findRoot resolves the repository root a command operates on: a .git
// directory or an existing project data dir, walking up from cwd.
func findRoot() (string, error) {
	if root, err := config.FindProjectRoot("."); err == nil {
		return root, nil
	}
	return os.Getwd()
}

// buildComponents wires the indexing/retrieval dependency graph for
// root: configuration, the embedding sidecar client, metadata and
// vector storage, schema validation, and the document pipeline built
// from all of them. embedderOverride, if non-empty, selects the
// embedding backend (the --embedder flag shared by
// serve/reconcile/index); when it is empty the platform default
// applies: the native backend on macOS/arm64, Ollama elsewhere.
func buildComponents(ctx context.Context, root, embedderOverride string, logger *slog.Logger) (*components, func(), error) {
	reloader, err := config.NewReloader(root, logger)
	if err != nil {
		return nil, nil, err
	}
	cfgFn := reloader.Load
	cfg := cfgFn()

	provider := embed.ParseProvider(embedderOverride)
	if embedderOverride == "" && platform.DefaultBackend() == platform.BackendNative {
		provider = embed.ProviderMLX
	}
	inner, err := embed.SelectBackend(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, nil, err
	}
	client := embed.NewClient(inner, embed.DefaultClientConfig(), logger)

	dataDir := config.ProjectDataDir(root)
	metaStore, err := store.NewSQLiteMetadataStore(filepath.Join(dataDir, "metadata.db"), logger)
	if err != nil {
		return nil, nil, err
	}

	vectors := store.NewPartitionRegistry(filepath.Join(dataDir, "store"), client.Dimensions(), logger)

	validator := schema.NewValidator()
	loadDocTypeSchemas(validator, config.SchemasDir(root), logger)

	sc, err := scanner.New()
	if err != nil {
		_ = metaStore.Close()
		return nil, nil, err
	}

	pl := pipeline.New(metaStore, vectors, client, validator, cfgFn, logger)
	deferred := queue.New(cfg.Performance.DeferredQueueSize, queue.DropOldest, queue.WithLogger(logger))

	cleanup := func() { _ = metaStore.Close() }

	return &components{
		Root:            root,
		Reloader:        reloader,
		Config:          cfgFn,
		Store:           metaStore,
		Vectors:         vectors,
		Embedder:        client,
		EmbedderBackend: string(provider),
		Validator:       validator,
		Scanner:         sc,
		Pipeline:        pl,
		Deferred:        deferred,
		Logger:          logger,
	}, cleanup, nil
}

// loadDocTypeSchemas registers every *.json schema under dir, keyed by
// file name without extension. A missing dir is not an error: a
// project with no custom doc types yet validates nothing.
func loadDocTypeSchemas(v *schema.Validator, dir string, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warn("failed to read doc type schema", "file", entry.Name(), "error", err)
			continue
		}
		docType := strings.TrimSuffix(entry.Name(), ".json")
		if err := v.LoadSchema(docType, data); err != nil {
			logger.Warn("failed to load doc type schema", "doc_type", docType, "error", err)
		}
	}
}

// fileExists reports whether path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
