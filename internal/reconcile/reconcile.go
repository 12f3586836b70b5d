// Package reconcile implements the full-corpus reconciliation pass: a
// disk-vs-store diff that indexes new and changed files, removes
// documents whose files disappeared from disk, and reports progress
// through the same tracker the initial scan uses.
//
// Reconciliation reuses internal/pipeline.Pipeline.Process for the
// index/update side (it already does hash-compare-skip internally) and
// adds the one thing Process cannot do on its own: noticing a file is
// gone. It is the only caller in the module that needs both the full
// disk listing and the full stored listing at once.
package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aman-cerp/amandocs/internal/async"
	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/pipeline"
	"github.com/aman-cerp/amandocs/internal/scanner"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
	"github.com/aman-cerp/amandocs/internal/watcher"

	"log/slog"
)

// FileError pairs a relative path with the error reconciliation hit
// while processing it. Individual file failures never abort a run.
type FileError struct {
	RelPath string
	Err     error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.RelPath, e.Err)
}

// Summary reports what a reconciliation pass did.
type Summary struct {
	Indexed   int
	Deleted   int
	Unchanged int
	Errors    []FileError
}

// Reconciler owns the components a reconciliation pass needs: the
// shared document pipeline, the store for the stale-file diff, a
// scanner for disk enumeration, and (optionally) the watcher to
// suspend for the pass's duration.
type Reconciler struct {
	Pipeline *pipeline.Pipeline
	Store    store.MetadataStore
	Scanner  *scanner.Scanner
	Watcher  watcher.Watcher
	Logger   *slog.Logger
}

// New constructs a Reconciler. watcher may be nil if reconciliation is
// running standalone (e.g. from the reconcile CLI command) with no
// live watcher to suspend.
func New(p *pipeline.Pipeline, st store.MetadataStore, sc *scanner.Scanner, w watcher.Watcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		Pipeline: p,
		Store:    st,
		Scanner:  sc,
		Watcher:  w,
		Logger:   logger,
	}
}

// docsRootFor returns the directory reconciliation scans for a given
// collection: the project's authored-docs tree, or external_docs.path
// when scoped to the external collection (nil if external_docs isn't
// configured, in which case Run is a no-op for that collection).
func docsRootFor(tc tenant.Context, collection store.Collection, cfg *config.Config) (root string, include, exclude []string, ok bool) {
	switch collection {
	case store.CollectionExternal:
		if cfg == nil || cfg.ExternalDocs == nil || cfg.ExternalDocs.Path == "" {
			return "", nil, nil, false
		}
		root = cfg.ExternalDocs.Path
		if !filepath.IsAbs(root) {
			root = filepath.Join(tc.RootPath, root)
		}
		return root, cfg.ExternalDocs.IncludePatterns, cfg.ExternalDocs.ExcludePatterns, true
	default:
		return config.DocsDir(tc.RootPath), nil, nil, true
	}
}

// Run performs a full reconciliation pass for one tenant/collection:
// enumerate disk, load what the store knows, index everything new or
// changed, delete everything the store has that disk no longer does.
// progress may be nil; when given, it is updated stage-by-stage so a
// concurrent status query observes live progress. Per-file failures
// collect into Summary.Errors rather than aborting the run.
func (r *Reconciler) Run(ctx context.Context, tc tenant.Context, collection store.Collection, progress *async.IndexProgress) (*Summary, error) {
	if r.Watcher != nil {
		r.Watcher.Suspend()
		defer r.Watcher.Resume()
	}

	cfg := r.configFor()
	root, include, exclude, ok := docsRootFor(tc, collection, cfg)
	if !ok {
		return &Summary{}, nil
	}

	log := r.Logger.With("tenant", tc.String(), "collection", collection, "root", root)
	log.Info("reconciliation starting")

	if progress != nil {
		progress.SetStage(async.StageScanning, 0)
	}

	diskFiles, err := r.scanDisk(ctx, root, include, exclude)
	if err != nil {
		if progress != nil {
			progress.SetError(err.Error())
		}
		return nil, fmt.Errorf("reconcile: scan %s: %w", root, err)
	}

	storedFiles, err := r.Store.GetFilesForReconciliation(ctx, tc.Key(), collection)
	if err != nil {
		if progress != nil {
			progress.SetError(err.Error())
		}
		return nil, fmt.Errorf("reconcile: load stored files: %w", err)
	}

	summary := &Summary{}

	if progress != nil {
		progress.SetStage(async.StageIndexing, len(diskFiles))
	}

	// Stored documents are keyed by their path relative to tc.RootPath
	// (see pipeline.Process), so each disk path is rebased onto it
	// before comparing against storedFiles.
	diskKeys := make([]string, 0, len(diskFiles))
	var mu sync.Mutex
	processed := 0
	for _, relPath := range diskFiles {
		absPath := filepath.Join(root, relPath)
		storeKey := relPath
		if rel, err := filepath.Rel(tc.RootPath, absPath); err == nil {
			storeKey = filepath.ToSlash(rel)
		}
		diskKeys = append(diskKeys, storeKey)
		if err := r.Pipeline.Process(ctx, tc, collection, absPath); err != nil {
			mu.Lock()
			summary.Errors = append(summary.Errors, FileError{RelPath: relPath, Err: err})
			mu.Unlock()
			log.Warn("reconcile: failed to index file", "path", relPath, "error", err)
		} else if _, wasStored := storedFiles[storeKey]; wasStored {
			summary.Unchanged++
		} else {
			summary.Indexed++
		}

		processed++
		if progress != nil {
			progress.UpdateFiles(processed)
		}
	}

	diskSet := make(map[string]struct{}, len(diskKeys))
	for _, key := range diskKeys {
		diskSet[key] = struct{}{}
	}

	for relPath, stored := range storedFiles {
		if _, onDisk := diskSet[relPath]; onDisk {
			continue
		}
		if _, _, err := r.Store.DeleteDocument(ctx, tc.Key(), collection, stored.ID); err != nil {
			summary.Errors = append(summary.Errors, FileError{RelPath: relPath, Err: err})
			log.Warn("reconcile: failed to delete stale document", "path", relPath, "error", err)
			continue
		}
		summary.Deleted++
		log.Info("reconcile: deleted stale document", "path", relPath)
	}

	if progress != nil {
		if len(summary.Errors) > 0 && summary.Indexed == 0 && summary.Deleted == 0 && summary.Unchanged == 0 {
			progress.SetError(fmt.Sprintf("%d files failed to reconcile", len(summary.Errors)))
		} else {
			progress.SetReady()
		}
	}

	log.Info("reconciliation complete",
		"indexed", summary.Indexed,
		"deleted", summary.Deleted,
		"unchanged", summary.Unchanged,
		"errors", len(summary.Errors),
	)

	return summary, nil
}

// scanDisk streams root through the scanner, filtered to markdown
// files, and returns the set of paths relative to root.
func (r *Reconciler) scanDisk(ctx context.Context, root string, include, exclude []string) ([]string, error) {
	if len(include) == 0 {
		include = []string{"*.md"}
	}

	results, err := r.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  include,
		ExcludePatterns:  exclude,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, err
	}

	var relPaths []string
	for res := range results {
		if res.Error != nil {
			r.Logger.Warn("reconcile: scan error", "error", res.Error)
			continue
		}
		if res.File == nil {
			continue
		}
		relPaths = append(relPaths, filepath.ToSlash(res.File.Path))
	}
	return relPaths, nil
}

func (r *Reconciler) configFor() *config.Config {
	if r.Pipeline == nil || r.Pipeline.Config == nil {
		return nil
	}
	return r.Pipeline.Config()
}
