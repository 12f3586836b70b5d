// Package watcher provides real-time file system watching with per-path
// debouncing and gitignore-aware filtering.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Each path carries its own debounce timer, so a burst of saves to one file
// never delays delivery of an unrelated file's event. Paths are filtered
// against .gitignore patterns (plus any configured include/exclude globs)
// to skip irrelevant files.
//
// Usage, driving a handler directly (indexing pipeline, reconciliation
// trigger, etc.) on a bounded worker pool, serialized per path:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	w.Handler = func(ctx context.Context, event watcher.FileEvent) error {
//	    return pipeline.Process(ctx, tenantCtx, collection, absPath(event.Path))
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
//
// Without a Handler, events are delivered on a channel for a caller-driven
// loop instead:
//
//	for event := range w.Events() {
//	    switch event.Operation {
//	    case watcher.OpCreate:
//	        // Handle file creation
//	    case watcher.OpModify:
//	        // Handle file modification
//	    case watcher.OpDelete:
//	        // Handle file deletion
//	    }
//	}
package watcher
