package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/gitignore"
)

// Handler processes a single coalesced file event. An error is logged by
// the watcher and does not affect any other path's in-flight handler.
type Handler func(ctx context.Context, event FileEvent) error

// defaultWatcherConcurrency bounds how many paths are handled at once,
// matching the "serial per path, parallel across paths" guarantee of the
// data model's performance section.
const defaultWatcherConcurrency = 4

// HybridWatcher implements the Watcher interface using fsnotify as the primary
// watching mechanism with polling as a fallback. Each path gets its own
// debounce timer (see Debouncer); once a path's timer fires, its event is
// handed to Handler on a worker drawn from a bounded pool, so a burst of
// saves in one file never delays indexing of an unrelated one.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	gitignore      *gitignore.Matcher
	events         chan FileEvent
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64

	Handler     Handler
	group       *errgroup.Group
	pathLocksMu sync.Mutex
	pathLocks   map[string]*sync.Mutex
	suspendMu   sync.RWMutex
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a new hybrid watcher with the given options.
// Attempts to use fsnotify first, falls back to polling if it fails.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	group := &errgroup.Group{}
	group.SetLimit(defaultWatcherConcurrency)

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		gitignore: gitignore.New(),
		events:    make(chan FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		group:     group,
		pathLocks: make(map[string]*sync.Mutex),
	}

	// Add custom ignore patterns
	for _, pattern := range opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}

	// Always ignore the hidden data directory.
	h.gitignore.AddPattern(config.DataDirName + "/")
	h.gitignore.AddPattern(config.DataDirName + "/**")

	// Try to create fsnotify watcher
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		// Fall back to polling
		h.useFsnotify = false
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// Start begins watching the given directory.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	h.rootPath = absPath

	// Load .gitignore if present
	h.loadGitignore()

	// Start debouncer forwarding
	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

// startFsnotify starts the fsnotify-based watcher.
func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	// Recursively add all directories to watch
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

// startPolling starts the polling-based watcher.
func (h *HybridWatcher) startPolling(ctx context.Context) error {
	// Forward polling events through debouncer
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				// Filter and add to debouncer
				if h.shouldIgnore(event.Path, event.IsDir) {
					continue
				}

				if h.isGitignoreFile(event.Path) {
					h.loadGitignore()
					h.debouncer.Add(FileEvent{
						Path:      event.Path,
						Operation: OpGitignoreChange,
						IsDir:     false,
						Timestamp: time.Now(),
					})
					continue
				}

				if h.isConfigFile(event.Path) {
					h.debouncer.Add(FileEvent{
						Path:      event.Path,
						Operation: OpConfigChange,
						IsDir:     false,
						Timestamp: time.Now(),
					})
					continue
				}

				h.debouncer.Add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

// handleFsnotifyEvent converts and filters fsnotify events.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	// Get relative path
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	// Check if this is a directory
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	// Filter ignored paths
	if h.shouldIgnore(relPath, isDir) {
		return
	}

	// A .gitignore edit reconfigures the matcher and triggers reconciliation
	// rather than being indexed as a document itself.
	if h.isGitignoreFile(relPath) {
		h.loadGitignore()
		h.debouncer.Add(FileEvent{
			Path:      relPath,
			Operation: OpGitignoreChange,
			IsDir:     false,
			Timestamp: time.Now(),
		})
		return
	}

	// A project config.json edit reloads exclude patterns and reconciles.
	if h.isConfigFile(relPath) {
		h.debouncer.Add(FileEvent{
			Path:      relPath,
			Operation: OpConfigChange,
			IsDir:     false,
			Timestamp: time.Now(),
		})
		return
	}

	// Convert fsnotify operation to our operation
	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// Add new directories to watch
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	case event.Op&fsnotify.Chmod != 0:
		// Ignore chmod events
		return
	default:
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// isGitignoreFile reports whether relPath names a .gitignore file.
func (h *HybridWatcher) isGitignoreFile(relPath string) bool {
	return filepath.Base(relPath) == ".gitignore"
}

// isConfigFile reports whether relPath names the project's config file,
// inside its hidden data directory.
func (h *HybridWatcher) isConfigFile(relPath string) bool {
	clean := filepath.ToSlash(relPath)
	return clean == config.DataDirName+"/"+config.ConfigFileName
}

// forwardDebouncedEvents reads flushed, per-path events off the debouncer
// and dispatches each to a worker, bounded by the watcher's concurrency
// limit and serialized per path.
func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case event, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			h.dispatch(ctx, event)
		}
	}
}

// dispatch hands event to Handler on a pooled worker, or - if no Handler is
// wired - simply emits it on the Events() channel for a caller-driven loop.
func (h *HybridWatcher) dispatch(ctx context.Context, event FileEvent) {
	if h.Handler == nil {
		h.emitEvent(event)
		return
	}

	handler := h.Handler
	lock := h.pathLock(event.Path)
	h.group.Go(func() error {
		h.suspendMu.RLock()
		defer h.suspendMu.RUnlock()
		lock.Lock()
		defer lock.Unlock()
		if err := handler(ctx, event); err != nil {
			slog.Error("watcher handler failed",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}

// pathLock returns the per-path mutex used to keep a single path's events
// processed in order, even if its timer refires while a worker for it is
// still running.
func (h *HybridWatcher) pathLock(path string) *sync.Mutex {
	h.pathLocksMu.Lock()
	defer h.pathLocksMu.Unlock()
	lock, ok := h.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		h.pathLocks[path] = lock
	}
	return lock
}

// addRecursive adds all directories under root to the fsnotify watcher.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(h.rootPath, path)

		// Always add the root directory
		if relPath == "." {
			return h.fsWatcher.Add(path)
		}

		// Skip ignored directories (but not root)
		if h.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}

		return h.fsWatcher.Add(path)
	})
}

// shouldIgnoreDir checks if a directory should be ignored.
func (h *HybridWatcher) shouldIgnoreDir(relPath string) bool {
	// Always ignore .git directory
	if strings.HasPrefix(relPath, ".git") || relPath == ".git" {
		return true
	}

	// Always ignore the hidden data directory
	if strings.HasPrefix(relPath, config.DataDirName) || relPath == config.DataDirName {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, true)
}

// shouldIgnore returns true if the path should be ignored.
func (h *HybridWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}

	// Always ignore .git directory
	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}

	// Always ignore the hidden data directory, except its config file,
	// which is watched deliberately for OpConfigChange.
	if h.isConfigFile(relPath) {
		return false
	}
	if strings.HasPrefix(relPath, config.DataDirName+"/") || relPath == config.DataDirName {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, isDir)
}

// loadGitignore loads .gitignore patterns from the root and subdirectories.
func (h *HybridWatcher) loadGitignore() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Create new matcher with custom patterns
	h.gitignore = gitignore.New()
	for _, pattern := range h.opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}
	h.gitignore.AddPattern(config.DataDirName + "/")
	h.gitignore.AddPattern(config.DataDirName + "/**")

	// Load root .gitignore
	gitignorePath := filepath.Join(h.rootPath, ".gitignore")
	if err := h.gitignore.AddFromFile(gitignorePath, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore",
			slog.String("path", gitignorePath),
			slog.String("error", err.Error()))
	}

	// Walk and load nested .gitignore files
	_ = filepath.WalkDir(h.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping directory in gitignore scan",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == ".gitignore" && path != gitignorePath {
			base, _ := filepath.Rel(h.rootPath, filepath.Dir(path))
			if err := h.gitignore.AddFromFile(path, base); err != nil {
				slog.Warn("failed to read nested .gitignore",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// emitEvent sends an event to the output channel, used only when no
// Handler is wired (callers drive their own loop over Events()).
func (h *HybridWatcher) emitEvent(event FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	if stopped {
		return
	}

	select {
	case h.events <- event:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping event",
			slog.String("path", event.Path),
			slog.Uint64("total_dropped", count),
		)
	}
}

// DroppedEvents returns the number of events dropped due to buffer overflow.
func (h *HybridWatcher) DroppedEvents() uint64 {
	return h.droppedBatches.Load()
}

// emitError sends an error to the error channel.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Waits for any in-flight
// handlers to finish before returning.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.mu.Unlock()

	// Stop debouncer
	h.debouncer.Stop()

	// Stop underlying watcher
	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	_ = h.group.Wait()

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of file events. Only populated when no
// Handler is wired; otherwise events are dispatched directly.
func (h *HybridWatcher) Events() <-chan FileEvent {
	return h.events
}

// Errors returns the channel of errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher is running and hasn't stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns the type of watcher being used ("fsnotify" or "polling").
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}

// Suspend blocks any new event dispatch from starting until Resume is
// called. Debounced events keep queuing during a suspension; they are
// simply not handed to Handler until Resume releases the lock. Used by
// reconciliation, which is itself upserting the same paths the watcher
// would otherwise react to.
func (h *HybridWatcher) Suspend() {
	h.suspendMu.Lock()
}

// Resume releases a prior Suspend.
func (h *HybridWatcher) Resume() {
	h.suspendMu.Unlock()
}
