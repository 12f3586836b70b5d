package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Reloader owns the live, hot-reloadable configuration for one
// activated project. Reads (Load) are lock-free; config-file changes
// are applied by a single supervised goroutine that swaps the pointer
// atomically — the "supervised reloader... lock-free read side"
// pattern spec §9 calls for.
//
// An invalid reload (parse failure or Validate failure) is logged at
// warning and discarded; the previously-active config remains live.
type Reloader struct {
	repoRoot string
	current  atomic.Pointer[Config]
	logger   *slog.Logger
}

// NewReloader loads repoRoot's configuration once and returns a
// Reloader holding it. Call Watch to start observing the config file
// for changes.
func NewReloader(repoRoot string, logger *slog.Logger) (*Reloader, error) {
	cfg, err := Load(repoRoot)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{repoRoot: repoRoot, logger: logger}
	r.current.Store(cfg)
	return r, nil
}

// Load returns the currently active configuration snapshot. Safe for
// concurrent use; never returns nil once NewReloader has succeeded.
func (r *Reloader) Load() *Config {
	return r.current.Load()
}

// Watch adds the project's config file to watcher and runs a reload
// loop until ctx is cancelled. The fsnotify.Watcher is shared with the
// File Watcher (internal/watcher) rather than owned exclusively by
// Reloader, per SPEC_FULL.md §6.4's addendum; Watch only ever reads
// events destined for its own config path and ignores the rest.
func (r *Reloader) Watch(ctx context.Context, watcher *fsnotify.Watcher) error {
	path := ConfigPath(r.repoRoot)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			r.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

// reload re-reads the project config file and, if it parses and
// validates, swaps it in atomically. Failures are logged and the
// previous configuration stays active.
func (r *Reloader) reload() {
	cfg, err := Load(r.repoRoot)
	if err != nil {
		r.logger.Warn("config reload rejected, keeping previous configuration",
			slog.String("path", ConfigPath(r.repoRoot)),
			slog.Any("error", err))
		return
	}
	r.current.Store(cfg)
	r.logger.Info("configuration reloaded", slog.String("project_name", cfg.ProjectName))
}
