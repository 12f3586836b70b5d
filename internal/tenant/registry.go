package tenant

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/embed"
)

// Registry holds the single activated tenant for this process, per
// §5's "Tenant context: scoped to the active session" — every
// tenant-scoped tool call after activate_project operates against
// whatever Registry.Active returns, not a tenant supplied per-call.
//
// Activation enforces the §5 "no two writers" guarantee with an
// embed.FileLock over the tenant's data directory (one .store.lock
// file, held for the lifetime of the activation) and persists an
// on-disk Record so a crash-recovered process or the status CLI can
// report what was active without this Registry in memory.
type Registry struct {
	mu     sync.Mutex
	active *activation
	logger *slog.Logger
}

type activation struct {
	ctx  Context
	lock *embed.FileLock
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Activate binds this process to a tenant. Re-activating the same
// tenant (identical project, branch, and absolute path) is idempotent
// and just refreshes the on-disk Record's timestamp. Activating a
// different tenant while one is already active fails with
// ErrAlreadyInitialized: a running process serves exactly one tenant.
func (r *Registry) Activate(project, branch, absolutePath string) (Context, error) {
	tc := New(project, branch, absolutePath)
	if err := tc.Validate(); err != nil {
		return Context{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dataDir := config.ProjectDataDir(tc.RootPath)

	if r.active != nil {
		if r.active.ctx.Key() == tc.Key() && r.active.ctx.RootPath == tc.RootPath {
			if err := SaveRecord(dataDir, NewRecord(tc)); err != nil {
				return Context{}, err
			}
			return r.active.ctx, nil
		}
		return Context{}, ErrAlreadyInitialized
	}

	lock := embed.NewStoreLock(dataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return Context{}, fmt.Errorf("tenant: acquire store lock: %w", err)
	}
	if !acquired {
		return Context{}, fmt.Errorf("tenant: store partition at %s is locked by another process", dataDir)
	}

	if err := SaveRecord(dataDir, NewRecord(tc)); err != nil {
		_ = lock.Unlock()
		return Context{}, err
	}

	r.active = &activation{ctx: tc, lock: lock}
	r.logger.Info("tenant activated", "tenant", tc.String(), "root", tc.RootPath)
	return tc, nil
}

// Active returns the currently activated tenant, if any. Handlers for
// every tenant-scoped tool call this first and map a false ok to the
// dispatcher's ProjectNotActivated error.
func (r *Registry) Active() (Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Context{}, false
	}
	return r.active.ctx, true
}

// Deactivate releases the current activation's store lock and clears
// it, allowing a different tenant to be activated next. Safe to call
// when nothing is active.
func (r *Registry) Deactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	err := r.active.lock.Unlock()
	r.active = nil
	return err
}

// ActivatedSince reports how long the current tenant has been active,
// and false if none is active.
func (r *Registry) ActivatedSince() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0, false
	}
	rec, err := LoadRecord(config.ProjectDataDir(r.active.ctx.RootPath))
	if err != nil || rec == nil {
		return 0, false
	}
	return time.Since(rec.ActivatedAt), true
}
