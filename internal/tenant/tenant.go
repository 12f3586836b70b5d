// Package tenant identifies the repository context a request or file
// event belongs to: the compound key (project_name, branch_name,
// path_hash) that scopes every storage and retrieval operation.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-cerp/amandocs/internal/store"
)

// Context is the tenant identity carried through a request or a
// watcher event. It is immutable once constructed: a repository does
// not change project or branch identity mid-session without a fresh
// activation.
type Context struct {
	Project  string
	Branch   string
	RootPath string // absolute repository root this tenant was activated against
	PathHash string
}

// New builds a Context for a repository root, computing path_hash from
// the normalized absolute path.
func New(project, branch, rootPath string) Context {
	return Context{
		Project:  project,
		Branch:   branch,
		RootPath: rootPath,
		PathHash: store.PathHash(rootPath),
	}
}

// Key returns the storage-layer tenant key for this context.
func (c Context) Key() store.TenantKey {
	return store.TenantKey{Project: c.Project, Branch: c.Branch, PathHash: c.PathHash}
}

func (c Context) String() string {
	return fmt.Sprintf("%s/%s@%s", c.Project, c.Branch, c.PathHash)
}

// Validate reports whether the context has every field required to
// scope a storage operation.
func (c Context) Validate() error {
	if c.Project == "" {
		return ErrInvalidTenant
	}
	if c.Branch == "" {
		return ErrInvalidTenant
	}
	if c.PathHash == "" {
		return ErrInvalidTenant
	}
	return nil
}

// ErrInvalidTenant is returned when a Context is missing a required field.
var ErrInvalidTenant = errors.New("tenant: incomplete context")

// ErrAlreadyInitialized is returned by activation when a tenant's
// store already exists for a different root path than the one given,
// which would silently merge two distinct repository checkouts.
var ErrAlreadyInitialized = errors.New("tenant: already initialized with a different root path")

// ErrTenantMismatch is returned when a request's tenant context does
// not match the context a resource (e.g. a file watcher) was
// registered under.
var ErrTenantMismatch = errors.New("tenant: context mismatch")

type contextKey struct{}

// WithContext returns a derived context.Context carrying the tenant Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant Context previously attached with
// WithContext. The second return value is false if none is present.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}

// MustFromContext extracts the tenant Context, panicking if absent.
// Use only at call sites where WithContext is guaranteed upstream,
// e.g. inside dispatch handlers registered after tenant activation.
func MustFromContext(ctx context.Context) Context {
	tc, ok := FromContext(ctx)
	if !ok {
		panic("tenant: no Context in context.Context")
	}
	return tc
}
