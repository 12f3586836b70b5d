// Package store provides vector storage (coder/hnsw) and tenant-scoped
// metadata persistence (SQLite) for the compounding-docs engine.
package store

import (
	"context"
	"fmt"
	"time"
)

// PromotionLevel is the retrieval-ranking tier of a document.
type PromotionLevel string

const (
	PromotionStandard  PromotionLevel = "standard"
	PromotionImportant PromotionLevel = "important"
	PromotionCritical  PromotionLevel = "critical"
)

// Collection partitions a tenant's store into the project corpus and
// any configured external-docs corpus. Orthogonal to the tenant key.
type Collection string

const (
	CollectionProject  Collection = "project"
	CollectionExternal Collection = "external"
)

// Document is the indexed representation of one authored markdown file.
type Document struct {
	ID         string // stable UUID
	Project    string // tenant: project_name
	Branch     string // tenant: branch_name
	PathHash   string // tenant: path_hash
	Collection Collection

	RelPath     string // repository-relative path, forward-slash normalized
	ContentHash string // hex SHA-256 of UTF-8 bytes

	DocType         string
	Title           string
	Date            string
	Summary         string
	Significance    string
	PromotionLevel  PromotionLevel
	Tags            []string
	RelatedDocs     []string
	Supersedes      string

	Body string // raw body after frontmatter, used for chunking and link traversal

	Embedding []float32 // absent (nil) until embedding succeeds

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantKey returns the compound tenant identity this document belongs to.
func (d *Document) TenantKey() TenantKey {
	return TenantKey{Project: d.Project, Branch: d.Branch, PathHash: d.PathHash}
}

// HasEmbedding reports whether the document has a complete embedding.
// Per invariant 4, a document without one must be absent from query results.
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Chunk is a spanwise slice of a document's body, present only when the
// document exceeds the chunking threshold (policy: >500 body lines).
type Chunk struct {
	ID         string
	DocumentID string // parent document UUID; cascade delete is mandatory
	Collection Collection

	ChunkIndex int // 0-based, dense
	StartLine  int
	EndLine    int
	Content    string
	Embedding  []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantKey is the compound key (project_name, branch_name, path_hash)
// that uniquely identifies a tenant, even across git worktrees of the
// same project and branch.
type TenantKey struct {
	Project  string
	Branch   string
	PathHash string
}

// DocumentLite is the summary projection returned by list_all.
type DocumentLite struct {
	ID             string
	RelPath        string
	Title          string
	DocType        string
	PromotionLevel PromotionLevel
	UpdatedAt      time.Time
}

// Hit is one scored result from a similarity search.
type Hit struct {
	Doc   *Document
	Score float64 // cosine similarity in [0,1]
}

// DeleteFilter scopes a delete_by_filter call. Branch and PathHash are
// optional; when both are empty, the filter matches every tenant under
// the given project.
type DeleteFilter struct {
	Branch   string
	PathHash string
}

// MetadataStore persists document and chunk metadata, tenant-filtered,
// in SQLite. It is the only component besides VectorIndex that is
// allowed to read or write durable state.
type MetadataStore interface {
	// UpsertDocument inserts or replaces a document. Fails with
	// ErrConflict if the optimistic UpdatedAt check fails.
	UpsertDocument(ctx context.Context, doc *Document) error

	// UpsertDocumentWithChunks upserts a document and replaces its
	// chunk set atomically, so readers never see one half-applied.
	UpsertDocumentWithChunks(ctx context.Context, doc *Document, chunks []*Chunk) error

	// DeleteDocument cascades chunks-then-document in one transaction.
	DeleteDocument(ctx context.Context, tenant TenantKey, collection Collection, id string) (docsDeleted, chunksDeleted int, err error)

	// DeleteByFilter counts or deletes every document (and its chunks)
	// matching the filter under project. dryRun performs only the
	// counting queries and mutates nothing.
	DeleteByFilter(ctx context.Context, project string, collection Collection, filter DeleteFilter, dryRun bool) (docs, chunks int, err error)

	GetByPath(ctx context.Context, tenant TenantKey, collection Collection, relPath string) (*Document, error)
	// GetByID resolves a document by its store ID, the form retrieval
	// gets back from VectorIndex.Search. Returns nil, nil if not found.
	GetByID(ctx context.Context, id string) (*Document, error)
	GetByPromotionLevel(ctx context.Context, tenant TenantKey, collection Collection, level PromotionLevel, docTypes []string) ([]*Document, error)
	// UpdatePromotionLevel mutates one document's retrieval tier without
	// disturbing its content hash or embedding. Returns nil, nil if no
	// document exists at relPath for this tenant.
	UpdatePromotionLevel(ctx context.Context, tenant TenantKey, collection Collection, relPath string, level PromotionLevel) (*Document, error)
	ListAll(ctx context.Context, tenant TenantKey, collection Collection) ([]*DocumentLite, error)
	GetDocTypes(ctx context.Context, tenant TenantKey, collection Collection) ([]string, error)

	// SaveChunks replaces all chunks for a document under one transaction.
	SaveChunks(ctx context.Context, documentID string, chunks []*Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	// GetFilesForReconciliation returns every stored document's
	// (id, content_hash) for a tenant, keyed by relative path. This is
	// the store side of reconciliation's disk-vs-store diff.
	GetFilesForReconciliation(ctx context.Context, tenant TenantKey, collection Collection) (map[string]StoredFile, error)

	// State is a small key-value store for runtime/checkpoint state,
	// e.g. the embedding dimension and model fixed at deployment.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// StoredFile is the minimal (id, content_hash) projection of a stored
// document used by reconciliation to diff against the disk corpus.
type StoredFile struct {
	ID          string
	ContentHash string
}

// State keys for the fixed-at-deployment embedding configuration.
const (
	StateKeyEmbeddingDimension = "embedding_dimension"
	StateKeyEmbeddingModel     = "embedding_model"
)

// VectorResult is a single vector search result.
type VectorResult struct {
	ID       string
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the vector index.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" (cosine), "l2" (euclidean)
	M              int    // HNSW max connections per layer
	EfConstruction int    // HNSW build-time search width
	EfSearch       int    // HNSW query-time search width
}

// DefaultVectorStoreConfig returns sensible defaults for the vector index.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorIndex provides nearest-neighbor search over one tenant+collection
// partition's embeddings.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	Count() int
	Dimensions() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates the embedding produced for a document
// does not match the dimension fixed at deployment for this store
// partition. The storage layer rejects the write rather than silently
// truncating or padding the vector.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d (run 'amandocs reconcile --force-reembed')", e.Expected, e.Got)
}

// ErrConflict indicates an optimistic UpdatedAt check failed on upsert.
var ErrConflict = fmt.Errorf("conflict: document was modified concurrently")
