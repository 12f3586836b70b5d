package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aman-cerp/amandocs/internal/async"
	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/pipeline"
	"github.com/aman-cerp/amandocs/internal/reconcile"
	"github.com/aman-cerp/amandocs/internal/retrieval"
	"github.com/aman-cerp/amandocs/internal/schema"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

// Handlers wires the tool table (§4.9) to the components that already
// implement each operation: tenant activation, the indexing pipeline,
// reconciliation, and retrieval. Register binds every tool this
// collaborator owns onto a Dispatcher.
type Handlers struct {
	Tenant     *tenant.Registry
	Pipeline   *pipeline.Pipeline
	Reconciler *reconcile.Reconciler
	Retrieval  *retrieval.Service
	Store      store.MetadataStore
	Validator  *schema.Validator
	Config     func() *config.Config
	Logger     *slog.Logger

	// progress tracks the most recent reconciliation pass, exposed
	// through Progress(). One process, one active tenant, one
	// tracker - refreshed on every activate_project call.
	progress *async.IndexProgress
}

// NewHandlers wires the tool table to its collaborators, defaulting
// to slog.Default() when logger is nil.
func NewHandlers(reg *tenant.Registry, p *pipeline.Pipeline, rec *reconcile.Reconciler, retr *retrieval.Service, st store.MetadataStore, validator *schema.Validator, cfg func() *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		Tenant: reg, Pipeline: p, Reconciler: rec, Retrieval: retr,
		Store: st, Validator: validator, Config: cfg, Logger: logger,
	}
}

// Register binds every tool name in the §4.9 table to its handler.
func (h *Handlers) Register(d *Dispatcher) {
	d.Register("activate_project", h.activateProject)
	d.Register("rag_query", h.ragQuery(store.CollectionProject))
	d.Register("semantic_search", h.semanticSearch(store.CollectionProject))
	d.Register("index_document", h.indexDocument)
	d.Register("list_doc_types", h.listDocTypes)
	d.Register("delete_documents", h.deleteDocuments)
	d.Register("update_promotion_level", h.updatePromotionLevel)
	d.Register("search_external_docs", h.semanticSearch(store.CollectionExternal))
	d.Register("rag_query_external", h.ragQuery(store.CollectionExternal))
}

// Progress returns the tracker for the most recent activation's
// reconciliation pass, or nil if no project has been activated yet.
func (h *Handlers) Progress() *async.IndexProgress {
	return h.progress
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return v, nil
}

// active returns the activated tenant or ErrProjectNotActivated.
func (h *Handlers) active() (tenant.Context, error) {
	tc, ok := h.Tenant.Active()
	if !ok {
		return tenant.Context{}, ErrProjectNotActivated
	}
	return tc, nil
}

func parsePromotionLevel(s string) (store.PromotionLevel, error) {
	if s == "" {
		return "", nil
	}
	switch store.PromotionLevel(s) {
	case store.PromotionStandard, store.PromotionImportant, store.PromotionCritical:
		return store.PromotionLevel(s), nil
	default:
		return "", fmt.Errorf("%w: unknown promotion level %q", ErrInvalidParams, s)
	}
}

// ---- activate_project ----

type ActivateProjectRequest struct {
	ProjectName  string `json:"project_name"`
	BranchName   string `json:"branch_name"`
	AbsolutePath string `json:"absolute_path"`
}

type ActivateProjectResponse struct {
	Status     string `json:"status"`
	Project    string `json:"project_name"`
	Branch     string `json:"branch_name"`
	Reconciled int    `json:"reconciled"`
	Deleted    int    `json:"deleted"`
	FileErrors int    `json:"file_errors"`
}

func (h *Handlers) activateProject(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decodeParams[ActivateProjectRequest](params)
	if err != nil {
		return nil, err
	}
	if req.ProjectName == "" || req.BranchName == "" || req.AbsolutePath == "" {
		return nil, fmt.Errorf("%w: project_name, branch_name, and absolute_path are required", ErrInvalidParams)
	}

	tc, err := h.Tenant.Activate(req.ProjectName, req.BranchName, req.AbsolutePath)
	if err != nil {
		return nil, err
	}
	ctx = tenant.WithContext(ctx, tc)

	h.progress = async.NewIndexProgress()
	summary, err := h.Reconciler.Run(ctx, tc, store.CollectionProject, h.progress)
	if err != nil {
		return nil, err
	}

	if cfg := h.configOrNil(); cfg != nil && cfg.ExternalDocs != nil && cfg.ExternalDocs.Path != "" {
		if extSummary, err := h.Reconciler.Run(ctx, tc, store.CollectionExternal, nil); err == nil {
			summary.Indexed += extSummary.Indexed
			summary.Deleted += extSummary.Deleted
			summary.Errors = append(summary.Errors, extSummary.Errors...)
		} else {
			h.Logger.Warn("activate_project: external docs reconciliation failed", "error", err)
		}
	}

	return ActivateProjectResponse{
		Status:     "ok",
		Project:    tc.Project,
		Branch:     tc.Branch,
		Reconciled: summary.Indexed + summary.Unchanged,
		Deleted:    summary.Deleted,
		FileErrors: len(summary.Errors),
	}, nil
}

func (h *Handlers) configOrNil() *config.Config {
	if h.Config == nil {
		return nil
	}
	return h.Config()
}

// ---- rag_query / rag_query_external ----

type RAGQueryRequest struct {
	Query             string   `json:"query"`
	DocTypes          []string `json:"doc_types,omitempty"`
	MaxSources        int      `json:"max_sources,omitempty"`
	MinRelevanceScore float64  `json:"min_relevance_score,omitempty"`
	MinPromotionLevel string   `json:"min_promotion_level,omitempty"`
	IncludeCritical   *bool    `json:"include_critical,omitempty"`
}

type RAGQueryResponse struct {
	Status     string                `json:"status"`
	Answer     string                `json:"answer"`
	Sources    []retrieval.RAGSource `json:"sources"`
	LinkedDocs []retrieval.LinkedDoc `json:"linked_docs"`
}

func (h *Handlers) ragQuery(collection store.Collection) HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		tc, err := h.active()
		if err != nil {
			return nil, err
		}
		req, err := decodeParams[RAGQueryRequest](params)
		if err != nil {
			return nil, err
		}
		if req.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrInvalidParams)
		}
		minLevel, err := parsePromotionLevel(req.MinPromotionLevel)
		if err != nil {
			return nil, err
		}
		includeCritical := true
		if req.IncludeCritical != nil {
			includeCritical = *req.IncludeCritical
		}

		result, err := h.Retrieval.RAGQuery(ctx, tc, collection, retrieval.RAGQuery{
			Query:             req.Query,
			MaxSources:        req.MaxSources,
			IncludeCritical:   includeCritical,
			MinScore:          req.MinRelevanceScore,
			DocTypes:          req.DocTypes,
			MinPromotionLevel: minLevel,
		})
		if err != nil {
			return nil, err
		}
		return RAGQueryResponse{Status: "ok", Answer: result.Answer, Sources: result.Sources, LinkedDocs: result.LinkedDocs}, nil
	}
}

// ---- semantic_search / search_external_docs ----

type SemanticSearchRequest struct {
	Query             string   `json:"query"`
	DocTypes          []string `json:"doc_types,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	MinRelevanceScore float64  `json:"min_relevance_score,omitempty"`
}

type SemanticSearchResponse struct {
	Status string                `json:"status"`
	Hits   []retrieval.SearchHit `json:"hits"`
}

func (h *Handlers) semanticSearch(collection store.Collection) HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		tc, err := h.active()
		if err != nil {
			return nil, err
		}
		req, err := decodeParams[SemanticSearchRequest](params)
		if err != nil {
			return nil, err
		}
		if req.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrInvalidParams)
		}

		hits, err := h.Retrieval.SemanticSearch(ctx, tc, collection, retrieval.SearchQuery{
			Query:    req.Query,
			TopK:     req.Limit,
			MinScore: req.MinRelevanceScore,
			DocTypes: req.DocTypes,
		})
		if err != nil {
			return nil, err
		}
		return SemanticSearchResponse{Status: "ok", Hits: hits}, nil
	}
}

// ---- index_document ----

type IndexDocumentRequest struct {
	Path string `json:"path"`
}

type IndexDocumentResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

func (h *Handlers) indexDocument(ctx context.Context, params json.RawMessage) (any, error) {
	tc, err := h.active()
	if err != nil {
		return nil, err
	}
	req, err := decodeParams[IndexDocumentRequest](params)
	if err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidParams)
	}

	absPath := req.Path
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(config.DocsDir(tc.RootPath), absPath)
	}
	if err := h.Pipeline.Process(ctx, tc, store.CollectionProject, absPath); err != nil {
		return nil, err
	}
	return IndexDocumentResponse{Status: "ok", Path: req.Path}, nil
}

// ---- list_doc_types ----

type ListDocTypesResponse struct {
	Status   string   `json:"status"`
	DocTypes []string `json:"doc_types"`
}

func (h *Handlers) listDocTypes(ctx context.Context, params json.RawMessage) (any, error) {
	tc, err := h.active()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var docTypes []string
	if h.Validator != nil {
		for _, dt := range h.Validator.DocTypes() {
			if !seen[dt] {
				seen[dt] = true
				docTypes = append(docTypes, dt)
			}
		}
	}
	observed, err := h.Store.GetDocTypes(ctx, tc.Key(), store.CollectionProject)
	if err != nil {
		return nil, err
	}
	for _, dt := range observed {
		if !seen[dt] {
			seen[dt] = true
			docTypes = append(docTypes, dt)
		}
	}

	return ListDocTypesResponse{Status: "ok", DocTypes: docTypes}, nil
}

// ---- delete_documents ----

type DeleteDocumentsRequest struct {
	ProjectName string `json:"project_name"`
	BranchName  string `json:"branch_name,omitempty"`
	PathHash    string `json:"path_hash,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

type DeleteDocumentsResponse struct {
	Status           string `json:"status"`
	DocumentsDeleted int    `json:"documents_deleted"`
	ChunksDeleted    int    `json:"chunks_deleted"`
	DryRun           bool   `json:"dry_run"`
}

func (h *Handlers) deleteDocuments(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decodeParams[DeleteDocumentsRequest](params)
	if err != nil {
		return nil, err
	}
	if req.ProjectName == "" {
		return nil, fmt.Errorf("%w: project_name is required", ErrInvalidParams)
	}

	docs, chunks, err := h.Store.DeleteByFilter(ctx, req.ProjectName, store.CollectionProject, store.DeleteFilter{
		Branch:   req.BranchName,
		PathHash: req.PathHash,
	}, req.DryRun)
	if err != nil {
		return nil, err
	}
	return DeleteDocumentsResponse{Status: "ok", DocumentsDeleted: docs, ChunksDeleted: chunks, DryRun: req.DryRun}, nil
}

// ---- update_promotion_level ----

type UpdatePromotionLevelRequest struct {
	Path  string `json:"path"`
	Level string `json:"level"`
}

type UpdatePromotionLevelResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	Level  string `json:"level"`
}

func (h *Handlers) updatePromotionLevel(ctx context.Context, params json.RawMessage) (any, error) {
	tc, err := h.active()
	if err != nil {
		return nil, err
	}
	req, err := decodeParams[UpdatePromotionLevelRequest](params)
	if err != nil {
		return nil, err
	}
	if req.Path == "" || req.Level == "" {
		return nil, fmt.Errorf("%w: path and level are required", ErrInvalidParams)
	}
	level, err := parsePromotionLevel(req.Level)
	if err != nil {
		return nil, err
	}
	if level == "" {
		return nil, fmt.Errorf("%w: level must be standard, important, or critical", ErrInvalidParams)
	}

	doc, err := h.Store.UpdatePromotionLevel(ctx, tc.Key(), store.CollectionProject, req.Path, level)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, req.Path)
	}
	return UpdatePromotionLevelResponse{Status: "ok", Path: req.Path, Level: string(level)}, nil
}
