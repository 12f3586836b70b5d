// Package retrieval implements the two read-side query paths described
// by §4.8: plain semantic search over a tenant's document store, and
// retrieval-augmented generation (RAG query), which additionally
// injects critical-promotion documents, traverses one hop of markdown
// links from the chosen sources, and hands the assembled context to an
// external generation collaborator.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/embed"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

// linkPattern extracts relative markdown links, adapted from the same
// family of anchored single-purpose regexes internal/chunk/markdown_chunker.go
// declares at package scope for its own structural parsing.
var linkPattern = regexp.MustCompile(`\[[^\]]+\]\(([^)]+\.md)\)`)

const queryCacheSize = 256

// promotionRank orders PromotionLevel for the min_promotion_level
// filter: standard < important < critical.
var promotionRank = map[store.PromotionLevel]int{
	store.PromotionStandard:  0,
	store.PromotionImportant: 1,
	store.PromotionCritical:  2,
}

func meetsPromotionFloor(level, floor store.PromotionLevel) bool {
	if floor == "" {
		return true
	}
	return promotionRank[level] >= promotionRank[floor]
}

func matchesDocTypes(docType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, dt := range allowed {
		if dt == docType {
			return true
		}
	}
	return false
}

// ConfigProvider returns the live project configuration, satisfied by
// (*internal/config.Reloader).Load, matching internal/pipeline's
// ConfigProvider convention.
type ConfigProvider func() *config.Config

// Generator produces a synthesized answer from a query and an
// assembled context of retrieved document text. The spec scopes
// generation models as an external collaborator (§6.5); this
// interface exists only to cross that boundary, not to implement it.
type Generator interface {
	Generate(ctx context.Context, query, synthesisContext string) (answer string, err error)
}

// NoopGenerator is a Generator that returns an explanatory placeholder
// instead of calling out to a real generation endpoint. Used for tests
// and for operation when no generation collaborator is configured.
type NoopGenerator struct{}

func (NoopGenerator) Generate(ctx context.Context, query, synthesisContext string) (string, error) {
	return "No generation collaborator is configured; returning retrieved sources only.", nil
}

// Service composes the vector and metadata stores into the semantic
// search and RAG query operations.
type Service struct {
	Store     store.MetadataStore
	Vectors   *store.PartitionRegistry
	Embedder  embed.Embedder
	Generator Generator
	Config    ConfigProvider
	Logger    *slog.Logger

	queryCache *lru.Cache[string, []float32]
}

// New constructs a Service. generator may be nil, in which case
// NoopGenerator is used.
func New(st store.MetadataStore, vectors *store.PartitionRegistry, embedder embed.Embedder, generator Generator, cfg ConfigProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if generator == nil {
		generator = NoopGenerator{}
	}
	cache, _ := lru.New[string, []float32](queryCacheSize)
	return &Service{
		Store:      st,
		Vectors:    vectors,
		Embedder:   embedder,
		Generator:  generator,
		Config:     cfg,
		Logger:     logger,
		queryCache: cache,
	}
}

// SearchQuery parameterizes semantic search.
type SearchQuery struct {
	Query             string
	TopK              int
	MinScore          float64
	DocTypes          []string
	MinPromotionLevel store.PromotionLevel
}

// SearchHit is one scored semantic search result.
type SearchHit struct {
	Path    string
	Title   string
	Score   float64
	Snippet string
}

// SemanticSearch returns an ordered hit list for q, best match first.
func (s *Service) SemanticSearch(ctx context.Context, tc tenant.Context, collection store.Collection, q SearchQuery) ([]SearchHit, error) {
	cfg := s.configOrDefault()
	if q.TopK <= 0 {
		q.TopK = cfg.SemanticSearch.DefaultLimit
	}
	if q.MinScore <= 0 {
		q.MinScore = cfg.SemanticSearch.MinRelevanceScore
	}

	docs, scores, err := s.search(ctx, tc, collection, q.Query, q.TopK, q.MinScore, q.DocTypes, q.MinPromotionLevel)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(docs))
	for i, d := range docs {
		hits[i] = SearchHit{
			Path:    d.RelPath,
			Title:   d.Title,
			Score:   scores[i],
			Snippet: snippet(d.Body, 280),
		}
	}
	return hits, nil
}

// RAGQuery parameterizes a retrieval-augmented generation call.
type RAGQuery struct {
	Query             string
	MaxSources        int
	IncludeCritical   bool
	MinScore          float64
	DocTypes          []string
	MinPromotionLevel store.PromotionLevel
}

// RAGSource is one document that fed the synthesis context directly.
type RAGSource struct {
	Path      string
	Title     string
	CharCount int
	Score     float64
}

// LinkedDoc is a document reached by one hop of markdown-link
// traversal from a RAGSource.
type LinkedDoc struct {
	Path       string
	Title      string
	CharCount  int
	LinkedFrom string
}

// RAGResult is the full response of a RAG query.
type RAGResult struct {
	Answer     string
	Sources    []RAGSource
	LinkedDocs []LinkedDoc
}

var emptyRAGResult = RAGResult{
	Answer:     "No relevant documents were found.",
	Sources:    []RAGSource{},
	LinkedDocs: []LinkedDoc{},
}

// RAGQuery runs the full §4.8 algorithm: critical-doc injection,
// filtered vector search, dedup merge, one-hop link traversal, and
// synthesis via the configured Generator.
func (s *Service) RAGQuery(ctx context.Context, tc tenant.Context, collection store.Collection, q RAGQuery) (*RAGResult, error) {
	cfg := s.configOrDefault()
	if q.MaxSources <= 0 {
		q.MaxSources = 3
		if cfg.Retrieval.MaxResults > 0 {
			q.MaxSources = cfg.Retrieval.MaxResults
		}
	}
	minScore := q.MinScore
	if minScore <= 0 {
		minScore = cfg.Retrieval.MinRelevanceScore
	}

	var primary []*store.Document
	scoreByID := make(map[string]float64)
	seen := make(map[string]bool)

	if q.IncludeCritical {
		critical, err := s.Store.GetByPromotionLevel(ctx, tc.Key(), collection, store.PromotionCritical, q.DocTypes)
		if err != nil {
			return nil, fmt.Errorf("retrieval: load critical documents: %w", err)
		}
		for _, d := range critical {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			scoreByID[d.ID] = 1.0
			primary = append(primary, d)
		}
	}

	relevant, scores, err := s.search(ctx, tc, collection, q.Query, q.MaxSources, minScore, q.DocTypes, q.MinPromotionLevel)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}
	for i, d := range relevant {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		scoreByID[d.ID] = scores[i]
		primary = append(primary, d)
	}

	limit := q.MaxSources + (len(primary) - len(relevant))
	if limit > 0 && len(primary) > limit {
		primary = primary[:limit]
	}

	if len(primary) == 0 {
		result := emptyRAGResult
		return &result, nil
	}

	maxLinkedDocs := cfg.Retrieval.MaxLinkedDocs
	linked := s.traverseLinks(ctx, tc, collection, primary, seen, maxLinkedDocs)

	synthesisContext, sources := buildSynthesisContext(primary, scoreByID)
	for _, ld := range linked {
		synthesisContext += "\n\n---\n\n" + ld.body
	}

	answer, err := s.Generator.Generate(ctx, q.Query, synthesisContext)
	if err != nil {
		return nil, fmt.Errorf("retrieval: generate answer: %w", err)
	}

	linkedDocs := make([]LinkedDoc, len(linked))
	for i, ld := range linked {
		linkedDocs[i] = LinkedDoc{Path: ld.path, Title: ld.title, CharCount: ld.charCount, LinkedFrom: ld.linkedFrom}
	}

	return &RAGResult{Answer: answer, Sources: sources, LinkedDocs: linkedDocs}, nil
}

// search runs the shared embed-then-filtered-vector-search path behind
// both SemanticSearch and RAGQuery's relevance leg. It over-fetches
// from the vector index (HNSW has no native metadata filter) and then
// applies doc_types/min_promotion_level/min_score in application code,
// stopping once topK documents have survived the filter.
func (s *Service) search(ctx context.Context, tc tenant.Context, collection store.Collection, query string, topK int, minScore float64, docTypes []string, minPromotion store.PromotionLevel) ([]*store.Document, []float64, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil, nil
	}

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	partition, err := s.Vectors.Get(ctx, tc.Key(), collection)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector partition: %w", err)
	}

	oversample := topK * 5
	if oversample < 50 {
		oversample = 50
	}
	if count := partition.Count(); count > 0 && oversample > count {
		oversample = count
	}

	results, err := partition.Search(ctx, vector, oversample)
	if err != nil {
		return nil, nil, fmt.Errorf("search vector index: %w", err)
	}

	var docs []*store.Document
	var scores []float64
	for _, r := range results {
		if len(docs) >= topK {
			break
		}
		score := float64(r.Score)
		if score < minScore {
			continue
		}
		doc, err := s.Store.GetByID(ctx, r.ID)
		if err != nil {
			s.Logger.Warn("retrieval: failed to resolve vector hit", "id", r.ID, "error", err)
			continue
		}
		if doc == nil {
			continue
		}
		if !matchesDocTypes(doc.DocType, docTypes) || !meetsPromotionFloor(doc.PromotionLevel, minPromotion) {
			continue
		}
		docs = append(docs, doc)
		scores = append(scores, score)
	}
	return docs, scores, nil
}

// embedQuery embeds query, serving from queryCache (keyed on
// sha256(query)) when available. The cache sits only in front of the
// embedding client call, never in front of the vector search itself,
// so store mutations are always reflected on the next query.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	sum := sha256.Sum256([]byte(query))
	key := hex.EncodeToString(sum[:])

	if s.queryCache != nil {
		if vector, ok := s.queryCache.Get(key); ok {
			return vector, nil
		}
	}

	vector, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.queryCache != nil {
		s.queryCache.Add(key, vector)
	}
	return vector, nil
}

type linkedDocument struct {
	path       string
	title      string
	charCount  int
	linkedFrom string
	body       string
}

// traverseLinks implements §4.8 step 5: parse markdown of the primary
// sources, extract relative .md links, exclude external URLs and
// already-seen paths, and fetch each linked document by path. Depth 1
// only: links found inside a linked document are not followed further.
func (s *Service) traverseLinks(ctx context.Context, tc tenant.Context, collection store.Collection, primary []*store.Document, seen map[string]bool, maxLinkedDocs int) []linkedDocument {
	var linked []linkedDocument
	for _, source := range primary {
		if maxLinkedDocs > 0 && len(linked) >= maxLinkedDocs {
			break
		}
		for _, relPath := range extractMarkdownLinks(source.Body) {
			if maxLinkedDocs > 0 && len(linked) >= maxLinkedDocs {
				break
			}
			doc, err := s.Store.GetByPath(ctx, tc.Key(), collection, relPath)
			if err != nil {
				s.Logger.Warn("retrieval: failed to resolve linked document", "path", relPath, "error", err)
				continue
			}
			if doc == nil || seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			linked = append(linked, linkedDocument{
				path:       doc.RelPath,
				title:      doc.Title,
				charCount:  len(doc.Body),
				linkedFrom: source.RelPath,
				body:       doc.Body,
			})
		}
	}
	return linked
}

// extractMarkdownLinks returns every relative .md link target in body,
// skipping external (scheme-qualified) URLs.
func extractMarkdownLinks(body string) []string {
	matches := linkPattern.FindAllStringSubmatch(body, -1)
	var out []string
	for _, m := range matches {
		target := m[1]
		if strings.Contains(target, "://") {
			continue
		}
		target = strings.TrimPrefix(target, "./")
		out = append(out, target)
	}
	return out
}

// buildSynthesisContext concatenates primary source bodies (critical
// docs first, by construction of the caller's slice order) into the
// text handed to the Generator, and projects each into its RAGSource
// summary.
func buildSynthesisContext(primary []*store.Document, scoreByID map[string]float64) (string, []RAGSource) {
	var b strings.Builder
	sources := make([]RAGSource, len(primary))
	for i, d := range primary {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString(d.Body)
		sources[i] = RAGSource{
			Path:      d.RelPath,
			Title:     d.Title,
			CharCount: len(d.Body),
			Score:     scoreByID[d.ID],
		}
	}
	return b.String(), sources
}

// configOrDefault returns the live config, or built-in defaults if
// none was supplied or the provider has nothing loaded yet (a project
// without a config file is still a valid, if unconfigured, tenant).
func (s *Service) configOrDefault() *config.Config {
	if s.Config != nil {
		if cfg := s.Config(); cfg != nil {
			return cfg
		}
	}
	return config.NewConfig()
}

// snippet returns the first maxLen runes of body, trimmed of leading
// heading markers and whitespace, for semantic search result previews.
func snippet(body string, maxLen int) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(body), "# ")
	trimmed = strings.TrimSpace(trimmed)
	runes := []rune(trimmed)
	if len(runes) <= maxLen {
		return trimmed
	}
	return string(runes[:maxLen]) + "..."
}
