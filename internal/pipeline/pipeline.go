// Package pipeline implements the single document-processing pass
// shared by the file watcher, reconciliation, and the deferred-queue
// drainer: read, hash, skip-unchanged, parse frontmatter, validate,
// embed, chunk, and atomically upsert.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/aman-cerp/amandocs/internal/chunk"
	"github.com/aman-cerp/amandocs/internal/config"
	amerrors "github.com/aman-cerp/amandocs/internal/errors"
	"github.com/aman-cerp/amandocs/internal/embed"
	"github.com/aman-cerp/amandocs/internal/schema"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

// frontmatterPattern splits a `---`-delimited YAML block from the
// start of a document, adapted from internal/chunk/markdown_chunker.go's
// pattern of the same name.
var frontmatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.+?)\r?\n---\r?\n?`)

// ConfigProvider returns the live project configuration. Satisfied by
// (*internal/config.Reloader).Load.
type ConfigProvider func() *config.Config

// Pipeline is the document-processing pass described by §4.5. It is
// safe for concurrent use across distinct paths; callers serialize
// calls for the same path themselves (the watcher does this with
// per-path debounce timers).
type Pipeline struct {
	Store     store.MetadataStore
	Vectors   *store.PartitionRegistry
	Embedder  embed.Embedder
	Validator *schema.Validator
	Chunker   chunk.Chunker
	Config    ConfigProvider
	Logger    *slog.Logger
}

// New constructs a Pipeline with a MarkdownChunker if chunker is nil.
func New(st store.MetadataStore, vectors *store.PartitionRegistry, embedder embed.Embedder, validator *schema.Validator, cfg ConfigProvider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Store:     st,
		Vectors:   vectors,
		Embedder:  embedder,
		Validator: validator,
		Chunker:   chunk.NewMarkdownChunker(),
		Config:    cfg,
		Logger:    logger,
	}
}

// Process runs the full pipeline for one file: read, hash,
// skip-unchanged, parse frontmatter, validate, embed, chunk, upsert.
// It returns nil on success, on a deliberate skip (unreadable file,
// unchanged content), and is the single entry point reused by the
// watcher, the reconciler, and the deferred-queue drainer.
func (p *Pipeline) Process(ctx context.Context, tc tenant.Context, collection store.Collection, absPath string) error {
	log := p.Logger.With("path", absPath, "tenant", tc.String(), "collection", collection)

	content, skip, err := p.readFile(absPath, log)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	relPath, err := relPathFor(tc.RootPath, absPath)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeInvalidPath, fmt.Sprintf("resolve relative path for %s", absPath), err)
	}

	existing, err := p.Store.GetByPath(ctx, tc.Key(), collection, relPath)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeDatabaseError, "load existing document for skip-unchanged check", err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		log.Debug("content unchanged, skipping", "content_hash", contentHash)
		return nil
	}

	fm, body, hasFrontmatter := parseFrontmatter(content)

	cfg := p.configOrDefault()
	docTyped, expectedDocType := docTypedFolder(cfg, relPath)
	if !hasFrontmatter {
		if docTyped {
			log.Warn("missing frontmatter in doc-typed folder", "expected_doc_type", expectedDocType)
			return &ValidationFail{RelPath: relPath, Reason: ReasonMissingFrontmatter}
		}
		log.Debug("no frontmatter, indexing with minimal metadata")
	}

	docType := fm.DocType
	if docType == "" {
		docType = expectedDocType
	}

	if docType != "" && p.Validator != nil && p.Validator.Has(docType) {
		instance, decodeErr := frontmatterInstance(content)
		if decodeErr != nil {
			return amerrors.New(amerrors.ErrCodeSchemaValidationFail, "decode frontmatter for validation", decodeErr)
		}
		if err := p.Validator.Validate(docType, instance); err != nil {
			log.Warn("schema validation failed", "doc_type", docType, "error", err)
			return err
		}
	}

	doc := &store.Document{
		ID:             docIDOrEmpty(existing),
		Project:        tc.Project,
		Branch:         tc.Branch,
		PathHash:       tc.PathHash,
		Collection:     collection,
		RelPath:        relPath,
		ContentHash:    contentHash,
		DocType:        docType,
		Title:          fm.Title,
		Date:           fm.Date,
		Summary:        fm.Summary,
		Significance:   fm.Significance,
		PromotionLevel: promotionOrDefault(fm.PromotionLevel),
		Tags:           fm.Tags,
		RelatedDocs:    fm.RelatedDocs,
		Supersedes:     fm.Supersedes,
		Body:           body,
	}
	if existing != nil {
		doc.UpdatedAt = existing.UpdatedAt
	}

	surface := embeddingSurface(doc)
	vector, err := p.Embedder.Embed(ctx, surface)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeEmbeddingServiceUnavailable, fmt.Sprintf("embed %s", relPath), err)
	}
	doc.Embedding = vector

	var storeChunks []*store.Chunk
	bodyLines := strings.Count(strings.TrimRight(body, "\n"), "\n") + 1
	if strings.TrimSpace(body) != "" && bodyLines > chunk.ChunkTriggerLines {
		chunks, err := p.Chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: []byte(body)})
		if err != nil {
			return amerrors.New(amerrors.ErrCodeChunkingFailed, fmt.Sprintf("chunk %s", relPath), err)
		}
		storeChunks, err = p.chunksWithEmbeddings(ctx, chunks, collection)
		if err != nil {
			return err
		}
	}

	if err := p.Store.UpsertDocumentWithChunks(ctx, doc, storeChunks); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return err
		}
		return amerrors.New(amerrors.ErrCodeDatabaseError, fmt.Sprintf("upsert %s", relPath), err)
	}

	if p.Vectors != nil {
		partition, err := p.Vectors.Get(ctx, tc.Key(), collection)
		if err != nil {
			return amerrors.New(amerrors.ErrCodeDatabaseError, "open vector partition", err)
		}
		if err := partition.Add(ctx, []string{doc.ID}, [][]float32{doc.Embedding}); err != nil {
			return amerrors.New(amerrors.ErrCodeDatabaseError, "add embedding to vector index", err)
		}
	}

	log.Info("indexed document", "doc_type", doc.DocType, "chunks", len(storeChunks))
	return nil
}

// chunksWithEmbeddings embeds every chunk's content in one batch call
// and projects the result into the storage layer's Chunk type, dense
// chunk_index preserved from the chunker's own ordering.
func (p *Pipeline) chunksWithEmbeddings(ctx context.Context, chunks []*chunk.Chunk, collection store.Collection) ([]*store.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingServiceUnavailable, "embed chunks", err)
	}

	out := make([]*store.Chunk, len(chunks))
	for i, c := range chunks {
		var embedding []float32
		if i < len(vectors) {
			embedding = vectors[i]
		}
		out[i] = &store.Chunk{
			Collection: collection,
			ChunkIndex: i,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Content:    c.Content,
			Embedding:  embedding,
		}
	}
	return out, nil
}

// readFile reads absPath, classifying the errors §4.5 step 1 names as
// fail-skip (logged, never surfaced) rather than propagated.
func (p *Pipeline) readFile(absPath string, log *slog.Logger) (content []byte, skip bool, err error) {
	content, err = os.ReadFile(absPath)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			log.Debug("file no longer exists, skipping")
			return nil, true, nil
		case os.IsPermission(err):
			log.Warn("permission denied reading file, skipping")
			return nil, true, nil
		case isPathTooLong(err):
			log.Warn("path too long, skipping")
			return nil, true, nil
		default:
			return nil, false, amerrors.New(amerrors.ErrCodeFileNotFound, fmt.Sprintf("read %s", absPath), err)
		}
	}
	if !utf8.Valid(content) {
		log.Warn("file is not valid UTF-8, skipping")
		return nil, true, nil
	}
	return content, false, nil
}

func isPathTooLong(err error) bool {
	return strings.Contains(err.Error(), "file name too long") || strings.Contains(err.Error(), "ENAMETOOLONG")
}

func relPathFor(rootPath, absPath string) (string, error) {
	rel, err := filepath.Rel(rootPath, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// parseFrontmatter splits content into its decoded frontmatter and
// remaining body. hasFrontmatter is false when no `---` block is
// present, in which case fm is zero-valued and body is all of content.
func parseFrontmatter(content []byte) (fm frontmatter, body string, hasFrontmatter bool) {
	match := frontmatterPattern.FindSubmatch(content)
	if match == nil {
		return frontmatter{}, string(content), false
	}
	_ = yaml.Unmarshal(match[1], &fm)
	body = string(content[len(match[0]):])
	return fm, body, true
}

// frontmatterInstance decodes the same frontmatter block into a
// generic map for schema validation, which needs the full instance
// (including any project-specific fields the frontmatter struct
// doesn't promote to Document columns).
func frontmatterInstance(content []byte) (map[string]any, error) {
	match := frontmatterPattern.FindSubmatch(content)
	if match == nil {
		return map[string]any{}, nil
	}
	var instance map[string]any
	if err := yaml.Unmarshal(match[1], &instance); err != nil {
		return nil, err
	}
	if instance == nil {
		instance = map[string]any{}
	}
	return instance, nil
}

// docTypedFolder reports whether relPath falls under a folder a
// CustomDocType registers, and if so, which doc type name it expects.
func docTypedFolder(cfg *config.Config, relPath string) (bool, string) {
	if cfg == nil {
		return false, ""
	}
	dir := filepath.ToSlash(filepath.Dir(relPath))
	for _, dt := range cfg.CustomDocTypes {
		folder := strings.Trim(dt.Folder, "/")
		if dir == folder || strings.HasPrefix(dir, folder+"/") {
			return true, dt.Name
		}
	}
	return false, ""
}

func (p *Pipeline) configOrDefault() *config.Config {
	if p.Config == nil {
		return nil
	}
	return p.Config()
}

func docIDOrEmpty(existing *store.Document) string {
	if existing == nil {
		return ""
	}
	return existing.ID
}

func promotionOrDefault(level string) store.PromotionLevel {
	switch store.PromotionLevel(level) {
	case store.PromotionImportant:
		return store.PromotionImportant
	case store.PromotionCritical:
		return store.PromotionCritical
	default:
		return store.PromotionStandard
	}
}

// embeddingSurface builds the text actually sent to the embedder:
// title, summary, and body, in that order, each separated by a blank
// line so a document without a summary doesn't glue its title to its
// first body word.
func embeddingSurface(doc *store.Document) string {
	var b bytes.Buffer
	parts := []string{doc.Title, doc.Summary, doc.Body}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(part)
	}
	return b.String()
}
