package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/embed"
	"github.com/aman-cerp/amandocs/internal/schema"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

func newTestPipeline(t *testing.T) (*Pipeline, store.MetadataStore, string) {
	t.Helper()
	st, err := store.NewSQLiteMetadataStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	embedder := embed.NewStaticEmbedder()
	vectors := store.NewPartitionRegistry(t.TempDir(), embed.StaticDimensions, nil)
	t.Cleanup(func() { _ = vectors.Close(context.Background()) })

	p := New(st, vectors, embedder, schema.NewValidator(), func() *config.Config { return nil }, nil)
	return p, st, t.TempDir()
}

func writeFile(t *testing.T, dir, relPath, content string) string {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

const doc1 = `---
doc_type: decision
title: Use SQLite
summary: We picked SQLite for metadata storage.
promotion_level: important
tags: [storage, decision]
---
# Use SQLite

We chose SQLite because it needs no external service.
`

func TestProcess_IndexesNewDocument(t *testing.T) {
	ctx := context.Background()
	p, st, root := newTestPipeline(t)
	abs := writeFile(t, root, "decisions/001-sqlite.md", doc1)
	tc := tenant.New("widget-service", "main", root)

	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))

	got, err := st.GetByPath(ctx, tc.Key(), store.CollectionProject, "decisions/001-sqlite.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Use SQLite", got.Title)
	assert.Equal(t, "decision", got.DocType)
	assert.Equal(t, store.PromotionImportant, got.PromotionLevel)
	assert.True(t, got.HasEmbedding())
}

func TestProcess_SkipsUnchangedContent(t *testing.T) {
	ctx := context.Background()
	p, st, root := newTestPipeline(t)
	abs := writeFile(t, root, "decisions/001-sqlite.md", doc1)
	tc := tenant.New("widget-service", "main", root)

	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))
	first, err := st.GetByPath(ctx, tc.Key(), store.CollectionProject, "decisions/001-sqlite.md")
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))
	second, err := st.GetByPath(ctx, tc.Key(), store.CollectionProject, "decisions/001-sqlite.md")
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "re-processing unchanged content must not rewrite the row")
}

func TestProcess_ReembedsOnContentChange(t *testing.T) {
	ctx := context.Background()
	p, st, root := newTestPipeline(t)
	abs := writeFile(t, root, "decisions/001-sqlite.md", doc1)
	tc := tenant.New("widget-service", "main", root)
	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))

	writeFile(t, root, "decisions/001-sqlite.md", doc1+"\nAn addendum.\n")
	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))

	got, err := st.GetByPath(ctx, tc.Key(), store.CollectionProject, "decisions/001-sqlite.md")
	require.NoError(t, err)
	assert.Contains(t, got.Body, "An addendum.")
}

func TestProcess_MissingFileIsSilentSkip(t *testing.T) {
	ctx := context.Background()
	p, _, root := newTestPipeline(t)
	tc := tenant.New("widget-service", "main", root)

	err := p.Process(ctx, tc, store.CollectionProject, filepath.Join(root, "gone.md"))
	assert.NoError(t, err)
}

func TestProcess_NoFrontmatter_IndexesWithMinimalMetadata(t *testing.T) {
	ctx := context.Background()
	p, st, root := newTestPipeline(t)
	abs := writeFile(t, root, "notes/scratch.md", "# just a note\n\nsome body text\n")
	tc := tenant.New("widget-service", "main", root)

	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))

	got, err := st.GetByPath(ctx, tc.Key(), store.CollectionProject, "notes/scratch.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.DocType)
	assert.True(t, got.HasEmbedding())
}

func TestProcess_MissingFrontmatterInDocTypedFolder_ReturnsValidationFail(t *testing.T) {
	ctx := context.Background()
	p, _, root := newTestPipeline(t)
	p.Config = func() *config.Config {
		return &config.Config{CustomDocTypes: []config.CustomDocType{
			{Name: "decision", Folder: "decisions", SchemaFile: "decision.schema.json"},
		}}
	}
	abs := writeFile(t, root, "decisions/no-frontmatter.md", "# A decision with no frontmatter\n")
	tc := tenant.New("widget-service", "main", root)

	err := p.Process(ctx, tc, store.CollectionProject, abs)
	require.Error(t, err)
	var vf *ValidationFail
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, ReasonMissingFrontmatter, vf.Reason)
}

func TestProcess_SchemaValidationFailure_Surfaces(t *testing.T) {
	ctx := context.Background()
	p, _, root := newTestPipeline(t)
	require.NoError(t, p.Validator.LoadSchema("decision", []byte(`{
		"type": "object",
		"required": ["status"],
		"properties": {"status": {"enum": ["proposed", "accepted"]}}
	}`)))
	abs := writeFile(t, root, "decisions/bad.md", doc1)
	tc := tenant.New("widget-service", "main", root)

	err := p.Process(ctx, tc, store.CollectionProject, abs)
	require.Error(t, err)
	var fail *schema.SchemaValidationFail
	require.ErrorAs(t, err, &fail)
}

const longDocHeader = `---
doc_type: runbook
title: Long Runbook
summary: A runbook long enough to trigger chunking.
---
`

func TestProcess_ChunksLongBody(t *testing.T) {
	ctx := context.Background()
	p, st, root := newTestPipeline(t)
	abs := writeFile(t, root, "runbooks/long.md", longDocHeader+buildLongBody())
	tc := tenant.New("widget-service", "main", root)

	require.NoError(t, p.Process(ctx, tc, store.CollectionProject, abs))

	got, err := st.GetByPath(ctx, tc.Key(), store.CollectionProject, "runbooks/long.md")
	require.NoError(t, err)
	chunks, err := st.GetChunksByDocument(ctx, got.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func buildLongBody() string {
	s := ""
	for i := 0; i < 600; i++ {
		s += "line of runbook content number and some padding text\n"
	}
	return s
}
