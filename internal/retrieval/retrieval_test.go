package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/amandocs/internal/config"
	"github.com/aman-cerp/amandocs/internal/embed"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

// stubGenerator records the synthesis context it was handed and
// returns a fixed answer, so tests can assert on what retrieval
// assembled without depending on an external generation collaborator.
type stubGenerator struct {
	lastQuery   string
	lastContext string
}

func (g *stubGenerator) Generate(ctx context.Context, query, synthesisContext string) (string, error) {
	g.lastQuery = query
	g.lastContext = synthesisContext
	return "stub answer", nil
}

func newTestService(t *testing.T, gen Generator) (*Service, store.MetadataStore, tenant.Context) {
	t.Helper()
	st, err := store.NewSQLiteMetadataStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	embedder := embed.NewStaticEmbedder()
	vectors := store.NewPartitionRegistry(t.TempDir(), embed.StaticDimensions, nil)
	t.Cleanup(func() { _ = vectors.Close(context.Background()) })

	svc := New(st, vectors, embedder, gen, func() *config.Config { return nil }, nil)
	tc := tenant.New("widget-service", "main", t.TempDir())
	return svc, st, tc
}

func indexDoc(t *testing.T, ctx context.Context, st store.MetadataStore, vectors *store.PartitionRegistry, embedder embed.Embedder, tc tenant.Context, collection store.Collection, doc *store.Document) {
	t.Helper()
	vector, err := embedder.Embed(ctx, doc.Title+"\n\n"+doc.Body)
	require.NoError(t, err)
	doc.Embedding = vector
	doc.Project, doc.Branch, doc.PathHash, doc.Collection = tc.Project, tc.Branch, tc.PathHash, collection
	require.NoError(t, st.UpsertDocumentWithChunks(ctx, doc, nil))

	partition, err := vectors.Get(ctx, tc.Key(), collection)
	require.NoError(t, err)
	require.NoError(t, partition.Add(ctx, []string{doc.ID}, [][]float32{vector}))
}

func TestSemanticSearch_ReturnsScoredHits(t *testing.T) {
	ctx := context.Background()
	svc, st, tc := newTestService(t, nil)
	embedder := embed.NewStaticEmbedder()
	vectors := svc.Vectors

	doc := &store.Document{ID: "doc-1", RelPath: "guide.md", Title: "Setup guide", Body: "Install the tool and run init.", PromotionLevel: store.PromotionStandard}
	indexDoc(t, ctx, st, vectors, embedder, tc, store.CollectionProject, doc)

	hits, err := svc.SemanticSearch(ctx, tc, store.CollectionProject, SearchQuery{Query: "how do I install the tool", TopK: 5, MinScore: 0})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "guide.md", hits[0].Path)
	assert.Equal(t, "Setup guide", hits[0].Title)
	assert.NotEmpty(t, hits[0].Snippet)
}

func TestSemanticSearch_FiltersByMinPromotionLevel(t *testing.T) {
	ctx := context.Background()
	svc, st, tc := newTestService(t, nil)
	embedder := embed.NewStaticEmbedder()
	vectors := svc.Vectors

	indexDoc(t, ctx, st, vectors, embedder, tc, store.CollectionProject,
		&store.Document{ID: "doc-standard", RelPath: "standard.md", Title: "Standard note", Body: "routine maintenance notes", PromotionLevel: store.PromotionStandard})
	indexDoc(t, ctx, st, vectors, embedder, tc, store.CollectionProject,
		&store.Document{ID: "doc-critical", RelPath: "critical.md", Title: "Critical note", Body: "routine maintenance notes", PromotionLevel: store.PromotionCritical})

	hits, err := svc.SemanticSearch(ctx, tc, store.CollectionProject, SearchQuery{
		Query: "routine maintenance notes", TopK: 10, MinScore: 0, MinPromotionLevel: store.PromotionCritical,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "critical.md", hits[0].Path)
}

func TestRAGQuery_InjectsCriticalDocsAtScoreOne(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{}
	svc, st, tc := newTestService(t, gen)
	embedder := embed.NewStaticEmbedder()
	vectors := svc.Vectors

	indexDoc(t, ctx, st, vectors, embedder, tc, store.CollectionProject,
		&store.Document{ID: "doc-critical", RelPath: "incident.md", Title: "Incident postmortem", Body: "completely unrelated filler text about gardening", PromotionLevel: store.PromotionCritical})

	result, err := svc.RAGQuery(ctx, tc, store.CollectionProject, RAGQuery{Query: "deploy pipeline", IncludeCritical: true})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "incident.md", result.Sources[0].Path)
	assert.Equal(t, 1.0, result.Sources[0].Score)
	assert.Equal(t, "stub answer", result.Answer)
}

func TestRAGQuery_EmptyResultPath(t *testing.T) {
	ctx := context.Background()
	svc, _, tc := newTestService(t, nil)

	result, err := svc.RAGQuery(ctx, tc, store.CollectionProject, RAGQuery{Query: "anything at all", IncludeCritical: false})
	require.NoError(t, err)
	assert.Equal(t, "No relevant documents were found.", result.Answer)
	assert.Empty(t, result.Sources)
	assert.Empty(t, result.LinkedDocs)
}

func TestRAGQuery_TraversesOneHopMarkdownLinks(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{}
	svc, st, tc := newTestService(t, gen)
	embedder := embed.NewStaticEmbedder()
	vectors := svc.Vectors

	indexDoc(t, ctx, st, vectors, embedder, tc, store.CollectionProject,
		&store.Document{
			ID: "doc-main", RelPath: "overview.md", Title: "Overview",
			Body:           "See [the setup guide](setup.md) for details. See also [an external reference](https://example.com/page.md), which must not be traversed.",
			PromotionLevel: store.PromotionCritical,
		})
	indexDoc(t, ctx, st, vectors, embedder, tc, store.CollectionProject,
		&store.Document{ID: "doc-linked", RelPath: "setup.md", Title: "Setup guide", Body: "Step by step setup instructions.", PromotionLevel: store.PromotionStandard})

	result, err := svc.RAGQuery(ctx, tc, store.CollectionProject, RAGQuery{Query: "overview", IncludeCritical: true})
	require.NoError(t, err)
	require.Len(t, result.LinkedDocs, 1)
	assert.Equal(t, "setup.md", result.LinkedDocs[0].Path)
	assert.Equal(t, "overview.md", result.LinkedDocs[0].LinkedFrom)
	assert.Contains(t, gen.lastContext, "Step by step setup instructions.")
}

func TestEmbedQuery_CachesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)

	first, err := svc.embedQuery(ctx, "repeated query")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("repeated query"))
	key := hex.EncodeToString(sum[:])
	cached, ok := svc.queryCache.Get(key)
	require.True(t, ok, "embedQuery must populate the cache under sha256(query)")
	assert.Equal(t, first, cached)

	second, err := svc.embedQuery(ctx, "repeated query")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
