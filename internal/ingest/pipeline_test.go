package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/groundkb/internal/catalog"
	"github.com/avolkov/groundkb/internal/vectorstore"
	"github.com/avolkov/groundkb/pkg/chunker"
)

// fakeEmbedder returns a deterministic vector per text so tests need no
// network.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		var a, b float32
		for _, r := range text {
			a += float32(r % 7)
			b += float32(r % 13)
		}
		out[i] = []float32{a, b, float32(len(text))}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *catalog.SQLiteCatalog, *vectorstore.DiskStore, *fakeEmbedder) {
	t.Helper()
	cat, err := catalog.NewSQLiteCatalog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	store := vectorstore.NewDiskStore(t.TempDir())
	t.Cleanup(func() { store.Close() })

	emb := &fakeEmbedder{}
	p := NewPipeline(cat, store, emb, chunker.Options{ChunkSize: 40, Overlap: 10})
	return p, cat, store, emb
}

func testDocs() []SourceDocument {
	return []SourceDocument{
		{
			ID:    "redis-caching",
			Title: "Redis Caching Guide",
			Text:  "Redis is an in-memory data structure store used as a cache. Set CART_CACHE_BYPASS to skip the cart cache entirely.",
		},
		{
			ID:    "pg-tuning",
			Title: "Postgres Tuning",
			Text:  "Tune shared_buffers and work_mem before anything else. Vacuum regularly.",
		},
	}
}

func TestPipelineIndexesDocuments(t *testing.T) {
	p, cat, store, _ := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.Run(ctx, testDocs())
	require.NoError(t, err)
	assert.Equal(t, 2, result.DocsIndexed)
	assert.Equal(t, 0, result.DocsSkipped)
	assert.Greater(t, result.ChunksIndexed, 2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.ChunksIndexed, count)

	doc, err := cat.GetDocument(ctx, "redis-caching")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ContentHash)
	assert.Equal(t, doc.ChunkCount, len(mustChunkIDs(t, cat, "redis-caching")))

	meta, err := store.Get(ctx, "doc:redis-caching#chunk:0")
	require.NoError(t, err)
	assert.Equal(t, "Redis Caching Guide", meta.Title)
}

func TestPipelineIsIdempotent(t *testing.T) {
	p, _, store, emb := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Run(ctx, testDocs())
	require.NoError(t, err)
	countAfterFirst, err := store.Count(ctx)
	require.NoError(t, err)

	second, err := p.Run(ctx, testDocs())
	require.NoError(t, err)
	assert.Equal(t, 0, second.DocsIndexed)
	assert.Equal(t, 2, second.DocsSkipped)
	assert.Equal(t, 0, second.ChunksIndexed)

	countAfterSecond, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, countAfterSecond)
	assert.Equal(t, first.DocsIndexed, 2)

	// The skipped run still makes exactly one (empty) embed call.
	assert.Equal(t, 2, emb.calls)
}

func TestPipelineReindexesChangedDocument(t *testing.T) {
	p, cat, store, _ := newTestPipeline(t)
	ctx := context.Background()

	docs := testDocs()
	_, err := p.Run(ctx, docs)
	require.NoError(t, err)

	oldIDs := mustChunkIDs(t, cat, "redis-caching")
	require.NotEmpty(t, oldIDs)

	// Shrink the document so the new generation has fewer chunks.
	docs[0].Text = "Redis is a cache."
	result, err := p.Run(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DocsIndexed)
	assert.Equal(t, 1, result.DocsSkipped)

	newIDs := mustChunkIDs(t, cat, "redis-caching")
	assert.Less(t, len(newIDs), len(oldIDs))

	// No stale chunks from the old generation survive in the index.
	for _, id := range oldIDs[len(newIDs):] {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, vectorstore.ErrChunkNotFound)
	}
}

func TestPipelineRunFromPath(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	kb := t.TempDir()

	writeFile(t, filepath.Join(kb, "docs.json"),
		`{"documents":[{"id":"a","title":"A","text":"alpha content here"}]}`)
	writeFile(t, filepath.Join(kb, "notes.txt"), "standalone note file content")

	result, err := p.RunFromPath(context.Background(), kb)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DocsIndexed)
}

func TestPipelineRunFromPathErrors(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	_, err := p.RunFromPath(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = p.RunFromPath(context.Background(), empty)
	assert.ErrorContains(t, err, "no documents")
}

func TestLoadKBDeterministicOrder(t *testing.T) {
	kb := t.TempDir()
	writeFile(t, filepath.Join(kb, "b.json"), `{"documents":[{"id":"b","title":"B","text":"bee"}]}`)
	writeFile(t, filepath.Join(kb, "a.json"), `{"documents":[{"id":"a","title":"A","text":"ay"}]}`)

	docs, err := LoadKB(kb)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestLoadKBRejectsMissingID(t *testing.T) {
	kb := t.TempDir()
	writeFile(t, filepath.Join(kb, "bad.json"), `{"documents":[{"title":"No ID","text":"x"}]}`)

	_, err := LoadKB(kb)
	assert.ErrorContains(t, err, "has no id")
}

func mustChunkIDs(t *testing.T, cat catalog.Catalog, docID string) []string {
	t.Helper()
	ids, err := cat.ListChunkIDs(context.Background(), docID)
	require.NoError(t, err)
	return ids
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
