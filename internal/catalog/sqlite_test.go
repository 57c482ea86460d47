package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteCatalogSaveAndGet(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	doc := &Document{
		ID:           "redis-caching",
		Title:        "Redis Caching Guide",
		DocumentType: "markdown",
		ContentHash:  "abc123",
		ChunkCount:   3,
	}
	require.NoError(t, c.SaveDocument(ctx, doc))

	got, err := c.GetDocument(ctx, "redis-caching")
	require.NoError(t, err)
	assert.Equal(t, "Redis Caching Guide", got.Title)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, 3, got.ChunkCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteCatalogGetMissing(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.GetDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteCatalogSaveUpdatesHash(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SaveDocument(ctx, &Document{ID: "d", Title: "v1", ContentHash: "h1"}))
	require.NoError(t, c.SaveDocument(ctx, &Document{ID: "d", Title: "v2", ContentHash: "h2"}))

	got, err := c.GetDocument(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
	assert.Equal(t, "h2", got.ContentHash)

	docs, err := c.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSQLiteCatalogReplaceChunks(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SaveDocument(ctx, &Document{ID: "d", Title: "Doc", ContentHash: "h"}))
	require.NoError(t, c.ReplaceChunks(ctx, "d", []string{"doc:d#chunk:0", "doc:d#chunk:1"}))

	ids, err := c.ListChunkIDs(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:d#chunk:0", "doc:d#chunk:1"}, ids)

	// A new generation fully replaces the old one.
	require.NoError(t, c.ReplaceChunks(ctx, "d", []string{"doc:d#chunk:0"}))
	ids, err = c.ListChunkIDs(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:d#chunk:0"}, ids)
}

func TestSQLiteCatalogDeleteCascades(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SaveDocument(ctx, &Document{ID: "d", Title: "Doc", ContentHash: "h"}))
	require.NoError(t, c.ReplaceChunks(ctx, "d", []string{"doc:d#chunk:0"}))
	require.NoError(t, c.DeleteDocument(ctx, "d"))

	_, err := c.GetDocument(ctx, "d")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := c.ListChunkIDs(ctx, "d")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
