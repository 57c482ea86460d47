package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/avolkov/groundkb/internal/embedding"
	"github.com/avolkov/groundkb/internal/vectorstore"
)

// Retriever embeds a query and finds its nearest chunks.
type Retriever struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	defaultK int
}

func NewRetriever(emb embedding.Embedder, store vectorstore.Store, defaultK int) *Retriever {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &Retriever{embedder: emb, store: store, defaultK: defaultK}
}

// Retrieve returns up to k chunks for the query. A blank query
// short-circuits to no results without touching the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filters *vectorstore.Filters) ([]vectorstore.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = r.defaultK
	}

	vector, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, vector, k, filters)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return hits, nil
}

// GetChunk looks a chunk up by id.
func (r *Retriever) GetChunk(ctx context.Context, chunkID string) (*vectorstore.Metadata, error) {
	return r.store.Get(ctx, chunkID)
}

// BuildContext renders hits into the prompt context block.
func BuildContext(hits []vectorstore.Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[%s] %s\n%s", h.ChunkID, h.Meta.Title, h.Meta.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
