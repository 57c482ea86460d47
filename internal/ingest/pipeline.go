package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkov/groundkb/internal/catalog"
	"github.com/avolkov/groundkb/internal/embedding"
	"github.com/avolkov/groundkb/internal/vectorstore"
	"github.com/avolkov/groundkb/pkg/chunker"
)

// Pipeline turns source documents into indexed chunks. Ingestion is
// idempotent: a document whose content hash matches the catalog record is
// skipped, a changed document has its previous chunk generation deleted
// before the new one is inserted.
type Pipeline struct {
	catalog  catalog.Catalog
	store    vectorstore.Store
	embedder embedding.Embedder
	opts     chunker.Options
	logger   *slog.Logger
}

type Result struct {
	DocsIndexed   int           `json:"docs_indexed"`
	DocsSkipped   int           `json:"docs_skipped"`
	ChunksIndexed int           `json:"chunks_indexed"`
	Duration      time.Duration `json:"duration"`
}

func NewPipeline(cat catalog.Catalog, store vectorstore.Store, emb embedding.Embedder, opts chunker.Options) *Pipeline {
	return &Pipeline{
		catalog:  cat,
		store:    store,
		embedder: emb,
		opts:     opts,
		logger:   slog.Default().With("component", "ingest"),
	}
}

// RunFromPath loads the knowledge base directory and indexes it.
func (p *Pipeline) RunFromPath(ctx context.Context, kbPath string) (*Result, error) {
	docs, err := LoadKB(kbPath)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, docs)
}

// Run indexes the given documents. Any document failure aborts the run
// with an error naming the document; already-committed documents stay
// indexed.
func (p *Pipeline) Run(ctx context.Context, docs []SourceDocument) (*Result, error) {
	start := time.Now()
	result := &Result{}

	type pending struct {
		doc    SourceDocument
		hash   string
		chunks []chunker.Meta
	}

	var work []pending
	var texts []string

	for _, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("document with empty id (title %q)", doc.Title)
		}

		hash := contentHash(doc.Text)
		existing, err := p.catalog.GetDocument(ctx, doc.ID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("document %s: lookup: %w", doc.ID, err)
		}
		if existing != nil && existing.ContentHash == hash {
			result.DocsSkipped++
			continue
		}

		chunks := chunker.Chunk(doc.Text, chunker.Source{
			DocID:        doc.ID,
			Title:        doc.Title,
			Path:         doc.Path,
			DocumentType: doc.DocumentType,
			CreatedAt:    doc.CreatedAt,
			Section:      doc.Section,
		}, p.opts)

		work = append(work, pending{doc: doc, hash: hash, chunks: chunks})
		for _, c := range chunks {
			texts = append(texts, c.Text)
		}
	}

	// One batched embedding call for the whole run.
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
	}

	next := 0
	for _, w := range work {
		entries := make([]vectorstore.Entry, len(w.chunks))
		chunkIDs := make([]string, len(w.chunks))
		for i, c := range w.chunks {
			entries[i] = vectorstore.Entry{
				ChunkID: c.ChunkID,
				Vector:  vectors[next],
				Meta: vectorstore.Metadata{
					ChunkID:      c.ChunkID,
					DocID:        c.DocID,
					Title:        c.Title,
					Path:         c.Path,
					DocumentType: c.DocumentType,
					CreatedAt:    c.CreatedAt,
					Section:      c.Section,
					ChunkIndex:   c.ChunkIndex,
					Text:         c.Text,
				},
			}
			chunkIDs[i] = c.ChunkID
			next++
		}

		// Drop the previous generation before inserting the new one so a
		// shrinking document leaves no stale chunks behind.
		if err := p.store.DeleteByDoc(ctx, w.doc.ID); err != nil {
			return nil, fmt.Errorf("document %s: delete stale chunks: %w", w.doc.ID, err)
		}
		if err := p.store.Upsert(ctx, entries); err != nil {
			return nil, fmt.Errorf("document %s: upsert chunks: %w", w.doc.ID, err)
		}

		if err := p.catalog.SaveDocument(ctx, &catalog.Document{
			ID:           w.doc.ID,
			Title:        w.doc.Title,
			Path:         w.doc.Path,
			DocumentType: w.doc.DocumentType,
			ContentHash:  w.hash,
			ChunkCount:   len(w.chunks),
		}); err != nil {
			return nil, fmt.Errorf("document %s: save catalog record: %w", w.doc.ID, err)
		}
		if err := p.catalog.ReplaceChunks(ctx, w.doc.ID, chunkIDs); err != nil {
			return nil, fmt.Errorf("document %s: record chunks: %w", w.doc.ID, err)
		}

		result.DocsIndexed++
		result.ChunksIndexed += len(w.chunks)
	}

	result.Duration = time.Since(start)
	p.logger.Info("ingestion run complete",
		"docs_indexed", result.DocsIndexed,
		"docs_skipped", result.DocsSkipped,
		"chunks_indexed", result.ChunksIndexed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
