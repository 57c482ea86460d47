package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog backs the catalog with the same Postgres instance that
// holds pgvector chunks, so server deployments need one database.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) GetDocument(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	err := c.db.QueryRow(ctx, `
		SELECT id, title, path, document_type, content_hash, chunk_count, created_at, updated_at
		FROM documents WHERE id = $1
	`, docID).Scan(&doc.ID, &doc.Title, &doc.Path, &doc.DocumentType,
		&doc.ContentHash, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docID, err)
	}
	return &doc, nil
}

func (c *PostgresCatalog) SaveDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := c.db.Exec(ctx, `
		INSERT INTO documents (id, title, path, document_type, content_hash, chunk_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = $2, path = $3, document_type = $4,
			content_hash = $5, chunk_count = $6, updated_at = $8
	`, doc.ID, doc.Title, doc.Path, doc.DocumentType, doc.ContentHash,
		doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

func (c *PostgresCatalog) ReplaceChunks(ctx context.Context, docID string, chunkIDs []string) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE doc_id = $1", docID); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}
	for i, id := range chunkIDs {
		_, err := tx.Exec(ctx,
			"INSERT INTO document_chunks (chunk_id, doc_id, position) VALUES ($1, $2, $3)",
			id, docID, i)
		if err != nil {
			return fmt.Errorf("save chunk %s: %w", id, err)
		}
	}

	return tx.Commit(ctx)
}

func (c *PostgresCatalog) ListChunkIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := c.db.Query(ctx,
		"SELECT chunk_id FROM document_chunks WHERE doc_id = $1 ORDER BY position", docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *PostgresCatalog) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id, title, path, document_type, content_hash, chunk_count, created_at, updated_at
		FROM documents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Path, &doc.DocumentType,
			&doc.ContentHash, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *PostgresCatalog) DeleteDocument(ctx context.Context, docID string) error {
	if _, err := c.db.Exec(ctx, "DELETE FROM documents WHERE id = $1", docID); err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return nil
}
