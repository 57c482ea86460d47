package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore keeps chunk vectors in Postgres with the pgvector
// extension. Cosine distance via the <=> operator, score reported as
// 1 - distance so higher means more similar.
type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		embedding := pgvector.NewVector(e.Vector)
		_, err := tx.Exec(ctx,
			`INSERT INTO kb_chunks (chunk_id, doc_id, title, path, document_type, created_at, section, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (chunk_id) DO UPDATE SET
			     doc_id = $2, title = $3, path = $4, document_type = $5,
			     created_at = $6, section = $7, chunk_index = $8, content = $9, embedding = $10`,
			e.ChunkID, e.Meta.DocID, e.Meta.Title, e.Meta.Path, e.Meta.DocumentType,
			e.Meta.CreatedAt, e.Meta.Section, e.Meta.ChunkIndex, e.Meta.Text, embedding,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", e.ChunkID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgVectorStore) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM kb_chunks WHERE doc_id = $1", docID)
	if err != nil {
		return fmt.Errorf("delete chunks for doc %s: %w", docID, err)
	}
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, vector []float32, k int, filters *Filters) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	// Fetch a widened pool and filter in one place so all backends
	// apply filters identically.
	embedding := pgvector.NewVector(vector)
	rows, err := s.db.Query(ctx,
		`SELECT chunk_id, doc_id, title, path, document_type, created_at, section, chunk_index, content,
		        1 - (embedding <=> $1) AS score
		 FROM kb_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		embedding, CandidatePool(k, total),
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var m Metadata
		if err := rows.Scan(&m.ChunkID, &m.DocID, &m.Title, &m.Path, &m.DocumentType,
			&m.CreatedAt, &m.Section, &m.ChunkIndex, &m.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if !filters.Match(m) {
			continue
		}
		h.ChunkID = m.ChunkID
		h.Meta = m
		hits = append(hits, h)
		if len(hits) >= k {
			break
		}
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) Get(ctx context.Context, chunkID string) (*Metadata, error) {
	var m Metadata
	err := s.db.QueryRow(ctx,
		`SELECT chunk_id, doc_id, title, path, document_type, created_at, section, chunk_index, content
		 FROM kb_chunks WHERE chunk_id = $1`,
		chunkID,
	).Scan(&m.ChunkID, &m.DocID, &m.Title, &m.Path, &m.DocumentType,
		&m.CreatedAt, &m.Section, &m.ChunkIndex, &m.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	return &m, nil
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM kb_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
