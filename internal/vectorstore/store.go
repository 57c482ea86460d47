package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension the store was built with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrChunkNotFound is returned by Get for an unknown chunk id.
	ErrChunkNotFound = errors.New("chunk not found")
)

// Metadata is the typed payload stored next to every vector. Explicit
// fields instead of a free-form map so filters and callers stay honest.
type Metadata struct {
	ChunkID      string `json:"chunk_id"`
	DocID        string `json:"doc_id"`
	Title        string `json:"title"`
	Path         string `json:"path"`
	DocumentType string `json:"document_type"`
	CreatedAt    string `json:"created_at"`
	Section      string `json:"section"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
}

// Entry is one indexed chunk: its vector plus metadata.
type Entry struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
	Meta    Metadata  `json:"meta"`
}

// Hit is an ephemeral search result, higher score is more similar.
type Hit struct {
	ChunkID string   `json:"chunk_id"`
	Score   float64  `json:"score"`
	Meta    Metadata `json:"meta"`
}

// Filters is an exact-match conjunction applied after the nearest-neighbor
// pass. Zero values mean "no constraint".
type Filters struct {
	DocID        string `json:"doc_id,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

// Match reports whether meta satisfies every set filter field.
func (f *Filters) Match(meta Metadata) bool {
	if f == nil {
		return true
	}
	if f.DocID != "" && meta.DocID != f.DocID {
		return false
	}
	if f.DocumentType != "" && meta.DocumentType != f.DocumentType {
		return false
	}
	return true
}

// Store is a similarity-searchable chunk index. Implementations must treat
// DeleteByDoc as a single logical operation and return empty results, not
// errors, when the index is empty or absent.
type Store interface {
	Upsert(ctx context.Context, entries []Entry) error
	DeleteByDoc(ctx context.Context, docID string) error
	Search(ctx context.Context, vector []float32, k int, filters *Filters) ([]Hit, error)
	Get(ctx context.Context, chunkID string) (*Metadata, error)
	Count(ctx context.Context) (int, error)
}

// CandidatePool widens the nearest-neighbor fetch so selective filters do
// not starve the result set.
func CandidatePool(k, total int) int {
	pool := k * 3
	if pool > total {
		pool = total
	}
	return pool
}
