package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist in the catalog.
var ErrNotFound = errors.New("document not found")

// Document is the ingestion bookkeeping record for one source document.
// ContentHash is the sha256 hex digest of the raw text, used to skip
// re-embedding unchanged documents.
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Path         string    `json:"path"`
	DocumentType string    `json:"document_type"`
	ContentHash  string    `json:"content_hash"`
	ChunkCount   int       `json:"chunk_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Catalog tracks which documents are indexed and which chunk ids belong
// to each, so re-ingestion can replace stale generations cleanly.
type Catalog interface {
	GetDocument(ctx context.Context, docID string) (*Document, error)
	SaveDocument(ctx context.Context, doc *Document) error
	ReplaceChunks(ctx context.Context, docID string, chunkIDs []string) error
	ListChunkIDs(ctx context.Context, docID string) ([]string, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, docID string) error
}
