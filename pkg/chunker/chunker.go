package chunker

import (
	"fmt"
	"strings"
)

// Options controls the sliding window.
type Options struct {
	ChunkSize int // window length in characters
	Overlap   int // characters shared between consecutive windows
}

func DefaultOptions() Options {
	return Options{
		ChunkSize: 512,
		Overlap:   64,
	}
}

// Source carries the provenance attached to every chunk of a document.
type Source struct {
	DocID        string
	Title        string
	Path         string
	DocumentType string
	CreatedAt    string
	Section      string
}

// Meta is one chunk with its identity and provenance.
type Meta struct {
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

// ID builds the deterministic chunk identifier for a document position.
func ID(docID string, index int) string {
	return fmt.Sprintf("doc:%s#chunk:%d", docID, index)
}

// Chunk splits text into overlapping windows of opts.ChunkSize characters.
// Windows that trim to nothing advance the cursor without taking an index
// slot, so indices are always a contiguous 0..n-1 sequence. The output is
// fully determined by (text, opts), which keeps re-ingestion reproducible.
func Chunk(text string, src Source, opts Options) []Meta {
	if text == "" || src.DocID == "" {
		return nil
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.ChunkSize {
		// Guarantee forward progress.
		opts.Overlap = opts.ChunkSize - 1
	}

	runes := []rune(text)
	step := opts.ChunkSize - opts.Overlap
	var chunks []Meta
	index := 0

	for start := 0; start < len(runes); start += step {
		end := start + opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece == "" {
			continue
		}
		chunks = append(chunks, Meta{
			ChunkID:      ID(src.DocID, index),
			DocID:        src.DocID,
			Title:        src.Title,
			Path:         src.Path,
			DocumentType: src.DocumentType,
			CreatedAt:    src.CreatedAt,
			Section:      src.Section,
			ChunkIndex:   index,
			Text:         piece,
		})
		index++
	}

	return chunks
}
