package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avolkov/groundkb/internal/rag"
	"github.com/avolkov/groundkb/internal/vectorstore"
	"github.com/avolkov/groundkb/pkg/textnorm"
)

// KBSearchTool exposes similarity search over the chunk index.
type KBSearchTool struct {
	retriever *rag.Retriever
}

func NewKBSearchTool(r *rag.Retriever) *KBSearchTool {
	return &KBSearchTool{retriever: r}
}

func (t *KBSearchTool) Name() string { return "kb_search" }

func (t *KBSearchTool) Description() string {
	return "Search the knowledge base for chunks relevant to a query. Returns chunk ids, titles, scores and text."
}

func (t *KBSearchTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"k": {"type": "integer", "description": "Number of chunks to return", "default": 5}
		},
		"required": ["query"]
	}`)
}

type kbSearchArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type kbSearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

func (t *KBSearchTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in kbSearchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse kb_search arguments: %w", err)
	}
	if in.Query == "" {
		return "", errors.New("kb_search requires a query")
	}

	hits, err := t.retriever.Retrieve(ctx, in.Query, in.K, nil)
	if err != nil {
		return "", err
	}

	results := make([]kbSearchResult, len(hits))
	for i, h := range hits {
		results[i] = kbSearchResult{
			ChunkID: h.ChunkID,
			Title:   h.Meta.Title,
			Score:   h.Score,
			Text:    textnorm.TruncatePreview(h.Meta.Text, 600),
		}
	}
	out, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// KBGetChunkTool fetches one chunk's full text by id.
type KBGetChunkTool struct {
	retriever *rag.Retriever
}

func NewKBGetChunkTool(r *rag.Retriever) *KBGetChunkTool {
	return &KBGetChunkTool{retriever: r}
}

func (t *KBGetChunkTool) Name() string { return "kb_get_chunk" }

func (t *KBGetChunkTool) Description() string {
	return "Fetch the full text and metadata of a chunk by its chunk_id."
}

func (t *KBGetChunkTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"chunk_id": {"type": "string", "description": "Chunk id, e.g. doc:redis-caching#chunk:0"}
		},
		"required": ["chunk_id"]
	}`)
}

type kbGetChunkArgs struct {
	ChunkID string `json:"chunk_id"`
}

func (t *KBGetChunkTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in kbGetChunkArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse kb_get_chunk arguments: %w", err)
	}
	if in.ChunkID == "" {
		return "", errors.New("kb_get_chunk requires a chunk_id")
	}

	meta, err := t.retriever.GetChunk(ctx, in.ChunkID)
	if err != nil {
		if errors.Is(err, vectorstore.ErrChunkNotFound) {
			return "", fmt.Errorf("chunk %s not found", in.ChunkID)
		}
		return "", err
	}

	out, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WebFetchTool fetches text content from a URL, capped at 10 KB.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch text content from a URL when the knowledge base cites an external source."
}

func (t *WebFetchTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "HTTP or HTTPS URL to fetch"}
		},
		"required": ["url"]
	}`)
}

type webFetchArgs struct {
	URL string `json:"url"`
}

func (t *WebFetchTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in webFetchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse web_fetch arguments: %w", err)
	}

	url := strings.TrimSpace(in.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("web_fetch requires an http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10_000))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
