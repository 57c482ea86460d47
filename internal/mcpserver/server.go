package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/avolkov/groundkb/internal/ingest"
	"github.com/avolkov/groundkb/internal/rag"
	"github.com/avolkov/groundkb/internal/vectorstore"
)

// Server exposes the knowledge base over MCP stdio so external agent
// hosts can search, fetch chunks, and trigger ingestion.
type Server struct {
	server *mcp.Server
}

type Config struct {
	Retriever *rag.Retriever
	Pipeline  *ingest.Pipeline
	KBPath    string
}

func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "groundkb",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kb_search",
		Description: "Search the knowledge base for chunks relevant to a query. Returns chunk ids, titles, scores and text previews.",
	}, makeSearchHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kb_get_chunk",
		Description: "Fetch the full text and metadata of a knowledge base chunk by its chunk_id.",
	}, makeGetChunkHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kb_ingest",
		Description: "Re-index the knowledge base directory. Unchanged documents are skipped.",
	}, makeIngestHandler(cfg.Pipeline, cfg.KBPath))

	return &Server{server: server}
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	K     int    `json:"k,omitempty" jsonschema:"number of chunks to return (default 5)"`
}

type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

type SearchOutput struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

func makeSearchHandler(retriever *rag.Retriever) func(
	context.Context, *mcp.CallToolRequest, SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		if input.Query == "" {
			return nil, SearchOutput{}, errors.New("query is required")
		}

		hits, err := retriever.Retrieve(ctx, input.Query, input.K, nil)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, len(hits))
		for i, h := range hits {
			results[i] = SearchResult{
				ChunkID: h.ChunkID,
				Title:   h.Meta.Title,
				Score:   h.Score,
				Text:    h.Meta.Text,
			}
		}
		return nil, SearchOutput{Results: results, Count: len(results)}, nil
	}
}

type GetChunkInput struct {
	ChunkID string `json:"chunk_id" jsonschema:"chunk id, e.g. doc:redis-caching#chunk:0"`
}

type GetChunkOutput struct {
	Chunk *vectorstore.Metadata `json:"chunk"`
}

func makeGetChunkHandler(retriever *rag.Retriever) func(
	context.Context, *mcp.CallToolRequest, GetChunkInput,
) (*mcp.CallToolResult, GetChunkOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetChunkInput) (
		*mcp.CallToolResult, GetChunkOutput, error,
	) {
		if input.ChunkID == "" {
			return nil, GetChunkOutput{}, errors.New("chunk_id is required")
		}

		meta, err := retriever.GetChunk(ctx, input.ChunkID)
		if err != nil {
			if errors.Is(err, vectorstore.ErrChunkNotFound) {
				return nil, GetChunkOutput{}, fmt.Errorf("chunk %s not found", input.ChunkID)
			}
			return nil, GetChunkOutput{}, err
		}
		return nil, GetChunkOutput{Chunk: meta}, nil
	}
}

type IngestInput struct {
	KBPath string `json:"kb_path,omitempty" jsonschema:"knowledge base directory (defaults to the configured path)"`
}

type IngestOutput struct {
	DocsIndexed   int `json:"docs_indexed"`
	DocsSkipped   int `json:"docs_skipped"`
	ChunksIndexed int `json:"chunks_indexed"`
}

func makeIngestHandler(pipeline *ingest.Pipeline, defaultPath string) func(
	context.Context, *mcp.CallToolRequest, IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
		*mcp.CallToolResult, IngestOutput, error,
	) {
		kbPath := input.KBPath
		if kbPath == "" {
			kbPath = defaultPath
		}

		result, err := pipeline.RunFromPath(ctx, kbPath)
		if err != nil {
			return nil, IngestOutput{}, fmt.Errorf("ingest failed: %w", err)
		}
		return nil, IngestOutput{
			DocsIndexed:   result.DocsIndexed,
			DocsSkipped:   result.DocsSkipped,
			ChunksIndexed: result.ChunksIndexed,
		}, nil
	}
}
