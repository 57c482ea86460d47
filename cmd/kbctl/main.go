// Package main provides the kbctl CLI for managing and querying the
// knowledge base without running the API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/avolkov/groundkb/internal/app"
	"github.com/avolkov/groundkb/internal/config"
	"github.com/avolkov/groundkb/internal/mcpserver"
	"github.com/avolkov/groundkb/internal/rag"
	"github.com/avolkov/groundkb/internal/vectorstore"
)

var rootCmd = &cobra.Command{
	Use:   "kbctl",
	Short: "Knowledge base management and query tool",
	Long:  "CLI for indexing documents, searching chunks and asking grounded questions against the local knowledge base",
}

var (
	flagK       int
	flagDocID   string
	flagDocType string
	flagKBPath  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index the knowledge base directory",
	Long: `Chunks, embeds and indexes every document under the knowledge base
directory. Documents whose content is unchanged since the last run are
skipped.

Environment variables:
  KB_PATH         Knowledge base directory (default: data)
  INDEX_BACKEND   disk, pgvector or qdrant (default: disk)
  OPENAI_API_KEY  API key for embeddings (required)`,
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index for chunks relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and get a source-grounded answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base over MCP stdio",
	RunE:  runMCP,
}

func init() {
	ingestCmd.Flags().StringVar(&flagKBPath, "kb-path", "", "override the knowledge base directory")
	searchCmd.Flags().IntVar(&flagK, "k", 0, "number of chunks to return")
	searchCmd.Flags().StringVar(&flagDocID, "doc-id", "", "restrict to a single document")
	searchCmd.Flags().StringVar(&flagDocType, "doc-type", "", "restrict to a document type")
	askCmd.Flags().IntVar(&flagK, "k", 0, "number of chunks to retrieve")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	_ = godotenv.Load()

	// Keep stdout clean for command output; slog goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildApp(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, app.Options{EnableRedis: false})
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, cfg, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	kbPath := flagKBPath
	if kbPath == "" {
		kbPath = cfg.RAG.KBPath
	}

	fmt.Printf("Indexing %s...\n", kbPath)
	result, err := a.Pipeline.RunFromPath(ctx, kbPath)
	if err != nil {
		return err
	}

	fmt.Printf("Done in %s: %d documents indexed, %d unchanged, %d chunks\n",
		result.Duration.Round(time.Millisecond), result.DocsIndexed, result.DocsSkipped, result.ChunksIndexed)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	query := strings.Join(args, " ")

	a, _, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var filters *vectorstore.Filters
	if flagDocID != "" || flagDocType != "" {
		filters = &vectorstore.Filters{DocID: flagDocID, DocumentType: flagDocType}
	}

	hits, err := a.Retriever.Retrieve(ctx, query, flagK, filters)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for _, h := range hits {
		fmt.Printf("%.4f  %s  %s\n", h.Score, h.ChunkID, h.Meta.Title)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	question := strings.Join(args, " ")

	a, _, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Ask.Ask(ctx, rag.AskRequest{Question: question, K: flagK})
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer.Answer)
	if resp.Answer.Status == rag.StatusOK {
		fmt.Printf("\nConfidence: %.2f\n", resp.Answer.Confidence)
		for _, s := range resp.Answer.Sources {
			fmt.Printf("  [%s] %s (%.2f)\n", s.ChunkID, s.DocTitle, s.Relevance)
		}
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, cfg, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.NewServer(&mcpserver.Config{
		Retriever: a.Retriever,
		Pipeline:  a.Pipeline,
		KBPath:    cfg.RAG.KBPath,
	})
	return srv.Run(ctx)
}
