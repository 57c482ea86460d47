package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/avolkov/groundkb/internal/agent"
	"github.com/avolkov/groundkb/internal/audit"
	"github.com/avolkov/groundkb/internal/cache"
	"github.com/avolkov/groundkb/internal/catalog"
	"github.com/avolkov/groundkb/internal/config"
	"github.com/avolkov/groundkb/internal/database"
	"github.com/avolkov/groundkb/internal/embedding"
	"github.com/avolkov/groundkb/internal/ingest"
	"github.com/avolkov/groundkb/internal/llm"
	"github.com/avolkov/groundkb/internal/rag"
	"github.com/avolkov/groundkb/internal/vectorstore"
	"github.com/avolkov/groundkb/pkg/chunker"
)

// Options control which optional backends the process connects to.
type Options struct {
	// EnableRedis connects the embedding cache. The CLI runs without it;
	// the API and worker fail fast when Redis is down.
	EnableRedis bool
}

// App wires the service graph from config. One App per process.
type App struct {
	Cfg       *config.Config
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Store     vectorstore.Store
	Catalog   catalog.Catalog
	Gateway   llm.Gateway
	Embedder  *embedding.Service
	Retriever *rag.Retriever
	Ask       *rag.Service
	Pipeline  *ingest.Pipeline
	Loop      *agent.Loop
	Audit     *audit.Service

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Cfg: cfg}

	if cfg.Database.URL != "" {
		db, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
			a.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	if opts.EnableRedis {
		rdb, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	store, err := a.buildStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	cat, err := a.buildCatalog()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = cat

	a.Gateway = llm.NewGateway(cfg.LLM)
	a.Embedder = embedding.NewService(a.Gateway, cfg.RAG.EmbeddingModel)
	if a.Redis != nil {
		a.Embedder.WithCache(cache.NewCache(a.Redis))
	}

	a.Retriever = rag.NewRetriever(a.Embedder, a.Store, cfg.RAG.DefaultK)
	a.Ask = rag.NewService(a.Retriever, a.Gateway, cfg.RAG, cfg.LLM)
	a.Pipeline = ingest.NewPipeline(a.Catalog, a.Store, a.Embedder, chunker.Options{
		ChunkSize: cfg.RAG.ChunkSize,
		Overlap:   cfg.RAG.ChunkOverlap,
	})

	a.Audit = audit.NewService(a.DB)
	registry := agent.NewRegistry(
		agent.NewKBSearchTool(a.Retriever),
		agent.NewKBGetChunkTool(a.Retriever),
		agent.NewWebFetchTool(),
	)
	a.Loop = agent.NewLoop(a.Gateway, registry, a.Audit, cfg.RAG, cfg.LLM)

	return a, nil
}

func (a *App) buildStore() (vectorstore.Store, error) {
	switch a.Cfg.Index.Backend {
	case "pgvector":
		if a.DB == nil {
			return nil, fmt.Errorf("pgvector backend requires DATABASE_URL")
		}
		return vectorstore.NewPgVectorStore(a.DB), nil
	case "qdrant":
		s, err := vectorstore.NewQdrantStore(
			a.Cfg.Index.QdrantHost, a.Cfg.Index.QdrantPort,
			a.Cfg.Index.Collection, a.Cfg.Index.Dim,
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "", "disk":
		s := vectorstore.NewDiskStore(a.Cfg.Index.Dir)
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", a.Cfg.Index.Backend)
	}
}

func (a *App) buildCatalog() (catalog.Catalog, error) {
	if a.DB != nil {
		return catalog.NewPostgresCatalog(a.DB), nil
	}
	c, err := catalog.NewSQLiteCatalog(a.Cfg.Index.Dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// Close releases backends in reverse wiring order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]() //nolint:errcheck
	}
	a.closers = nil
}
