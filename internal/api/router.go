package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/avolkov/groundkb/internal/api/handlers"
	"github.com/avolkov/groundkb/internal/api/middleware"
	"github.com/avolkov/groundkb/internal/app"
	"github.com/avolkov/groundkb/internal/queue"
)

type Router struct {
	mux *chi.Mux
	app *app.App
}

func NewRouter(a *app.App) *Router {
	return &Router{
		mux: chi.NewRouter(),
		app: a,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints
	health := handlers.NewHealthHandler(rt.app.DB, rt.app.Redis, rt.app.Store, rt.app.Cfg.Index.Backend)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	var queueClient *queue.Client
	if rt.app.Redis != nil {
		queueClient = queue.NewClient(rt.app.Cfg.Redis)
	}

	ragH := handlers.NewRAGHandler(rt.app.Ask, rt.app.Pipeline, queueClient, rt.app.Cfg.RAG.KBPath)
	agentH := handlers.NewAgentHandler(rt.app.Loop)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/rag", func(r chi.Router) {
			r.Post("/ask", ragH.Ask)
			r.Get("/search", ragH.Search)
			r.Post("/ingest", ragH.Ingest)
			r.Get("/chunks", ragH.GetChunk)
		})
		r.Route("/agent", func(r chi.Router) {
			r.Post("/ask", agentH.Ask)
		})
	})

	return r
}
