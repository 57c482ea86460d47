package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/avolkov/groundkb/internal/vectorstore"
)

type HealthHandler struct {
	db      *pgxpool.Pool
	redis   *redis.Client
	store   vectorstore.Store
	backend string
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client, store vectorstore.Store, backend string) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, store: store, backend: backend}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz probes every configured backend. The index check doubles as an
// inventory report so operators can see an empty index at a glance.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.store != nil {
		count, err := h.store.Count(ctx)
		if err != nil {
			checks["index"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			checks["index"] = fmt.Sprintf("ok (%s, %d chunks)", h.backend, count)
		}
	}

	status := http.StatusOK
	label := "ok"
	if !ready {
		status = http.StatusServiceUnavailable
		label = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{"status": label, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
