package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// HandlersRegistry maps task types to workers and wraps each handler with
// timing logs.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{mux: asynq.NewServeMux()}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, timed(taskType, handler))
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func timed(taskType string, next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, t)
		logger := slog.Default().With(
			"task", taskType,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if err != nil {
			logger.Error("task failed", "error", err)
		} else {
			logger.Info("task done")
		}
		return err
	})
}
