package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/avolkov/groundkb/internal/ingest"
	"github.com/avolkov/groundkb/internal/queue"
)

// ReindexWorker re-runs the ingestion pipeline over the knowledge base.
type ReindexWorker struct {
	pipeline *ingest.Pipeline
	kbPath   string
}

func NewReindexWorker(pipeline *ingest.Pipeline, kbPath string) *ReindexWorker {
	return &ReindexWorker{pipeline: pipeline, kbPath: kbPath}
}

func (w *ReindexWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.KBReindexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	kbPath := payload.KBPath
	if kbPath == "" {
		kbPath = w.kbPath
	}

	slog.Info("reindexing knowledge base", "kb_path", kbPath)

	result, err := w.pipeline.RunFromPath(ctx, kbPath)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	slog.Info("reindex complete",
		"docs_indexed", result.DocsIndexed,
		"docs_skipped", result.DocsSkipped,
		"chunks_indexed", result.ChunksIndexed,
	)
	return nil
}
