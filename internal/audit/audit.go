package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ToolCall is one audited tool invocation inside an agent run.
type ToolCall struct {
	RunID         string        `json:"run_id"`
	ToolName      string        `json:"tool_name"`
	Arguments     string        `json:"arguments"`
	ResultSummary string        `json:"result_summary"`
	Status        string        `json:"status"` // ok, error
	ErrorMessage  string        `json:"error_message,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Recorder persists tool-call audit records. Recording is best effort and
// must never fail the request it describes.
type Recorder interface {
	RecordToolCall(ctx context.Context, call ToolCall)
}

// Service logs every tool call and optionally persists it to Postgres.
type Service struct {
	db     *pgxpool.Pool // nil means log-only
	logger *slog.Logger
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{
		db:     db,
		logger: slog.Default().With("component", "audit"),
	}
}

func (s *Service) RecordToolCall(ctx context.Context, call ToolCall) {
	s.logger.Info("tool call",
		"run_id", call.RunID,
		"tool", call.ToolName,
		"status", call.Status,
		"duration_ms", call.Duration.Milliseconds(),
		"error", call.ErrorMessage,
	)

	if s.db == nil {
		return
	}

	// Fire and forget: a lost audit row must not fail the request, and
	// the insert must survive the request context being canceled.
	go func() {
		insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		_, err := s.db.Exec(insertCtx,
			`INSERT INTO tool_calls (run_id, tool_name, arguments, result_summary, status, error_message, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			call.RunID, call.ToolName, call.Arguments, call.ResultSummary,
			call.Status, call.ErrorMessage, call.Duration.Milliseconds(),
		)
		if err != nil {
			s.logger.Warn("audit insert failed", "error", err)
		}
	}()
}
