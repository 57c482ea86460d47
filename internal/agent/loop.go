package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/groundkb/internal/audit"
	"github.com/avolkov/groundkb/internal/config"
	"github.com/avolkov/groundkb/internal/llm"
	"github.com/avolkov/groundkb/internal/prompt"
	"github.com/avolkov/groundkb/internal/rag"
	"github.com/avolkov/groundkb/pkg/textnorm"
)

// Loop is the tool-calling answer path: the model decides which knowledge
// base lookups to make, bounded by a per-request tool budget.
type Loop struct {
	gateway  llm.Gateway
	registry *Registry
	recorder audit.Recorder
	cfg      config.RAGConfig
	llmCfg   config.LLMConfig
	logger   *slog.Logger
}

func NewLoop(gateway llm.Gateway, registry *Registry, recorder audit.Recorder, cfg config.RAGConfig, llmCfg config.LLMConfig) *Loop {
	return &Loop{
		gateway:  gateway,
		registry: registry,
		recorder: recorder,
		cfg:      cfg,
		llmCfg:   llmCfg,
		logger:   slog.Default().With("component", "agent"),
	}
}

type RunRequest struct {
	Question string `json:"question"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type RunResponse struct {
	RunID     string      `json:"run_id"`
	Answer    *rag.Answer `json:"answer"`
	ToolCalls int         `json:"tool_calls"`
	Repaired  bool        `json:"repaired"`
	Model     string      `json:"model,omitempty"`
	LatencyMs int64       `json:"latency_ms"`
}

// Run executes the agent loop. Model-call errors propagate; tool errors
// are fed back to the model as error turns; running out of tool budget or
// output that stays malformed after repair yields the canonical
// insufficient answer.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	start := time.Now()
	runID := uuid.NewString()

	resp := &RunResponse{RunID: runID}
	insufficient := func() (*RunResponse, error) {
		resp.Answer = rag.Insufficient()
		resp.LatencyMs = time.Since(start).Milliseconds()
		return resp, nil
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return insufficient()
	}
	// No tools means the model has no way to ground an answer.
	if l.registry.Len() == 0 {
		return insufficient()
	}

	maxCalls := l.cfg.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = 6
	}

	spec := prompt.MustGet("rag_answer_agent")
	user, err := spec.RenderUser(map[string]string{
		"schema":   rag.Schema,
		"question": question,
	})
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: "system", Content: spec.SystemTemplate},
		{Role: "user", Content: user},
	}
	defs := l.registry.Definitions()
	model := l.model(req.Model)

	for {
		// The model only gets another turn while budget remains; an
		// exhausted budget ends the run with the canonical answer.
		if resp.ToolCalls >= maxCalls {
			l.logger.Warn("tool budget exhausted", "run_id", runID, "budget", maxCalls)
			return insufficient()
		}

		chatResp, err := l.gateway.Chat(ctx, llm.ChatRequest{
			Provider: req.Provider,
			Model:    model,
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return nil, fmt.Errorf("agent model call: %w", err)
		}
		resp.Model = chatResp.Model

		if len(chatResp.ToolCalls) == 0 {
			// An empty turn with no tool calls means the model gave up.
			if strings.TrimSpace(chatResp.Content) == "" {
				l.logger.Warn("model returned an empty turn", "run_id", runID)
				return insufficient()
			}
			validator := rag.NewValidator(l.repairFunc(req.Provider, model))
			ans, repaired, err := validator.Validate(ctx, chatResp.Content)
			if err != nil {
				if !errors.Is(err, rag.ErrContractViolation) {
					return nil, err
				}
				l.logger.Warn("answer unrecoverable after repair", "run_id", runID, "error", err)
				resp.Repaired = true
				return insufficient()
			}
			resp.Answer = rag.Gate(ans, l.cfg.RelevanceThreshold)
			resp.Repaired = repaired
			resp.LatencyMs = time.Since(start).Milliseconds()
			return resp, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   chatResp.Content,
			ToolCalls: chatResp.ToolCalls,
		})

		for _, tc := range chatResp.ToolCalls {
			// A batch can overrun the remaining budget; stop invoking but
			// keep the tool turns already executed.
			if resp.ToolCalls >= maxCalls {
				break
			}
			resp.ToolCalls++

			result := l.invokeTool(ctx, runID, tc)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
}

// invokeTool runs one tool call and always returns content for the tool
// turn; failures become {"error": ...} so the model can react.
func (l *Loop) invokeTool(ctx context.Context, runID string, tc llm.ToolCall) string {
	started := time.Now()
	call := audit.ToolCall{
		RunID:     runID,
		ToolName:  tc.Function.Name,
		Arguments: tc.Function.Arguments,
	}

	var result string
	tool, err := l.registry.Get(tc.Function.Name)
	if err == nil {
		result, err = tool.Invoke(ctx, json.RawMessage(tc.Function.Arguments))
	}

	call.Duration = time.Since(started)
	if err != nil {
		call.Status = "error"
		call.ErrorMessage = err.Error()
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		result = string(payload)
	} else {
		call.Status = "ok"
		call.ResultSummary = textnorm.TruncatePreview(result, 200)
	}

	if l.recorder != nil {
		l.recorder.RecordToolCall(ctx, call)
	}
	return result
}

func (l *Loop) repairFunc(provider, model string) rag.CallFunc {
	return func(ctx context.Context, input string) (string, error) {
		resp, err := l.gateway.Chat(ctx, llm.ChatRequest{
			Provider: provider,
			Model:    model,
			Messages: []llm.Message{
				{Role: "system", Content: prompt.MustGet("contract_repair").SystemTemplate},
				{Role: "user", Content: input},
			},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

func (l *Loop) model(override string) string {
	if override != "" {
		return override
	}
	return l.llmCfg.DefaultModel
}
