package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkov/groundkb/internal/config"
	"github.com/avolkov/groundkb/internal/llm"
	"github.com/avolkov/groundkb/internal/prompt"
	"github.com/avolkov/groundkb/internal/vectorstore"
	"github.com/avolkov/groundkb/pkg/tokenizer"
)

// Service is the direct (single-shot) answer path: retrieve once, ask the
// model once, validate, gate.
type Service struct {
	retriever *Retriever
	gateway   llm.Gateway
	cfg       config.RAGConfig
	llmCfg    config.LLMConfig
	logger    *slog.Logger
}

func NewService(retriever *Retriever, gateway llm.Gateway, cfg config.RAGConfig, llmCfg config.LLMConfig) *Service {
	return &Service{
		retriever: retriever,
		gateway:   gateway,
		cfg:       cfg,
		llmCfg:    llmCfg,
		logger:    slog.Default().With("component", "rag"),
	}
}

type AskRequest struct {
	Question string               `json:"question"`
	K        int                  `json:"k,omitempty"`
	Provider string               `json:"provider,omitempty"`
	Model    string               `json:"model,omitempty"`
	Filters  *vectorstore.Filters `json:"filters,omitempty"`
}

type AskResponse struct {
	Answer    *Answer `json:"answer"`
	Retrieved int     `json:"retrieved"`
	Repaired  bool    `json:"repaired"`
	Model     string  `json:"model,omitempty"`
	LatencyMs int64   `json:"latency_ms"`
}

// Retriever exposes the service's retriever for search endpoints.
func (s *Service) Retriever() *Retriever {
	return s.retriever
}

func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	start := time.Now()

	hits, err := s.retriever.Retrieve(ctx, req.Question, req.K, req.Filters)
	if err != nil {
		return nil, err
	}

	// Nothing retrieved: answer without spending a model call.
	if len(hits) == 0 {
		return &AskResponse{
			Answer:    Insufficient(),
			Retrieved: 0,
			LatencyMs: time.Since(start).Milliseconds(),
		}, nil
	}

	spec := prompt.MustGet("rag_answer")
	user, err := spec.RenderUser(map[string]string{
		"schema":   Schema,
		"context":  BuildContext(hits),
		"question": req.Question,
	})
	if err != nil {
		return nil, err
	}

	chatReq := llm.ChatRequest{
		Provider: req.Provider,
		Model:    s.model(req.Model),
		Messages: []llm.Message{
			{Role: "system", Content: spec.SystemTemplate},
			{Role: "user", Content: user},
		},
	}
	s.logger.Debug("prompt built",
		"retrieved", len(hits),
		"approx_tokens", tokenizer.CountMessageTokens([]string{spec.SystemTemplate, user}))

	resp, err := s.gateway.Chat(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("answer generation: %w", err)
	}

	validator := NewValidator(s.repairFunc(req))
	ans, repaired, err := validator.Validate(ctx, resp.Content)
	if err != nil {
		// Output that never conforms is an insufficient answer, not a
		// request failure. Collaborator errors (e.g. provider down during
		// the repair call) still propagate.
		if !errors.Is(err, ErrContractViolation) {
			return nil, err
		}
		s.logger.Warn("answer unrecoverable after repair", "error", err)
		return &AskResponse{
			Answer:    Insufficient(),
			Retrieved: len(hits),
			Repaired:  true,
			Model:     resp.Model,
			LatencyMs: time.Since(start).Milliseconds(),
		}, nil
	}

	gated := Gate(ans, s.cfg.RelevanceThreshold)
	if gated.Status != ans.Status {
		s.logger.Info("answer downgraded by relevance gate",
			"sources", len(ans.Sources), "threshold", s.cfg.RelevanceThreshold)
	}

	if gated.Status == StatusOK {
		checks := VerifyQuotes(gated, hits)
		if n := UnverifiedCount(checks); n > 0 {
			s.logger.Warn("answer cites quotes not found in retrieved chunks",
				"unverified", n, "sources", len(gated.Sources))
		}
	}

	return &AskResponse{
		Answer:    gated,
		Retrieved: len(hits),
		Repaired:  repaired,
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// repairFunc gives the validator its one uncounted repair side-call.
func (s *Service) repairFunc(req AskRequest) CallFunc {
	return func(ctx context.Context, input string) (string, error) {
		resp, err := s.gateway.Chat(ctx, llm.ChatRequest{
			Provider: req.Provider,
			Model:    s.model(req.Model),
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

func (s *Service) model(override string) string {
	if override != "" {
		return override
	}
	return s.llmCfg.DefaultModel
}
