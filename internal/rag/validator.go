package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avolkov/groundkb/internal/prompt"
)

// ErrContractViolation marks output that still fails the answer contract
// after the repair attempt. Callers downgrade it to the canonical
// insufficient answer instead of surfacing it.
var ErrContractViolation = errors.New("answer violates contract")

const (
	// Caps keep the repair prompt bounded no matter how malformed the
	// original output was.
	repairOutputMax = 4000
	repairSchemaMax = 1500
)

// CallFunc makes one model call with the given prompt and returns the raw
// output. The validator uses it for the single repair attempt.
type CallFunc func(ctx context.Context, input string) (string, error)

// Validator enforces the answer contract on raw model output, with at
// most one repair round-trip.
type Validator struct {
	repair CallFunc
	logger *slog.Logger
}

func NewValidator(repair CallFunc) *Validator {
	return &Validator{
		repair: repair,
		logger: slog.Default().With("component", "validator"),
	}
}

// ExtractJSON returns the substring between the first '{' and the last
// '}', or the whole string when no braces are present. Models like to
// wrap JSON in prose and code fences.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// Validate parses raw output against the contract. On failure it asks the
// model to repair its own output once; a second failure is terminal. The
// repaired return value reports whether the repair path ran and produced
// the answer.
func (v *Validator) Validate(ctx context.Context, raw string) (*Answer, bool, error) {
	ans, parseErr := ParseAnswer(ExtractJSON(raw))
	if parseErr == nil {
		return ans, false, nil
	}

	if v.repair == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrContractViolation, parseErr)
	}

	v.logger.Warn("answer failed validation, attempting repair", "error", parseErr)

	input, err := prompt.MustGet("contract_repair").RenderUser(map[string]string{
		"error":  parseErr.Error(),
		"output": truncate(raw, repairOutputMax),
		"schema": truncate(Schema, repairSchemaMax),
	})
	if err != nil {
		return nil, false, err
	}

	repaired, err := v.repair(ctx, input)
	if err != nil {
		return nil, false, fmt.Errorf("repair call: %w", err)
	}

	ans, err = ParseAnswer(ExtractJSON(repaired))
	if err != nil {
		return nil, false, fmt.Errorf("%w after repair: %s", ErrContractViolation, err)
	}
	return ans, true, nil
}

// Gate downgrades weakly-sourced answers to the canonical insufficient
// response. It only judges "ok" answers that carry at least one source;
// ok-with-no-sources passes through untouched (the quote-grounding check
// reports those separately).
func Gate(ans *Answer, threshold float64) *Answer {
	if ans.Status != StatusOK {
		return Insufficient()
	}
	if len(ans.Sources) == 0 {
		return ans
	}

	var sum float64
	for _, s := range ans.Sources {
		sum += s.Relevance
	}
	if sum/float64(len(ans.Sources)) < threshold {
		return Insufficient()
	}
	return ans
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
