package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRaw = `{
	"answer": "Redis is an in-memory data structure store.",
	"confidence": 0.9,
	"sources": [
		{"chunk_id": "doc:redis#chunk:0", "doc_title": "Redis Guide", "quote": "in-memory data structure store", "relevance": 0.8}
	],
	"status": "ok"
}`

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("Here you go:\n```json\n{\"a\":1}\n```\nHope that helps!"))
	assert.Equal(t, `{"a":{"b":2}}`, ExtractJSON(`{"a":{"b":2}}`))
	// No braces at all: hand back the input unchanged.
	assert.Equal(t, "no json here", ExtractJSON("no json here"))
}

func TestParseAnswerValid(t *testing.T) {
	ans, err := ParseAnswer(validRaw)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, ans.Status)
	assert.InDelta(t, 0.9, ans.Confidence, 1e-9)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "doc:redis#chunk:0", ans.Sources[0].ChunkID)
}

func TestParseAnswerRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"missing answer", `{"confidence":0.5,"sources":[],"status":"ok"}`},
		{"missing confidence", `{"answer":"x","sources":[],"status":"ok"}`},
		{"missing sources", `{"answer":"x","confidence":0.5,"status":"ok"}`},
		{"missing status", `{"answer":"x","confidence":0.5,"sources":[]}`},
		{"confidence too high", `{"answer":"x","confidence":1.5,"sources":[],"status":"ok"}`},
		{"confidence negative", `{"answer":"x","confidence":-0.1,"sources":[],"status":"ok"}`},
		{"unknown status", `{"answer":"x","confidence":0.5,"sources":[],"status":"maybe"}`},
		{"unknown field", `{"answer":"x","confidence":0.5,"sources":[],"status":"ok","extra":true}`},
		{"source missing quote", `{"answer":"x","confidence":0.5,"sources":[{"chunk_id":"c","doc_title":"t","relevance":0.5}],"status":"ok"}`},
		{"source relevance out of range", `{"answer":"x","confidence":0.5,"sources":[{"chunk_id":"c","doc_title":"t","quote":"q","relevance":2}],"status":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnswer(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestValidatorAcceptsValidWithoutRepair(t *testing.T) {
	calls := 0
	v := NewValidator(func(context.Context, string) (string, error) {
		calls++
		return validRaw, nil
	})

	ans, repaired, err := v.Validate(context.Background(), "Sure! "+validRaw+" Done.")
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, StatusOK, ans.Status)
	assert.Equal(t, 0, calls)
}

func TestValidatorRepairsOnce(t *testing.T) {
	calls := 0
	var seenPrompt string
	v := NewValidator(func(_ context.Context, input string) (string, error) {
		calls++
		seenPrompt = input
		return validRaw, nil
	})

	ans, repaired, err := v.Validate(context.Background(), `{"answer":"broken"}`)
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, StatusOK, ans.Status)
	assert.Equal(t, 1, calls)
	assert.Contains(t, seenPrompt, "missing field: confidence")
	assert.Contains(t, seenPrompt, `{"answer":"broken"}`)
}

func TestValidatorSecondFailureIsTerminal(t *testing.T) {
	calls := 0
	v := NewValidator(func(context.Context, string) (string, error) {
		calls++
		return "still not json", nil
	})

	_, _, err := v.Validate(context.Background(), "garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after repair")
	// Exactly one repair attempt, never two.
	assert.Equal(t, 1, calls)
}

func TestValidatorRepairCallError(t *testing.T) {
	v := NewValidator(func(context.Context, string) (string, error) {
		return "", errors.New("provider down")
	})

	_, _, err := v.Validate(context.Background(), "garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repair call")
}

func TestValidatorRepairPromptTruncatesLongOutput(t *testing.T) {
	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'x'
	}

	var seenPrompt string
	v := NewValidator(func(_ context.Context, input string) (string, error) {
		seenPrompt = input
		return validRaw, nil
	})

	_, _, err := v.Validate(context.Background(), string(long))
	require.NoError(t, err)
	assert.NotContains(t, seenPrompt, string(long))
	assert.Contains(t, seenPrompt, string(long[:repairOutputMax]))
}

func TestGate(t *testing.T) {
	ok := &Answer{
		Answer:     "yes",
		Confidence: 0.8,
		Status:     StatusOK,
		Sources: []Source{
			{ChunkID: "a", DocTitle: "A", Quote: "q", Relevance: 0.5},
			{ChunkID: "b", DocTitle: "B", Quote: "q", Relevance: 0.3},
		},
	}
	assert.Equal(t, ok, Gate(ok, 0.3))

	// Mean relevance 0.4 below a 0.5 threshold: downgrade.
	gated := Gate(ok, 0.5)
	assert.Equal(t, StatusInsufficient, gated.Status)
	assert.Equal(t, InsufficientAnswer, gated.Answer)

	// The gate only judges answers that carry sources; "ok" with none
	// passes through unchanged.
	noSources := &Answer{Answer: "yes", Confidence: 0.9, Status: StatusOK, Sources: []Source{}}
	assert.Equal(t, noSources, Gate(noSources, 0.9))

	// Insufficient answers are normalized to the canonical text.
	odd := &Answer{Answer: "dunno", Confidence: 0.2, Status: StatusInsufficient, Sources: []Source{}}
	assert.Equal(t, InsufficientAnswer, Gate(odd, 0.3).Answer)
}

func TestValidatorTerminalFailureIsContractViolation(t *testing.T) {
	v := NewValidator(func(context.Context, string) (string, error) {
		return "still not json", nil
	})

	_, _, err := v.Validate(context.Background(), "garbage")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestValidatorRepairCallErrorIsNotContractViolation(t *testing.T) {
	v := NewValidator(func(context.Context, string) (string, error) {
		return "", errors.New("provider down")
	})

	_, _, err := v.Validate(context.Background(), "garbage")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrContractViolation)
}
