package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/groundkb/internal/audit"
	"github.com/avolkov/groundkb/internal/config"
	"github.com/avolkov/groundkb/internal/llm"
	"github.com/avolkov/groundkb/internal/rag"
)

const finalAnswer = `{
	"answer": "Set CART_CACHE_BYPASS=1 to skip the cart cache.",
	"confidence": 0.85,
	"sources": [{"chunk_id": "doc:cart-service#chunk:2", "doc_title": "Cart Service Runbook", "quote": "Set CART_CACHE_BYPASS=1", "relevance": 0.9}],
	"status": "ok"
}`

// scriptedModel replays a fixed sequence of chat responses.
type scriptedModel struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
}

func (m *scriptedModel) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	if m.calls >= len(m.responses) {
		return nil, errors.New("unscripted model call")
	}
	i := m.calls
	m.calls++
	if m.errs != nil && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return m.responses[i], nil
}

func (m *scriptedModel) Embed(context.Context, llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	return nil, errors.New("not scripted")
}

func (m *scriptedModel) Provider(string) (llm.Provider, error) {
	return nil, errors.New("not scripted")
}

func toolCallResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{Provider: "scripted", Model: "scripted-1", ToolCalls: calls}
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Provider: "scripted", Model: "scripted-1", Content: content}
}

func searchCall(id, query string) llm.ToolCall {
	return llm.ToolCall{
		ID: id,
		Function: llm.FunctionCall{
			Name:      "kb_search",
			Arguments: fmt.Sprintf(`{"query": %q}`, query),
		},
	}
}

// echoTool records invocations and returns a canned payload.
type echoTool struct {
	name    string
	result  string
	err     error
	mu      sync.Mutex
	invoked int
}

func (t *echoTool) Name() string                 { return t.name }
func (t *echoTool) Description() string          { return "test tool" }
func (t *echoTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *echoTool) Invoke(context.Context, json.RawMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invoked++
	if t.err != nil {
		return "", t.err
	}
	return t.result, nil
}

type memRecorder struct {
	mu    sync.Mutex
	calls []audit.ToolCall
}

func (r *memRecorder) RecordToolCall(_ context.Context, call audit.ToolCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func newTestLoop(model *scriptedModel, recorder audit.Recorder, maxCalls int, tools ...Tool) *Loop {
	cfg := config.RAGConfig{RelevanceThreshold: 0.3, MaxToolCalls: maxCalls}
	llmCfg := config.LLMConfig{DefaultModel: "scripted-1"}
	return NewLoop(model, NewRegistry(tools...), recorder, cfg, llmCfg)
}

func TestLoopEmptyRegistry(t *testing.T) {
	model := &scriptedModel{}
	loop := newTestLoop(model, nil, 6)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "anything"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, 0, model.calls)
}

func TestLoopToolRoundTrip(t *testing.T) {
	tool := &echoTool{name: "kb_search", result: `{"results":[{"chunk_id":"doc:cart-service#chunk:2"}]}`}
	model := &scriptedModel{responses: []*llm.ChatResponse{
		toolCallResponse(searchCall("call_1", "cart cache bypass")),
		textResponse(finalAnswer),
	}}
	recorder := &memRecorder{}
	loop := newTestLoop(model, recorder, 6, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "How do I bypass the cart cache?"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusOK, resp.Answer.Status)
	assert.Equal(t, 1, resp.ToolCalls)
	assert.Equal(t, 1, tool.invoked)
	assert.Equal(t, 2, model.calls)

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "kb_search", recorder.calls[0].ToolName)
	assert.Equal(t, "ok", recorder.calls[0].Status)
	assert.Equal(t, resp.RunID, recorder.calls[0].RunID)
}

func TestLoopToolErrorBecomesErrorTurn(t *testing.T) {
	tool := &echoTool{name: "kb_search", err: errors.New("index unavailable")}
	model := &scriptedModel{responses: []*llm.ChatResponse{
		toolCallResponse(searchCall("call_1", "cart")),
		textResponse(finalAnswer),
	}}
	recorder := &memRecorder{}
	loop := newTestLoop(model, recorder, 6, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "cart cache?"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusOK, resp.Answer.Status)

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "error", recorder.calls[0].Status)
	assert.Contains(t, recorder.calls[0].ErrorMessage, "index unavailable")
}

func TestLoopUnknownToolBecomesErrorTurn(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{ID: "call_1", Function: llm.FunctionCall{Name: "time_travel", Arguments: `{}`}}),
		textResponse(finalAnswer),
	}}
	tool := &echoTool{name: "kb_search", result: "{}"}
	loop := newTestLoop(model, nil, 6, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusOK, resp.Answer.Status)
	assert.Equal(t, 0, tool.invoked)
	assert.Equal(t, 1, resp.ToolCalls)
}

func TestLoopBudgetExhaustion(t *testing.T) {
	tool := &echoTool{name: "kb_search", result: "{}"}
	// The model keeps asking for tools forever; budget must stop it.
	var responses []*llm.ChatResponse
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCallResponse(searchCall(fmt.Sprintf("call_%d", i), "loop")))
	}
	model := &scriptedModel{responses: responses}
	loop := newTestLoop(model, nil, 3, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, rag.InsufficientAnswer, resp.Answer.Answer)
	// Exactly budget-many invocations, never budget+1.
	assert.Equal(t, 3, tool.invoked)
	assert.Equal(t, 3, resp.ToolCalls)
}

func TestLoopModelErrorPropagates(t *testing.T) {
	model := &scriptedModel{
		responses: []*llm.ChatResponse{nil},
		errs:      []error{llm.WrapErr("chat", llm.KindUnavailable, errors.New("connection refused"))},
	}
	loop := newTestLoop(model, nil, 6, &echoTool{name: "kb_search", result: "{}"})

	_, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.Error(t, err)
	assert.True(t, llm.IsUnavailable(err))
}

func TestLoopRepairIsUncounted(t *testing.T) {
	tool := &echoTool{name: "kb_search", result: "{}"}
	model := &scriptedModel{responses: []*llm.ChatResponse{
		toolCallResponse(searchCall("call_1", "q")),
		textResponse("not json at all"),
		textResponse(finalAnswer), // repair side-call
	}}
	loop := newTestLoop(model, nil, 2, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Repaired)
	assert.Equal(t, rag.StatusOK, resp.Answer.Status)
	// The repair call does not consume tool budget.
	assert.Equal(t, 1, resp.ToolCalls)
}

func TestLoopBlankQuestion(t *testing.T) {
	model := &scriptedModel{}
	loop := newTestLoop(model, nil, 6, &echoTool{name: "kb_search", result: "{}"})

	resp, err := loop.Run(context.Background(), RunRequest{Question: "   "})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, 0, model.calls)
}

func TestLoopEmptyTurnIsInsufficient(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ChatResponse{
		textResponse("   "),
	}}
	loop := newTestLoop(model, nil, 6, &echoTool{name: "kb_search", result: "{}"})

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	// No repair attempt on an empty turn.
	assert.Equal(t, 1, model.calls)
}

func TestLoopExhaustedBudgetDeniesExtraModelTurn(t *testing.T) {
	tool := &echoTool{name: "kb_search", result: "{}"}
	model := &scriptedModel{responses: []*llm.ChatResponse{
		toolCallResponse(searchCall("call_1", "q")),
		textResponse(finalAnswer),
	}}
	loop := newTestLoop(model, nil, 1, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	// Spending the whole budget ends the run; the model never gets a turn
	// to produce a final answer.
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, 1, tool.invoked)
}

func TestLoopMidBatchBudgetKeepsExecutedTurns(t *testing.T) {
	tool := &echoTool{name: "kb_search", result: "{}"}
	model := &scriptedModel{responses: []*llm.ChatResponse{
		toolCallResponse(searchCall("call_1", "first"), searchCall("call_2", "second")),
	}}
	recorder := &memRecorder{}
	loop := newTestLoop(model, recorder, 1, tool)

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	// The first call of the batch runs and is audited; the second is
	// never invoked.
	assert.Equal(t, 1, tool.invoked)
	assert.Equal(t, 1, resp.ToolCalls)
	require.Len(t, recorder.calls, 1)
}

func TestLoopUnrepairableOutputYieldsInsufficient(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ChatResponse{
		textResponse("prose with no json at all"),
		textResponse("still not json after repair"),
	}}
	loop := newTestLoop(model, nil, 6, &echoTool{name: "kb_search", result: "{}"})

	resp, err := loop.Run(context.Background(), RunRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, rag.InsufficientAnswer, resp.Answer.Answer)
	assert.True(t, resp.Repaired)
	// Original turn plus exactly one repair side-call.
	assert.Equal(t, 2, model.calls)
}
