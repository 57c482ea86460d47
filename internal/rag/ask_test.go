package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/groundkb/internal/config"
	"github.com/avolkov/groundkb/internal/llm"
	"github.com/avolkov/groundkb/internal/vectorstore"
)

// scriptedGateway returns canned chat responses in order and embeds text
// deterministically.
type scriptedGateway struct {
	responses []string
	chatCalls int
	prompts   []string
}

func (g *scriptedGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if g.chatCalls >= len(g.responses) {
		return nil, llm.WrapErr("scripted chat", llm.KindProtocol, assertNoMoreCalls)
	}
	for _, m := range req.Messages {
		if m.Role == "user" {
			g.prompts = append(g.prompts, m.Content)
		}
	}
	content := g.responses[g.chatCalls]
	g.chatCalls++
	return &llm.ChatResponse{Provider: "scripted", Model: "scripted-1", Content: content}, nil
}

func (g *scriptedGateway) Embed(_ context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	texts := req.Input
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := []float32{0, 0, 0}
		if strings.Contains(strings.ToLower(text), "redis") {
			vec[0] = 1
		}
		if strings.Contains(strings.ToLower(text), "cart") {
			vec[1] = 1
		}
		if strings.Contains(strings.ToLower(text), "postgres") {
			vec[2] = 1
		}
		out[i] = vec
	}
	return &llm.EmbeddingResponse{Provider: "scripted", Embeddings: out}, nil
}

func (g *scriptedGateway) Provider(string) (llm.Provider, error) {
	return nil, llm.WrapErr("scripted provider", llm.KindProtocol, assertNoMoreCalls)
}

var assertNoMoreCalls = errUnscripted{}

type errUnscripted struct{}

func (errUnscripted) Error() string { return "unscripted call" }

type gatewayEmbedder struct {
	gw llm.Gateway
}

func (e gatewayEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.gw.Embed(ctx, llm.EmbeddingRequest{Input: texts})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (e gatewayEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func newTestService(t *testing.T, responses ...string) (*Service, *scriptedGateway, *vectorstore.DiskStore) {
	t.Helper()

	gw := &scriptedGateway{responses: responses}
	store := vectorstore.NewDiskStore(t.TempDir())
	t.Cleanup(func() { store.Close() })

	retriever := NewRetriever(gatewayEmbedder{gw: gw}, store, 5)
	cfg := config.RAGConfig{DefaultK: 5, RelevanceThreshold: 0.3}
	llmCfg := config.LLMConfig{DefaultModel: "scripted-1"}
	return NewService(retriever, gw, cfg, llmCfg), gw, store
}

func seedStore(t *testing.T, store *vectorstore.DiskStore) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), []vectorstore.Entry{
		{
			ChunkID: "doc:redis-caching#chunk:0",
			Vector:  []float32{1, 0, 0},
			Meta: vectorstore.Metadata{
				ChunkID: "doc:redis-caching#chunk:0",
				DocID:   "redis-caching",
				Title:   "Redis Caching Guide",
				Text:    "Redis is an in-memory data structure store used as a cache.",
			},
		},
		{
			ChunkID: "doc:cart-service#chunk:2",
			Vector:  []float32{0, 1, 0},
			Meta: vectorstore.Metadata{
				ChunkID: "doc:cart-service#chunk:2",
				DocID:   "cart-service",
				Title:   "Cart Service Runbook",
				Text:    "Set CART_CACHE_BYPASS=1 to skip the cart cache during incidents.",
			},
		},
	}))
}

func TestAskHappyPath(t *testing.T) {
	svc, gw, store := newTestService(t, `{
		"answer": "Redis is an in-memory data structure store used as a cache.",
		"confidence": 0.9,
		"sources": [{"chunk_id": "doc:redis-caching#chunk:0", "doc_title": "Redis Caching Guide", "quote": "in-memory data structure store", "relevance": 0.9}],
		"status": "ok"
	}`)
	seedStore(t, store)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "What is Redis?"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Answer.Status)
	assert.False(t, resp.Repaired)
	assert.Equal(t, 2, resp.Retrieved)
	assert.Equal(t, 1, gw.chatCalls)

	// The prompt carries the retrieved chunks in citation format.
	require.Len(t, gw.prompts, 1)
	assert.Contains(t, gw.prompts[0], "[doc:redis-caching#chunk:0] Redis Caching Guide")
	assert.Contains(t, gw.prompts[0], "What is Redis?")
}

func TestAskEmptyIndexSkipsModel(t *testing.T) {
	svc, gw, _ := newTestService(t)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "What is Redis?"})
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, InsufficientAnswer, resp.Answer.Answer)
	assert.Equal(t, 0, resp.Retrieved)
	assert.Equal(t, 0, gw.chatCalls)
}

func TestAskBlankQuestionSkipsModel(t *testing.T) {
	svc, gw, store := newTestService(t)
	seedStore(t, store)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "   "})
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, 0, gw.chatCalls)
}

func TestAskRepairsMalformedOutput(t *testing.T) {
	svc, gw, store := newTestService(t,
		"I think the answer is CART_CACHE_BYPASS but here is some prose instead of JSON.",
		`{
			"answer": "Set CART_CACHE_BYPASS=1 to skip the cart cache.",
			"confidence": 0.8,
			"sources": [{"chunk_id": "doc:cart-service#chunk:2", "doc_title": "Cart Service Runbook", "quote": "Set CART_CACHE_BYPASS=1", "relevance": 0.85}],
			"status": "ok"
		}`,
	)
	seedStore(t, store)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "How do I bypass the cart cache?"})
	require.NoError(t, err)
	assert.True(t, resp.Repaired)
	assert.Equal(t, StatusOK, resp.Answer.Status)
	assert.Equal(t, 2, gw.chatCalls)
	require.Len(t, resp.Answer.Sources, 1)
	assert.Equal(t, "doc:cart-service#chunk:2", resp.Answer.Sources[0].ChunkID)
}

func TestAskGatesLowRelevance(t *testing.T) {
	svc, _, store := newTestService(t, `{
		"answer": "Probably something about Redis.",
		"confidence": 0.6,
		"sources": [{"chunk_id": "doc:redis-caching#chunk:0", "doc_title": "Redis Caching Guide", "quote": "cache", "relevance": 0.1}],
		"status": "ok"
	}`)
	seedStore(t, store)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "What is Redis?"})
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, InsufficientAnswer, resp.Answer.Answer)
}

func TestRetrieverFilters(t *testing.T) {
	gw := &scriptedGateway{}
	store := vectorstore.NewDiskStore(t.TempDir())
	defer store.Close()
	seedStore(t, store)

	r := NewRetriever(gatewayEmbedder{gw: gw}, store, 5)

	hits, err := r.Retrieve(context.Background(), "redis cart", 5, &vectorstore.Filters{DocID: "cart-service"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc:cart-service#chunk:2", hits[0].ChunkID)
}

func TestRetrieverBlankQuery(t *testing.T) {
	gw := &scriptedGateway{}
	store := vectorstore.NewDiskStore(t.TempDir())
	defer store.Close()

	r := NewRetriever(gatewayEmbedder{gw: gw}, store, 5)
	hits, err := r.Retrieve(context.Background(), "  \n ", 5, nil)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestAskUnrepairableOutputYieldsInsufficient(t *testing.T) {
	svc, gw, store := newTestService(t,
		"prose with no json at all",
		"still not json after repair",
	)
	seedStore(t, store)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "What is Redis?"})
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficient, resp.Answer.Status)
	assert.Equal(t, InsufficientAnswer, resp.Answer.Answer)
	assert.True(t, resp.Repaired)
	// Original call plus exactly one repair attempt.
	assert.Equal(t, 2, gw.chatCalls)
}
