package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/avolkov/groundkb/internal/ingest"
	"github.com/avolkov/groundkb/internal/llm"
	"github.com/avolkov/groundkb/internal/queue"
	"github.com/avolkov/groundkb/internal/rag"
	"github.com/avolkov/groundkb/internal/vectorstore"
)

type RAGHandler struct {
	svc      *rag.Service
	pipeline *ingest.Pipeline
	queue    *queue.Client // nil disables async ingestion
	kbPath   string
}

func NewRAGHandler(svc *rag.Service, pipeline *ingest.Pipeline, qc *queue.Client, kbPath string) *RAGHandler {
	return &RAGHandler{svc: svc, pipeline: pipeline, queue: qc, kbPath: kbPath}
}

func (h *RAGHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req rag.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question required"})
		return
	}

	resp, err := h.svc.Ask(r.Context(), req)
	if err != nil {
		writeLLMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q required"})
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid k"})
			return
		}
		k = parsed
	}

	var filters *vectorstore.Filters
	docID := r.URL.Query().Get("doc_id")
	docType := r.URL.Query().Get("document_type")
	if docID != "" || docType != "" {
		filters = &vectorstore.Filters{DocID: docID, DocumentType: docType}
	}

	hits, err := h.svc.Retriever().Retrieve(r.Context(), query, k, filters)
	if err != nil {
		writeLLMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits, "count": len(hits)})
}

// GetChunk reads the id from the query string because chunk ids contain
// '#' which cannot survive in a URL path.
func (h *RAGHandler) GetChunk(w http.ResponseWriter, r *http.Request) {
	chunkID := r.URL.Query().Get("id")
	if chunkID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return
	}

	meta, err := h.svc.Retriever().GetChunk(r.Context(), chunkID)
	if err != nil {
		if errors.Is(err, vectorstore.ErrChunkNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "chunk not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type ingestRequest struct {
	KBPath string `json:"kb_path,omitempty"`
	Async  bool   `json:"async,omitempty"`
}

func (h *RAGHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	kbPath := req.KBPath
	if kbPath == "" {
		kbPath = h.kbPath
	}

	if req.Async {
		if h.queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async ingestion not configured"})
			return
		}
		if err := h.queue.EnqueueKBReindex(queue.KBReindexPayload{KBPath: kbPath}); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := h.pipeline.RunFromPath(r.Context(), kbPath)
	if err != nil {
		writeLLMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeLLMError maps provider unavailability to 503 and everything else
// to 502.
func writeLLMError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if llm.IsUnavailable(err) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
