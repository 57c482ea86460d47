package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/avolkov/groundkb/internal/agent"
)

type AgentHandler struct {
	loop *agent.Loop
}

func NewAgentHandler(loop *agent.Loop) *AgentHandler {
	return &AgentHandler{loop: loop}
}

func (h *AgentHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req agent.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question required"})
		return
	}

	resp, err := h.loop.Run(r.Context(), req)
	if err != nil {
		writeLLMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
