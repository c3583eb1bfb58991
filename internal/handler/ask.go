package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/middleware"
	"github.com/cortexai/text2sql/internal/models"
)

// AskHandler handles POST /api/v1/ask
type AskHandler struct {
	pipeline *agent.Pipeline
	timeout  time.Duration
}

// NewAskHandler uses defaultTimeout for requests that do not set one.
func NewAskHandler(p *agent.Pipeline, defaultTimeout time.Duration) *AskHandler {
	return &AskHandler{pipeline: p, timeout: defaultTimeout}
}

// Ask answers a natural-language question. The status code follows the stage
// that ended the request; the body is always the full result.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Timeout == 0 && h.timeout > 0 {
		req.Timeout = int(h.timeout / time.Second)
	}
	req.SetDefaults()

	if strings.TrimSpace(req.Question) == "" {
		models.WriteError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.Timeout)*time.Second)
	defer cancel()

	res := h.pipeline.AskWith(ctx, agent.Request{
		Question:        req.Question,
		IncludeMetadata: req.IncludeMetadata,
		RequestID:       middleware.GetRequestID(r.Context()),
		APIKey:          middleware.GetAPIKey(r.Context()),
	})
	models.WriteJSON(w, res.Kind.HTTPStatus(), res)
}
