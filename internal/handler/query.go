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

// QueryHandler handles direct SQL query execution
type QueryHandler struct {
	pipeline *agent.Pipeline
}

func NewQueryHandler(p *agent.Pipeline) *QueryHandler {
	return &QueryHandler{pipeline: p}
}

// Execute handles POST /api/v1/query. Caller SQL goes through the same
// validator as generated SQL before it runs.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SetDefaults()

	if strings.TrimSpace(req.SQL) == "" {
		models.WriteError(w, http.StatusBadRequest, "sql is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.TimeoutMs)*time.Millisecond)
	defer cancel()

	res := h.pipeline.Query(ctx, agent.Request{
		SQL:       req.SQL,
		RequestID: middleware.GetRequestID(r.Context()),
		APIKey:    middleware.GetAPIKey(r.Context()),
	})
	models.WriteJSON(w, res.Kind.HTTPStatus(), res)
}
