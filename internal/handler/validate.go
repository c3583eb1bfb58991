package handler

import (
	"encoding/json"
	"net/http"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/security"
)

type ValidateHandler struct {
	pipeline *agent.Pipeline
}

func NewValidateHandler(p *agent.Pipeline) *ValidateHandler {
	return &ValidateHandler{pipeline: p}
}

// Validate handles POST /api/v1/validate. A rejected statement is still a 200:
// the verdict is the payload.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	verdict := h.pipeline.Validate(r.Context(), req.SQL)
	reasons := verdict.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	models.WriteJSON(w, http.StatusOK, models.ValidateResponse{
		Status:    "success",
		Accepted:  verdict.Accepted,
		Reasons:   reasons,
		ReadOnly:  security.IsReadOnly(req.SQL),
		Sanitized: security.Sanitize(req.SQL),
	})
}
