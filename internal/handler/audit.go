package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/security"
)

const maxAuditPage = 500

// AuditReader lists recent audit records, newest first.
type AuditReader interface {
	RecentAudit(ctx context.Context, size int) ([]security.AuditRecord, error)
}

type AuditResponse struct {
	Status  string                 `json:"status"`
	Count   int                    `json:"count"`
	Records []security.AuditRecord `json:"records"`
}

type AuditHandler struct {
	reader AuditReader
}

func NewAuditHandler(reader AuditReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// Recent handles GET /api/v1/audit?size=N
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	size := 50
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			models.WriteError(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		size = min(n, maxAuditPage)
	}

	records, err := h.reader.RecentAudit(r.Context(), size)
	if err != nil {
		models.WriteError(w, http.StatusBadGateway, "read audit log: "+err.Error())
		return
	}
	if records == nil {
		records = []security.AuditRecord{}
	}
	models.WriteJSON(w, http.StatusOK, AuditResponse{
		Status:  "success",
		Count:   len(records),
		Records: records,
	})
}
