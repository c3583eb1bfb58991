package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/schema"
)

// SchemaResponse is returned by the schema endpoints.
type SchemaResponse struct {
	Status  string         `json:"status"`
	Dialect string         `json:"dialect,omitempty"`
	Tables  []schema.Table `json:"tables"`
	Text    string         `json:"text"`
}

// SchemaHandler exposes the schema snapshot the model is prompted with.
type SchemaHandler struct {
	pipeline *agent.Pipeline
}

func NewSchemaHandler(p *agent.Pipeline) *SchemaHandler {
	return &SchemaHandler{pipeline: p}
}

// Describe handles GET /api/v1/schema?metadata=true
func (h *SchemaHandler) Describe(w http.ResponseWriter, r *http.Request) {
	withMetadata := queryBool(r, "metadata")
	snap, ok := h.snapshot(w, r, withMetadata)
	if !ok {
		return
	}
	models.WriteJSON(w, http.StatusOK, SchemaResponse{
		Status:  "success",
		Dialect: h.pipeline.Dialect(),
		Tables:  snap.Tables,
		Text:    schema.Render(snap, withMetadata),
	})
}

// Table handles GET /api/v1/schema/tables/{table}
func (h *SchemaHandler) Table(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	withMetadata := queryBool(r, "metadata")
	snap, ok := h.snapshot(w, r, withMetadata)
	if !ok {
		return
	}
	t, found := snap.Table(name)
	if !found {
		models.WriteError(w, http.StatusNotFound, "table not found: "+name)
		return
	}
	one := &schema.Snapshot{Tables: []schema.Table{t}}
	models.WriteJSON(w, http.StatusOK, SchemaResponse{
		Status:  "success",
		Dialect: h.pipeline.Dialect(),
		Tables:  one.Tables,
		Text:    schema.Render(one, withMetadata),
	})
}

func (h *SchemaHandler) snapshot(w http.ResponseWriter, r *http.Request, withMetadata bool) (*schema.Snapshot, bool) {
	snap, err := h.pipeline.Describe(r.Context(), withMetadata)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrSchemaUnavailable) {
			code = http.StatusServiceUnavailable
		}
		models.WriteError(w, code, err.Error())
		return nil, false
	}
	return snap, true
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
