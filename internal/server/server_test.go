package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/config"
	"github.com/cortexai/text2sql/internal/llm"
	"github.com/cortexai/text2sql/internal/observability"
	"github.com/cortexai/text2sql/internal/security"
	"github.com/cortexai/text2sql/internal/server"
	"github.com/cortexai/text2sql/internal/service"
)

const testKey = "test-key"

func newTestServer(t *testing.T, gw llm.Gateway) http.Handler {
	t.Helper()
	db, err := service.NewDuckDBService("", config.DefaultMetadataTable)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, service.Seed(context.Background(), db, service.SeedOptions{}))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p, err := agent.NewPipeline(agent.Config{
		Describer:       db,
		Executor:        db,
		Explainer:       db,
		Gateway:         gw,
		Guard:           security.NewQuestionGuard(config.DefaultPIIKeywords),
		Masker:          security.NewDataMasker(nil),
		Metrics:         metrics,
		RequireReadOnly: true,
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.APIKeys = []string{testKey}
	return server.New(cfg, &server.Components{DB: db, Pipeline: p, Metrics: metrics}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(config.DefaultAPIKeyHeader, testKey)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "", nil }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["database"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestAPIRequiresKey(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "", nil }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAskEndpoint(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		return "```sql\nSELECT COUNT(*) AS total FROM employees\n```", nil
	}))

	rr := do(t, h, http.MethodPost, "/api/v1/ask", `{"question":"Count total number of employees"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Nil(t, body["error"])
	assert.Equal(t, "SELECT COUNT(*) AS total FROM employees", body["sql_query"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 5, rows[0].(map[string]any)["total"])
}

func TestAskEndpointRejection(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		return "DROP TABLE employees", nil
	}))

	rr := do(t, h, http.MethodPost, "/api/v1/ask", `{"question":"remove the employees table"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "validation_rejected", body["error_kind"])
	assert.Empty(t, body["rows"])
}

func TestAskEndpointBadRequest(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "SELECT 1", nil }))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/ask", `{"question":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/ask", `not json`).Code)
}

func TestQueryEndpoint(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "", nil }))

	rr := do(t, h, http.MethodPost, "/api/v1/query", `{"sql":"SELECT name FROM departments ORDER BY id"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Len(t, body["rows"], 3)
	assert.Equal(t, []any{"name"}, body["columns"])

	rr = do(t, h, http.MethodPost, "/api/v1/query", `{"sql":"DELETE FROM departments"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestValidateEndpoint(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "", nil }))

	rr := do(t, h, http.MethodPost, "/api/v1/validate", `{"sql":"SELECT *  FROM employees --\n"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, true, body["read_only"])
	assert.Equal(t, "SELECT * FROM employees", body["sanitized"])
	assert.Contains(t, body["reasons"], security.ReasonInjection)

	rr = do(t, h, http.MethodPost, "/api/v1/validate", `{"sql":"SELECT * FROM employees"}`)
	body = decode(t, rr)
	assert.Equal(t, true, body["accepted"])
	assert.Empty(t, body["reasons"])
}

func TestSchemaEndpoints(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "", nil }))

	rr := do(t, h, http.MethodGet, "/api/v1/schema", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "DuckDB", body["dialect"])
	assert.Len(t, body["tables"], 2)
	assert.Contains(t, body["text"], "Table: employees\n")

	rr = do(t, h, http.MethodGet, "/api/v1/schema/tables/departments", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode(t, rr)
	assert.Len(t, body["tables"], 1)
	assert.True(t, strings.HasPrefix(body["text"].(string), "Table: departments\n"))

	rr = do(t, h, http.MethodGet, "/api/v1/schema/tables/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) { return "SELECT 1", nil }))
	do(t, h, http.MethodPost, "/api/v1/ask", `{"question":"what is one"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `text2sql_http_requests_total{method="POST",path="/api/v1/ask",status="200"} 1`)
	assert.Contains(t, rr.Body.String(), `text2sql_ask_outcomes_total{outcome="success",source="ask"} 1`)
}
