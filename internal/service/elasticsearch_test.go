package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexai/text2sql/internal/security"
	"github.com/cortexai/text2sql/internal/service"
)

func fakeElasticsearch(t *testing.T, indexed *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/audit-test/_doc"):
			var doc map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
			*indexed = append(*indexed, doc)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"_index":"audit-test","_id":"1","result":"created"}`)
		case strings.HasSuffix(r.URL.Path, "/_search"):
			fmt.Fprint(w, `{"hits":{"total":{"value":1},"hits":[{"_source":{"event":"ask","outcome":"success","row_count":3,"duration_ms":12}}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestElasticsearchAuditSink(t *testing.T) {
	var indexed []map[string]any
	srv := fakeElasticsearch(t, &indexed)

	es, err := service.NewElasticsearchServiceWithAddresses([]string{srv.URL}, "", "", true, 0, "audit-test")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, es.TestConnection(ctx))

	err = es.IndexAudit(ctx, security.AuditRecord{
		Event:     "ask",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SQLHash:   "abc",
		Outcome:   "success",
		RowCount:  3,
	})
	require.NoError(t, err)
	require.Len(t, indexed, 1)
	assert.Equal(t, "ask", indexed[0]["event"])
	assert.Equal(t, "abc", indexed[0]["sql_hash"])
	assert.Equal(t, "2026-01-02T03:04:05Z", indexed[0]["@timestamp"])

	recs, err := es.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "success", recs[0].Outcome)
	assert.Equal(t, 3, recs[0].RowCount)
}

func TestElasticsearchIndexError(t *testing.T) {
	var indexed []map[string]any
	srv := fakeElasticsearch(t, &indexed)

	es, err := service.NewElasticsearchServiceWithAddresses([]string{srv.URL}, "", "", true, 0, "other-index")
	require.NoError(t, err)
	assert.Error(t, es.IndexAudit(context.Background(), security.AuditRecord{Event: "ask"}))
}
