package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/llm"
	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/observability"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
	"github.com/cortexai/text2sql/internal/service"
)

func newDemoDB(t *testing.T, opts service.SeedOptions) *service.DuckDBService {
	t.Helper()
	db, err := service.NewDuckDBService("", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, service.Seed(context.Background(), db, opts))
	return db
}

// countingExecutor records how often execution is reached.
type countingExecutor struct {
	next  agent.QueryExecutor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, sql string) (*service.QueryResult, error) {
	c.calls.Add(1)
	return c.next.Execute(ctx, sql)
}

func fixedGateway(text string) llm.Gateway {
	return llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		return text, nil
	})
}

func newPipeline(t *testing.T, db *service.DuckDBService, gw llm.Gateway, mutate func(*agent.Config)) (*agent.Pipeline, *countingExecutor) {
	t.Helper()
	exec := &countingExecutor{next: db}
	cfg := agent.Config{
		Describer:       db,
		Executor:        exec,
		Explainer:       db,
		Gateway:         gw,
		RequireReadOnly: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := agent.NewPipeline(cfg)
	require.NoError(t, err)
	return p, exec
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	_, err := agent.NewPipeline(agent.Config{})
	assert.Error(t, err)
}

func TestAskCountEmployees(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	var seenPrompt string
	gw := llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		seenPrompt = prompt
		return "```sql\nSELECT COUNT(*) AS total FROM employees;\n```", nil
	})
	p, exec := newPipeline(t, db, gw, nil)

	res := p.Ask(context.Background(), "Count total number of employees")

	require.Nil(t, res.Error, "unexpected error: %v", res.Err())
	require.NotNil(t, res.SQL)
	assert.Contains(t, strings.ToUpper(*res.SQL), "COUNT(")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, models.IntValue(5), res.Rows[0]["total"])
	assert.Equal(t, models.KindNone, res.Kind)
	assert.EqualValues(t, 1, exec.calls.Load())

	assert.Contains(t, seenPrompt, "Table: employees\n")
	assert.Contains(t, seenPrompt, "User question: Count total number of employees\n")
	assert.True(t, strings.HasSuffix(seenPrompt, "SQL query:"))
}

func TestAskCompletionTimeout(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	gw := llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", llm.ClassifyError(ctx.Err(), "test")
	})
	p, exec := newPipeline(t, db, gw, func(c *agent.Config) {
		c.CompletionTimeout = 20 * time.Millisecond
	})

	res := p.Ask(context.Background(), "Count total number of employees")

	require.NotNil(t, res.Error)
	assert.Nil(t, res.SQL)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Equal(t, models.KindGenerationFailure, res.Kind)
	assert.ErrorIs(t, res.Err(), models.ErrGenerationFailure)
	assert.Zero(t, exec.calls.Load())
}

func TestAskGatewayFailures(t *testing.T) {
	tests := []struct {
		name string
		gw   llm.Gateway
	}{
		{"error", llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("503 Service Unavailable")
		})},
		{"empty", fixedGateway("   ")},
		{"error marker", fixedGateway("Error generating SQL: quota exceeded")},
		{"missing marker", fixedGateway("MISSING: a table describing salaries")},
	}
	db := newDemoDB(t, service.SeedOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, exec := newPipeline(t, db, tt.gw, nil)
			res := p.Ask(context.Background(), "Count total number of employees")
			require.NotNil(t, res.Error)
			assert.Equal(t, models.KindGenerationFailure, res.Kind)
			assert.Nil(t, res.SQL)
			assert.Empty(t, res.Rows)
			assert.Zero(t, exec.calls.Load())
		})
	}
}

func TestAskRejectedSQLNeverExecutes(t *testing.T) {
	tests := []struct {
		name   string
		output string
		reason string
	}{
		{"drop", "DROP TABLE employees", security.ReasonDangerous},
		{"chained", "SELECT * FROM employees; DROP TABLE employees;", security.ReasonInjection},
		{"tautology", "SELECT * FROM employees WHERE name = 'x' OR 1=1", security.ReasonInjection},
		{"unknown table", "SELECT * FROM nonexistent_table", security.ReasonSyntax},
	}
	db := newDemoDB(t, service.SeedOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, exec := newPipeline(t, db, fixedGateway(tt.output), nil)
			res := p.Ask(context.Background(), "do something")

			require.NotNil(t, res.Error)
			assert.Equal(t, models.KindValidationReject, res.Kind)
			require.NotNil(t, res.SQL)
			assert.Equal(t, tt.output, *res.SQL)
			assert.Empty(t, res.Rows)
			assert.Zero(t, exec.calls.Load())
			assert.Contains(t, *res.Error, tt.reason)
			assert.Equal(t, strings.Join(res.Reasons, "; "), *res.Error)
		})
	}
}

func TestAskReadOnlyEnforcement(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	// passes the allow-list (no dangerous keyword) but is not SELECT/WITH
	out := "VALUES (1)"

	p, exec := newPipeline(t, db, fixedGateway(out), nil)
	res := p.Ask(context.Background(), "what tables exist")
	require.NotNil(t, res.Error)
	assert.Equal(t, []string{agent.ReasonNotReadOnly}, res.Reasons)
	assert.Zero(t, exec.calls.Load())

	p, exec = newPipeline(t, db, fixedGateway(out), func(c *agent.Config) { c.RequireReadOnly = false })
	res = p.Ask(context.Background(), "what tables exist")
	require.Nil(t, res.Error, "unexpected error: %v", res.Err())
	assert.EqualValues(t, 1, exec.calls.Load())
}

func TestAskSchemaUnavailable(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	broken := brokenDescriber{err: schema.Unavailable("list tables", errors.New("connection refused"))}
	var completions atomic.Int32
	gw := llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		completions.Add(1)
		return "SELECT 1", nil
	})
	p, exec := newPipeline(t, db, gw, func(c *agent.Config) { c.Describer = broken })

	res := p.Ask(context.Background(), "Count total number of employees")
	require.NotNil(t, res.Error)
	assert.Equal(t, models.KindSchemaUnavailable, res.Kind)
	assert.ErrorIs(t, res.Err(), models.ErrSchemaUnavailable)
	assert.Nil(t, res.SQL)
	assert.Zero(t, completions.Load())
	assert.Zero(t, exec.calls.Load())
}

type brokenDescriber struct{ err error }

func (b brokenDescriber) Describe(ctx context.Context, opts service.DescribeOptions) (*schema.Snapshot, error) {
	return nil, b.err
}

func (b brokenDescriber) ColumnMetadata(ctx context.Context) (schema.MetadataIndex, error) {
	return nil, b.err
}

func TestAskCancelledAfterGeneration(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	gw := llm.GatewayFunc(func(_ context.Context, prompt string) (string, error) {
		cancel()
		return "SELECT COUNT(*) FROM employees", nil
	})
	p, exec := newPipeline(t, db, gw, nil)

	res := p.Ask(ctx, "Count total number of employees")
	require.NotNil(t, res.Error)
	assert.Equal(t, models.KindGenerationFailure, res.Kind)
	assert.Nil(t, res.SQL)
	assert.Zero(t, exec.calls.Load())
}

func TestAskExecutionFailure(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	failing := agent.QueryExecutor(executorFunc(func(ctx context.Context, sql string) (*service.QueryResult, error) {
		return nil, errors.New("query execution failed: disk I/O error")
	}))
	p, _ := newPipeline(t, db, fixedGateway("SELECT name FROM employees"), func(c *agent.Config) { c.Executor = failing })

	res := p.Ask(context.Background(), "list names")
	require.NotNil(t, res.Error)
	assert.Equal(t, models.KindExecutionFailure, res.Kind)
	require.NotNil(t, res.SQL)
	assert.Equal(t, "SELECT name FROM employees", *res.SQL)
	assert.Empty(t, res.Rows)
}

type executorFunc func(ctx context.Context, sql string) (*service.QueryResult, error)

func (f executorFunc) Execute(ctx context.Context, sql string) (*service.QueryResult, error) {
	return f(ctx, sql)
}

func TestAskEmptyResultIsSuccess(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	p, _ := newPipeline(t, db, fixedGateway("SELECT name FROM employees WHERE age > 99"), nil)

	res := p.Ask(context.Background(), "who is older than 99")
	require.Nil(t, res.Error)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestAskQuestionGuard(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	p, exec := newPipeline(t, db, fixedGateway("SELECT 1"), func(c *agent.Config) {
		c.Guard = security.NewQuestionGuard([]string{"password"})
	})

	res := p.Ask(context.Background(), "show every user password")
	require.NotNil(t, res.Error)
	assert.Equal(t, models.KindQuestionRejected, res.Kind)
	assert.Nil(t, res.SQL)
	assert.Zero(t, exec.calls.Load())
}

func TestAskOpaqueSchemaWithMetadataAndMasking(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{Opaque: true})
	var seenPrompt string
	gw := llm.GatewayFunc(func(ctx context.Context, prompt string) (string, error) {
		seenPrompt = prompt
		return "SELECT c002, c005 FROM t01 ORDER BY c001 LIMIT 1", nil
	})
	p, _ := newPipeline(t, db, gw, func(c *agent.Config) {
		c.IncludeMetadata = true
		c.SampleRows = 2
		c.Masker = security.NewDataMasker(nil)
	})

	res := p.Ask(context.Background(), "What is the salary of the first employee?")
	require.Nil(t, res.Error, "unexpected error: %v", res.Err())

	assert.Contains(t, seenPrompt, "c005 DOUBLE NULL (business name: Salary")
	assert.Contains(t, seenPrompt, "Sample data (first 2 rows):")
	assert.Contains(t, seenPrompt, "c005=***")
	assert.NotContains(t, seenPrompt, "c005=75000")

	require.Len(t, res.Rows, 1)
	assert.Equal(t, models.StringValue("John Doe"), res.Rows[0]["c002"])
	assert.Equal(t, models.StringValue("***"), res.Rows[0]["c005"])
}

func TestQueryDirectSQL(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	p, exec := newPipeline(t, db, fixedGateway("unused"), nil)

	res := p.Query(context.Background(), agent.Request{SQL: "SELECT name FROM employees ORDER BY id LIMIT 2"})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"name"}, res.Columns)
	assert.Len(t, res.Rows, 2)

	res = p.Query(context.Background(), agent.Request{SQL: "DELETE FROM employees"})
	require.NotNil(t, res.Error)
	assert.Equal(t, models.KindValidationReject, res.Kind)
	assert.EqualValues(t, 1, exec.calls.Load())
}

type recordingSink struct{ records []security.AuditRecord }

func (r *recordingSink) IndexAudit(ctx context.Context, rec security.AuditRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func TestPipelineAuditAndMetrics(t *testing.T) {
	db := newDemoDB(t, service.SeedOptions{})
	reg := prometheus.NewRegistry()
	sink := &recordingSink{}
	p, _ := newPipeline(t, db, fixedGateway("DROP TABLE employees"), func(c *agent.Config) {
		c.Metrics = observability.NewMetrics(reg)
		c.Audit = security.NewAuditLogger(true, sink)
	})

	res := p.AskWith(context.Background(), agent.Request{Question: "drop it", RequestID: "req-1"})
	assert.Equal(t, models.KindValidationReject, res.Kind)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "ask", rec.Event)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "validation_rejected", rec.Outcome)
	assert.NotEmpty(t, rec.SQLHash)
	assert.NotContains(t, rec.SQLHash, "DROP")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["text2sql_ask_outcomes_total"])
	assert.True(t, names["text2sql_validation_rejections_total"])
}
