package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cortexai/text2sql/internal/llm"
	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/observability"
	"github.com/cortexai/text2sql/internal/prompt"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
	"github.com/cortexai/text2sql/internal/service"
)

const (
	DefaultErrorMarker       = "Error"
	missingMarker            = "MISSING:"
	DefaultCompletionTimeout = 60 * time.Second
	DefaultExecutionTimeout  = 60 * time.Second

	ReasonNotReadOnly = "Only read-only queries (SELECT/WITH) are allowed"
)

// SchemaDescriber supplies the live schema and its stored column metadata.
type SchemaDescriber interface {
	Describe(ctx context.Context, opts service.DescribeOptions) (*schema.Snapshot, error)
	ColumnMetadata(ctx context.Context) (schema.MetadataIndex, error)
}

// QueryExecutor runs accepted SQL.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) (*service.QueryResult, error)
}

// Config wires a Pipeline. Describer, Executor and Gateway are required.
type Config struct {
	Describer SchemaDescriber
	Executor  QueryExecutor
	Gateway   llm.Gateway

	// Validator defaults to one that plans statements through Explainer.
	Validator *security.SQLValidator
	Explainer security.Explainer
	Composer  prompt.Composer

	Guard   *security.QuestionGuard
	Masker  *security.DataMasker
	Audit   *security.AuditLogger
	Metrics *observability.Metrics

	// Metadata is a static index (YAML file) overlaid on the database's own.
	Metadata        schema.MetadataIndex
	IncludeMetadata bool
	SampleRows      int
	RequireReadOnly bool
	ErrorMarker     string

	CompletionTimeout time.Duration
	ExecutionTimeout  time.Duration
}

// Pipeline turns questions into validated, executed SQL. It holds only
// read-only collaborators and is safe for concurrent use.
type Pipeline struct {
	cfg       Config
	validator *security.SQLValidator
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Describer == nil || cfg.Executor == nil || cfg.Gateway == nil {
		return nil, errors.New("agent: describer, executor and gateway are required")
	}
	if cfg.ErrorMarker == "" {
		cfg.ErrorMarker = DefaultErrorMarker
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	v := cfg.Validator
	if v == nil {
		v = security.NewSQLValidator(cfg.Explainer, security.SyntaxPolicyInconclusive)
	}
	return &Pipeline{cfg: cfg, validator: v}, nil
}

// Validator returns the validator the pipeline gates execution with.
func (p *Pipeline) Validator() *security.SQLValidator { return p.validator }

// Request carries one ask or query call.
type Request struct {
	Question string
	SQL      string
	// IncludeMetadata overrides the configured default when set.
	IncludeMetadata *bool
	RequestID       string
	APIKey          string
}

// Ask runs the full question-to-rows flow. Failures are reported in the
// result, never as a Go error.
func (p *Pipeline) Ask(ctx context.Context, question string) models.QueryResult {
	return p.AskWith(ctx, Request{Question: question})
}

func (p *Pipeline) AskWith(ctx context.Context, req Request) models.QueryResult {
	run := p.start("ask", req)
	res := &run.result
	res.Question = req.Question

	if p.cfg.Guard != nil {
		if g := p.cfg.Guard.Check(req.Question); !g.Valid {
			return run.fail(ctx, models.KindQuestionRejected, g.Message)
		}
	}

	// schema
	stageStart := time.Now()
	snap, err := p.describe(ctx, req)
	p.cfg.Metrics.ObserveStage("schema", time.Since(stageStart))
	if err != nil {
		return run.fail(ctx, models.KindSchemaUnavailable, err.Error())
	}

	composed, err := p.cfg.Composer.Compose(schema.Render(snap, p.includeMetadata(req)), req.Question)
	if err != nil {
		return run.fail(ctx, models.KindGenerationFailure, fmt.Sprintf("compose prompt: %v", err))
	}

	// completion
	stageStart = time.Now()
	text, err := p.complete(ctx, composed)
	p.cfg.Metrics.ObserveStage("completion", time.Since(stageStart))
	if err != nil {
		return run.fail(ctx, models.KindGenerationFailure, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return run.fail(ctx, models.KindGenerationFailure, fmt.Sprintf("request cancelled after generation: %v", err))
	}

	candidate := extractSQL(text)
	res.SQL = models.StrPtr(candidate)
	return p.validateAndExecute(ctx, run, candidate, snap)
}

// Query validates and executes caller-supplied SQL through the same gate as
// generated SQL.
func (p *Pipeline) Query(ctx context.Context, req Request) models.QueryResult {
	run := p.start("query", req)
	sql := strings.TrimSpace(req.SQL)
	run.result.SQL = models.StrPtr(sql)
	return p.validateAndExecute(ctx, run, sql, nil)
}

// Validate runs only the safety checks, including the read-only rule when configured.
func (p *Pipeline) Validate(ctx context.Context, sql string) security.Verdict {
	v := p.validator.Validate(ctx, sql)
	if v.Accepted && p.cfg.RequireReadOnly && !security.IsReadOnly(sql) {
		return security.Verdict{Accepted: false, Reasons: []string{ReasonNotReadOnly}}
	}
	return v
}

func (p *Pipeline) validateAndExecute(ctx context.Context, run *pipelineRun, sql string, snap *schema.Snapshot) models.QueryResult {
	stageStart := time.Now()
	verdict := p.Validate(ctx, sql)
	p.cfg.Metrics.ObserveStage("validation", time.Since(stageStart))
	if !verdict.Accepted {
		for _, r := range verdict.Reasons {
			p.cfg.Metrics.ObserveRejection(r)
		}
		run.result.Reasons = verdict.Reasons
		return run.fail(ctx, models.KindValidationReject, verdict.Message())
	}

	if err := ctx.Err(); err != nil {
		// a generated statement is discarded; caller SQL simply never runs
		kind := models.KindExecutionFailure
		if run.source == "ask" {
			kind = models.KindGenerationFailure
		}
		return run.fail(ctx, kind, fmt.Sprintf("request cancelled before execution: %v", err))
	}

	stageStart = time.Now()
	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
	defer cancel()
	out, err := p.cfg.Executor.Execute(execCtx, sql)
	p.cfg.Metrics.ObserveStage("execution", time.Since(stageStart))
	if err != nil {
		return run.fail(ctx, models.KindExecutionFailure, err.Error())
	}

	rows := out.Rows
	if rows == nil {
		rows = []models.Row{}
	}
	if p.cfg.Masker != nil {
		var extra map[string]bool
		if snap != nil {
			extra = snap.SensitiveColumns()
		}
		rows = p.cfg.Masker.MaskRows(rows, extra)
	}
	run.result.Columns = out.Columns
	run.result.Rows = rows
	return run.succeed(ctx)
}

// Describe returns the snapshot the model would see, with metadata attached
// when includeMetadata is set.
func (p *Pipeline) Describe(ctx context.Context, includeMetadata bool) (*schema.Snapshot, error) {
	return p.describe(ctx, Request{IncludeMetadata: &includeMetadata})
}

// Dialect names the SQL dialect of the executing backend, or "" when unknown.
func (p *Pipeline) Dialect() string {
	if d, ok := p.cfg.Executor.(interface{ Dialect() string }); ok {
		return d.Dialect()
	}
	return ""
}

func (p *Pipeline) includeMetadata(req Request) bool {
	if req.IncludeMetadata != nil {
		return *req.IncludeMetadata
	}
	return p.cfg.IncludeMetadata
}

// describe takes a fresh snapshot. Metadata is attached when requested, and
// also whenever sample rows are shown so sensitive columns are masked.
func (p *Pipeline) describe(ctx context.Context, req Request) (*schema.Snapshot, error) {
	snap, err := p.cfg.Describer.Describe(ctx, service.DescribeOptions{SampleRows: p.cfg.SampleRows})
	if err != nil {
		return nil, err
	}
	if !p.includeMetadata(req) && p.cfg.SampleRows == 0 {
		return snap, nil
	}

	stored, err := p.cfg.Describer.ColumnMetadata(ctx)
	if err != nil {
		return nil, err
	}
	snap = snap.WithMetadata(stored.Merge(p.cfg.Metadata))

	if p.cfg.Masker != nil && p.cfg.SampleRows > 0 {
		sensitive := snap.SensitiveColumns()
		for i := range snap.Tables {
			snap.Tables[i].SampleRows = p.cfg.Masker.MaskRows(snap.Tables[i].SampleRows, sensitive)
		}
	}
	return snap, nil
}

// complete calls the gateway under the completion timeout and screens the
// text for failure markers.
func (p *Pipeline) complete(ctx context.Context, composed string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CompletionTimeout)
	defer cancel()

	text, err := p.cfg.Gateway.Complete(cctx, composed)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", llm.ErrEmptyResponse
	case strings.HasPrefix(text, p.cfg.ErrorMarker), strings.HasPrefix(text, missingMarker):
		return "", fmt.Errorf("model reported failure: %s", firstLine(text))
	}
	return text, nil
}

type pipelineRun struct {
	p       *Pipeline
	source  string
	req     Request
	started time.Time
	result  models.QueryResult
}

func (p *Pipeline) start(source string, req Request) *pipelineRun {
	return &pipelineRun{
		p:       p,
		source:  source,
		req:     req,
		started: time.Now(),
		result:  models.QueryResult{Rows: []models.Row{}},
	}
}

func (r *pipelineRun) fail(ctx context.Context, kind models.ErrorKind, msg string) models.QueryResult {
	r.result.Kind = kind
	r.result.Error = models.StrPtr(msg)
	r.result.Rows = []models.Row{}
	r.result.Columns = nil
	if kind == models.KindGenerationFailure && r.source == "ask" {
		r.result.SQL = nil
	}
	return r.finish(ctx)
}

func (r *pipelineRun) succeed(ctx context.Context) models.QueryResult {
	return r.finish(ctx)
}

func (r *pipelineRun) finish(ctx context.Context) models.QueryResult {
	elapsed := time.Since(r.started)
	r.result.Duration = models.Duration(elapsed)
	res := r.result

	outcome := string(res.Kind)
	if outcome == "" {
		outcome = "success"
	}
	r.p.cfg.Metrics.ObserveOutcome(r.source, outcome)

	var evt *zerolog.Event
	if res.Failed() {
		evt = log.Warn().Str("error", *res.Error)
	} else {
		evt = log.Info()
	}
	evt.Str("source", r.source).
		Str("request_id", r.req.RequestID).
		Str("outcome", outcome).
		Int("rows", len(res.Rows)).
		Dur("duration", elapsed).
		Msg("pipeline finished")

	entry := security.AuditEntry{
		Event:     r.source,
		RequestID: r.req.RequestID,
		Question:  res.Question,
		APIKey:    r.req.APIKey,
		Outcome:   outcome,
		RowCount:  len(res.Rows),
		Duration:  elapsed,
	}
	if res.SQL != nil {
		entry.SQL = *res.SQL
	}
	if res.Error != nil {
		entry.Error = *res.Error
	}
	r.p.cfg.Audit.Log(context.WithoutCancel(ctx), entry)
	return res
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
