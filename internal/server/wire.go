package server

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/config"
	"github.com/cortexai/text2sql/internal/llm"
	"github.com/cortexai/text2sql/internal/observability"
	"github.com/cortexai/text2sql/internal/prompt"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
	"github.com/cortexai/text2sql/internal/service"
)

// Components is everything built from one Config. Close releases the backends.
type Components struct {
	DB       service.Database
	AuditES  *service.ElasticsearchService
	Pipeline *agent.Pipeline
	Metrics  *observability.Metrics
}

// Build connects the backends and assembles the pipeline. A missing LLM key is
// not fatal: questions then fail at generation while schema, validate and
// query keep working.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	cost := security.NewCostTracker(0)
	if cfg.EnableQueryCostTracking {
		cost = security.NewCostTracker(cfg.MaxQueryBytesProcessed)
	}

	db, err := service.Open(ctx, cfg, cost)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c := &Components{DB: db}

	if cfg.SeedOnStart {
		seeder, ok := db.(service.Seeder)
		if !ok {
			c.Close()
			return nil, fmt.Errorf("driver %s cannot load the demo dataset", cfg.DatabaseDriver)
		}
		opts := service.SeedOptions{Opaque: cfg.SeedOpaque, MetadataTable: cfg.MetadataTable}
		if err := service.Seed(ctx, seeder, opts); err != nil {
			c.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	var fileMetadata schema.MetadataIndex
	if cfg.MetadataFile != "" {
		if fileMetadata, err = schema.LoadMetadataFile(cfg.MetadataFile); err != nil {
			c.Close()
			return nil, err
		}
		log.Info().Str("file", cfg.MetadataFile).Int("columns", len(fileMetadata)).Msg("column metadata loaded")
	}

	c.AuditES, err = service.OpenAuditSink(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Elasticsearch audit sink unavailable")
	}
	var sink security.AuditSink
	if c.AuditES != nil {
		sink = c.AuditES
	}

	gateway, err := llm.New(llm.Options{
		Provider:  cfg.LLMProvider,
		APIKey:    cfg.LLMAPIKey(),
		BaseURL:   cfg.LLMBaseURL(),
		Model:     cfg.LLMModel,
		MaxTokens: int(cfg.LLMMaxTokens),
	})
	if err != nil {
		log.Warn().Err(err).Msg("completion gateway disabled")
		gateway = unavailableGateway(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.NewMetrics(reg)

	pcfg := agent.Config{
		Describer:         db,
		Executor:          db,
		Gateway:           gateway,
		Validator:         security.NewSQLValidator(db, security.ParseSyntaxPolicy(cfg.SyntaxPolicy)),
		Composer:          prompt.Composer{Dialect: db.Dialect()},
		Audit:             security.NewAuditLogger(cfg.EnableAuditLogging, sink),
		Metrics:           c.Metrics,
		Metadata:          fileMetadata,
		SampleRows:        cfg.SampleRows,
		RequireReadOnly:   cfg.RequireReadOnly,
		ErrorMarker:       cfg.ErrorMarker,
		CompletionTimeout: cfg.CompletionTimeout,
		ExecutionTimeout:  cfg.ExecutionTimeout,
	}
	if cfg.EnableQuestionGuard {
		pcfg.Guard = security.NewQuestionGuard(cfg.PIIKeywords)
	}
	if cfg.EnableDataMasking {
		pcfg.Masker = security.NewDataMasker(cfg.SensitiveColumns)
	}

	c.Pipeline, err = agent.NewPipeline(pcfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	log.Info().
		Str("driver", cfg.DatabaseDriver).
		Str("llm_provider", cfg.LLMProvider).
		Str("model", gateway.Model()).
		Bool("audit_sink", c.AuditES != nil).
		Bool("auth_enabled", cfg.EnableAuth && len(cfg.APIKeys) > 0).
		Bool("data_masking", cfg.EnableDataMasking).
		Bool("question_guard", cfg.EnableQuestionGuard).
		Bool("audit_logging", cfg.EnableAuditLogging).
		Str("syntax_policy", cfg.SyntaxPolicy).
		Msg("service configuration")
	return c, nil
}

func (c *Components) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

type disabledGateway struct{ err error }

func unavailableGateway(err error) llm.Gateway { return disabledGateway{err: err} }

func (g disabledGateway) Complete(ctx context.Context, prompt string) (string, error) {
	return "", &llm.Error{Type: llm.ErrorTypeAuth, Message: "completion gateway not configured", Cause: g.err}
}

func (g disabledGateway) Model() string { return "disabled" }
