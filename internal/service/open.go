package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cortexai/text2sql/internal/config"
	"github.com/cortexai/text2sql/internal/security"
)

// Open connects the backend selected by cfg.DatabaseDriver.
func Open(ctx context.Context, cfg *config.Config, cost *security.CostTracker) (Database, error) {
	driver := strings.ToLower(cfg.DatabaseDriver)
	var (
		db  Database
		err error
	)
	switch driver {
	case DriverDuckDB:
		db, err = NewDuckDBService(cfg.DatabaseDSN, cfg.MetadataTable)
	case DriverPostgres:
		db, err = NewPostgresService(ctx, cfg.DatabaseDSN, cfg.PostgresSchema, cfg.MetadataTable)
	case DriverBigQuery:
		db, err = NewBigQueryService(ctx, cfg.GCPProjectID, cfg.BigQueryDataset,
			cfg.GoogleApplicationCredentials, cfg.BigQueryLocation, cfg.MetadataTable, cost)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.TestConnection(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s connection test: %w", driver, err)
	}
	log.Info().Str("driver", driver).Str("dialect", db.Dialect()).Msg("database connected")
	return db, nil
}

// OpenAuditSink returns the Elasticsearch audit sink, or nil when disabled.
func OpenAuditSink(cfg *config.Config) (*ElasticsearchService, error) {
	if !cfg.ElasticsearchEnabled {
		return nil, nil
	}
	return NewElasticsearchService(
		cfg.ElasticsearchScheme,
		cfg.ElasticsearchHost,
		cfg.ElasticsearchPort,
		cfg.ElasticsearchUser,
		cfg.ElasticsearchPassword,
		cfg.ElasticsearchVerifyCerts,
		cfg.ElasticsearchMaxRetries,
		cfg.ElasticsearchIndex,
	)
}
