package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
)

// BigQueryService describes and queries a single dataset.
type BigQueryService struct {
	client        *bigquery.Client
	projectID     string
	datasetID     string
	location      string
	metadataTable string
	cost          *security.CostTracker
	sb            squirrel.StatementBuilderType
}

// NewBigQueryService creates a new BigQuery client scoped to one dataset.
func NewBigQueryService(ctx context.Context, projectID, datasetID, credentialsFile, location, metadataTable string, cost *security.CostTracker) (*BigQueryService, error) {
	if datasetID == "" {
		return nil, errors.New("bigquery dataset is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	if location != "" {
		client.Location = location
	}
	if metadataTable == "" {
		metadataTable = schema.DefaultMetadataTable
	}
	if cost == nil {
		cost = security.NewCostTracker(0)
	}

	return &BigQueryService{
		client:        client,
		projectID:     projectID,
		datasetID:     datasetID,
		location:      location,
		metadataTable: metadataTable,
		cost:          cost,
		sb:            squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

func (s *BigQueryService) Dialect() string { return "BigQuery Standard SQL" }

// Close releases the BigQuery client
func (s *BigQueryService) Close() error {
	return s.client.Close()
}

// TestConnection verifies BigQuery connectivity
func (s *BigQueryService) TestConnection(ctx context.Context) error {
	q := s.client.Query("SELECT 1")
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("query run: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("job wait: %w", err)
	}
	return status.Err()
}

// Describe lists the dataset's tables and reads each table's metadata.
func (s *BigQueryService) Describe(ctx context.Context, opts DescribeOptions) (*schema.Snapshot, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, schema.Unavailable("list tables", err)
	}

	tables := make([]schema.Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)
	for i, name := range names {
		g.Go(func() error {
			meta, err := s.client.Dataset(s.datasetID).Table(name).Metadata(gctx)
			if err != nil {
				return fmt.Errorf("get table %q.%q: %w", s.datasetID, name, err)
			}
			t := tableFromMetadata(name, meta)
			if opts.SampleRows > 0 {
				if t.SampleRows, err = s.sampleRows(gctx, t, opts.SampleRows); err != nil {
					return fmt.Errorf("sample %s: %w", name, err)
				}
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, schema.Unavailable("introspect", err)
	}

	log.Debug().Int("tables", len(tables)).Str("backend", "bigquery").Str("dataset", s.datasetID).Msg("schema described")
	return &schema.Snapshot{Tables: tables}, nil
}

func (s *BigQueryService) tableNames(ctx context.Context) ([]string, error) {
	var names []string
	it := s.client.Dataset(s.datasetID).Tables(ctx)
	for {
		tbl, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if tbl.TableID == s.metadataTable {
			continue
		}
		names = append(names, tbl.TableID)
	}
	sort.Strings(names)
	return names, nil
}

// tableFromMetadata maps a BigQuery table into the snapshot model. Primary
// and foreign keys are unenforced in BigQuery but still describe intent.
func tableFromMetadata(name string, meta *bigquery.TableMetadata) schema.Table {
	t := schema.Table{Name: name}

	pk := make(map[string]bool)
	if tc := meta.TableConstraints; tc != nil {
		if tc.PrimaryKey != nil {
			for _, c := range tc.PrimaryKey.Columns {
				pk[c] = true
			}
		}
		for _, f := range tc.ForeignKeys {
			if f == nil || f.ReferencedTable == nil {
				continue
			}
			fk := schema.ForeignKey{ReferredTable: f.ReferencedTable.TableID}
			for _, ref := range f.ColumnReferences {
				fk.Columns = append(fk.Columns, ref.ReferencingColumn)
				fk.ReferredColumns = append(fk.ReferredColumns, ref.ReferencedColumn)
			}
			if fk.Valid() {
				t.ForeignKeys = append(t.ForeignKeys, fk)
			}
		}
	}

	for _, f := range meta.Schema {
		typ := string(f.Type)
		if f.Repeated {
			typ = "ARRAY<" + typ + ">"
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:       f.Name,
			Type:       typ,
			Nullable:   !f.Required,
			PrimaryKey: pk[f.Name],
		})
	}
	schema.SortForeignKeys(t.ForeignKeys)
	return t
}

func (s *BigQueryService) qualified(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, table)
}

func (s *BigQueryService) sampleRows(ctx context.Context, t schema.Table, n int) ([]models.Row, error) {
	q := s.sb.Select("*").From(s.qualified(t.Name)).Limit(uint64(n))
	if pk := t.PrimaryKey(); len(pk) > 0 {
		q = q.OrderBy(pk...)
	}
	query, _, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// ColumnMetadata merges field descriptions from the table schemas with the
// optional metadata table in the same dataset.
func (s *BigQueryService) ColumnMetadata(ctx context.Context) (schema.MetadataIndex, error) {
	idx := make(schema.MetadataIndex)

	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, schema.Unavailable("list tables", err)
	}
	for _, name := range names {
		meta, err := s.client.Dataset(s.datasetID).Table(name).Metadata(ctx)
		if err != nil {
			return nil, schema.Unavailable("table metadata", err)
		}
		for _, f := range meta.Schema {
			if f.Description != "" {
				idx.Put(name, f.Name, schema.ColumnMetadata{Description: f.Description})
			}
		}
	}

	_, err = s.client.Dataset(s.datasetID).Table(s.metadataTable).Metadata(ctx)
	if isNotFound(err) {
		return idx, nil
	}
	if err != nil {
		return nil, schema.Unavailable("metadata lookup", err)
	}

	query, _, err := s.sb.Select("table_name", "column_name", "business_name", "description",
		"example_value", "is_sensitive", "business_rules").
		From(s.qualified(s.metadataTable)).
		OrderBy("table_name", "column_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, query, 0)
	if err != nil {
		return nil, schema.Unavailable("read metadata", err)
	}
	stored := make(schema.MetadataIndex)
	for _, row := range res.Rows {
		sensitive, _ := row["is_sensitive"].Bool()
		stored.Put(text(row["table_name"]), text(row["column_name"]), schema.ColumnMetadata{
			BusinessName: text(row["business_name"]),
			Description:  text(row["description"]),
			Example:      text(row["example_value"]),
			Rule:         text(row["business_rules"]),
			Sensitive:    sensitive,
		})
	}
	return idx.Merge(stored), nil
}

// Explain validates the statement with a dry run, which plans it without
// reading data.
func (s *BigQueryService) Explain(ctx context.Context, sqlText string) error {
	stmt, err := singleStatement(sqlText)
	if err != nil {
		return err
	}
	_, err = s.dryRun(ctx, stmt)
	return err
}

func (s *BigQueryService) dryRun(ctx context.Context, stmt string) (*bigquery.QueryStatistics, error) {
	q := s.client.Query(stmt)
	q.DryRun = true
	q.DefaultProjectID = s.projectID
	q.DefaultDatasetID = s.datasetID

	job, err := q.Run(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return nil, errors.New(apiErr.Message)
		}
		return nil, fmt.Errorf("%w: %v", security.ErrExplainUnavailable, err)
	}
	status := job.LastStatus()
	if status == nil {
		return nil, nil
	}
	if err := status.Err(); err != nil {
		return nil, err
	}
	if status.Statistics == nil {
		return nil, nil
	}
	qs, _ := status.Statistics.Details.(*bigquery.QueryStatistics)
	return qs, nil
}

// Execute dry-runs the statement for its byte estimate, enforces the cost
// limit, then runs it with the same ceiling billed.
func (s *BigQueryService) Execute(ctx context.Context, sqlText string) (*QueryResult, error) {
	stmt, err := singleStatement(sqlText)
	if err != nil {
		return nil, executionError("prepare", err)
	}

	stats, err := s.dryRun(ctx, stmt)
	if err != nil {
		return nil, executionError("dry run", err)
	}
	if stats != nil {
		if stats.StatementType != "" && stats.StatementType != "SELECT" {
			return nil, executionError("dry run", fmt.Errorf("statement type %s is not allowed", stats.StatementType))
		}
		if ok, msg := s.cost.CheckLimits(stats.TotalBytesProcessed); !ok {
			return nil, executionError("cost check", errors.New(msg))
		}
	}

	res, err := s.run(ctx, stmt, s.cost.MaxBytes())
	if err != nil {
		return nil, executionError("query", err)
	}
	s.cost.LogQueryCost(stmt, res.TotalBytesProcessed, res.ExecutionTimeMs)
	return res, nil
}

func (s *BigQueryService) run(ctx context.Context, stmt string, maxBytes int64) (*QueryResult, error) {
	q := s.client.Query(stmt)
	q.DefaultProjectID = s.projectID
	q.DefaultDatasetID = s.datasetID
	if maxBytes > 0 {
		q.MaxBytesBilled = maxBytes
	}

	start := time.Now()
	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("job wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var bytesProcessed int64
	if stats := job.LastStatus().Statistics; stats != nil {
		bytesProcessed = stats.TotalBytesProcessed
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("job read: %w", err)
	}

	var columns []string
	rows := make([]models.Row, 0)
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if columns == nil {
			columns = fieldNames(it.Schema)
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		rows = append(rows, models.RowFromValues(columns, values))
	}
	if columns == nil {
		columns = fieldNames(it.Schema)
	}

	return &QueryResult{
		Columns:             columns,
		Rows:                rows,
		TotalBytesProcessed: bytesProcessed,
		ExecutionTimeMs:     time.Since(start).Milliseconds(),
	}, nil
}

func fieldNames(s bigquery.Schema) []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// text renders a cell as a plain string with NULL as empty.
func text(v models.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}
