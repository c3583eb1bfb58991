package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb/v2" // DuckDB driver
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
)

const duckDBSchema = "main"

// DuckDBService is the embedded backend. An empty path opens an in-memory database.
type DuckDBService struct {
	db            *sql.DB
	path          string
	metadataTable string
	sb            squirrel.StatementBuilderType
}

// NewDuckDBService opens (or creates) the database at path.
func NewDuckDBService(path, metadataTable string) (*DuckDBService, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	s := NewDuckDBServiceFromDB(db, metadataTable)
	s.path = path
	return s, nil
}

// NewDuckDBServiceFromDB wraps an existing handle.
func NewDuckDBServiceFromDB(db *sql.DB, metadataTable string) *DuckDBService {
	if metadataTable == "" {
		metadataTable = schema.DefaultMetadataTable
	}
	return &DuckDBService{
		db:            db,
		metadataTable: metadataTable,
		sb:            squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

func (s *DuckDBService) Dialect() string { return "DuckDB" }

func (s *DuckDBService) Close() error { return s.db.Close() }

func (s *DuckDBService) TestConnection(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Describe reads tables, columns and key constraints. Any failure aborts the
// whole snapshot.
func (s *DuckDBService) Describe(ctx context.Context, opts DescribeOptions) (*schema.Snapshot, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, schema.Unavailable("list tables", err)
	}

	snap := &schema.Snapshot{Tables: make([]schema.Table, 0, len(names))}
	for _, name := range names {
		t, err := s.describeTable(ctx, name)
		if err != nil {
			return nil, schema.Unavailable("describe "+name, err)
		}
		if opts.SampleRows > 0 {
			t.SampleRows, err = s.sampleRows(ctx, t, opts.SampleRows)
			if err != nil {
				return nil, schema.Unavailable("sample "+name, err)
			}
		}
		snap.Tables = append(snap.Tables, t)
	}

	log.Debug().Int("tables", len(snap.Tables)).Str("backend", "duckdb").Msg("schema described")
	return snap, nil
}

func (s *DuckDBService) tableNames(ctx context.Context) ([]string, error) {
	query, args, err := s.sb.Select("table_name").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": duckDBSchema, "table_type": "BASE TABLE"}).
		Where(squirrel.NotEq{"table_name": s.metadataTable}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *DuckDBService) describeTable(ctx context.Context, name string) (schema.Table, error) {
	t := schema.Table{Name: name}

	query, args, err := s.sb.Select("column_name", "data_type", "is_nullable").
		From("information_schema.columns").
		Where(squirrel.Eq{"table_schema": duckDBSchema, "table_name": name}).
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return t, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return t, fmt.Errorf("columns: %w", err)
	}
	for rows.Next() {
		var col schema.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			rows.Close()
			return t, fmt.Errorf("scan column: %w", err)
		}
		col.Nullable = nullable == "YES"
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return t, err
	}
	rows.Close()

	query, args, err = s.sb.Select("constraint_type", "constraint_column_names", "referenced_table", "referenced_column_names").
		From("duckdb_constraints()").
		Where(squirrel.Eq{
			"schema_name":     duckDBSchema,
			"table_name":      name,
			"constraint_type": []string{"PRIMARY KEY", "FOREIGN KEY"},
		}).
		OrderBy("constraint_index").
		ToSql()
	if err != nil {
		return t, err
	}
	rows, err = s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return t, fmt.Errorf("constraints: %w", err)
	}
	defer rows.Close()

	pk := make(map[string]bool)
	for rows.Next() {
		var kind string
		var cols, refCols any
		var refTable sql.NullString
		if err := rows.Scan(&kind, &cols, &refTable, &refCols); err != nil {
			return t, fmt.Errorf("scan constraint: %w", err)
		}
		switch kind {
		case "PRIMARY KEY":
			for _, c := range stringList(cols) {
				pk[c] = true
			}
		case "FOREIGN KEY":
			fk := schema.ForeignKey{
				Columns:         stringList(cols),
				ReferredTable:   refTable.String,
				ReferredColumns: stringList(refCols),
			}
			if !fk.Valid() {
				log.Warn().Str("table", name).Strs("columns", fk.Columns).Msg("skipping malformed foreign key")
				continue
			}
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
	}
	if err := rows.Err(); err != nil {
		return t, err
	}

	for i := range t.Columns {
		t.Columns[i].PrimaryKey = pk[t.Columns[i].Name]
	}
	schema.SortForeignKeys(t.ForeignKeys)
	return t, nil
}

func (s *DuckDBService) sampleRows(ctx context.Context, t schema.Table, n int) ([]models.Row, error) {
	q := s.sb.Select("*").From(quoteIdent(t.Name)).Limit(uint64(n))
	if pk := t.PrimaryKey(); len(pk) > 0 {
		q = q.OrderBy(quoteIdents(pk)...)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, out, err := scanSQLRows(rows)
	return out, err
}

// ColumnMetadata reads the metadata table. A missing table yields an empty index.
func (s *DuckDBService) ColumnMetadata(ctx context.Context) (schema.MetadataIndex, error) {
	idx := make(schema.MetadataIndex)

	exists, err := s.tableExists(ctx, s.metadataTable)
	if err != nil {
		return nil, schema.Unavailable("metadata lookup", err)
	}
	if !exists {
		return idx, nil
	}

	query, args, err := s.sb.Select("table_name", "column_name", "business_name", "description",
		"example_value", "is_sensitive", "business_rules").
		From(quoteIdent(s.metadataTable)).
		OrderBy("table_name", "column_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.Unavailable("read metadata", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		var business, desc, example, rules sql.NullString
		var sensitive any
		if err := rows.Scan(&table, &column, &business, &desc, &example, &sensitive, &rules); err != nil {
			return nil, schema.Unavailable("scan metadata", err)
		}
		idx.Put(table, column, schema.ColumnMetadata{
			BusinessName: business.String,
			Description:  desc.String,
			Example:      example.String,
			Rule:         rules.String,
			Sensitive:    cast.ToBool(sensitive),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, schema.Unavailable("read metadata", err)
	}
	return idx, nil
}

func (s *DuckDBService) tableExists(ctx context.Context, name string) (bool, error) {
	query, args, err := s.sb.Select("COUNT(*)").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": duckDBSchema, "table_name": name}).
		ToSql()
	if err != nil {
		return false, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Explain plans the statement inside a transaction that is always rolled back.
func (s *DuckDBService) Explain(ctx context.Context, sqlText string) error {
	stmt, err := explainStatement(sqlText)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", security.ErrExplainUnavailable, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "EXPLAIN "+stmt)
	if err != nil {
		if isUnavailable(err) {
			return fmt.Errorf("%w: %v", security.ErrExplainUnavailable, err)
		}
		return err
	}
	return rows.Close()
}

// Execute runs one statement inside a transaction that is always rolled back.
func (s *DuckDBService) Execute(ctx context.Context, sqlText string) (*QueryResult, error) {
	stmt, err := singleStatement(sqlText)
	if err != nil {
		return nil, executionError("prepare", err)
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, executionError("begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return nil, executionError("query", err)
	}
	defer rows.Close()

	columns, out, err := scanSQLRows(rows)
	if err != nil {
		return nil, executionError("read", err)
	}
	return &QueryResult{
		Columns:         columns,
		Rows:            out,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *DuckDBService) ExecStatement(ctx context.Context, stmt string) error {
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *DuckDBService) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	return n, err
}

func isUnavailable(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
