package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
)

const describeConcurrency = 4

const pgPrimaryKeyQuery = `
	SELECT a.attname::text
	FROM pg_index ix
	JOIN pg_class t ON t.oid = ix.indrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
	WHERE ix.indisprimary
	  AND n.nspname = $1
	  AND t.relname = $2`

// Column lists keep constraint key order so composite keys pair up correctly.
const pgForeignKeyQuery = `
	SELECT
		ARRAY(
			SELECT a.attname::text
			FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
			JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
			ORDER BY k.ord
		) AS columns,
		ref.relname::text AS referred_table,
		ARRAY(
			SELECT a.attname::text
			FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
			JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
			ORDER BY k.ord
		) AS referred_columns
	FROM pg_constraint con
	JOIN pg_class rel ON rel.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = rel.relnamespace
	JOIN pg_class ref ON ref.oid = con.confrelid
	WHERE con.contype = 'f'
	  AND n.nspname = $1
	  AND rel.relname = $2
	ORDER BY con.conname`

// PostgresService is the PostgreSQL backend over a pgx pool.
type PostgresService struct {
	pool          *pgxpool.Pool
	schemaName    string
	metadataTable string
	sb            squirrel.StatementBuilderType
}

func NewPostgresService(ctx context.Context, dsn, schemaName, metadataTable string) (*PostgresService, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	return NewPostgresServiceFromPool(pool, schemaName, metadataTable), nil
}

func NewPostgresServiceFromPool(pool *pgxpool.Pool, schemaName, metadataTable string) *PostgresService {
	if schemaName == "" {
		schemaName = "public"
	}
	if metadataTable == "" {
		metadataTable = schema.DefaultMetadataTable
	}
	return &PostgresService{
		pool:          pool,
		schemaName:    schemaName,
		metadataTable: metadataTable,
		sb:            squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (s *PostgresService) Dialect() string { return "PostgreSQL" }

func (s *PostgresService) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresService) TestConnection(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Describe introspects tables concurrently. Results land in name order
// regardless of which goroutine finishes first.
func (s *PostgresService) Describe(ctx context.Context, opts DescribeOptions) (*schema.Snapshot, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, schema.Unavailable("list tables", err)
	}

	tables := make([]schema.Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)
	for i, name := range names {
		g.Go(func() error {
			t, err := s.describeTable(gctx, name)
			if err != nil {
				return fmt.Errorf("describe %s: %w", name, err)
			}
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

	log.Debug().Int("tables", len(tables)).Str("backend", "postgres").Msg("schema described")
	return &schema.Snapshot{Tables: tables}, nil
}

func (s *PostgresService) tableNames(ctx context.Context) ([]string, error) {
	query, args, err := s.sb.Select("table_name").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": s.schemaName, "table_type": "BASE TABLE"}).
		Where(squirrel.NotEq{"table_name": s.metadataTable}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresService) describeTable(ctx context.Context, name string) (schema.Table, error) {
	t := schema.Table{Name: name}

	query, args, err := s.sb.Select("column_name", "data_type", "is_nullable = 'YES'").
		From("information_schema.columns").
		Where(squirrel.Eq{"table_schema": s.schemaName, "table_name": name}).
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return t, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return t, fmt.Errorf("query columns: %w", err)
	}
	for rows.Next() {
		var c schema.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			rows.Close()
			return t, fmt.Errorf("scan column: %w", err)
		}
		t.Columns = append(t.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return t, fmt.Errorf("iterate columns: %w", err)
	}

	rows, err = s.pool.Query(ctx, pgPrimaryKeyQuery, s.schemaName, name)
	if err != nil {
		return t, fmt.Errorf("query primary key: %w", err)
	}
	pkCols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return t, fmt.Errorf("scan primary key: %w", err)
	}
	pk := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pk[c] = true
	}
	for i := range t.Columns {
		t.Columns[i].PrimaryKey = pk[t.Columns[i].Name]
	}

	rows, err = s.pool.Query(ctx, pgForeignKeyQuery, s.schemaName, name)
	if err != nil {
		return t, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.Columns, &fk.ReferredTable, &fk.ReferredColumns); err != nil {
			return t, fmt.Errorf("scan foreign key: %w", err)
		}
		if !fk.Valid() {
			log.Warn().Str("table", name).Strs("columns", fk.Columns).Msg("skipping malformed foreign key")
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	if err := rows.Err(); err != nil {
		return t, fmt.Errorf("iterate foreign keys: %w", err)
	}
	schema.SortForeignKeys(t.ForeignKeys)
	return t, nil
}

func (s *PostgresService) sampleRows(ctx context.Context, t schema.Table, n int) ([]models.Row, error) {
	q := s.sb.Select("*").
		From(pgx.Identifier{s.schemaName, t.Name}.Sanitize()).
		Limit(uint64(n))
	if pk := t.PrimaryKey(); len(pk) > 0 {
		q = q.OrderBy(quoteIdents(pk)...)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	_, out, err := collectPgRows(rows)
	return out, err
}

// ColumnMetadata reads the metadata table. A missing table yields an empty index.
func (s *PostgresService) ColumnMetadata(ctx context.Context) (schema.MetadataIndex, error) {
	idx := make(schema.MetadataIndex)

	query, args, err := s.sb.Select("COUNT(*)").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": s.schemaName, "table_name": s.metadataTable}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return nil, schema.Unavailable("metadata lookup", err)
	}
	if n == 0 {
		return idx, nil
	}

	query, args, err = s.sb.Select("table_name", "column_name",
		"COALESCE(business_name, '')", "COALESCE(description, '')", "COALESCE(example_value, '')",
		"COALESCE(is_sensitive, false)", "COALESCE(business_rules, '')").
		From(pgx.Identifier{s.schemaName, s.metadataTable}.Sanitize()).
		OrderBy("table_name", "column_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, schema.Unavailable("read metadata", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, column string
		var md schema.ColumnMetadata
		if err := rows.Scan(&table, &column, &md.BusinessName, &md.Description, &md.Example, &md.Sensitive, &md.Rule); err != nil {
			return nil, schema.Unavailable("scan metadata", err)
		}
		idx.Put(table, column, md)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.Unavailable("read metadata", err)
	}
	return idx, nil
}

// Explain plans the statement inside a read-only transaction.
func (s *PostgresService) Explain(ctx context.Context, sqlText string) error {
	stmt, err := explainStatement(sqlText)
	if err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("%w: %v", security.ErrExplainUnavailable, err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	rows, err := tx.Query(ctx, "EXPLAIN "+stmt)
	if err == nil {
		rows.Close()
		err = rows.Err()
	}
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%w: %v", security.ErrExplainUnavailable, err)
}

// Execute runs one statement in a read-only transaction that is rolled back afterwards.
func (s *PostgresService) Execute(ctx context.Context, sqlText string) (*QueryResult, error) {
	stmt, err := singleStatement(sqlText)
	if err != nil {
		return nil, executionError("prepare", err)
	}

	start := time.Now()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, executionError("begin", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	rows, err := tx.Query(ctx, stmt)
	if err != nil {
		return nil, executionError("query", err)
	}
	columns, out, err := collectPgRows(rows)
	if err != nil {
		return nil, executionError("read", err)
	}
	return &QueryResult{
		Columns:         columns,
		Rows:            out,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *PostgresService) ExecStatement(ctx context.Context, stmt string) error {
	_, err := s.pool.Exec(ctx, stmt)
	return err
}

func (s *PostgresService) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{s.schemaName, table}.Sanitize()).Scan(&n)
	return n, err
}

func collectPgRows(rows pgx.Rows) ([]string, []models.Row, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	out := make([]models.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read row values: %w", err)
		}
		for i, v := range values {
			values[i] = pgScalar(v)
		}
		out = append(out, models.RowFromValues(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, out, nil
}

// pgScalar unwraps pgx composite values that have a natural scalar form.
func pgScalar(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(t).String()
	}
	return v
}
